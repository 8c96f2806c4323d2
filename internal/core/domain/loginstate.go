package domain

import "time"

// LoginState tracks one browser session across the redirect to an IdP and
// back. It is the single shared mutable record of the login flow; every
// phase change is a read-modify-write against its store, and the
// replay-sensitive transition is atomic (see ports.LoginStateStore).
type LoginState struct {
	// ID is the storage row id.
	ID int64

	// SessionID identifies the browser session this state belongs to.
	SessionID string

	// CookieName is the session cookie the state was keyed from.
	CookieName string

	// UserID is the resolved local user, 0 until resolution succeeds.
	UserID int64

	// IdPID is the chosen IdP configuration, 0 until a provider is picked.
	IdPID int64

	// Phase is the current step of the login state machine.
	Phase Phase

	// RequestID is the outbound AuthnRequest ID, recorded when the SSO
	// redirect is issued and used to correlate the returned assertion.
	RequestID string

	// AssertionID is the last assertion id recorded for this session.
	// Once recorded it must never be accepted again (replay guard).
	AssertionID string

	// Audit holds the raw outbound request / inbound response for
	// debugging, only populated when the IdP config has Debug set.
	Audit string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Resolved reports whether a local user has been attached to this state.
func (s *LoginState) Resolved() bool {
	return s.UserID != 0
}
