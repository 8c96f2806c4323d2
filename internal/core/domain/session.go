package domain

import (
	"fmt"
	"time"
)

// Session holds the established local session after a completed login
// flow. It is the token payload of the cookie session store, not the
// persistent LoginState record.
type Session struct {
	// UserID is the resolved local user.
	UserID int64

	// UserName is the local account name, kept for logging and headers.
	UserName string

	// IdPID identifies which configuration authenticated the user.
	IdPID int64

	// IssuedAt is when the session was created.
	IssuedAt time.Time

	// ExpiresAt is when the session expires.
	ExpiresAt time.Time
}

// AuthnOptions controls SAML authentication request parameters.
type AuthnOptions struct {
	// ForceAuthn requests fresh authentication from the IdP even if the
	// user still has an IdP-side session.
	ForceAuthn bool

	// RequestedAuthnContext is a list of authentication context class
	// URIs to request from the IdP. Empty means no RequestedAuthnContext
	// element is included in the AuthnRequest.
	RequestedAuthnContext []string

	// AuthnContextComparison specifies how the IdP should match the
	// requested context: "exact", "minimum", "maximum", "better", or ""
	// (defaults to "exact"). See SAML 2.0 Core section 3.3.2.2.1.
	AuthnContextComparison string
}

var validComparisons = map[string]bool{
	"":        true, // default to "exact" per SAML spec
	"exact":   true,
	"minimum": true,
	"maximum": true,
	"better":  true,
}

// ValidateAuthnContextComparison validates the comparison value per the
// SAML 2.0 spec.
func ValidateAuthnContextComparison(c string) error {
	if !validComparisons[c] {
		return fmt.Errorf("invalid AuthnContextComparison: %q (must be one of: exact, minimum, maximum, better, or empty)", c)
	}
	return nil
}
