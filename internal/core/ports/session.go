package ports

import (
	"errors"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
)

// SessionStore mints and verifies the local-session tokens carried by the
// browser cookie after a completed login.
type SessionStore interface {
	// Create mints a token for the session.
	Create(session *domain.Session) (string, error)

	// Get resolves a token back into its session. Invalid, expired, and
	// unknown tokens all come back as ErrSessionNotFound.
	Get(token string) (*domain.Session, error)

	// Delete ends a session. Stateless implementations treat this as a
	// no-op; removing the cookie is what ends the session there.
	Delete(token string) error
}

// ErrSessionNotFound is returned for tokens that do not resolve to a
// live session.
var ErrSessionNotFound = errors.New("session not found")
