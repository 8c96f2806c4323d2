package ports

import (
	"context"
	"time"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
)

// IdPConfigStore persists IdP configurations. Load paths return
// re-validated snapshots built through the domain validation pipeline;
// implementations never cache configs across requests.
type IdPConfigStore interface {
	// GetByID loads and validates one configuration.
	// Returns domain.ErrStateNotFound-style miss as *domain.AppError
	// with code idp_not_found.
	GetByID(ctx context.Context, id int64) (*domain.IdPConfig, error)

	// List loads every configuration, including invalid ones so the
	// admin surface can show field errors.
	List(ctx context.Context) ([]*domain.IdPConfig, error)

	// Save persists raw field values for a configuration and returns its id.
	Save(ctx context.Context, id int64, raw map[string]string) (int64, error)

	// Delete removes a configuration.
	Delete(ctx context.Context, id int64) error
}

// LoginStateStore persists per-browser-session login state. The
// replay-sensitive transition is a single atomic conditional update:
// implementations must guarantee that for a given state, a
// TransitionWithAssertion from the same phase succeeds at most once, and
// that an assertion id accepted once is never accepted again for any state.
type LoginStateStore interface {
	// GetBySessionID returns the state for a browser session, or
	// domain.ErrStateNotFound.
	GetBySessionID(ctx context.Context, sessionID string) (*domain.LoginState, error)

	// GetByRequestID returns the state that issued the given
	// AuthnRequest id, or domain.ErrStateNotFound.
	GetByRequestID(ctx context.Context, requestID string) (*domain.LoginState, error)

	// Save inserts or updates a state record.
	Save(ctx context.Context, state *domain.LoginState) error

	// Transition performs a compare-and-swap on the phase. Returns
	// domain.ErrPhaseConflict if the stored phase differs from "from".
	Transition(ctx context.Context, stateID int64, from, to domain.Phase) error

	// TransitionWithAssertion atomically records the assertion id and
	// performs the phase compare-and-swap in one storage transaction.
	// Returns domain.ErrAssertionReplayed when the assertion id was seen
	// before, domain.ErrPhaseConflict when the phase check fails.
	TransitionWithAssertion(ctx context.Context, stateID int64, from, to domain.Phase, assertionID string) error

	// DeleteIdle removes states whose last activity predates the cutoff
	// and returns how many were removed.
	DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

// ExcludeStore persists the ordered path-exclusion rules.
type ExcludeStore interface {
	// List returns all rules in evaluation order.
	List(ctx context.Context) (domain.ExcludeList, error)

	// Save inserts or updates a rule.
	Save(ctx context.Context, rule *domain.ExcludeRule) error

	// Delete removes a rule.
	Delete(ctx context.Context, id int64) error
}

// UserDirectory is the external user-directory collaborator: lookup and
// just-in-time creation of local accounts. Misses are reported as
// domain.ErrUserNotFound.
type UserDirectory interface {
	FindByName(ctx context.Context, name string) (*domain.LocalUser, error)
	FindByEmail(ctx context.Context, email string) (*domain.LocalUser, error)

	// Create inserts a new account and fills in its id.
	Create(ctx context.Context, user *domain.LocalUser) error
}

// RightsAssigner is the external rule engine deriving rights assignments
// from a fixed claim projection at provisioning time.
type RightsAssigner interface {
	Assign(ctx context.Context, input domain.RightsInput) (*domain.RightsResult, error)
}
