package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
	"github.com/DonutsNL/samlbridge/internal/core/ports"
)

// UserResolver maps a validated claim set to a local user identity:
// lookup, optional just-in-time creation, and rights-rule dispatch. It
// never returns a partial user; any unrecoverable condition terminates
// with a user-facing error.
type UserResolver struct {
	directory ports.UserDirectory
	rights    ports.RightsAssigner
	metrics   ports.MetricsRecorder
	logger    *zap.Logger
}

// NewUserResolver creates a user resolver.
func NewUserResolver(directory ports.UserDirectory, rights ports.RightsAssigner, metrics ports.MetricsRecorder, logger *zap.Logger) *UserResolver {
	return &UserResolver{
		directory: directory,
		rights:    rights,
		metrics:   metrics,
		logger:    logger,
	}
}

// Resolve turns a claim set into a local user. Lookup order: by name,
// then by email as name, then by email; first match wins. A miss either
// provisions a new account (when the configuration allows it) or fails
// with an actionable message naming the IdP and the email.
func (r *UserResolver) Resolve(ctx context.Context, cfg *domain.IdPConfig, claims *domain.ClaimSet) (*domain.LocalUser, error) {
	// Claim validation runs before any directory lookup.
	if err := claims.Validate(); err != nil {
		return nil, err
	}

	user, err := r.lookup(ctx, claims)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.StorageError("Looking up the user failed", err)
	}

	if user == nil {
		if !cfg.JITEnabled {
			return nil, domain.IdentityError(fmt.Sprintf(
				"No account matches %q and identity provider %q does not allow automatic account creation. Contact your administrator.",
				claims.Email, cfg.Name))
		}
		return r.provision(ctx, cfg, claims)
	}

	// SSO must never resurrect a soft-deleted account or silently
	// activate a disabled one.
	if user.Deleted {
		return nil, domain.IdentityError(fmt.Sprintf(
			"The account %q has been deleted and cannot sign in through %q. Contact your administrator.",
			user.Name, cfg.Name))
	}
	if !user.Active {
		return nil, domain.IdentityError(fmt.Sprintf(
			"The account %q is deactivated and cannot sign in through %q. Contact your administrator.",
			user.Name, cfg.Name))
	}

	return user, nil
}

func (r *UserResolver) lookup(ctx context.Context, claims *domain.ClaimSet) (*domain.LocalUser, error) {
	if user, err := r.directory.FindByName(ctx, claims.NameID); err == nil {
		return user, nil
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}
	if claims.Email == "" {
		return nil, domain.ErrUserNotFound
	}
	if user, err := r.directory.FindByName(ctx, claims.Email); err == nil {
		return user, nil
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}
	return r.directory.FindByEmail(ctx, claims.Email)
}

// provision creates a local account from the claim set with a random
// unusable password, then dispatches the rights rules and applies the
// resulting assignments.
func (r *UserResolver) provision(ctx context.Context, cfg *domain.IdPConfig, claims *domain.ClaimSet) (*domain.LocalUser, error) {
	password, err := unusablePassword()
	if err != nil {
		return nil, domain.StorageError("Generating the account password failed", err)
	}

	user := &domain.LocalUser{
		Name:         claims.NameID,
		Email:        claims.Email,
		RealName:     claims.LastName,
		Firstname:    claims.FirstName,
		Phone:        claims.Phone,
		Active:       true,
		PasswordHash: password,
	}

	assignment, err := r.rights.Assign(ctx, claims.RightsProjection())
	if err != nil {
		return nil, domain.StorageError("Deriving rights for the new account failed", err)
	}
	user.ProfileID = assignment.ProfileID
	user.EntityID = assignment.EntityID
	user.GroupID = assignment.GroupID
	user.Recursive = assignment.Recursive

	if err := r.directory.Create(ctx, user); err != nil {
		return nil, domain.StorageError("Creating the account failed", err)
	}

	r.metrics.RecordUserProvisioned(cfg.Name)
	r.logger.Info("user provisioned",
		zap.String("name", user.Name),
		zap.String("idp", cfg.Name),
		zap.Int64("profile_id", user.ProfileID),
		zap.Bool("rule_matched", assignment.Matched))

	return user, nil
}

// unusablePassword returns random material that is stored as the account
// password hash. It never hashes to anything a user could type, making the
// account SSO-only.
func unusablePassword() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "!sso!" + base64.RawStdEncoding.EncodeToString(buf), nil
}
