package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
	"github.com/DonutsNL/samlbridge/internal/core/ports"
)

// BypassParam is the query parameter that forces a logoff and skips SSO
// initiation for the request, an escape hatch when an IdP misbehaves.
const BypassParam = "nosaml"

// loginFieldParam is the form field a login page submits; its domain part
// drives domain-matched IdP selection.
const loginFieldParam = "login_name"

// DecisionKind tells the HTTP layer what to do with the request.
type DecisionKind int

const (
	// DecisionPass lets the request continue to the protected application.
	DecisionPass DecisionKind = iota

	// DecisionRedirect issues an HTTP redirect and ends the request.
	DecisionRedirect

	// DecisionLogin establishes the local session: set the cookie from
	// SessionToken, then redirect.
	DecisionLogin

	// DecisionFail renders a terminal error page. The request never
	// falls through to the application with partial state.
	DecisionFail
)

// Decision is the outcome of evaluating one request against the login
// state machine.
type Decision struct {
	Kind         DecisionKind
	RedirectURL  string
	SessionToken string
	ClearCookie  bool
	Err          *domain.AppError
}

// LoginFlow is the orchestrator: it inspects each request, decides whether
// to initiate SSO, log off, or do nothing, and owns the phase transition
// rules. All state lives in the LoginStateStore; the flow itself is
// stateless across requests.
type LoginFlow struct {
	excludes ports.ExcludeStore
	states   ports.LoginStateStore
	configs  ports.IdPConfigStore
	saml     *SAMLService
	sessions ports.SessionStore
	metrics  ports.MetricsRecorder
	logger   *zap.Logger

	baseURL         *url.URL
	sessionDuration time.Duration
}

// NewLoginFlow creates the login flow orchestrator.
func NewLoginFlow(excludes ports.ExcludeStore, states ports.LoginStateStore, configs ports.IdPConfigStore, samlsvc *SAMLService, sessions ports.SessionStore, metrics ports.MetricsRecorder, logger *zap.Logger, baseURL *url.URL, sessionDuration time.Duration) *LoginFlow {
	return &LoginFlow{
		excludes:        excludes,
		states:          states,
		configs:         configs,
		saml:            samlsvc,
		sessions:        sessions,
		metrics:         metrics,
		logger:          logger,
		baseURL:         baseURL,
		sessionDuration: sessionDuration,
	}
}

// Evaluate runs one request through the state machine and returns what the
// HTTP layer should do. Failures that cannot complete a transition return
// DecisionFail; the flow never hands a half-authenticated request onward.
func (f *LoginFlow) Evaluate(ctx context.Context, rc *ports.RequestContext, sessionToken string) *Decision {
	// CLI execution has no HTTP request context and is always excluded.
	if rc.CLI {
		return &Decision{Kind: DecisionPass}
	}

	excluded, err := f.isExcluded(ctx, rc)
	if err != nil {
		return fail(domain.StorageError("Reading the exclusion rules failed", err))
	}
	if excluded {
		// Excluded requests pass through untouched; no state mutation.
		return &Decision{Kind: DecisionPass}
	}

	// Bypass parameter: force logoff and return to the base URL.
	if rc.Query.Has(BypassParam) {
		return f.forceLogoff(ctx, rc)
	}

	// An established local session passes through.
	staleToken := false
	if sessionToken != "" {
		if _, err := f.sessions.Get(sessionToken); err == nil {
			return &Decision{Kind: DecisionPass}
		}
		// Expired or invalid token: fall through to a fresh evaluation
		// with the stale cookie cleared on the way out.
		staleToken = true
	}

	state, err := f.loadOrCreateState(ctx, rc)
	if err != nil {
		return fail(domain.StorageError("Reading the login state failed", err))
	}

	// A state still marked local_authenticated here has lost its session
	// token. Close the old login so the next round can start instead of
	// tripping the phase guard on every request.
	if state.Phase == domain.PhaseLocalAuthed {
		if err := f.states.Transition(ctx, state.ID, domain.PhaseLocalAuthed, domain.PhaseLoggedOff); err != nil {
			return fail(domain.StorageError("Closing the expired login failed", err))
		}
		state.Phase = domain.PhaseLoggedOff
		f.logger.Info("expired local session closed", zap.String("session_id", state.SessionID))
	}

	cfg, err := f.selectIdP(ctx, rc)
	if err != nil {
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return fail(appErr)
		}
		return fail(domain.StorageError("Selecting an identity provider failed", err))
	}
	if cfg == nil {
		// No selection signal: do nothing, the request proceeds to the
		// application's own login surface.
		return &Decision{Kind: DecisionPass, ClearCookie: staleToken}
	}

	d := f.initiateSSO(ctx, rc, state, cfg)
	if staleToken && d.Kind != DecisionFail {
		d.ClearCookie = true
	}
	return d
}

// FinalizeLogin completes the flow after the assertion consumer resolved a
// local user: the state advances to local_authenticated and a session
// token is minted for the cookie.
func (f *LoginFlow) FinalizeLogin(ctx context.Context, result *ConsumeResult) *Decision {
	if err := f.states.Transition(ctx, result.State.ID, domain.PhaseSAMLAuthed, domain.PhaseLocalAuthed); err != nil {
		return fail(domain.StorageError("Completing the login state failed", err))
	}

	result.State.Phase = domain.PhaseLocalAuthed
	result.State.UserID = result.User.ID
	if err := f.states.Save(ctx, result.State); err != nil {
		return fail(domain.StorageError("Recording the resolved user failed", err))
	}

	now := time.Now()
	token, err := f.sessions.Create(&domain.Session{
		UserID:    result.User.ID,
		UserName:  result.User.Name,
		IdPID:     result.Config.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(f.sessionDuration),
	})
	if err != nil {
		return fail(domain.StorageError("Creating the local session failed", err))
	}
	f.metrics.RecordSessionCreated()

	f.logger.Info("login complete",
		zap.String("user", result.User.Name),
		zap.String("idp", result.Config.Name),
		zap.String("session_id", result.State.SessionID))

	return &Decision{
		Kind:         DecisionLogin,
		SessionToken: token,
		RedirectURL:  f.baseURL.String(),
	}
}

// Logoff destroys the local session, marks the state logged off, and
// sends the browser to the base URL.
func (f *LoginFlow) Logoff(ctx context.Context, rc *ports.RequestContext, sessionToken string) *Decision {
	if sessionToken != "" {
		// Stateless token stores treat this as a no-op; cookie removal
		// is what ends the session.
		_ = f.sessions.Delete(sessionToken)
	}
	if state, err := f.states.GetBySessionID(ctx, rc.SessionID); err == nil {
		if domain.CanTransition(state.Phase, domain.PhaseLoggedOff) {
			_ = f.states.Transition(ctx, state.ID, state.Phase, domain.PhaseLoggedOff)
		}
	}
	return &Decision{
		Kind:        DecisionRedirect,
		RedirectURL: f.baseURL.String(),
		ClearCookie: true,
	}
}

func (f *LoginFlow) forceLogoff(ctx context.Context, rc *ports.RequestContext) *Decision {
	if state, err := f.states.GetBySessionID(ctx, rc.SessionID); err == nil {
		if domain.CanTransition(state.Phase, domain.PhaseForcedLogoff) {
			if err := f.states.Transition(ctx, state.ID, state.Phase, domain.PhaseForcedLogoff); err == nil {
				// Complete the round back to initial immediately; a state
				// parked in forced_logoff could never re-enter SSO.
				_ = f.states.Transition(ctx, state.ID, domain.PhaseForcedLogoff, domain.PhaseInitial)
			}
		}
	}
	f.logger.Info("sso bypass requested", zap.String("session_id", rc.SessionID), zap.String("remote_addr", rc.RemoteAddr))
	return &Decision{
		Kind:        DecisionRedirect,
		RedirectURL: f.baseURL.String(),
		ClearCookie: true,
	}
}

func (f *LoginFlow) isExcluded(ctx context.Context, rc *ports.RequestContext) (bool, error) {
	rules, err := f.excludes.List(ctx)
	if err != nil {
		return false, err
	}
	rule := rules.FirstMatch(rc.URI, rc.UserAgent)
	return rule != nil && rule.Bypass, nil
}

// loadOrCreateState returns the session's login state, creating it lazily
// on the first non-excluded request.
func (f *LoginFlow) loadOrCreateState(ctx context.Context, rc *ports.RequestContext) (*domain.LoginState, error) {
	if rc.SessionID != "" {
		state, err := f.states.GetBySessionID(ctx, rc.SessionID)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, domain.ErrStateNotFound) {
			return nil, err
		}
	}
	state := &domain.LoginState{
		SessionID:  rc.SessionID,
		CookieName: rc.CookieName,
		Phase:      domain.PhaseInitial,
	}
	if state.SessionID == "" {
		state.SessionID = uuid.NewString()
	}
	if err := f.states.Save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// selectIdP resolves which configuration to authenticate against.
// Precedence, highest first: sole enforced configuration, explicit numeric
// provider id in the request, domain-matched login field, none.
func (f *LoginFlow) selectIdP(ctx context.Context, rc *ports.RequestContext) (*domain.IdPConfig, error) {
	configs, err := f.configs.List(ctx)
	if err != nil {
		return nil, err
	}

	var sole *domain.IdPConfig
	enforcedCount := 0
	for _, cfg := range configs {
		if cfg.Active && cfg.Enforced && cfg.IsValid() {
			enforcedCount++
			sole = cfg
		}
	}
	if enforcedCount == 1 {
		return sole, nil
	}

	if raw := rc.Param(domain.ACSQueryParam); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, domain.BadRequestError("The identity provider id must be numeric.")
		}
		cfg, err := f.configs.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !cfg.Active {
			return nil, domain.ConfigError(fmt.Sprintf("Identity provider %q is not active.", cfg.Name))
		}
		return cfg, nil
	}

	if login := rc.Param(loginFieldParam); login != "" {
		for _, cfg := range configs {
			if cfg.Active && cfg.IsValid() && cfg.MatchesUserDomain(login) {
				return cfg, nil
			}
		}
	}

	return nil, nil
}

// initiateSSO builds the authentication request, persists the outbound
// request id, advances the phase, and redirects to the IdP.
func (f *LoginFlow) initiateSSO(ctx context.Context, rc *ports.RequestContext, state *domain.LoginState, cfg *domain.IdPConfig) *Decision {
	base := f.baseURL
	if cfg.Proxied {
		base = rc.ProxiedBaseURL()
	}

	opts := &domain.AuthnOptions{
		RequestedAuthnContext:  cfg.AuthnContext,
		AuthnContextComparison: cfg.AuthnComparison,
	}
	redirectURL, requestID, err := f.saml.StartAuth(cfg, base, rc.URI, opts)
	if err != nil {
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return fail(appErr)
		}
		return fail(domain.ProtocolError("Starting single sign-on failed", err))
	}

	state.IdPID = cfg.ID
	state.RequestID = requestID
	// A session already parked in saml_redirect_sent gets a fresh request
	// id but keeps its phase: the earlier redirect was abandoned.
	if state.Phase != domain.PhaseSAMLSent {
		if !domain.CanTransition(state.Phase, domain.PhaseSAMLSent) {
			return fail(domain.PhaseError(state.Phase, domain.PhaseSAMLSent))
		}
		state.Phase = domain.PhaseSAMLSent
	}
	if err := f.states.Save(ctx, state); err != nil {
		return fail(domain.StorageError("Recording the login state failed", err))
	}

	f.logger.Info("sso redirect issued",
		zap.String("idp", cfg.Name),
		zap.String("session_id", state.SessionID),
		zap.String("request_id", requestID))

	return &Decision{Kind: DecisionRedirect, RedirectURL: redirectURL.String()}
}

func fail(err *domain.AppError) *Decision {
	return &Decision{Kind: DecisionFail, Err: err}
}
