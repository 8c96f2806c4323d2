package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
	"github.com/DonutsNL/samlbridge/internal/core/ports"
)

// AssertionConsumer validates an inbound assertion against the expected
// login state. Replay detection and phase validation run strictly before
// the expensive cryptographic validation, so repeated malformed payloads
// cannot probe timing or state; both checks are one atomic conditional
// update against the state store.
type AssertionConsumer struct {
	configs  ports.IdPConfigStore
	states   ports.LoginStateStore
	saml     *SAMLService
	resolver *UserResolver
	metrics  ports.MetricsRecorder
	logger   *zap.Logger
}

// NewAssertionConsumer creates an assertion consumer.
func NewAssertionConsumer(configs ports.IdPConfigStore, states ports.LoginStateStore, samlsvc *SAMLService, resolver *UserResolver, metrics ports.MetricsRecorder, logger *zap.Logger) *AssertionConsumer {
	return &AssertionConsumer{
		configs:  configs,
		states:   states,
		saml:     samlsvc,
		resolver: resolver,
		metrics:  metrics,
		logger:   logger,
	}
}

// ConsumeResult is the outcome of a successfully consumed assertion,
// handed to the login flow finalizer.
type ConsumeResult struct {
	User   *domain.LocalUser
	State  *domain.LoginState
	Config *domain.IdPConfig
}

// responseCorrelation is what the pre-parse extracts from the raw
// response document before any cryptographic validation.
type responseCorrelation struct {
	responseID   string
	inResponseTo string
	assertionID  string
}

// Consume processes a POSTed assertion. On success the local identity is
// resolved and the login state sits in the saml_authenticated phase; every
// failure is terminal to the request.
func (a *AssertionConsumer) Consume(ctx context.Context, rc *ports.RequestContext) (*ConsumeResult, error) {
	// Preconditions, checked before anything touches the toolkit. A
	// missing id or payload is a malformed or forged request.
	idpParam := rc.Param(domain.ACSQueryParam)
	if idpParam == "" {
		return nil, domain.BadRequestError("The assertion consumer was called without an identity provider id.")
	}
	idpID, err := strconv.ParseInt(idpParam, 10, 64)
	if err != nil {
		return nil, domain.BadRequestError("The identity provider id must be numeric.")
	}
	payload := rc.Form.Get("SAMLResponse")
	if strings.TrimSpace(payload) == "" {
		return nil, domain.BadRequestError("The request does not carry an authentication response.")
	}

	cfg, err := a.configs.GetByID(ctx, idpID)
	if err != nil {
		return nil, err
	}

	// Proxy-aware mode: trust the forwarded headers for destination
	// validation, otherwise the request's own host.
	base := rc.BaseURL()
	if cfg.Proxied {
		base = rc.ProxiedBaseURL()
	}

	responseXML, err := DecodeResponsePayload(payload)
	if err != nil {
		a.metrics.RecordAuthAttempt(cfg.Name, false)
		return nil, err
	}

	corr, err := preParseResponse(responseXML)
	if err != nil {
		a.metrics.RecordAuthAttempt(cfg.Name, false)
		if cfg.Debug {
			a.logger.Warn("assertion pre-parse failed",
				zap.Error(err),
				zap.String("remote_addr", rc.RemoteAddr),
				zap.ByteString("response", responseXML))
		}
		return nil, domain.ProtocolError("The authentication response could not be parsed", err)
	}
	if corr.inResponseTo == "" {
		a.metrics.RecordAuthAttempt(cfg.Name, false)
		return nil, domain.ProtocolError("The authentication response does not reference a request issued here", nil)
	}

	// Load the state that issued the correlated request. An assertion
	// nobody requested is fatal.
	state, err := a.states.GetByRequestID(ctx, corr.inResponseTo)
	if err != nil {
		if errors.Is(err, domain.ErrStateNotFound) {
			a.metrics.RecordAuthAttempt(cfg.Name, false)
			a.logger.Warn("assertion received for unknown request",
				zap.String("in_response_to", corr.inResponseTo),
				zap.String("remote_addr", rc.RemoteAddr))
			return nil, domain.ProtocolError("Received an authentication response that was never requested", err)
		}
		return nil, domain.StorageError("Reading the login state failed", err)
	}

	// Replay and phase check as one atomic conditional update, performed
	// before cryptographic validation: the assertion id is burned and the
	// phase advanced even if validation later fails, so a retried failure
	// cannot be laundered into a fresh attempt.
	replayID := corr.assertionID
	if replayID == "" {
		replayID = corr.responseID
	}
	err = a.states.TransitionWithAssertion(ctx, state.ID, domain.PhaseSAMLSent, domain.PhaseSAMLAuthed, replayID)
	switch {
	case errors.Is(err, domain.ErrAssertionReplayed):
		a.metrics.RecordReplayRejected()
		a.metrics.RecordAuthAttempt(cfg.Name, false)
		a.logger.Warn("replayed assertion rejected",
			zap.String("assertion_id", replayID),
			zap.String("session_id", state.SessionID),
			zap.String("remote_addr", rc.RemoteAddr))
		return nil, domain.ReplayError(replayID)
	case errors.Is(err, domain.ErrPhaseConflict):
		a.metrics.RecordPhaseViolation()
		a.metrics.RecordAuthAttempt(cfg.Name, false)
		a.logger.Warn("assertion rejected in wrong phase",
			zap.String("phase", state.Phase.String()),
			zap.String("session_id", state.SessionID),
			zap.String("remote_addr", rc.RemoteAddr))
		return nil, domain.PhaseError(state.Phase, domain.PhaseSAMLSent)
	case err != nil:
		return nil, domain.StorageError("Updating the login state failed", err)
	}
	state.Phase = domain.PhaseSAMLAuthed
	state.AssertionID = replayID

	// Delegated cryptographic and XML validation: signature, conditions,
	// audience, destination. Detail is only logged when the configuration
	// has debug enabled, to keep assertion contents out of logs.
	claims, err := a.saml.ValidateResponse(cfg, base, responseXML, state.RequestID)
	if err != nil {
		a.metrics.RecordAuthAttempt(cfg.Name, false)
		if cfg.Debug {
			a.logger.Warn("assertion validation failed",
				zap.Error(err),
				zap.String("session_id", state.SessionID),
				zap.String("remote_addr", rc.RemoteAddr),
				zap.ByteString("response", responseXML))
		} else {
			a.logger.Warn("assertion validation failed",
				zap.String("session_id", state.SessionID),
				zap.String("remote_addr", rc.RemoteAddr))
		}
		return nil, err
	}

	if cfg.Debug {
		state.Audit = string(responseXML)
		if err := a.states.Save(ctx, state); err != nil {
			return nil, domain.StorageError("Recording the audit payload failed", err)
		}
	}

	user, err := a.resolver.Resolve(ctx, cfg, claims)
	if err != nil {
		a.metrics.RecordAuthAttempt(cfg.Name, false)
		return nil, err
	}

	a.metrics.RecordAuthAttempt(cfg.Name, true)
	return &ConsumeResult{User: user, State: state, Config: cfg}, nil
}

// preParseResponse extracts the correlation identifiers from the raw
// response document. This runs before signature validation on purpose:
// the ids are only used to find the matching login state and to close the
// replay window, never to make a trust decision.
func preParseResponse(responseXML []byte) (*responseCorrelation, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(responseXML); err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil || root.Tag != "Response" {
		return nil, errors.New("document root is not a samlp:Response")
	}
	corr := &responseCorrelation{
		responseID:   root.SelectAttrValue("ID", ""),
		inResponseTo: root.SelectAttrValue("InResponseTo", ""),
	}
	if assertion := root.FindElement("./Assertion"); assertion != nil {
		corr.assertionID = assertion.SelectAttrValue("ID", "")
	} else if encrypted := root.FindElement("./EncryptedAssertion"); encrypted != nil {
		// Encrypted assertions expose no id before decryption; the
		// response id serves as the replay key.
		corr.assertionID = ""
	}
	return corr, nil
}
