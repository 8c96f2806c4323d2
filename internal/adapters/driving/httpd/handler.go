// Package httpd is the driving HTTP adapter: it terminates the SAML
// endpoints and wraps the protected application in the login-enforcement
// middleware.
package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
	"github.com/DonutsNL/samlbridge/internal/core/ports"
	"github.com/DonutsNL/samlbridge/internal/core/service"
)

// Default cookie names. The sid cookie correlates the login state across
// the redirect round trip; the session cookie carries the JWT after login.
const (
	DefaultSIDCookieName     = "samlbridge_sid"
	DefaultSessionCookieName = "samlbridge_session"
)

// Pinger is what the health endpoint needs from the database handle.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler terminates the SAML endpoints and enforces authentication on
// everything else.
type Handler struct {
	flow    *service.LoginFlow
	acs     *service.AssertionConsumer
	configs ports.IdPConfigStore
	saml    *service.SAMLService
	render  *ErrorRenderer
	db      Pinger
	logger  *zap.Logger

	sidCookieName     string
	sessionCookieName string
	secureCookies     bool
	version           string
}

// Options configures the handler.
type Options struct {
	SIDCookieName     string
	SessionCookieName string

	// SecureCookies marks cookies Secure; disable only for local
	// plain-http development.
	SecureCookies bool

	Version string
}

// NewHandler creates the HTTP handler.
func NewHandler(flow *service.LoginFlow, acs *service.AssertionConsumer, configs ports.IdPConfigStore, samlsvc *service.SAMLService, db Pinger, logger *zap.Logger, opts Options) (*Handler, error) {
	render, err := NewErrorRenderer(logger)
	if err != nil {
		return nil, err
	}
	if opts.SIDCookieName == "" {
		opts.SIDCookieName = DefaultSIDCookieName
	}
	if opts.SessionCookieName == "" {
		opts.SessionCookieName = DefaultSessionCookieName
	}
	return &Handler{
		flow:              flow,
		acs:               acs,
		configs:           configs,
		saml:              samlsvc,
		render:            render,
		db:                db,
		logger:            logger,
		sidCookieName:     opts.SIDCookieName,
		sessionCookieName: opts.SessionCookieName,
		secureCookies:     opts.SecureCookies,
		version:           opts.Version,
	}, nil
}

// Router builds the SAML endpoint router. next handles everything that is
// not a SAML endpoint, wrapped in the enforcement middleware.
func (h *Handler) Router(next http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Post(domain.ACSPath, h.handleACS)
	r.Get(domain.SLOPath, h.handleSLO)
	r.Get(domain.MetadataPath, h.handleMetadata)

	r.Route("/saml/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
		r.Get("/health", h.handleHealth)
	})

	r.NotFound(h.Enforce(next).ServeHTTP)

	return r
}

// Enforce is the login-enforcement middleware: every request runs through
// the flow's state machine before it may reach the application.
func (h *Handler) Enforce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, minted := buildRequestContext(r, h.sidCookieName)
		if minted {
			h.setCookie(w, h.sidCookieName, rc.SessionID, 0)
		}

		token := h.sessionToken(r)
		decision := h.flow.Evaluate(r.Context(), rc, token)
		h.apply(w, r, decision, next)
	})
}

func (h *Handler) handleACS(w http.ResponseWriter, r *http.Request) {
	rc, minted := buildRequestContext(r, h.sidCookieName)
	if minted {
		h.setCookie(w, h.sidCookieName, rc.SessionID, 0)
	}

	result, err := h.acs.Consume(r.Context(), rc)
	if err != nil {
		h.renderError(w, err)
		return
	}

	decision := h.flow.FinalizeLogin(r.Context(), result)
	h.apply(w, r, decision, nil)
}

func (h *Handler) handleSLO(w http.ResponseWriter, r *http.Request) {
	rc, _ := buildRequestContext(r, h.sidCookieName)
	decision := h.flow.Logoff(r.Context(), rc, h.sessionToken(r))
	h.apply(w, r, decision, nil)
}

// handleMetadata serves SP metadata for one configuration, but only while
// that configuration has debug enabled. Everything else gets the same
// information-minimal stub, so the endpoint cannot be used to enumerate
// configurations.
func (h *Handler) handleMetadata(w http.ResponseWriter, r *http.Request) {
	idpParam := r.URL.Query().Get(domain.ACSQueryParam)
	id, err := strconv.ParseInt(idpParam, 10, 64)
	if err != nil {
		h.writeMetadataStub(w)
		return
	}

	cfg, err := h.configs.GetByID(r.Context(), id)
	if err != nil || !cfg.Debug {
		h.writeMetadataStub(w)
		return
	}

	rc, _ := buildRequestContext(r, h.sidCookieName)
	base := rc.BaseURL()
	if cfg.Proxied {
		base = rc.ProxiedBaseURL()
	}

	metadata, err := h.saml.Metadata(cfg, base)
	if err != nil {
		h.renderError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	_, _ = w.Write(metadata)
}

// writeMetadataStub emits a generic XML error document.
func (h *Handler) writeMetadataStub(w http.ResponseWriter) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("error")
	root.CreateElement("message").SetText("metadata is not available")

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusNotFound)
	_, _ = doc.WriteTo(w)
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Version: h.version, Database: "ok"}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// apply executes a flow decision against the response.
func (h *Handler) apply(w http.ResponseWriter, r *http.Request, d *service.Decision, next http.Handler) {
	switch d.Kind {
	case service.DecisionPass:
		if d.ClearCookie {
			h.clearCookie(w, h.sessionCookieName)
		}
		if next != nil {
			next.ServeHTTP(w, r)
		}
	case service.DecisionRedirect:
		if d.ClearCookie {
			h.clearCookie(w, h.sessionCookieName)
		}
		http.Redirect(w, r, d.RedirectURL, http.StatusFound)
	case service.DecisionLogin:
		h.setCookie(w, h.sessionCookieName, d.SessionToken, 0)
		http.Redirect(w, r, d.RedirectURL, http.StatusFound)
	case service.DecisionFail:
		h.render.Render(w, d.Err)
	}
}

func (h *Handler) sessionToken(r *http.Request) string {
	if c, err := r.Cookie(h.sessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

func (h *Handler) renderError(w http.ResponseWriter, err error) {
	h.render.Render(w, asAppError(err))
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// asAppError wraps unknown errors so every failure renders uniformly.
func asAppError(err error) *domain.AppError {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return domain.StorageError("The request could not be processed", err)
}
