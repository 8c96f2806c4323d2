package httpd

import (
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/DonutsNL/samlbridge/internal/core/ports"
)

// buildRequestContext projects an incoming request onto the explicit
// context the core consumes. A missing session-id cookie is minted here
// so every browser is correlated from its first request; the caller is
// responsible for setting the cookie when minted is true.
func buildRequestContext(r *http.Request, sidCookieName string) (rc *ports.RequestContext, minted bool) {
	// ParseForm is idempotent and tolerates non-form bodies.
	_ = r.ParseForm()

	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}

	rc = &ports.RequestContext{
		Method:         r.Method,
		URI:            r.URL.RequestURI(),
		Path:           r.URL.Path,
		Host:           r.Host,
		Scheme:         scheme,
		RemoteAddr:     remoteIP(r),
		UserAgent:      r.UserAgent(),
		Query:          r.URL.Query(),
		Form:           r.PostForm,
		CookieName:     sidCookieName,
		ForwardedProto: r.Header.Get("X-Forwarded-Proto"),
		ForwardedHost:  r.Header.Get("X-Forwarded-Host"),
	}

	if c, err := r.Cookie(sidCookieName); err == nil && c.Value != "" {
		rc.SessionID = c.Value
		return rc, false
	}
	rc.SessionID = uuid.NewString()
	return rc, true
}

// remoteIP strips the port from RemoteAddr. Middleware like RealIP
// substitutes a bare IP without a port; pass that through unchanged.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
