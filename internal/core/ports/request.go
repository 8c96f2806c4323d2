package ports

import "net/url"

// RequestContext is the explicit per-request value handed to the login
// flow: method, URI, headers, form fields, and the session key. It
// replaces any hidden global request state so flow decisions are
// deterministic and testable.
type RequestContext struct {
	Method     string
	URI        string // request URI including the query string
	Path       string
	Host       string
	Scheme     string
	RemoteAddr string
	UserAgent  string

	// Query and Form carry the parsed parameters of the request.
	Query url.Values
	Form  url.Values

	// SessionID identifies the browser session, from the session cookie.
	SessionID string

	// CookieName is the cookie the session id came from.
	CookieName string

	// ForwardedProto and ForwardedHost are populated from X-Forwarded-*
	// headers. They are only trusted when the IdP configuration in play
	// has proxied mode enabled.
	ForwardedProto string
	ForwardedHost  string

	// CLI marks command-line execution, which carries no HTTP request and
	// is always excluded from SAML enforcement.
	CLI bool
}

// Param returns the named parameter from form fields first, query second.
func (rc *RequestContext) Param(name string) string {
	if v := rc.Form.Get(name); v != "" {
		return v
	}
	return rc.Query.Get(name)
}

// BaseURL reconstructs the request's base URL.
func (rc *RequestContext) BaseURL() *url.URL {
	scheme := rc.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: rc.Host}
}

// ProxiedBaseURL is the base URL as seen by the client in front of a
// reverse proxy. Falls back to BaseURL when no forwarded headers are set.
func (rc *RequestContext) ProxiedBaseURL() *url.URL {
	u := rc.BaseURL()
	if rc.ForwardedProto != "" {
		u.Scheme = rc.ForwardedProto
	}
	if rc.ForwardedHost != "" {
		u.Host = rc.ForwardedHost
	}
	return u
}
