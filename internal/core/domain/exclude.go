package domain

import "strings"

// ExcludeRule bypasses SAML enforcement for matching requests. Matching is
// deliberately substring containment rather than path matching so that
// query strings and sub-paths are tolerated; administrators must be warned
// that over-broad substrings bypass more than intended.
type ExcludeRule struct {
	ID   int64
	Name string

	// Path is the substring matched against the request URI.
	Path string

	// UserAgent, when non-empty, must also be contained in the request's
	// user agent for the rule to match.
	UserAgent string

	// Bypass is the configured action: true lifts SAML enforcement for
	// matching requests, false leaves enforcement in place. Because the
	// first matching rule wins, a non-bypass rule placed above a broader
	// bypass rule pins its traffic back under enforcement.
	Bypass bool
}

// Matches reports whether this rule applies to the given request.
func (r *ExcludeRule) Matches(requestURI, userAgent string) bool {
	if r.Path == "" || !strings.Contains(requestURI, r.Path) {
		return false
	}
	if r.UserAgent != "" && !strings.Contains(userAgent, r.UserAgent) {
		return false
	}
	return true
}

// ExcludeList is an ordered rule list; the first matching rule wins.
type ExcludeList []ExcludeRule

// FirstMatch returns the first rule matching the request, or nil.
func (l ExcludeList) FirstMatch(requestURI, userAgent string) *ExcludeRule {
	for i := range l {
		if l[i].Matches(requestURI, userAgent) {
			return &l[i]
		}
	}
	return nil
}
