//go:build unit

package httpd

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/DonutsNL/samlbridge/internal/adapters/driven/configstore"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/directory"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/excludestore"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/metrics"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/rights"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/session"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/statestore"
	"github.com/DonutsNL/samlbridge/internal/core/domain"
	"github.com/DonutsNL/samlbridge/internal/core/service"
)

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type testEnv struct {
	handler *Handler
	configs *configstore.InMemoryStore
	states  *statestore.InMemoryStore
}

func newTestEnv(t *testing.T, rules ...domain.ExcludeRule) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	configs := configstore.NewInMemoryStore()
	states := statestore.NewInMemoryStore()
	excludes := excludestore.NewInMemoryStore(rules...)
	dir := directory.NewInMemoryDirectory()
	assigner := rights.NewStaticAssigner(domain.RightsResult{ProfileID: 1, EntityID: 1})

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sessions := session.NewCookieSessionStore(key, time.Hour)

	rec := metrics.NewNoopMetricsRecorder()
	samlsvc := service.NewSAMLService(logger)
	resolver := service.NewUserResolver(dir, assigner, rec, logger)
	acs := service.NewAssertionConsumer(configs, states, samlsvc, resolver, rec, logger)

	base, _ := url.Parse("https://app.example.com")
	flow := service.NewLoginFlow(excludes, states, configs, samlsvc, sessions, rec, logger, base, time.Hour)

	h, err := NewHandler(flow, acs, configs, samlsvc, fakePinger{}, logger, Options{
		SecureCookies: true,
		Version:       "test",
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	return &testEnv{handler: h, configs: configs, states: states}
}

// saveConfig loads the template with overrides and saves it.
func saveConfig(t *testing.T, env *testEnv, overrides map[string]string) int64 {
	t.Helper()
	raw := domain.TemplateRaw()
	for k, v := range overrides {
		raw[k] = v
	}
	id, err := env.configs.Save(context.Background(), 0, raw)
	if err != nil {
		t.Fatalf("save config: %v", err)
	}
	return id
}

func okNext() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("app"))
	})
}

func TestEnforce_NoSelectionSignal_PassesThrough(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "https://app.example.com/index.php", nil)
	rec := httptest.NewRecorder()
	env.handler.Router(okNext()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "app" {
		t.Errorf("body = %q, want app passthrough", rec.Body.String())
	}

	// First contact mints a session-id cookie.
	var sawSID bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == DefaultSIDCookieName && c.Value != "" {
			sawSID = true
		}
	}
	if !sawSID {
		t.Error("expected session-id cookie to be set")
	}
}

func TestEnforce_SoleEnforcedConfig_RedirectsToIdP(t *testing.T) {
	env := newTestEnv(t)
	saveConfig(t, env, map[string]string{
		domain.FieldName:     "AZURE AD",
		domain.FieldActive:   "1",
		domain.FieldEnforced: "1",
	})

	req := httptest.NewRequest(http.MethodGet, "https://app.example.com/index.php", nil)
	rec := httptest.NewRecorder()
	env.handler.Router(okNext()).ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	location := rec.Header().Get("Location")
	if !strings.HasPrefix(location, "https://idp.example.com/sso?") {
		t.Errorf("Location = %q, want redirect to IdP SSO endpoint", location)
	}
	if !strings.Contains(location, "SAMLRequest=") {
		t.Errorf("Location %q carries no SAMLRequest", location)
	}
}

func TestEnforce_ExcludedPath_Passes(t *testing.T) {
	env := newTestEnv(t, domain.ExcludeRule{
		Name: "cron", Path: "/front/cron.php", Bypass: true,
	})
	saveConfig(t, env, map[string]string{
		domain.FieldActive:   "1",
		domain.FieldEnforced: "1",
	})

	req := httptest.NewRequest(http.MethodGet, "https://app.example.com/front/cron.php", nil)
	rec := httptest.NewRecorder()
	env.handler.Router(okNext()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 passthrough for excluded path", rec.Code)
	}
}

func TestEnforce_BypassParam_ClearsSessionAndRedirects(t *testing.T) {
	env := newTestEnv(t)
	saveConfig(t, env, map[string]string{
		domain.FieldActive:   "1",
		domain.FieldEnforced: "1",
	})

	req := httptest.NewRequest(http.MethodGet, "https://app.example.com/index.php?nosaml=1", nil)
	rec := httptest.NewRecorder()
	env.handler.Router(okNext()).ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "https://app.example.com" {
		t.Errorf("Location = %q, want base URL", got)
	}

	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == DefaultSessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("expected session cookie to be cleared")
	}
}

func TestACS_MissingIdPParam_RendersBadRequest(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "https://app.example.com/saml/acs", strings.NewReader("SAMLResponse=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.handler.Router(okNext()).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want html error page", ct)
	}
}

func TestACS_UnknownIdP_RendersNotFound(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "https://app.example.com/saml/acs?idp=99", strings.NewReader("SAMLResponse=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.handler.Router(okNext()).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestMetadata_DebugDisabled_ServesStub(t *testing.T) {
	env := newTestEnv(t)
	id := saveConfig(t, env, map[string]string{
		domain.FieldActive: "1",
		domain.FieldDebug:  "0",
	})

	req := httptest.NewRequest(http.MethodGet, "https://app.example.com/saml/metadata?idp="+itoa(id), nil)
	rec := httptest.NewRecorder()
	env.handler.Router(okNext()).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 stub", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<error>") {
		t.Errorf("body = %q, want XML error stub", rec.Body.String())
	}
}

func TestMetadata_DebugEnabled_ServesDocument(t *testing.T) {
	env := newTestEnv(t)
	id := saveConfig(t, env, map[string]string{
		domain.FieldActive: "1",
		domain.FieldDebug:  "1",
	})

	req := httptest.NewRequest(http.MethodGet, "https://app.example.com/saml/metadata?idp="+itoa(id), nil)
	rec := httptest.NewRecorder()
	env.handler.Router(okNext()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %q", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "EntityDescriptor") {
		t.Errorf("body does not look like SP metadata: %q", body)
	}
	if !strings.Contains(body, "/saml/acs?idp="+itoa(id)) {
		t.Errorf("metadata does not carry the config-bound ACS URL: %q", body)
	}
}

func TestMetadata_NonNumericParam_ServesStub(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "https://app.example.com/saml/metadata?idp=abc", nil)
	rec := httptest.NewRecorder()
	env.handler.Router(okNext()).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 stub", rec.Code)
	}
}

func TestSLO_RedirectsAndClearsCookie(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "https://app.example.com/saml/slo", nil)
	rec := httptest.NewRecorder()
	env.handler.Router(okNext()).ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == DefaultSessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("expected session cookie to be cleared")
	}
}

func TestHealth_ReportsDatabaseState(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "https://app.example.com/saml/api/health", nil)
	rec := httptest.NewRecorder()
	env.handler.Router(okNext()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Errorf("body = %q, want healthy", rec.Body.String())
	}

	// Broken database turns the health degraded.
	logger := zap.NewNop()
	broken, err := NewHandler(env.handler.flow, env.handler.acs, env.handler.configs, env.handler.saml, fakePinger{err: errors.New("down")}, logger, Options{Version: "test"})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	rec = httptest.NewRecorder()
	broken.Router(okNext()).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"degraded"`) {
		t.Errorf("body = %q, want degraded", rec.Body.String())
	}
}

func TestRemoteIP(t *testing.T) {
	for _, tc := range []struct {
		addr string
		want string
	}{
		{"203.0.113.9:54321", "203.0.113.9"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		// RealIP-style middleware substitutes a bare IP without a port.
		{"203.0.113.9", "203.0.113.9"},
		{"::1", "::1"},
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tc.addr
		if got := remoteIP(r); got != tc.want {
			t.Errorf("remoteIP(%q) = %q, want %q", tc.addr, got, tc.want)
		}
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
