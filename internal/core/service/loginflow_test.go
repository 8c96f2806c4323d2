//go:build unit

package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/DonutsNL/samlbridge/internal/adapters/driven/configstore"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/excludestore"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/metrics"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/session"
	"github.com/DonutsNL/samlbridge/internal/adapters/driven/statestore"
	"github.com/DonutsNL/samlbridge/internal/core/domain"
	"github.com/DonutsNL/samlbridge/internal/core/ports"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func sessionTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
	})
	return testKey
}

type flowEnv struct {
	flow     *LoginFlow
	configs  *configstore.InMemoryStore
	states   *statestore.InMemoryStore
	excludes *excludestore.InMemoryStore
	sessions *session.CookieSessionStore
}

func newFlowEnv(t *testing.T, rules ...domain.ExcludeRule) *flowEnv {
	t.Helper()
	configs := configstore.NewInMemoryStore()
	states := statestore.NewInMemoryStore()
	excludes := excludestore.NewInMemoryStore(rules...)
	sessions := session.NewCookieSessionStore(sessionTestKey(t), time.Hour)
	base, err := url.Parse("https://app.example.com")
	if err != nil {
		t.Fatal(err)
	}
	flow := NewLoginFlow(excludes, states, configs, NewSAMLService(zap.NewNop()), sessions,
		metrics.NewNoopMetricsRecorder(), zap.NewNop(), base, time.Hour)
	return &flowEnv{flow: flow, configs: configs, states: states, excludes: excludes, sessions: sessions}
}

func (e *flowEnv) saveConfig(t *testing.T, overrides map[string]string) int64 {
	t.Helper()
	raw := domain.TemplateRaw()
	raw[domain.FieldActive] = "1"
	for k, v := range overrides {
		raw[k] = v
	}
	id, err := e.configs.Save(context.Background(), 0, raw)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func browserRequest(uri string) *ports.RequestContext {
	u, _ := url.Parse(uri)
	return &ports.RequestContext{
		Method:     "GET",
		URI:        uri,
		Path:       u.Path,
		Host:       "app.example.com",
		Scheme:     "https",
		RemoteAddr: "203.0.113.9",
		UserAgent:  "Mozilla/5.0",
		Query:      u.Query(),
		Form:       url.Values{},
		SessionID:  "session-1",
		CookieName: "samlbridge_sid",
	}
}

func TestEvaluate_CLIAlwaysPasses(t *testing.T) {
	env := newFlowEnv(t)
	env.saveConfig(t, map[string]string{domain.FieldEnforced: "1"})
	d := env.flow.Evaluate(context.Background(), &ports.RequestContext{CLI: true}, "")
	if d.Kind != DecisionPass {
		t.Errorf("CLI execution must pass, got %v", d.Kind)
	}
}

func TestEvaluate_ExcludedPathPasses(t *testing.T) {
	env := newFlowEnv(t, domain.ExcludeRule{ID: 1, Name: "cron", Path: "cron.php", Bypass: true})
	env.saveConfig(t, map[string]string{domain.FieldEnforced: "1"})
	d := env.flow.Evaluate(context.Background(), browserRequest("/front/cron.php?force=1"), "")
	if d.Kind != DecisionPass {
		t.Errorf("excluded path must pass, got %v (%v)", d.Kind, d.Err)
	}
	// No state record is created for excluded traffic.
	if _, err := env.states.GetBySessionID(context.Background(), "session-1"); err == nil {
		t.Error("excluded requests must not create login state")
	}
}

func TestEvaluate_NonBypassRuleStillEnforces(t *testing.T) {
	env := newFlowEnv(t, domain.ExcludeRule{ID: 1, Name: "soft", Path: "/front/", Bypass: false})
	env.saveConfig(t, map[string]string{domain.FieldEnforced: "1"})
	d := env.flow.Evaluate(context.Background(), browserRequest("/front/central.php"), "")
	if d.Kind != DecisionRedirect {
		t.Errorf("non-bypass rule must not skip enforcement, got %v", d.Kind)
	}
}

func TestEvaluate_BypassParamForcesLogoff(t *testing.T) {
	env := newFlowEnv(t)
	env.saveConfig(t, map[string]string{domain.FieldEnforced: "1"})
	ctx := context.Background()

	state := &domain.LoginState{SessionID: "session-1", Phase: domain.PhaseLocalAuthed}
	if err := env.states.Save(ctx, state); err != nil {
		t.Fatal(err)
	}

	d := env.flow.Evaluate(ctx, browserRequest("/front/central.php?nosaml=1"), "")
	if d.Kind != DecisionRedirect || !d.ClearCookie {
		t.Fatalf("bypass must redirect and clear the cookie, got %+v", d)
	}
	if d.RedirectURL != "https://app.example.com" {
		t.Errorf("bypass redirect = %q", d.RedirectURL)
	}
	got, err := env.states.GetBySessionID(ctx, "session-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != domain.PhaseInitial {
		t.Errorf("phase = %s, want initial", got.Phase)
	}

	// The next request without the bypass parameter starts a fresh SSO
	// round instead of dead-ending on the phase guard.
	d = env.flow.Evaluate(ctx, browserRequest("/front/central.php"), "")
	if d.Kind != DecisionRedirect {
		t.Fatalf("re-login after bypass must redirect to the IdP, got %v (%v)", d.Kind, d.Err)
	}
	got, err = env.states.GetBySessionID(ctx, "session-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != domain.PhaseSAMLSent {
		t.Errorf("phase after re-login = %s, want saml_redirect_sent", got.Phase)
	}
}

func TestEvaluate_ValidSessionPasses(t *testing.T) {
	env := newFlowEnv(t)
	env.saveConfig(t, map[string]string{domain.FieldEnforced: "1"})
	now := time.Now()
	token, err := env.sessions.Create(&domain.Session{
		UserID: 1, UserName: "alice", IdPID: 1, IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	d := env.flow.Evaluate(context.Background(), browserRequest("/front/central.php"), token)
	if d.Kind != DecisionPass {
		t.Errorf("valid session must pass, got %v", d.Kind)
	}
}

func TestEvaluate_StaleTokenReEvaluated(t *testing.T) {
	env := newFlowEnv(t)
	env.saveConfig(t, map[string]string{domain.FieldEnforced: "1"})
	d := env.flow.Evaluate(context.Background(), browserRequest("/front/central.php"), "not-a-token")
	if d.Kind != DecisionRedirect {
		t.Errorf("stale token must trigger a fresh SSO round, got %v (%v)", d.Kind, d.Err)
	}
	if !d.ClearCookie {
		t.Error("the stale session cookie must be cleared")
	}
}

func TestEvaluate_ExpiredSessionRestartsLogin(t *testing.T) {
	env := newFlowEnv(t)
	env.saveConfig(t, map[string]string{domain.FieldEnforced: "1"})
	ctx := context.Background()

	state := &domain.LoginState{SessionID: "session-1", Phase: domain.PhaseLocalAuthed, UserID: 7}
	if err := env.states.Save(ctx, state); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	expired, err := session.NewCookieSessionStore(sessionTestKey(t), -time.Minute).Create(&domain.Session{
		UserID: 7, UserName: "alice", IdPID: 1, IssuedAt: now, ExpiresAt: now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}

	d := env.flow.Evaluate(ctx, browserRequest("/front/central.php"), expired)
	if d.Kind != DecisionRedirect {
		t.Fatalf("expired session must restart SSO, got %v (%v)", d.Kind, d.Err)
	}
	if !d.ClearCookie {
		t.Error("the expired session cookie must be cleared")
	}
	got, err := env.states.GetBySessionID(ctx, "session-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != domain.PhaseSAMLSent {
		t.Errorf("phase = %s, want saml_redirect_sent", got.Phase)
	}
}

func TestEvaluate_LostCookieRestartsLogin(t *testing.T) {
	env := newFlowEnv(t)
	env.saveConfig(t, map[string]string{domain.FieldEnforced: "1"})
	ctx := context.Background()

	state := &domain.LoginState{SessionID: "session-1", Phase: domain.PhaseLocalAuthed, UserID: 7}
	if err := env.states.Save(ctx, state); err != nil {
		t.Fatal(err)
	}

	// The session cookie vanished but the state row survived.
	d := env.flow.Evaluate(ctx, browserRequest("/front/central.php"), "")
	if d.Kind != DecisionRedirect {
		t.Fatalf("session without a token must restart SSO, got %v (%v)", d.Kind, d.Err)
	}
	got, err := env.states.GetBySessionID(ctx, "session-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != domain.PhaseSAMLSent {
		t.Errorf("phase = %s, want saml_redirect_sent", got.Phase)
	}
}

func TestEvaluate_SoleEnforcedConfigRedirects(t *testing.T) {
	env := newFlowEnv(t)
	id := env.saveConfig(t, map[string]string{domain.FieldEnforced: "1"})
	ctx := context.Background()

	d := env.flow.Evaluate(ctx, browserRequest("/front/central.php"), "")
	if d.Kind != DecisionRedirect {
		t.Fatalf("expected redirect, got %v (%v)", d.Kind, d.Err)
	}
	if !strings.HasPrefix(d.RedirectURL, "https://idp.example.com/sso?") {
		t.Errorf("redirect = %q, want the configured SSO endpoint", d.RedirectURL)
	}
	if !strings.Contains(d.RedirectURL, "SAMLRequest=") {
		t.Error("redirect must carry a SAMLRequest")
	}

	state, err := env.states.GetBySessionID(ctx, "session-1")
	if err != nil {
		t.Fatal(err)
	}
	if state.Phase != domain.PhaseSAMLSent {
		t.Errorf("phase = %s, want saml_redirect_sent", state.Phase)
	}
	if state.RequestID == "" {
		t.Error("the outbound request id must be recorded")
	}
	if state.IdPID != id {
		t.Errorf("state idp = %d, want %d", state.IdPID, id)
	}
}

func TestEvaluate_TwoEnforcedConfigsNoAutoselect(t *testing.T) {
	env := newFlowEnv(t)
	env.saveConfig(t, map[string]string{domain.FieldEnforced: "1"})
	env.saveConfig(t, map[string]string{domain.FieldEnforced: "1", domain.FieldName: "Second"})
	d := env.flow.Evaluate(context.Background(), browserRequest("/front/central.php"), "")
	if d.Kind != DecisionPass {
		t.Errorf("ambiguous enforcement must not autoselect, got %v", d.Kind)
	}
}

func TestEvaluate_ExplicitIdPParam(t *testing.T) {
	env := newFlowEnv(t)
	env.saveConfig(t, nil)
	second := env.saveConfig(t, map[string]string{domain.FieldName: "Second"})
	ctx := context.Background()

	d := env.flow.Evaluate(ctx, browserRequest("/front/central.php?idp="+itoa64(second)), "")
	if d.Kind != DecisionRedirect {
		t.Fatalf("expected redirect, got %v (%v)", d.Kind, d.Err)
	}
	state, err := env.states.GetBySessionID(ctx, "session-1")
	if err != nil {
		t.Fatal(err)
	}
	if state.IdPID != second {
		t.Errorf("selected idp %d, want %d", state.IdPID, second)
	}
}

func TestEvaluate_NonNumericIdPParamFails(t *testing.T) {
	env := newFlowEnv(t)
	env.saveConfig(t, nil)
	d := env.flow.Evaluate(context.Background(), browserRequest("/front/central.php?idp=azure"), "")
	if d.Kind != DecisionFail || d.Err == nil || d.Err.Code != domain.ErrCodeBadRequest {
		t.Errorf("non-numeric idp must fail cleanly, got %+v", d)
	}
}

func TestEvaluate_InactiveIdPFails(t *testing.T) {
	env := newFlowEnv(t)
	raw := domain.TemplateRaw()
	id, err := env.configs.Save(context.Background(), 0, raw)
	if err != nil {
		t.Fatal(err)
	}
	d := env.flow.Evaluate(context.Background(), browserRequest("/front/central.php?idp="+itoa64(id)), "")
	if d.Kind != DecisionFail || d.Err == nil || d.Err.Code != domain.ErrCodeConfigInvalid {
		t.Errorf("inactive idp must fail, got %+v", d)
	}
}

func TestEvaluate_DomainMatchedLogin(t *testing.T) {
	env := newFlowEnv(t)
	env.saveConfig(t, nil)
	matched := env.saveConfig(t, map[string]string{
		domain.FieldName:       "Corp",
		domain.FieldUserDomain: "corp.example.com",
	})
	ctx := context.Background()

	rc := browserRequest("/front/login.php")
	rc.Form.Set("login_name", "alice@corp.example.com")
	d := env.flow.Evaluate(ctx, rc, "")
	if d.Kind != DecisionRedirect {
		t.Fatalf("expected redirect, got %v (%v)", d.Kind, d.Err)
	}
	state, err := env.states.GetBySessionID(ctx, "session-1")
	if err != nil {
		t.Fatal(err)
	}
	if state.IdPID != matched {
		t.Errorf("selected idp %d, want %d", state.IdPID, matched)
	}
}

func TestEvaluate_NoSignalPasses(t *testing.T) {
	env := newFlowEnv(t)
	env.saveConfig(t, nil)
	d := env.flow.Evaluate(context.Background(), browserRequest("/front/login.php"), "")
	if d.Kind != DecisionPass {
		t.Errorf("no selection signal must pass through, got %v", d.Kind)
	}
}

func TestEvaluate_AbandonedRedirectGetsFreshRequestID(t *testing.T) {
	env := newFlowEnv(t)
	env.saveConfig(t, map[string]string{domain.FieldEnforced: "1"})
	ctx := context.Background()

	first := env.flow.Evaluate(ctx, browserRequest("/front/central.php"), "")
	if first.Kind != DecisionRedirect {
		t.Fatalf("first evaluation: %v", first.Kind)
	}
	s1, _ := env.states.GetBySessionID(ctx, "session-1")

	second := env.flow.Evaluate(ctx, browserRequest("/front/central.php"), "")
	if second.Kind != DecisionRedirect {
		t.Fatalf("second evaluation: %v", second.Kind)
	}
	s2, _ := env.states.GetBySessionID(ctx, "session-1")
	if s2.Phase != domain.PhaseSAMLSent {
		t.Errorf("phase = %s", s2.Phase)
	}
	if s1.RequestID == s2.RequestID {
		t.Error("an abandoned redirect must get a fresh request id")
	}
}

func TestFinalizeLogin(t *testing.T) {
	env := newFlowEnv(t)
	id := env.saveConfig(t, nil)
	ctx := context.Background()

	state := &domain.LoginState{SessionID: "session-1", Phase: domain.PhaseSAMLAuthed, IdPID: id}
	if err := env.states.Save(ctx, state); err != nil {
		t.Fatal(err)
	}
	cfg, err := env.configs.GetByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	user := &domain.LocalUser{ID: 42, Name: "alice", Active: true}

	d := env.flow.FinalizeLogin(ctx, &ConsumeResult{User: user, State: state, Config: cfg})
	if d.Kind != DecisionLogin {
		t.Fatalf("expected login decision, got %v (%v)", d.Kind, d.Err)
	}
	if d.SessionToken == "" {
		t.Error("a session token must be minted")
	}
	if d.RedirectURL != "https://app.example.com" {
		t.Errorf("redirect = %q", d.RedirectURL)
	}

	sess, err := env.sessions.Get(d.SessionToken)
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if sess.UserID != 42 || sess.UserName != "alice" || sess.IdPID != id {
		t.Errorf("session claims wrong: %+v", sess)
	}

	got, err := env.states.GetBySessionID(ctx, "session-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != domain.PhaseLocalAuthed || got.UserID != 42 {
		t.Errorf("final state wrong: phase=%s user=%d", got.Phase, got.UserID)
	}
}

func TestFinalizeLogin_PhaseConflict(t *testing.T) {
	env := newFlowEnv(t)
	id := env.saveConfig(t, nil)
	ctx := context.Background()

	state := &domain.LoginState{SessionID: "session-1", Phase: domain.PhaseInitial, IdPID: id}
	if err := env.states.Save(ctx, state); err != nil {
		t.Fatal(err)
	}
	cfg, _ := env.configs.GetByID(ctx, id)
	d := env.flow.FinalizeLogin(ctx, &ConsumeResult{
		User: &domain.LocalUser{ID: 1, Name: "x"}, State: state, Config: cfg,
	})
	if d.Kind != DecisionFail {
		t.Errorf("finalizing from the wrong phase must fail, got %v", d.Kind)
	}
}

func TestLogoff(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()
	state := &domain.LoginState{SessionID: "session-1", Phase: domain.PhaseLocalAuthed}
	if err := env.states.Save(ctx, state); err != nil {
		t.Fatal(err)
	}

	d := env.flow.Logoff(ctx, browserRequest("/saml/slo"), "some-token")
	if d.Kind != DecisionRedirect || !d.ClearCookie {
		t.Fatalf("logoff must redirect and clear the cookie, got %+v", d)
	}
	got, err := env.states.GetBySessionID(ctx, "session-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != domain.PhaseLoggedOff {
		t.Errorf("phase = %s, want logged_off", got.Phase)
	}
}

func itoa64(v int64) string {
	return strconv.FormatInt(v, 10)
}
