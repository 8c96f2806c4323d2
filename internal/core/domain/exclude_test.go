//go:build unit

package domain

import "testing"

func TestExcludeRule_Matches(t *testing.T) {
	rule := ExcludeRule{Name: "cron", Path: "cron.php", Bypass: true}
	cases := []struct {
		uri, agent string
		want       bool
	}{
		{"/front/cron.php", "", true},
		{"/front/cron.php?force=1", "curl/8.0", true},
		{"/front/central.php", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		if got := rule.Matches(tc.uri, tc.agent); got != tc.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tc.uri, tc.agent, got, tc.want)
		}
	}
}

func TestExcludeRule_Matches_UserAgent(t *testing.T) {
	rule := ExcludeRule{Name: "api agents", Path: "/apirest.php", UserAgent: "glpi-agent"}
	if !rule.Matches("/apirest.php/initSession", "glpi-agent/1.7") {
		t.Error("matching agent should pass")
	}
	if rule.Matches("/apirest.php/initSession", "Mozilla/5.0") {
		t.Error("non-matching agent must fail even when the path matches")
	}
}

func TestExcludeRule_EmptyPathNeverMatches(t *testing.T) {
	rule := ExcludeRule{Name: "broken", Path: ""}
	if rule.Matches("/anything", "") {
		t.Error("a rule without a path must never match")
	}
}

func TestExcludeList_FirstMatchWins(t *testing.T) {
	list := ExcludeList{
		{ID: 1, Name: "narrow", Path: "/api/v2/ping", Bypass: false},
		{ID: 2, Name: "broad", Path: "/api", Bypass: true},
	}
	got := list.FirstMatch("/api/v2/ping", "")
	if got == nil || got.ID != 1 {
		t.Fatalf("expected rule 1 to win, got %+v", got)
	}
	got = list.FirstMatch("/api/v2/items", "")
	if got == nil || got.ID != 2 {
		t.Fatalf("expected rule 2 fallback, got %+v", got)
	}
	if list.FirstMatch("/front/login.php", "") != nil {
		t.Error("no rule should match an unrelated path")
	}
}
