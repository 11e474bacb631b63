package routeguard

import (
	"testing"

	"github.com/carebridge/portal/internal/domain/identity"
)

func TestNewRuleset_Validation(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"prefix without slash", []Rule{{PathPrefix: "patient", Access: AccessPublic}}},
		{"roles rule without roles", []Rule{{PathPrefix: "/patient", Access: AccessRoles}}},
		{"roles rule with unknown role", []Rule{{PathPrefix: "/patient", Access: AccessRoles,
			Roles: []identity.Role{"superuser"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRuleset(tt.rules); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRuleset_LongestPrefixWins(t *testing.T) {
	rs, err := NewRuleset(DefaultRules())
	if err != nil {
		t.Fatalf("default rules must validate: %v", err)
	}

	tests := []struct {
		path   string
		prefix string
	}{
		{"/", "/"},
		{"/about", "/"},
		{"/login", "/login"},
		{"/patient", "/patient"},
		{"/patient/chart", "/patient"},
		// The public shared view outranks the role-gated patient area
		{"/patient/view", "/patient/view"},
		{"/patient/view/abc123", "/patient/view"},
		{"/admin/users", "/admin"},
	}
	for _, tt := range tests {
		rule := rs.Match(tt.path)
		if rule == nil {
			t.Errorf("Match(%q) = nil", tt.path)
			continue
		}
		if rule.PathPrefix != tt.prefix {
			t.Errorf("Match(%q) chose %q, want %q", tt.path, rule.PathPrefix, tt.prefix)
		}
	}
}

func TestRuleset_SegmentBoundaries(t *testing.T) {
	rs, err := NewRuleset([]Rule{
		{PathPrefix: "/patient", Access: AccessRoles, Roles: []identity.Role{identity.RolePatient}},
	})
	if err != nil {
		t.Fatal(err)
	}

	// "/patients" is a different area, not a sub-path of "/patient"
	if rs.Match("/patients") != nil {
		t.Error("prefix must not match across a segment boundary")
	}
	if rs.Match("/patient") == nil || rs.Match("/patient/chart") == nil {
		t.Error("prefix must match itself and its sub-paths")
	}
}

func TestRuleset_TrailingSlashPrefix(t *testing.T) {
	rs, err := NewRuleset([]Rule{{PathPrefix: "/patient/view/", Access: AccessPublic}})
	if err != nil {
		t.Fatal(err)
	}
	if rs.Match("/patient/view") == nil {
		t.Error("a trailing-slash prefix still covers the bare path")
	}
	if rs.Match("/patient/view/abc") == nil {
		t.Error("expected sub-path match")
	}
}

func TestRuleset_RulesCopy(t *testing.T) {
	rs, err := NewRuleset(DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	out := rs.Rules()
	if len(out) != len(DefaultRules()) {
		t.Fatalf("expected all rules, got %d", len(out))
	}
	out[0].PathPrefix = "/mutated"
	if rs.Rules()[0].PathPrefix == "/mutated" {
		t.Error("Rules must return a copy")
	}
}
