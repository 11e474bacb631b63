// Package routeguard decides, per navigation, whether the reconciled
// identity may reach a portal area. Decide is a pure function of the
// path and the session snapshot; rules are static configuration.
package routeguard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/carebridge/portal/internal/domain/identity"
)

// Access is the requirement class a rule imposes.
type Access string

const (
	// AccessPublic allows everyone, authenticated or not.
	AccessPublic Access = "public"
	// AccessAuthenticated allows any authenticated identity.
	AccessAuthenticated Access = "authenticated-any"
	// AccessRoles allows only the listed roles.
	AccessRoles Access = "roles"
)

// Rule gates one path prefix.
type Rule struct {
	PathPrefix string
	Access     Access
	Roles      []identity.Role
}

// Ruleset is an ordered rule table matched by longest prefix. The
// public shared patient view ("/patient/view/") therefore wins over the
// role-gated "/patient" subtree by construction.
type Ruleset struct {
	rules []Rule
}

// NewRuleset validates and orders the rules. Prefixes must start with
// "/"; AccessRoles rules must list at least one known role.
func NewRuleset(rules []Rule) (*Ruleset, error) {
	for _, r := range rules {
		if !strings.HasPrefix(r.PathPrefix, "/") {
			return nil, fmt.Errorf("rule prefix %q must start with /", r.PathPrefix)
		}
		if r.Access == AccessRoles {
			if len(r.Roles) == 0 {
				return nil, fmt.Errorf("rule %q requires roles but lists none", r.PathPrefix)
			}
			for _, role := range r.Roles {
				if !role.Valid() {
					return nil, fmt.Errorf("rule %q lists unknown role %q", r.PathPrefix, role)
				}
			}
		}
	}

	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].PathPrefix) > len(ordered[j].PathPrefix)
	})
	return &Ruleset{rules: ordered}, nil
}

// Match returns the longest-prefix rule for path, or nil when no rule
// covers it. Prefixes match on segment boundaries: "/patient" covers
// "/patient" and "/patient/chart" but not "/patients".
func (rs *Ruleset) Match(path string) *Rule {
	for i := range rs.rules {
		if prefixMatches(rs.rules[i].PathPrefix, path) {
			return &rs.rules[i]
		}
	}
	return nil
}

// Rules returns the ordered table, for the routes listing command.
func (rs *Ruleset) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

func prefixMatches(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	trimmed := strings.TrimSuffix(prefix, "/")
	if !strings.HasPrefix(path, trimmed) {
		return false
	}
	rest := path[len(trimmed):]
	return rest == "" || strings.HasPrefix(rest, "/")
}

// DefaultRules is the portal's route table: the shared read-only
// patient view is public ahead of the role-gated patient area, landing
// and login pages are public, and each portal area requires its role.
func DefaultRules() []Rule {
	return []Rule{
		{PathPrefix: "/", Access: AccessPublic},
		{PathPrefix: "/login", Access: AccessPublic},
		{PathPrefix: "/staff-login", Access: AccessPublic},
		{PathPrefix: "/reset-password", Access: AccessPublic},
		{PathPrefix: "/update-password", Access: AccessPublic},
		{PathPrefix: "/auth/error", Access: AccessPublic},
		{PathPrefix: "/patient/view", Access: AccessPublic},
		{PathPrefix: "/patient", Access: AccessRoles, Roles: []identity.Role{identity.RolePatient}},
		{PathPrefix: "/doctor", Access: AccessRoles, Roles: []identity.Role{identity.RoleDoctor}},
		{PathPrefix: "/staff", Access: AccessRoles, Roles: []identity.Role{identity.RoleStaff}},
		{PathPrefix: "/admin", Access: AccessRoles, Roles: []identity.Role{identity.RoleAdmin}},
		{PathPrefix: "/account", Access: AccessAuthenticated},
	}
}
