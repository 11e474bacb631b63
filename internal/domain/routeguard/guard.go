package routeguard

import (
	"strings"

	"github.com/carebridge/portal/internal/domain/session"
)

// Login paths the guard redirects to. Patient-area paths go to the
// patient login; everything else goes to the staff/doctor/admin login.
const (
	PatientLoginPath = "/login"
	StaffLoginPath   = "/staff-login"
)

// Decision is the guard's verdict for one navigation.
type Decision struct {
	Allow      bool   `json:"allow"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// Allow is the permissive decision.
var Allow = Decision{Allow: true}

// RedirectTo builds a deny decision pointing at target.
func RedirectTo(target string) Decision {
	return Decision{RedirectTo: target}
}

// Guard evaluates navigations against a ruleset.
type Guard struct {
	rules *Ruleset
}

func NewGuard(rules *Ruleset) *Guard {
	return &Guard{rules: rules}
}

// Decide returns the verdict for path under the reconciled snapshot.
// It is deterministic in its two inputs: no clocks, no channel-store
// reads — a stray identity on a secondary channel can never leak access
// because only the reconciled snapshot is consulted.
func (g *Guard) Decide(path string, snap session.Snapshot) Decision {
	rule := g.rules.Match(path)
	if rule == nil {
		// No rule covers the path; require sign-in rather than guess.
		return RedirectTo(loginPathFor(path))
	}

	switch rule.Access {
	case AccessPublic:
		return Allow
	case AccessAuthenticated:
		if !snap.Authenticated() {
			return RedirectTo(loginPathFor(path))
		}
		return Allow
	default:
		if !snap.Authenticated() {
			return RedirectTo(loginPathFor(path))
		}
		for _, role := range rule.Roles {
			if snap.Role() == role {
				return Allow
			}
		}
		return RedirectTo(loginPathFor(path))
	}
}

func loginPathFor(path string) string {
	if path == "/patient" || strings.HasPrefix(path, "/patient/") {
		return PatientLoginPath
	}
	return StaffLoginPath
}
