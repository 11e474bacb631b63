// Package session owns reconciliation of provider session changes into
// the single authoritative view the route guard and the portal UI
// consult. The reconciler is the sole writer; every other component
// reads immutable snapshots.
package session

import (
	"github.com/carebridge/portal/internal/domain/channel"
	"github.com/carebridge/portal/internal/domain/identity"
	"github.com/carebridge/portal/internal/domain/profile"
)

// Snapshot is the reconciled session state at a point in time. At most
// one channel is active; Identity and Profile are nil when no channel
// holds an authenticated identity.
type Snapshot struct {
	ActiveChannel channel.Name       `json:"active_channel"`
	Identity      *identity.Identity `json:"identity,omitempty"`
	Profile       *profile.Profile   `json:"profile,omitempty"`
	Bootstrapping bool               `json:"bootstrapping"`
}

// Authenticated reports whether a reconciled identity is present.
func (s Snapshot) Authenticated() bool { return s.Identity != nil }

// Role returns the reconciled role, or the empty role when
// unauthenticated.
func (s Snapshot) Role() identity.Role {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.Role
}
