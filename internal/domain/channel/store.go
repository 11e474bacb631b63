// Package channel implements the per-channel identity stores: one for
// password authentication and one per one-time-code delivery channel.
// Stores initiate provider operations but do not decide who holds the
// resulting identity; the session reconciler is the only component that
// populates or clears them, which is what keeps at most one channel
// active at a time.
package channel

import (
	"sync"

	"github.com/carebridge/portal/internal/domain/identity"
	"github.com/carebridge/portal/internal/domain/profile"
)

// Name identifies an authentication channel.
type Name string

const (
	Password Name = "password"
	OTPPhone Name = "otp_phone"
	OTPEmail Name = "otp_email"
	// None is the reconciled state when no channel holds an identity.
	None Name = ""
)

// Store is the uniform contract across all channels. The mutating
// methods (SetIdentity, AttachProfile, ClearProfile, Clear) are reserved
// for the reconciler.
type Store interface {
	Name() Name
	Identity() *identity.Identity
	Profile() *profile.Profile
	SetIdentity(ident *identity.Identity)
	AttachProfile(p *profile.Profile)
	ClearProfile()
	Clear()
}

// state is the identity/profile holder embedded by every channel store.
type state struct {
	name Name

	mu      sync.RWMutex
	ident   *identity.Identity
	profile *profile.Profile
}

func (s *state) Name() Name { return s.name }

func (s *state) Identity() *identity.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ident
}

func (s *state) Profile() *profile.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

func (s *state) SetIdentity(ident *identity.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ident = ident
}

func (s *state) AttachProfile(p *profile.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
}

func (s *state) ClearProfile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = nil
}

func (s *state) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ident = nil
	s.profile = nil
}
