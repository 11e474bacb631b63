// Package identity defines the authenticated principal and the closed set
// of portal roles derived from provider metadata. Role parsing happens at
// the provider boundary so free-form metadata strings never reach routing
// logic.
package identity

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/carebridge/portal/internal/platform/provider"
)

// Identity is the authenticated principal as asserted by the provider.
// It is immutable once built; re-authentication produces a new value
// rather than mutating an existing one.
type Identity struct {
	ID           uuid.UUID      `json:"id"`
	EmailOrPhone string         `json:"email_or_phone"`
	Role         Role           `json:"role"`
	RawMetadata  map[string]any `json:"-"`
}

// FromSession builds an Identity from a provider session. It fails when
// the subject is not a UUID or the role metadata is missing or unknown.
func FromSession(s *provider.Session) (Identity, error) {
	if s == nil {
		return Identity{}, fmt.Errorf("nil session")
	}
	return FromUser(s.User)
}

// FromUser builds an Identity from a provider user record.
func FromUser(u provider.User) (Identity, error) {
	id, err := uuid.Parse(u.ID)
	if err != nil {
		return Identity{}, fmt.Errorf("parse identity id %q: %w", u.ID, err)
	}

	role, err := RoleFromMetadata(u.UserMetadata)
	if err != nil {
		return Identity{}, err
	}

	contact := u.Email
	if contact == "" {
		contact = u.Phone
	}

	return Identity{
		ID:           id,
		EmailOrPhone: contact,
		Role:         role,
		RawMetadata:  u.UserMetadata,
	}, nil
}

// DisplayName returns the best-known display name for the identity:
// the full_name metadata field when present, otherwise the contact
// address the user signed in with.
func (i Identity) DisplayName() string {
	if i.RawMetadata != nil {
		if name, ok := i.RawMetadata["full_name"].(string); ok && name != "" {
			return name
		}
	}
	return i.EmailOrPhone
}
