package profile

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no profile row exists for an identity.
// It never crosses the service boundary: Ensure recovers it by
// provisioning the minimal row.
var ErrNotFound = errors.New("profile not found")

type Repository interface {
	GetByIdentityID(ctx context.Context, identityID uuid.UUID) (*Profile, error)
	Insert(ctx context.Context, p *Profile) error
	Update(ctx context.Context, identityID uuid.UUID, fields map[string]any) error
}
