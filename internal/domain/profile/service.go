package profile

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/carebridge/portal/internal/domain/identity"
)

// Service attaches profiles to identities, provisioning the minimal row
// on first authentication. Fetch-or-create for a given identity id is
// serialized so concurrent duplicate notifications cannot race.
type Service struct {
	repo Repository
	sf   singleflight.Group
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "profile").Logger(),
	}
}

// Ensure returns the profile for ident, creating the minimal row when
// none exists yet. The missing-row case is recovered here and never
// surfaced to callers.
func (s *Service) Ensure(ctx context.Context, ident identity.Identity) (*Profile, error) {
	v, err, _ := s.sf.Do(ident.ID.String(), func() (any, error) {
		return s.ensure(ctx, ident)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Profile), nil
}

func (s *Service) ensure(ctx context.Context, ident identity.Identity) (*Profile, error) {
	p, err := s.repo.GetByIdentityID(ctx, ident.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	p = minimalProfile(ident)
	if err := s.repo.Insert(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info().Stringer("identity_id", ident.ID).Str("role", ident.Role.String()).
		Msg("auto-provisioned profile")

	// Re-read after insert: a concurrent writer may have won the
	// ON CONFLICT race with richer fields.
	existing, err := s.repo.GetByIdentityID(ctx, ident.ID)
	if err == nil {
		return existing, nil
	}
	if errors.Is(err, ErrNotFound) {
		return p, nil
	}
	return nil, err
}

// Update applies caller-edited display fields to an existing profile.
func (s *Service) Update(ctx context.Context, ident identity.Identity, fields map[string]any) (*Profile, error) {
	if err := s.repo.Update(ctx, ident.ID, fields); err != nil {
		return nil, err
	}
	return s.Ensure(ctx, ident)
}

func minimalProfile(ident identity.Identity) *Profile {
	p := &Profile{
		IdentityID: ident.ID,
		FullName:   ident.DisplayName(),
		Role:       ident.Role.String(),
	}
	if strings.Contains(ident.EmailOrPhone, "@") {
		email := ident.EmailOrPhone
		p.Email = &email
	} else if ident.EmailOrPhone != "" {
		phone := ident.EmailOrPhone
		p.Phone = &phone
	}
	return p
}
