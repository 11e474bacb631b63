package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG builds the Postgres-backed profile repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const profileCols = `identity_id, full_name, role, email, phone, created_at, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.IdentityID, &p.FullName, &p.Role, &p.Email, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *repoPG) GetByIdentityID(ctx context.Context, identityID uuid.UUID) (*Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx,
		`SELECT `+profileCols+` FROM profile WHERE identity_id = $1`, identityID))
}

// Insert provisions a profile row. ON CONFLICT DO NOTHING keeps the
// operation idempotent under duplicate notifications for the same
// identity.
func (r *repoPG) Insert(ctx context.Context, p *Profile) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO profile (identity_id, full_name, role, email, phone)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (identity_id) DO NOTHING`,
		p.IdentityID, p.FullName, p.Role, p.Email, p.Phone)
	return err
}

var updatableCols = map[string]string{
	"full_name": "full_name",
	"email":     "email",
	"phone":     "phone",
}

func (r *repoPG) Update(ctx context.Context, identityID uuid.UUID, fields map[string]any) error {
	sets := make([]string, 0, len(fields))
	args := []any{identityID}
	for k, v := range fields {
		col, ok := updatableCols[k]
		if !ok {
			return fmt.Errorf("profile field %q is not updatable", k)
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE profile SET `+strings.Join(sets, ", ")+`, updated_at=NOW()
		WHERE identity_id = $1`, args...)
	return err
}
