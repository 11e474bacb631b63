// Package profile owns the application-level profile record associated
// one-to-one with a provider identity. Rows are auto-provisioned with
// minimal fields the first time an identity authenticates.
package profile

import (
	"time"

	"github.com/google/uuid"
)

// Profile maps to the profile table.
type Profile struct {
	IdentityID uuid.UUID `db:"identity_id" json:"identity_id"`
	FullName   string    `db:"full_name" json:"full_name"`
	Role       string    `db:"role" json:"role"`
	Email      *string   `db:"email" json:"email,omitempty"`
	Phone      *string   `db:"phone" json:"phone,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
