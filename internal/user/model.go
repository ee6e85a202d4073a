package user

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is an account identity. Confirmation state is derived entirely from
// EmailConfirmedAt: nil means the address is unconfirmed, non-nil carries the
// moment of (re-)confirmation. Keeping a single field means a confirmed flag
// can never disagree with its timestamp.
type User struct {
	ID               uuid.UUID  `json:"id"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"` // Never expose password hash in JSON
	EmailConfirmedAt *time.Time `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Confirmed reports whether the email address has been confirmed.
func (u *User) Confirmed() bool {
	return u.EmailConfirmedAt != nil
}

// NormalizeEmail trims surrounding whitespace and lowercases the address.
// Every lookup and write goes through this so "A@B.com " and "a@b.com"
// land on the same row.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
