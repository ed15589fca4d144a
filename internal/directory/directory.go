// Package directory defines the pluggable identity-store contract. The core
// depends only on this interface; host applications may swap in their own
// implementation over whatever user representation they already persist, as
// long as it honors the minimal contract: unique case-normalized email,
// optional password hash, role set, and the staff/active flags.
package directory

import (
	"context"
	"strings"

	"github.com/smallbiznis/authcore/internal/domain"
)

// Directory is the identity store boundary. Email uniqueness is enforced
// here (Create returns domain.ErrDuplicateEmail), and lookups by email expect
// the normalized form. Users are never deleted; Deactivate flips a flag so
// historical tokens stay auditable.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	FindByID(ctx context.Context, id int64) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	Update(ctx context.Context, user domain.User) (domain.User, error)
	AssignRole(ctx context.Context, userID int64, role string) error
	Roles(ctx context.Context, userID int64) ([]string, error)
	Deactivate(ctx context.Context, userID int64) error
}

// NormalizeEmail lowercases and trims an address. Every lookup and every
// stored email goes through this, so "A@X.com" and "a@x.com" are one account.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
