package login

import (
	"context"

	"github.com/smallbiznis/authcore/internal/directory"
	"github.com/smallbiznis/authcore/internal/domain"
	"github.com/smallbiznis/authcore/internal/password"
)

// PasswordStrategy verifies an email/password pair against the directory.
type PasswordStrategy struct {
	dir directory.Directory
}

// NewPasswordStrategy wires the strategy.
func NewPasswordStrategy(dir directory.Directory) *PasswordStrategy {
	return &PasswordStrategy{dir: dir}
}

// Authenticate resolves the user or fails with ErrInvalidCredentials. An
// unknown email, an account with no password hash, and a wrong password are
// indistinguishable to the caller; the directory error is swallowed here so
// no code path can leak which case occurred.
func (s *PasswordStrategy) Authenticate(ctx context.Context, email, plaintext string) (domain.User, error) {
	user, err := s.dir.FindByEmail(ctx, directory.NormalizeEmail(email))
	if err != nil {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	if !user.Active || !user.HasPassword() {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	ok, err := password.Verify(plaintext, user.PasswordHash)
	if err != nil || !ok {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	return user, nil
}
