package login

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/authcore/internal/config"
	"github.com/smallbiznis/authcore/internal/directory"
	"github.com/smallbiznis/authcore/internal/domain"
	"github.com/smallbiznis/authcore/internal/notify"
	"github.com/smallbiznis/authcore/internal/secrets"
)

const codeDigits = 6

// PasswordlessStrategy runs the two-phase email-code flow: RequestCode seals
// a short-lived code and mails it, Verify consumes it exactly once. Codes are
// encrypted at rest; the store never sees a plaintext code.
type PasswordlessStrategy struct {
	dir      directory.Directory
	codes    CodeStore
	cipher   *secrets.Cipher
	notifier notify.Notifier
	enabled  bool
	codeTTL  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewPasswordlessStrategy wires the strategy.
func NewPasswordlessStrategy(dir directory.Directory, codes CodeStore, cipher *secrets.Cipher, notifier notify.Notifier, cfg config.Config, logger *zap.Logger) *PasswordlessStrategy {
	return &PasswordlessStrategy{
		dir:      dir,
		codes:    codes,
		cipher:   cipher,
		notifier: notifier,
		enabled:  cfg.PasswordlessLoginEnabled,
		codeTTL:  cfg.PasswordlessCodeTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// RequestCode starts a self-initiated passwordless login. It is the only
// gated entry point: signup verification issues codes through IssueCode even
// when passwordless login is switched off.
func (s *PasswordlessStrategy) RequestCode(ctx context.Context, email string) error {
	if !s.enabled {
		return domain.ErrPasswordlessDisabled
	}
	return s.IssueCode(ctx, email, "Your login code")
}

// IssueCode generates a fresh code for the address, replacing any pending
// one, and hands it to the notifier. The code is sealed before it reaches the
// store; the retain window is longer than the validity window so a late
// verification reports "expired" rather than "invalid".
func (s *PasswordlessStrategy) IssueCode(ctx context.Context, email, subject string) error {
	email = directory.NormalizeEmail(email)

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	envelope, err := s.cipher.Seal([]byte(code))
	if err != nil {
		return fmt.Errorf("seal code: %w", err)
	}

	stored := StoredCode{
		Envelope:  envelope.Encode(),
		ExpiresAt: s.now().Add(s.codeTTL),
	}
	if err := s.codes.Put(ctx, email, stored, 2*s.codeTTL); err != nil {
		return err
	}

	body := fmt.Sprintf("Your code is %s. It expires in %s.", code, s.codeTTL)
	if err := s.notifier.Send(ctx, email, subject, body); err != nil {
		return err
	}
	s.log().Info("one-time code issued", zap.String("email", email))
	return nil
}

// Verify consumes the pending code for the address. A wrong code burns the
// pending one: the atomic take means each stored code is checked at most once.
// When no account exists yet, one is provisioned without a password.
// Verification is not gated on the passwordless flag; codes only exist when
// some permitted flow issued them.
func (s *PasswordlessStrategy) Verify(ctx context.Context, email, attempt string) (domain.User, error) {
	email = directory.NormalizeEmail(email)

	stored, err := s.codes.Take(ctx, email)
	if err != nil {
		return domain.User{}, err
	}
	if stored == nil {
		return domain.User{}, domain.ErrCodeInvalid
	}
	if s.now().After(stored.ExpiresAt) {
		return domain.User{}, domain.ErrCodeExpired
	}

	envelope, err := secrets.DecodeEnvelope(stored.Envelope)
	if err != nil {
		return domain.User{}, domain.ErrCodeInvalid
	}
	code, err := s.cipher.Open(envelope)
	if err != nil {
		return domain.User{}, domain.ErrCodeInvalid
	}
	if subtle.ConstantTimeCompare(code, []byte(attempt)) != 1 {
		return domain.User{}, domain.ErrCodeInvalid
	}

	user, err := s.dir.FindByEmail(ctx, email)
	if err == nil {
		if !user.Active {
			return domain.User{}, domain.ErrInvalidCredentials
		}
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}

	created, err := s.dir.Create(ctx, domain.User{Email: email, Active: true})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEmail) {
			return s.dir.FindByEmail(ctx, email)
		}
		return domain.User{}, fmt.Errorf("provision user: %w", err)
	}
	s.log().Info("passwordless signup", zap.Int64("user_id", created.ID))
	return created, nil
}

func (s *PasswordlessStrategy) log() *zap.Logger {
	if s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
