// Package notify delivers passwordless codes and verification mail. The core
// is transport-agnostic; backends are selected by configuration.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/smallbiznis/authcore/internal/config"
	"github.com/smallbiznis/authcore/internal/domain"
)

// Notifier sends a message to a destination address.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// New selects a backend from configuration.
func New(cfg config.Config, logger *zap.Logger) Notifier {
	switch cfg.EmailBackend {
	case "smtp":
		return &SMTP{
			addr:     fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
			host:     cfg.SMTPHost,
			username: cfg.SMTPUsername,
			password: cfg.SMTPPassword,
			from:     cfg.SMTPFrom,
		}
	default:
		return &Console{logger: logger}
	}
}

// Console logs messages instead of sending them. Useful in development and
// tests.
type Console struct {
	logger *zap.Logger
}

var _ Notifier = (*Console)(nil)

func (c *Console) Send(ctx context.Context, to, subject, body string) error {
	logger := c.logger
	if logger == nil {
		logger = zap.L()
	}
	logger.Info("console notification",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}

// SMTP delivers mail over a plain SMTP relay.
type SMTP struct {
	addr     string
	host     string
	username string
	password string
	from     string
}

var _ Notifier = (*SMTP)(nil)

func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + s.from,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	if err := smtp.SendMail(s.addr, auth, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	return nil
}
