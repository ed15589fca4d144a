package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/authcore/internal/config"
	"github.com/smallbiznis/authcore/internal/directory"
	"github.com/smallbiznis/authcore/internal/domain"
	"github.com/smallbiznis/authcore/internal/password"
)

const adminRole = "admin"

// EnsureAdmin creates a default staff user for dev/e2e when configured. With
// no ADMIN_EMAIL the hook is a no-op.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, dir directory.Directory, hasher *password.Hasher, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg, dir, hasher, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, dir directory.Directory, hasher *password.Hasher, logger *zap.Logger) error {
	email := directory.NormalizeEmail(cfg.AdminEmail)
	if email == "" {
		return nil
	}
	if cfg.AdminPassword == "" {
		return fmt.Errorf("admin bootstrap: ADMIN_PASSWORD required when ADMIN_EMAIL is set")
	}

	if _, err := dir.FindByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return fmt.Errorf("bootstrap lookup user: %w", err)
	}

	hashed, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	created, err := dir.Create(ctx, domain.User{
		Email:        email,
		Name:         "Admin",
		PasswordHash: hashed,
		Staff:        true,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("bootstrap create user: %w", err)
	}

	if err := dir.AssignRole(ctx, created.ID, adminRole); err != nil {
		return fmt.Errorf("bootstrap assign role: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin user created",
			zap.String("email", created.Email),
			zap.Int64("user_id", created.ID),
		)
	}
	return nil
}
