// Package session scopes storage access. Every directory and rotation
// operation runs inside a scope acquired here and released on every exit
// path; no component holds a database handle beyond one logical operation.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ctxKey struct{}

// Querier is the subset of pgx shared by pools and transactions. Repositories
// accept it so the same code runs inside or outside a scope.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Manager hands out scoped storage handles backed by a pgx pool.
type Manager struct {
	pool *pgxpool.Pool
}

// NewManager wraps the pool.
func NewManager(pool *pgxpool.Pool) *Manager {
	return &Manager{pool: pool}
}

// FromContext returns the querier for the current scope: the active
// transaction when inside Write, otherwise the pool.
func (m *Manager) FromContext(ctx context.Context) Querier {
	if tx, ok := ctx.Value(ctxKey{}).(pgx.Tx); ok {
		return tx
	}
	return m.pool
}

// Write runs fn inside a transaction. Commit happens only when fn returns
// nil; every other exit path, including panic and context cancellation,
// rolls back so a half-applied rotation or signup never persists. Writes are
// never retried: a retried rotation could double-issue tokens.
func (m *Manager) Write(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(ctx)
	}()

	if err := fn(context.WithValue(ctx, ctxKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Read runs fn against the pool, retrying exactly once on a transient
// connection fault. Only idempotent reads may go through here.
func (m *Manager) Read(ctx context.Context, fn func(ctx context.Context) error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	return backoff.Retry(func() error {
		err := fn(ctx)
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// transient reports whether the error looks like a recoverable connection
// fault rather than a query-level failure.
func transient(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 covers connection exceptions.
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}
	return pgconn.SafeToRetry(err)
}
