package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/smallbiznis/authcore/internal/directory"
	"github.com/smallbiznis/authcore/internal/domain"
	"github.com/smallbiznis/authcore/internal/session"
	"github.com/smallbiznis/authcore/internal/token"
)

// Compile-time interface assertions.
var (
	_ directory.Directory = (*PostgresDirectory)(nil)
	_ token.Store         = (*PostgresRotationStore)(nil)
)

const uniqueViolation = "23505"

// PostgresDirectory implements the identity-store contract over pgx. All
// queries go through the session manager so they join an ambient scope.
type PostgresDirectory struct {
	sessions *session.Manager
	node     *snowflake.Node
}

// NewPostgresDirectory wires the default directory implementation.
func NewPostgresDirectory(sessions *session.Manager, node *snowflake.Node) *PostgresDirectory {
	return &PostgresDirectory{sessions: sessions, node: node}
}

const selectUserSQL = `SELECT id, email, name, profile_pic, password_hash, is_staff, is_active, created_at, updated_at
FROM auth_users`

func (d *PostgresDirectory) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	var user domain.User
	err := d.sessions.Read(ctx, func(ctx context.Context) error {
		row := d.sessions.FromContext(ctx).QueryRow(ctx, selectUserSQL+` WHERE email = $1`, directory.NormalizeEmail(email))
		var err error
		user, err = scanUser(row)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("find user by email: %w", err)
	}
	return user, nil
}

func (d *PostgresDirectory) FindByID(ctx context.Context, id int64) (domain.User, error) {
	var user domain.User
	err := d.sessions.Read(ctx, func(ctx context.Context) error {
		row := d.sessions.FromContext(ctx).QueryRow(ctx, selectUserSQL+` WHERE id = $1`, id)
		var err error
		user, err = scanUser(row)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("find user by id: %w", err)
	}
	return user, nil
}

const insertUserSQL = `INSERT INTO auth_users (id, email, name, profile_pic, password_hash, is_staff, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, email, name, profile_pic, password_hash, is_staff, is_active, created_at, updated_at`

func (d *PostgresDirectory) Create(ctx context.Context, user domain.User) (domain.User, error) {
	if user.ID == 0 {
		user.ID = d.node.Generate().Int64()
	}
	row := d.sessions.FromContext(ctx).QueryRow(ctx, insertUserSQL,
		user.ID,
		directory.NormalizeEmail(user.Email),
		user.Name,
		user.ProfilePic,
		user.PasswordHash,
		user.Staff,
		true,
	)
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.User{}, domain.ErrDuplicateEmail
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

const updateUserSQL = `UPDATE auth_users
SET name = $2, profile_pic = $3, password_hash = $4, is_staff = $5, updated_at = now()
WHERE id = $1
RETURNING id, email, name, profile_pic, password_hash, is_staff, is_active, created_at, updated_at`

func (d *PostgresDirectory) Update(ctx context.Context, user domain.User) (domain.User, error) {
	row := d.sessions.FromContext(ctx).QueryRow(ctx, updateUserSQL,
		user.ID,
		user.Name,
		user.ProfilePic,
		user.PasswordHash,
		user.Staff,
	)
	updated, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return updated, nil
}

const upsertRoleSQL = `INSERT INTO auth_roles (id, name)
VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`

const linkRoleSQL = `INSERT INTO auth_user_roles (user_id, role_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING`

func (d *PostgresDirectory) AssignRole(ctx context.Context, userID int64, role string) error {
	q := d.sessions.FromContext(ctx)

	var roleID int64
	if err := q.QueryRow(ctx, upsertRoleSQL, d.node.Generate().Int64(), role).Scan(&roleID); err != nil {
		return fmt.Errorf("upsert role: %w", err)
	}
	if _, err := q.Exec(ctx, linkRoleSQL, userID, roleID); err != nil {
		return fmt.Errorf("link role: %w", err)
	}
	return nil
}

const selectRolesSQL = `SELECT r.name
FROM auth_roles r
JOIN auth_user_roles ur ON ur.role_id = r.id
WHERE ur.user_id = $1
ORDER BY r.name`

func (d *PostgresDirectory) Roles(ctx context.Context, userID int64) ([]string, error) {
	rows, err := d.sessions.FromContext(ctx).Query(ctx, selectRolesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

func (d *PostgresDirectory) Deactivate(ctx context.Context, userID int64) error {
	tag, err := d.sessions.FromContext(ctx).Exec(ctx,
		`UPDATE auth_users SET is_active = false, updated_at = now() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.ProfilePic,
		&u.PasswordHash,
		&u.Staff,
		&u.Active,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

// PostgresRotationStore persists rotation identifiers so reuse detection and
// revocation survive restarts.
type PostgresRotationStore struct {
	sessions *session.Manager
}

// NewPostgresRotationStore wires the persisted rotation tracker.
func NewPostgresRotationStore(sessions *session.Manager) *PostgresRotationStore {
	return &PostgresRotationStore{sessions: sessions}
}

func (s *PostgresRotationStore) Register(ctx context.Context, rec token.Record) error {
	_, err := s.sessions.FromContext(ctx).Exec(ctx,
		`INSERT INTO token_rotations (rotation_id, user_id, status, expires_at) VALUES ($1, $2, 'active', $3)`,
		rec.ID, rec.UserID, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("register rotation: %w", err)
	}
	return nil
}

const retireRotationSQL = `UPDATE token_rotations
SET status = 'rotated'
WHERE rotation_id = $1 AND status = 'active' AND expires_at > now()`

// Rotate retires the old identifier and registers its successor in one
// transaction. The conditional UPDATE serializes concurrent exchanges of the
// same refresh token at the database: only one caller sees a row transition.
func (s *PostgresRotationStore) Rotate(ctx context.Context, oldID string, next token.Record) (token.Status, error) {
	var prev token.Status
	err := s.sessions.Write(ctx, func(ctx context.Context) error {
		q := s.sessions.FromContext(ctx)

		tag, err := q.Exec(ctx, retireRotationSQL, oldID)
		if err != nil {
			return fmt.Errorf("retire rotation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			prev = s.statusIn(ctx, q, oldID)
			return nil
		}

		prev = token.StatusActive
		_, err = q.Exec(ctx,
			`INSERT INTO token_rotations (rotation_id, user_id, status, expires_at) VALUES ($1, $2, 'active', $3)`,
			next.ID, next.UserID, next.ExpiresAt)
		if err != nil {
			return fmt.Errorf("register successor: %w", err)
		}
		return nil
	})
	if err != nil {
		return token.StatusMissing, err
	}
	return prev, nil
}

func (s *PostgresRotationStore) statusIn(ctx context.Context, q session.Querier, rotationID string) token.Status {
	var status string
	var expiresAt time.Time
	err := q.QueryRow(ctx,
		`SELECT status, expires_at FROM token_rotations WHERE rotation_id = $1`, rotationID).
		Scan(&status, &expiresAt)
	if err != nil || time.Now().After(expiresAt) {
		return token.StatusMissing
	}
	return token.Status(status)
}

func (s *PostgresRotationStore) Status(ctx context.Context, rotationID string) (token.Status, error) {
	var status token.Status
	err := s.sessions.Read(ctx, func(ctx context.Context) error {
		status = s.statusIn(ctx, s.sessions.FromContext(ctx), rotationID)
		return nil
	})
	if err != nil {
		return token.StatusMissing, fmt.Errorf("rotation status: %w", err)
	}
	return status, nil
}

func (s *PostgresRotationStore) Revoke(ctx context.Context, rotationID string) error {
	_, err := s.sessions.FromContext(ctx).Exec(ctx,
		`UPDATE token_rotations SET status = 'revoked' WHERE rotation_id = $1`, rotationID)
	if err != nil {
		return fmt.Errorf("revoke rotation: %w", err)
	}
	return nil
}

func (s *PostgresRotationStore) RevokeUser(ctx context.Context, userID int64) error {
	_, err := s.sessions.FromContext(ctx).Exec(ctx,
		`UPDATE token_rotations SET status = 'revoked' WHERE user_id = $1 AND status <> 'revoked'`, userID)
	if err != nil {
		return fmt.Errorf("revoke user rotations: %w", err)
	}
	return nil
}
