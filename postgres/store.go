// Package postgres provides durable-store implementations backed by a
// database/sql connection. It is driver-agnostic; production deployments
// typically register pgx via its stdlib adapter.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mlenahan/authcore"
)

// Store implements the engine's UserStore, APIKeyStore, and BlacklistStore
// collaborators over one SQL database.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle. The caller owns the handle's
// lifecycle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = `id, email, username, role, password_digest, is_active, is_deleted,
	email_verified_at, last_login_at, last_ip, deleted_at, created_at`

func scanUser(row interface{ Scan(...any) error }) (authcore.UserRecord, error) {
	var (
		u      authcore.UserRecord
		lastIP sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Role, &u.PasswordDigest,
		&u.IsActive, &u.IsDeleted, &u.EmailVerifiedAt, &u.LastLoginAt,
		&lastIP, &u.DeletedAt, &u.CreatedAt)
	if err != nil {
		return authcore.UserRecord{}, err
	}
	u.LastIP = lastIP.String
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (authcore.UserRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	if err != nil {
		return authcore.UserRecord{}, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	if err != nil {
		return authcore.UserRecord{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]authcore.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE is_deleted = false ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []authcore.UserRecord
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *Store) MarkEmailVerified(ctx context.Context, id int64, at time.Time) error {
	return s.execOne(ctx, "mark email verified",
		`UPDATE users SET email_verified_at = $2 WHERE id = $1 AND is_deleted = false`, id, at)
}

func (s *Store) UpdatePasswordDigest(ctx context.Context, id int64, digest string) error {
	return s.execOne(ctx, "update password digest",
		`UPDATE users SET password_digest = $2 WHERE id = $1 AND is_deleted = false`, id, digest)
}

func (s *Store) SoftDeleteUser(ctx context.Context, id int64, at time.Time) error {
	return s.execOne(ctx, "soft delete user",
		`UPDATE users SET is_deleted = true, is_active = false, deleted_at = $2
		 WHERE id = $1 AND is_deleted = false`, id, at)
}

func (s *Store) AnonymizeUser(ctx context.Context, id int64, at time.Time) error {
	return s.execOne(ctx, "anonymize user",
		`UPDATE users SET email = '', username = '', password_digest = '', last_ip = '',
		 is_active = false, is_deleted = true, deleted_at = $2
		 WHERE id = $1`, id, at)
}

func (s *Store) ListKeys(ctx context.Context) ([]authcore.APIKeyRecord, error) {
	return s.queryKeys(ctx,
		`SELECT id, value, is_active, expires_at, permissions FROM api_keys ORDER BY id`)
}

func (s *Store) ListActiveKeys(ctx context.Context) ([]authcore.APIKeyRecord, error) {
	return s.queryKeys(ctx,
		`SELECT id, value, is_active, expires_at, permissions FROM api_keys
		 WHERE is_active = true ORDER BY id`)
}

func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = false
		 WHERE is_active = true AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired keys: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate expired keys: %w", err)
	}
	return n, nil
}

func (s *Store) AddIdentityDigests(ctx context.Context, emailDigest, usernameDigest string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identity_blacklist (digest) VALUES ($1), ($2) ON CONFLICT (digest) DO NOTHING`,
		emailDigest, usernameDigest)
	if err != nil {
		return fmt.Errorf("add identity digests: %w", err)
	}
	return nil
}

func (s *Store) IsDigestBlacklisted(ctx context.Context, digest string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM identity_blacklist WHERE digest = $1)`, digest).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check identity digest: %w", err)
	}
	return exists, nil
}

func (s *Store) queryKeys(ctx context.Context, query string) ([]authcore.APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []authcore.APIKeyRecord
	for rows.Next() {
		var (
			k     authcore.APIKeyRecord
			perms sql.NullString
		)
		if err := rows.Scan(&k.ID, &k.Value, &k.IsActive, &k.ExpiresAt, &perms); err != nil {
			return nil, fmt.Errorf("list api keys: %w", err)
		}
		k.Permissions = splitPermissions(perms.String)
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// splitPermissions decodes the comma-separated permissions column.
func splitPermissions(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	perms := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}
	return perms
}

func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}
