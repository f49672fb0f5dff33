package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store is the SQL-backed persistence layer for users and sessions
type Store struct {
	db *sql.DB
}

// NewStore creates a new auth store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateUser inserts a new user
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (email, full_name, is_active, is_platform_operator, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	err := s.db.QueryRowContext(ctx, query,
		user.Email, user.FullName, user.IsActive, user.IsPlatformOperator, now, now,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByID returns a user by ID, or nil when absent
func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

// GetUserByEmail returns a user by email, or nil when absent
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, `WHERE email = $1`, email)
}

func (s *Store) getUser(ctx context.Context, where string, arg interface{}) (*User, error) {
	query := `
		SELECT id, email, full_name, is_active, is_platform_operator, created_at, updated_at, last_login_at
		FROM users
	` + where

	var u User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.FullName, &u.IsActive, &u.IsPlatformOperator,
		&u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// SetUserActive activates or deactivates a user
func (s *Store) SetUserActive(ctx context.Context, userID int64, active bool) error {
	query := `UPDATE users SET is_active = $1, updated_at = $2 WHERE id = $3`
	if _, err := s.db.ExecContext(ctx, query, active, time.Now(), userID); err != nil {
		return fmt.Errorf("failed to update user active flag: %w", err)
	}
	return nil
}

// SetPlatformOperator grants or revokes the platform operator flag
func (s *Store) SetPlatformOperator(ctx context.Context, userID int64, operator bool) error {
	query := `UPDATE users SET is_platform_operator = $1, updated_at = $2 WHERE id = $3`
	result, err := s.db.ExecContext(ctx, query, operator, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update operator flag: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %d not found", userID)
	}
	return nil
}

// RecordLogin stamps the user's last login time
func (s *Store) RecordLogin(ctx context.Context, userID int64, at time.Time) error {
	query := `UPDATE users SET last_login_at = $1, updated_at = $1 WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, at, userID); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// CreateSession inserts a session row
func (s *Store) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (token_hash, token_prefix, user_id, expires_at, created_at, last_seen_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.TokenHash, session.TokenPrefix, session.UserID,
		session.ExpiresAt, session.CreatedAt, session.LastSeenAt,
		session.IPAddress, session.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSessionByTokenHash returns a session by token hash, or nil when absent
func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	query := `
		SELECT token_hash, token_prefix, user_id, expires_at, created_at, last_seen_at, ip_address, user_agent
		FROM sessions
		WHERE token_hash = $1
	`

	var sess Session
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&sess.TokenHash, &sess.TokenPrefix, &sess.UserID,
		&sess.ExpiresAt, &sess.CreatedAt, &sess.LastSeenAt,
		&sess.IPAddress, &sess.UserAgent,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &sess, nil
}

// TouchSession updates the session's last seen time
func (s *Store) TouchSession(ctx context.Context, tokenHash string, at time.Time) error {
	query := `UPDATE sessions SET last_seen_at = $1 WHERE token_hash = $2`
	if _, err := s.db.ExecContext(ctx, query, at, tokenHash); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// DeleteSession removes one session
func (s *Store) DeleteSession(ctx context.Context, tokenHash string) error {
	query := `DELETE FROM sessions WHERE token_hash = $1`
	if _, err := s.db.ExecContext(ctx, query, tokenHash); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteSessionsForUser removes every session belonging to a user,
// used when an account is deactivated.
func (s *Store) DeleteSessionsForUser(ctx context.Context, userID int64) error {
	query := `DELETE FROM sessions WHERE user_id = $1`
	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions past their expiry and reports
// how many were deleted.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at < $1`
	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
