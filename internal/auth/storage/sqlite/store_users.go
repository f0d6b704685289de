package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keyfold/keyfold/internal/auth/storage"
	"github.com/keyfold/keyfold/internal/auth/user"
)

// CreateUser inserts a new user record. The username UNIQUE constraint is
// the final defense against registration races; a violation is translated
// to the domain error instead of leaking the raw constraint failure.
func (s *Store) CreateUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("username is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, username, display_name, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.DisplayName, toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "users.username") {
			return storage.ErrUsernameTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser fetches a user record by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, username, display_name, created_at, updated_at
FROM users WHERE id = ?`, userID)
	return scanUser(row, "get user")
}

// GetUserByUsername fetches a user record by its unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(username) == "" {
		return user.User{}, fmt.Errorf("username is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, username, display_name, created_at, updated_at
FROM users WHERE username = ?`, username)
	return scanUser(row, "get user by username")
}

// UpdateUserDisplayName updates profile metadata.
func (s *Store) UpdateUserDisplayName(ctx context.Context, userID, displayName string, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE users SET display_name = ?, updated_at = ? WHERE id = ?`,
		displayName, toMillis(updatedAt), userID,
	)
	if err != nil {
		return fmt.Errorf("update display name: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update display name: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteUser removes a user; the passkeys foreign key cascades.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM users WHERE id = ?", userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row, op string) (user.User, error) {
	var u user.User
	var createdAt, updatedAt int64
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("%s: %w", op, err)
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}
