package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keyfold/keyfold/internal/auth/storage"
)

// InsertPasskeyCredential stores a newly registered WebAuthn credential.
// Credential IDs are globally unique across all users; an ID collision
// fails with storage.ErrCredentialExists instead of replacing the row,
// since a replace would reassign another user's credential.
func (s *Store) InsertPasskeyCredential(ctx context.Context, credential storage.PasskeyCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(credential.CredentialJSON) == "" {
		return fmt.Errorf("credential json is required")
	}

	lastUsed := sql.NullInt64{}
	if credential.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: toMillis(*credential.LastUsedAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO passkeys
    (credential_id, user_id, name, credential_json, sign_count, backup_eligible, backed_up, transports, created_at, updated_at, last_used_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		credential.CredentialID,
		credential.UserID,
		credential.Name,
		credential.CredentialJSON,
		int64(credential.SignCount),
		boolToInt(credential.BackupEligible),
		boolToInt(credential.BackedUp),
		strings.Join(credential.Transports, ","),
		toMillis(credential.CreatedAt),
		toMillis(credential.UpdatedAt),
		lastUsed,
	)
	if err != nil {
		if isUniqueViolation(err, "passkeys.credential_id") {
			return storage.ErrCredentialExists
		}
		return fmt.Errorf("insert passkey: %w", err)
	}
	return nil
}

// GetPasskeyCredential fetches a stored WebAuthn credential.
func (s *Store) GetPasskeyCredential(ctx context.Context, credentialID string) (storage.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return storage.PasskeyCredential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PasskeyCredential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.PasskeyCredential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, passkeySelect+" WHERE credential_id = ?", credentialID)
	credential, err := scanPasskey(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PasskeyCredential{}, storage.ErrNotFound
		}
		return storage.PasskeyCredential{}, fmt.Errorf("get passkey: %w", err)
	}
	return credential, nil
}

// ListPasskeyCredentials returns a user's passkeys in creation order.
func (s *Store) ListPasskeyCredentials(ctx context.Context, userID string) ([]storage.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, passkeySelect+" WHERE user_id = ? ORDER BY created_at, credential_id", userID)
	if err != nil {
		return nil, fmt.Errorf("list passkeys: %w", err)
	}
	defer rows.Close()

	var credentials []storage.PasskeyCredential
	for rows.Next() {
		credential, err := scanPasskey(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list passkeys: %w", err)
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list passkeys: %w", err)
	}
	return credentials, nil
}

// CountPasskeyCredentials returns the number of passkeys a user holds.
func (s *Store) CountPasskeyCredentials(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("user id is required")
	}

	var count int
	row := s.sqlDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM passkeys WHERE user_id = ?", userID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count passkeys: %w", err)
	}
	return count, nil
}

// UpdatePasskeyCredentialUsage persists the post-authentication state of a
// credential: new counter, refreshed verifier record, and last-used instant.
func (s *Store) UpdatePasskeyCredentialUsage(ctx context.Context, credentialID string, credentialJSON string, signCount uint32, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credentialJSON) == "" {
		return fmt.Errorf("credential json is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE passkeys
SET credential_json = ?, sign_count = ?, updated_at = ?, last_used_at = ?
WHERE credential_id = ?`,
		credentialJSON, int64(signCount), toMillis(usedAt), toMillis(usedAt), credentialID,
	)
	if err != nil {
		return fmt.Errorf("update passkey usage: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update passkey usage: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RenamePasskeyCredential updates a credential's display label. Ownership
// is part of the WHERE clause, so a rename against someone else's
// credential reports ErrNotFound rather than revealing its existence.
func (s *Store) RenamePasskeyCredential(ctx context.Context, credentialID, userID, name string, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE passkeys SET name = ?, updated_at = ? WHERE credential_id = ? AND user_id = ?`,
		name, toMillis(updatedAt), credentialID, userID,
	)
	if err != nil {
		return fmt.Errorf("rename passkey: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename passkey: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeletePasskeyCredential removes a credential, ownership enforced in the
// WHERE clause like RenamePasskeyCredential.
func (s *Store) DeletePasskeyCredential(ctx context.Context, credentialID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM passkeys WHERE credential_id = ? AND user_id = ?`, credentialID, userID)
	if err != nil {
		return fmt.Errorf("delete passkey: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete passkey: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const passkeySelect = `
SELECT credential_id, user_id, name, credential_json, sign_count, backup_eligible, backed_up, transports, created_at, updated_at, last_used_at
FROM passkeys`

func scanPasskey(scan func(dest ...any) error) (storage.PasskeyCredential, error) {
	var credential storage.PasskeyCredential
	var signCount, createdAt, updatedAt int64
	var backupEligible, backedUp int64
	var transports string
	var lastUsed sql.NullInt64

	err := scan(
		&credential.CredentialID,
		&credential.UserID,
		&credential.Name,
		&credential.CredentialJSON,
		&signCount,
		&backupEligible,
		&backedUp,
		&transports,
		&createdAt,
		&updatedAt,
		&lastUsed,
	)
	if err != nil {
		return storage.PasskeyCredential{}, err
	}

	credential.SignCount = uint32(signCount)
	credential.BackupEligible = backupEligible != 0
	credential.BackedUp = backedUp != 0
	if transports != "" {
		credential.Transports = strings.Split(transports, ",")
	}
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	if lastUsed.Valid {
		value := fromMillis(lastUsed.Int64)
		credential.LastUsedAt = &value
	}
	return credential, nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
