// Package storage defines the persistence interfaces for users and
// passkey credentials.
package storage

import (
	"context"
	"time"

	"github.com/keyfold/keyfold/internal/auth/user"
	"github.com/keyfold/keyfold/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing. Ownership-scoped
// operations also return it when the record belongs to someone else, so
// callers cannot probe for other users' credential IDs.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrUsernameTaken indicates a username uniqueness violation. Stores must
// translate the underlying constraint error instead of leaking it.
var ErrUsernameTaken = errors.New(errors.CodeUsernameTaken, "username is already taken")

// ErrCredentialExists indicates a credential ID collision on insert.
// Credential IDs are globally unique and owned by exactly one user, so a
// colliding registration must fail rather than reassign the existing row.
var ErrCredentialExists = errors.New(errors.CodeRegistrationFailed, "credential is already registered")

// UserStore persists auth user records.
type UserStore interface {
	// CreateUser inserts a new user. A racing insert that loses the
	// username uniqueness constraint fails with ErrUsernameTaken.
	CreateUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	UpdateUserDisplayName(ctx context.Context, userID, displayName string, updatedAt time.Time) error
	// DeleteUser removes the user and, via cascade, their credentials.
	DeleteUser(ctx context.Context, userID string) error
}

// PasskeyCredential stores a WebAuthn credential for a user.
//
// CredentialJSON round-trips the verifier's complete credential record
// (public key, attestation metadata, flags); the typed columns exist for
// queries and listings.
type PasskeyCredential struct {
	CredentialID   string
	UserID         string
	Name           string
	CredentialJSON string
	SignCount      uint32
	BackupEligible bool
	BackedUp       bool
	Transports     []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// PasskeyStore persists WebAuthn credentials.
type PasskeyStore interface {
	// InsertPasskeyCredential stores a newly registered credential. A
	// colliding credential ID fails with ErrCredentialExists; existing
	// rows are never overwritten.
	InsertPasskeyCredential(ctx context.Context, credential PasskeyCredential) error
	GetPasskeyCredential(ctx context.Context, credentialID string) (PasskeyCredential, error)
	// ListPasskeyCredentials returns a user's credentials in creation order.
	ListPasskeyCredentials(ctx context.Context, userID string) ([]PasskeyCredential, error)
	CountPasskeyCredentials(ctx context.Context, userID string) (int, error)
	// UpdatePasskeyCredentialUsage persists the post-authentication counter,
	// refreshed credential record, and last-used instant in one write.
	UpdatePasskeyCredentialUsage(ctx context.Context, credentialID string, credentialJSON string, signCount uint32, usedAt time.Time) error
	// RenamePasskeyCredential updates the display label. ErrNotFound when
	// the credential is absent or not owned by userID.
	RenamePasskeyCredential(ctx context.Context, credentialID, userID, name string, updatedAt time.Time) error
	// DeletePasskeyCredential removes the credential. ErrNotFound when
	// absent or not owned by userID.
	DeletePasskeyCredential(ctx context.Context, credentialID, userID string) error
}
