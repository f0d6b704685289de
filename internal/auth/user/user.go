// Package user provides auth user identity records.
package user

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
	"github.com/keyfold/keyfold/internal/platform/id"
)

var (
	// ErrEmptyUsername indicates a missing username.
	ErrEmptyUsername = apperrors.New(apperrors.CodeUserEmptyUsername, "username is required")
	// ErrInvalidUsername indicates a username that does not match the required format.
	ErrInvalidUsername = apperrors.New(apperrors.CodeUserInvalidUsername, "username must be 3-32 lowercase alphanumeric, dot, dash, or underscore characters")
	// ErrInvalidDisplayName indicates a display name outside the allowed bounds.
	ErrInvalidDisplayName = apperrors.New(apperrors.CodeUserInvalidDisplayName, "display name must be 1-64 characters")

	usernamePattern = regexp.MustCompile(`^[a-z0-9_.\-]{3,32}$`)
)

const maxDisplayNameLength = 64

// User represents an authenticated identity record.
type User struct {
	ID          string
	Username    string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateUserInput describes the metadata needed to create a user.
type CreateUserInput struct {
	Username    string
	DisplayName string
}

// ValidateUsername enforces the canonical username constraints.
func ValidateUsername(s string) error {
	if !usernamePattern.MatchString(s) {
		return ErrInvalidUsername
	}
	return nil
}

// ValidateDisplayName enforces display name bounds for profile updates.
func ValidateDisplayName(s string) error {
	if s == "" || len(s) > maxDisplayNameLength {
		return ErrInvalidDisplayName
	}
	return nil
}

// CreateUser creates a durable user identity from validated input.
//
// This is the canonical point where an untrusted username becomes a stable
// identity the ceremony and storage layers can bind credentials to.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateUserInput(input)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	createdAt := now().UTC()
	return User{
		ID:          userID,
		Username:    normalized.Username,
		DisplayName: normalized.DisplayName,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}, nil
}

// NormalizeCreateUserInput trims and normalizes input before validation.
// An empty display name falls back to the username.
func NormalizeCreateUserInput(input CreateUserInput) (CreateUserInput, error) {
	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	if input.Username == "" {
		return CreateUserInput{}, ErrEmptyUsername
	}
	if err := ValidateUsername(input.Username); err != nil {
		return CreateUserInput{}, err
	}
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if input.DisplayName == "" {
		input.DisplayName = input.Username
	}
	if err := ValidateDisplayName(input.DisplayName); err != nil {
		return CreateUserInput{}, err
	}
	return input, nil
}
