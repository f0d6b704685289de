package ceremony

import (
	"context"
	"errors"
	"strings"

	"github.com/keyfold/keyfold/internal/auth/session"
	"github.com/keyfold/keyfold/internal/auth/storage"
	"github.com/keyfold/keyfold/internal/auth/user"
	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
)

// ListCredentials returns the signed-in user's passkeys in creation order.
func (s *Service) ListCredentials(ctx context.Context, sess *session.Manager) ([]storage.PasskeyCredential, error) {
	identity, ok := sess.CurrentUser()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	credentials, err := s.passkeys.ListPasskeyCredentials(ctx, identity.UserID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "list credentials", err)
	}
	return credentials, nil
}

// RenameCredential sets a user-chosen label on one of the signed-in
// user's passkeys.
func (s *Service) RenameCredential(ctx context.Context, sess *session.Manager, credentialID, name string) error {
	identity, ok := sess.CurrentUser()
	if !ok {
		return ErrNotAuthenticated
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxCredentialNameLength {
		return ErrInvalidCredentialName
	}
	if err := s.requireOwnedCredential(ctx, credentialID, identity.UserID); err != nil {
		return err
	}
	if err := s.passkeys.RenamePasskeyCredential(ctx, credentialID, identity.UserID, name, s.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrCredentialNotFound
		}
		return apperrors.Wrap(apperrors.CodeUnknown, "rename credential", err)
	}
	return nil
}

// RemoveCredential deletes one of the signed-in user's passkeys. The last
// remaining passkey cannot be removed, since the account would become
// permanently unreachable.
func (s *Service) RemoveCredential(ctx context.Context, sess *session.Manager, credentialID string) error {
	identity, ok := sess.CurrentUser()
	if !ok {
		return ErrNotAuthenticated
	}
	if err := s.requireOwnedCredential(ctx, credentialID, identity.UserID); err != nil {
		return err
	}
	count, err := s.passkeys.CountPasskeyCredentials(ctx, identity.UserID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "count credentials", err)
	}
	if count <= 1 {
		return ErrLastCredential
	}
	if err := s.passkeys.DeletePasskeyCredential(ctx, credentialID, identity.UserID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrCredentialNotFound
		}
		return apperrors.Wrap(apperrors.CodeUnknown, "delete credential", err)
	}
	return nil
}

// requireOwnedCredential distinguishes a missing credential from one
// owned by another user before a mutation is attempted.
func (s *Service) requireOwnedCredential(ctx context.Context, credentialID, userID string) error {
	stored, err := s.passkeys.GetPasskeyCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrCredentialNotFound
		}
		return apperrors.Wrap(apperrors.CodeUnknown, "load credential", err)
	}
	if stored.UserID != userID {
		return ErrCredentialNotOwned
	}
	return nil
}

// Profile returns the signed-in user's account record.
func (s *Service) Profile(ctx context.Context, sess *session.Manager) (user.User, error) {
	identity, ok := sess.CurrentUser()
	if !ok {
		return user.User{}, ErrNotAuthenticated
	}
	account, err := s.users.GetUser(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, ErrUserNotFound
		}
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "load user", err)
	}
	return account, nil
}

// UpdateDisplayName changes the signed-in user's display name and
// returns the updated record.
func (s *Service) UpdateDisplayName(ctx context.Context, sess *session.Manager, displayName string) (user.User, error) {
	identity, ok := sess.CurrentUser()
	if !ok {
		return user.User{}, ErrNotAuthenticated
	}
	displayName = strings.TrimSpace(displayName)
	if err := user.ValidateDisplayName(displayName); err != nil {
		return user.User{}, err
	}
	if err := s.users.UpdateUserDisplayName(ctx, identity.UserID, displayName, s.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, ErrUserNotFound
		}
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "update display name", err)
	}
	account, err := s.users.GetUser(ctx, identity.UserID)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "load user", err)
	}
	return account, nil
}
