package ceremony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/keyfold/keyfold/internal/auth/passkey"
	"github.com/keyfold/keyfold/internal/auth/session"
	"github.com/keyfold/keyfold/internal/auth/storage"
	"github.com/keyfold/keyfold/internal/auth/user"
	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
)

// LoginStart begins a usernameless (discoverable credential) login
// ceremony. The returned JSON is the credential request options for the
// browser's navigator.credentials.get.
func (s *Service) LoginStart(ctx context.Context, sess *session.Manager) (json.RawMessage, error) {
	assertion, ceremonyData, err := s.web.BeginDiscoverableLogin()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "begin login", err)
	}

	if err := s.bindChallenge(sess, session.Challenge{
		Kind: passkey.CeremonyKindLogin,
	}, ceremonyData); err != nil {
		return nil, err
	}

	optionsJSON, err := json.Marshal(assertion)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "encode login options", err)
	}
	return optionsJSON, nil
}

// LoginFinish verifies the authenticator's assertion response and signs
// the session in as the credential's owner.
//
// The credential and its owner are resolved from storage before the
// cryptographic check so that a missing credential or deleted user
// surfaces as its own error rather than a generic validation failure.
func (s *Service) LoginFinish(ctx context.Context, sess *session.Manager, response []byte) (user.User, error) {
	_, ceremonyData, err := s.takeChallenge(sess, passkey.CeremonyKindLogin)
	if err != nil {
		return user.User{}, err
	}

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeAuthenticationFailed, "parse credential response", err)
	}

	credentialID := encodeCredentialID(parsed.RawID)
	stored, err := s.passkeys.GetPasskeyCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, ErrCredentialNotFound
		}
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "load credential", err)
	}
	account, err := s.users.GetUser(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, ErrUserNotFound
		}
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "load user", err)
	}
	holder, err := s.loadPasskeyUser(ctx, account)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "load credentials", err)
	}

	handler := func(_, userHandle []byte) (webauthn.User, error) {
		if !bytes.Equal(userHandle, []byte(account.ID)) {
			return nil, fmt.Errorf("user handle does not match credential owner")
		}
		return holder, nil
	}
	_, validated, err := s.web.ValidatePasskeyLogin(handler, *ceremonyData, parsed)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeAuthenticationFailed, "validate assertion", err)
	}
	if validated.Authenticator.CloneWarning {
		// A regressed signature counter suggests a cloned authenticator.
		// Reject without persisting the regressed counter.
		return user.User{}, apperrors.New(apperrors.CodeAuthenticationFailed, "credential signature counter regressed")
	}

	credentialJSON, err := json.Marshal(validated)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "encode credential", err)
	}
	if err := s.passkeys.UpdatePasskeyCredentialUsage(ctx, credentialID, string(credentialJSON), validated.Authenticator.SignCount, s.now()); err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "record credential usage", err)
	}

	if err := sess.Create(account.ID, account.Username); err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "create session", err)
	}
	return account, nil
}

// Logout destroys the session. Logging out an anonymous session is a no-op.
func (s *Service) Logout(sess *session.Manager) error {
	if err := sess.Destroy(); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "destroy session", err)
	}
	return nil
}
