package ceremony

import (
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

// RegisterStart begins a registration ceremony for a new account.
//
// No user record is created yet: the provisional identity rides in the
// session challenge and only becomes durable when the authenticator
// response verifies in RegisterFinish. The returned JSON is the
// credential creation options for the browser's navigator.credentials.create.
func (s *Service) RegisterStart(ctx context.Context, sess *session.Manager, input user.CreateUserInput) (json.RawMessage, error) {
	normalized, err := user.NormalizeCreateUserInput(input)
	if err != nil {
		return nil, err
	}

	_, err = s.users.GetUserByUsername(ctx, normalized.Username)
	if err == nil {
		return nil, storage.ErrUsernameTaken
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "check username", err)
	}

	userID, err := s.newID()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "generate user id", err)
	}

	provisional := &passkeyUser{user: user.User{
		ID:          userID,
		Username:    normalized.Username,
		DisplayName: normalized.DisplayName,
	}}
	creation, ceremonyData, err := s.web.BeginRegistration(provisional)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "begin registration", err)
	}

	if err := s.bindChallenge(sess, session.Challenge{
		Kind:        passkey.CeremonyKindRegistration,
		UserID:      userID,
		Username:    normalized.Username,
		DisplayName: normalized.DisplayName,
	}, ceremonyData); err != nil {
		return nil, err
	}

	optionsJSON, err := json.Marshal(creation)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "encode registration options", err)
	}
	return optionsJSON, nil
}

// RegisterFinish verifies the authenticator's attestation response,
// creates the account with its first passkey, and signs the session in.
//
// The pending challenge is consumed before anything else so a failed
// finish cannot be replayed against the same challenge.
func (s *Service) RegisterFinish(ctx context.Context, sess *session.Manager, response []byte) (user.User, error) {
	challenge, ceremonyData, err := s.takeChallenge(sess, passkey.CeremonyKindRegistration)
	if err != nil {
		return user.User{}, err
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeRegistrationFailed, "parse credential response", err)
	}

	// The username may have been claimed between start and finish.
	_, err = s.users.GetUserByUsername(ctx, challenge.Username)
	if err == nil {
		return user.User{}, storage.ErrUsernameTaken
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "check username", err)
	}

	now := s.now()
	account := user.User{
		ID:          challenge.UserID,
		Username:    challenge.Username,
		DisplayName: challenge.DisplayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if account.DisplayName == "" {
		account.DisplayName = account.Username
	}

	credential, err := s.web.CreateCredential(&passkeyUser{user: account}, *ceremonyData, parsed)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeRegistrationFailed, "verify attestation", err)
	}

	if err := s.users.CreateUser(ctx, account); err != nil {
		if errors.Is(err, storage.ErrUsernameTaken) {
			return user.User{}, err
		}
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "create user", err)
	}

	record, err := newCredentialRecord(account.ID, "Passkey 1", *credential, now)
	if err != nil {
		_ = s.users.DeleteUser(ctx, account.ID)
		return user.User{}, apperrors.Wrap(apperrors.CodeRegistrationFailed, "store credential", err)
	}
	if err := s.passkeys.InsertPasskeyCredential(ctx, record); err != nil {
		// Without the credential the account can never sign in; roll it back.
		_ = s.users.DeleteUser(ctx, account.ID)
		if errors.Is(err, storage.ErrCredentialExists) {
			return user.User{}, err
		}
		return user.User{}, apperrors.Wrap(apperrors.CodeRegistrationFailed, "store credential", err)
	}

	if err := sess.Create(account.ID, account.Username); err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "create session", err)
	}
	return account, nil
}

// AddPasskeyStart begins a registration ceremony that adds a passkey to
// the signed-in account. Existing credentials are excluded so the
// authenticator refuses to re-register one it already holds.
func (s *Service) AddPasskeyStart(ctx context.Context, sess *session.Manager) (json.RawMessage, error) {
	identity, ok := sess.CurrentUser()
	if !ok {
		return nil, ErrNotAuthenticated
	}

	account, err := s.users.GetUser(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "load user", err)
	}
	holder, err := s.loadPasskeyUser(ctx, account)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "load credentials", err)
	}

	var options []webauthn.RegistrationOption
	if len(holder.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(holder.credentials).CredentialDescriptors()))
	}
	creation, ceremonyData, err := s.web.BeginRegistration(holder, options...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "begin registration", err)
	}

	if err := s.bindChallenge(sess, session.Challenge{
		Kind:        passkey.CeremonyKindRegistration,
		UserID:      account.ID,
		Username:    account.Username,
		DisplayName: account.DisplayName,
	}, ceremonyData); err != nil {
		return nil, err
	}

	optionsJSON, err := json.Marshal(creation)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "encode registration options", err)
	}
	return optionsJSON, nil
}

// AddPasskeyFinish verifies the attestation response and stores the new
// credential on the signed-in account. A challenge bound to a different
// identity than the session's is rejected as if no challenge existed.
func (s *Service) AddPasskeyFinish(ctx context.Context, sess *session.Manager, response []byte) (storage.PasskeyCredential, error) {
	identity, ok := sess.CurrentUser()
	if !ok {
		return storage.PasskeyCredential{}, ErrNotAuthenticated
	}

	challenge, ceremonyData, err := s.takeChallenge(sess, passkey.CeremonyKindRegistration)
	if err != nil {
		return storage.PasskeyCredential{}, err
	}
	if challenge.UserID != identity.UserID {
		return storage.PasskeyCredential{}, ErrNoChallenge
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return storage.PasskeyCredential{}, apperrors.Wrap(apperrors.CodeRegistrationFailed, "parse credential response", err)
	}

	account, err := s.users.GetUser(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.PasskeyCredential{}, ErrUserNotFound
		}
		return storage.PasskeyCredential{}, apperrors.Wrap(apperrors.CodeUnknown, "load user", err)
	}

	credential, err := s.web.CreateCredential(&passkeyUser{user: account}, *ceremonyData, parsed)
	if err != nil {
		return storage.PasskeyCredential{}, apperrors.Wrap(apperrors.CodeRegistrationFailed, "verify attestation", err)
	}

	count, err := s.passkeys.CountPasskeyCredentials(ctx, account.ID)
	if err != nil {
		return storage.PasskeyCredential{}, apperrors.Wrap(apperrors.CodeUnknown, "count credentials", err)
	}
	record, err := newCredentialRecord(account.ID, fmt.Sprintf("Passkey %d", count+1), *credential, s.now())
	if err != nil {
		return storage.PasskeyCredential{}, apperrors.Wrap(apperrors.CodeRegistrationFailed, "store credential", err)
	}
	if err := s.passkeys.InsertPasskeyCredential(ctx, record); err != nil {
		if errors.Is(err, storage.ErrCredentialExists) {
			return storage.PasskeyCredential{}, err
		}
		return storage.PasskeyCredential{}, apperrors.Wrap(apperrors.CodeUnknown, "store credential", err)
	}
	return record, nil
}

// bindChallenge serializes the verifier session and writes the challenge
// into the session blob in one save.
func (s *Service) bindChallenge(sess *session.Manager, challenge session.Challenge, ceremonyData *webauthn.SessionData) error {
	if ceremonyData == nil {
		return apperrors.New(apperrors.CodeUnknown, "missing ceremony data")
	}
	payload, err := json.Marshal(ceremonyData)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "encode ceremony data", err)
	}
	challenge.CeremonyJSON = payload
	if err := sess.StoreChallenge(challenge); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "bind challenge", err)
	}
	return nil
}

// takeChallenge consumes the pending challenge and decodes its verifier
// session. A missing or mismatched challenge yields ErrNoChallenge.
func (s *Service) takeChallenge(sess *session.Manager, kind passkey.CeremonyKind) (*session.Challenge, *webauthn.SessionData, error) {
	challenge, err := sess.TakeChallenge(kind)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeUnknown, "consume challenge", err)
	}
	if challenge == nil {
		return nil, nil, ErrNoChallenge
	}
	var ceremonyData webauthn.SessionData
	if err := json.Unmarshal(challenge.CeremonyJSON, &ceremonyData); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeUnknown, "decode ceremony data", err)
	}
	return challenge, &ceremonyData, nil
}
