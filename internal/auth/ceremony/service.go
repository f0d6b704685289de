package ceremony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/keyfold/keyfold/internal/auth/passkey"
	"github.com/keyfold/keyfold/internal/auth/storage"
	"github.com/keyfold/keyfold/internal/auth/user"
	apperrors "github.com/keyfold/keyfold/internal/platform/errors"
	"github.com/keyfold/keyfold/internal/platform/id"
)

var (
	// ErrNoChallenge indicates a ceremony finish with no matching pending challenge.
	ErrNoChallenge = apperrors.New(apperrors.CodeNoChallenge, "no pending ceremony challenge")
	// ErrNotAuthenticated indicates an operation that requires a signed-in session.
	ErrNotAuthenticated = apperrors.New(apperrors.CodeNotAuthenticated, "authentication required")
	// ErrCredentialNotFound indicates the referenced passkey does not exist.
	ErrCredentialNotFound = apperrors.New(apperrors.CodeCredentialNotFound, "passkey not found")
	// ErrCredentialNotOwned indicates the referenced passkey belongs to another user.
	ErrCredentialNotOwned = apperrors.New(apperrors.CodeCredentialNotOwned, "passkey belongs to another user")
	// ErrInvalidCredentialName indicates a passkey name outside the allowed bounds.
	ErrInvalidCredentialName = apperrors.New(apperrors.CodeCredentialInvalidName, "passkey name must be 1-50 characters")
	// ErrLastCredential indicates an attempt to remove the only remaining passkey.
	ErrLastCredential = apperrors.New(apperrors.CodeLastCredential, "cannot remove the last passkey")
	// ErrUserNotFound indicates the session references a user that no longer exists.
	ErrUserNotFound = apperrors.New(apperrors.CodeUserNotFound, "user not found")
)

const maxCredentialNameLength = 50

// passkeyProvider is the subset of the WebAuthn relying party used by the
// ceremony service. It exists so tests can substitute a fake verifier.
type passkeyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type passkeyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultPasskeyParser struct{}

func (defaultPasskeyParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultPasskeyParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Service runs registration and authentication ceremonies against the
// configured relying party and binds their outcomes to stored identities.
type Service struct {
	users       storage.UserStore
	passkeys    storage.PasskeyStore
	web         passkeyProvider
	parser      passkeyParser
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewService builds the ceremony service from relying-party configuration.
func NewService(cfg passkey.Config, users storage.UserStore, passkeys storage.PasskeyStore) (*Service, error) {
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if passkeys == nil {
		return nil, fmt.Errorf("passkey store is required")
	}
	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
		// Passkeys only: every registration demands a discoverable
		// credential and user verification, and the finish step checks
		// the UV flag because the session policy is "required".
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			ResidentKey:        protocol.ResidentKeyRequirementRequired,
			RequireResidentKey: protocol.ResidentKeyRequired(),
			UserVerification:   protocol.VerificationRequired,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("configure relying party: %w", err)
	}
	return &Service{
		users:    users,
		passkeys: passkeys,
		web:      web,
		parser:   defaultPasskeyParser{},
	}, nil
}

func (s *Service) now() time.Time {
	if s.clock != nil {
		return s.clock().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() (string, error) {
	if s.idGenerator != nil {
		return s.idGenerator()
	}
	return id.NewID()
}

// passkeyUser adapts a user record and its stored credentials to the
// webauthn.User interface. The user handle is the stable user ID.
type passkeyUser struct {
	user        user.User
	credentials []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *passkeyUser) WebAuthnName() string {
	return u.user.Username
}

func (u *passkeyUser) WebAuthnDisplayName() string {
	return u.user.DisplayName
}

func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (s *Service) loadPasskeyUser(ctx context.Context, base user.User) (*passkeyUser, error) {
	records, err := s.passkeys.ListPasskeyCredentials(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	credentials, err := decodeStoredCredentials(records)
	if err != nil {
		return nil, err
	}
	return &passkeyUser{user: base, credentials: credentials}, nil
}

func decodeStoredCredentials(records []storage.PasskeyCredential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(record.CredentialJSON), &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

// newCredentialRecord converts a verified webauthn credential into its
// stored form.
func newCredentialRecord(userID, name string, credential webauthn.Credential, now time.Time) (storage.PasskeyCredential, error) {
	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return storage.PasskeyCredential{}, fmt.Errorf("encode credential: %w", err)
	}
	transports := make([]string, 0, len(credential.Transport))
	for _, transport := range credential.Transport {
		transports = append(transports, string(transport))
	}
	return storage.PasskeyCredential{
		CredentialID:   encodeCredentialID(credential.ID),
		UserID:         userID,
		Name:           name,
		CredentialJSON: string(credentialJSON),
		SignCount:      credential.Authenticator.SignCount,
		BackupEligible: credential.Flags.BackupEligible,
		BackedUp:       credential.Flags.BackupState,
		Transports:     transports,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
