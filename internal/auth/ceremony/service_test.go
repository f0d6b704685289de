package ceremony

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/gorilla/securecookie"

	"github.com/keyfold/keyfold/internal/auth/session"
	"github.com/keyfold/keyfold/internal/auth/storage"
	"github.com/keyfold/keyfold/internal/auth/user"
)

type fakeUserStore struct {
	users     map[string]user.User
	createErr error
	deleted   []string
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]user.User)}
}

func (s *fakeUserStore) CreateUser(_ context.Context, u user.User) error {
	if s.createErr != nil {
		return s.createErr
	}
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return storage.ErrUsernameTaken
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *fakeUserStore) GetUser(_ context.Context, userID string) (user.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *fakeUserStore) GetUserByUsername(_ context.Context, username string) (user.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return user.User{}, storage.ErrNotFound
}

func (s *fakeUserStore) UpdateUserDisplayName(_ context.Context, userID, displayName string, updatedAt time.Time) error {
	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.DisplayName = displayName
	u.UpdatedAt = updatedAt
	s.users[userID] = u
	return nil
}

func (s *fakeUserStore) DeleteUser(_ context.Context, userID string) error {
	delete(s.users, userID)
	s.deleted = append(s.deleted, userID)
	return nil
}

type fakePasskeyStore struct {
	credentials map[string]storage.PasskeyCredential
	insertErr   error
	usageCalls  int
}

func newFakePasskeyStore() *fakePasskeyStore {
	return &fakePasskeyStore{credentials: make(map[string]storage.PasskeyCredential)}
}

func (s *fakePasskeyStore) InsertPasskeyCredential(_ context.Context, credential storage.PasskeyCredential) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	if _, ok := s.credentials[credential.CredentialID]; ok {
		return storage.ErrCredentialExists
	}
	s.credentials[credential.CredentialID] = credential
	return nil
}

func (s *fakePasskeyStore) GetPasskeyCredential(_ context.Context, credentialID string) (storage.PasskeyCredential, error) {
	credential, ok := s.credentials[credentialID]
	if !ok {
		return storage.PasskeyCredential{}, storage.ErrNotFound
	}
	return credential, nil
}

func (s *fakePasskeyStore) ListPasskeyCredentials(_ context.Context, userID string) ([]storage.PasskeyCredential, error) {
	credentials := make([]storage.PasskeyCredential, 0)
	for _, credential := range s.credentials {
		if credential.UserID == userID {
			credentials = append(credentials, credential)
		}
	}
	sort.Slice(credentials, func(i, j int) bool {
		return credentials[i].CreatedAt.Before(credentials[j].CreatedAt)
	})
	return credentials, nil
}

func (s *fakePasskeyStore) CountPasskeyCredentials(_ context.Context, userID string) (int, error) {
	count := 0
	for _, credential := range s.credentials {
		if credential.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *fakePasskeyStore) UpdatePasskeyCredentialUsage(_ context.Context, credentialID, credentialJSON string, signCount uint32, usedAt time.Time) error {
	credential, ok := s.credentials[credentialID]
	if !ok {
		return storage.ErrNotFound
	}
	credential.CredentialJSON = credentialJSON
	credential.SignCount = signCount
	credential.LastUsedAt = &usedAt
	s.credentials[credentialID] = credential
	s.usageCalls++
	return nil
}

func (s *fakePasskeyStore) RenamePasskeyCredential(_ context.Context, credentialID, userID, name string, updatedAt time.Time) error {
	credential, ok := s.credentials[credentialID]
	if !ok || credential.UserID != userID {
		return storage.ErrNotFound
	}
	credential.Name = name
	credential.UpdatedAt = updatedAt
	s.credentials[credentialID] = credential
	return nil
}

func (s *fakePasskeyStore) DeletePasskeyCredential(_ context.Context, credentialID, userID string) error {
	credential, ok := s.credentials[credentialID]
	if !ok || credential.UserID != userID {
		return storage.ErrNotFound
	}
	delete(s.credentials, credentialID)
	return nil
}

type fakePasskeyProvider struct {
	credential           *webauthn.Credential
	userHandle           []byte
	beginRegistrationErr error
	beginLoginErr        error
	createErr            error
	validateErr          error
}

func (f *fakePasskeyProvider) BeginRegistration(_ webauthn.User, _ ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	if f.beginRegistrationErr != nil {
		return nil, nil, f.beginRegistrationErr
	}
	return &protocol.CredentialCreation{}, &webauthn.SessionData{Challenge: "challenge"}, nil
}

func (f *fakePasskeyProvider) CreateCredential(_ webauthn.User, _ webauthn.SessionData, _ *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.credential != nil {
		return f.credential, nil
	}
	return &webauthn.Credential{ID: []byte("cred")}, nil
}

func (f *fakePasskeyProvider) BeginDiscoverableLogin(_ ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	if f.beginLoginErr != nil {
		return nil, nil, f.beginLoginErr
	}
	return &protocol.CredentialAssertion{}, &webauthn.SessionData{Challenge: "challenge"}, nil
}

func (f *fakePasskeyProvider) ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, _ webauthn.SessionData, _ *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error) {
	if f.validateErr != nil {
		return nil, nil, f.validateErr
	}
	var validated webauthn.User
	if f.userHandle != nil {
		u, err := handler(nil, f.userHandle)
		if err != nil {
			return nil, nil, err
		}
		validated = u
	}
	credential := f.credential
	if credential == nil {
		credential = &webauthn.Credential{ID: []byte("cred")}
	}
	return validated, credential, nil
}

type fakePasskeyParser struct {
	creation     *protocol.ParsedCredentialCreationData
	assertion    *protocol.ParsedCredentialAssertionData
	creationErr  error
	assertionErr error
}

func (f *fakePasskeyParser) ParseCredentialCreationResponseBytes(_ []byte) (*protocol.ParsedCredentialCreationData, error) {
	if f.creationErr != nil {
		return nil, f.creationErr
	}
	if f.creation != nil {
		return f.creation, nil
	}
	return &protocol.ParsedCredentialCreationData{}, nil
}

func (f *fakePasskeyParser) ParseCredentialRequestResponseBytes(_ []byte) (*protocol.ParsedCredentialAssertionData, error) {
	if f.assertionErr != nil {
		return nil, f.assertionErr
	}
	if f.assertion != nil {
		return f.assertion, nil
	}
	return &protocol.ParsedCredentialAssertionData{}, nil
}

type memTransport struct {
	blob    string
	present bool
}

func (t *memTransport) Load() (string, bool) {
	return t.blob, t.present
}

func (t *memTransport) Save(blob string) error {
	t.blob = blob
	t.present = true
	return nil
}

func (t *memTransport) Destroy() error {
	t.blob = ""
	t.present = false
	return nil
}

func newTestSession(t *testing.T) *session.Manager {
	t.Helper()
	codec := session.NewCodec(securecookie.GenerateRandomKey(32), securecookie.GenerateRandomKey(32))
	return session.NewManager(codec, &memTransport{}, 8*time.Hour, nil)
}

func newTestService(users *fakeUserStore, passkeys *fakePasskeyStore) *Service {
	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	counter := 0
	return &Service{
		users:    users,
		passkeys: passkeys,
		web:      &fakePasskeyProvider{},
		parser:   &fakePasskeyParser{},
		clock:    func() time.Time { return fixed },
		idGenerator: func() (string, error) {
			counter++
			return fmt.Sprintf("id-%d", counter), nil
		},
	}
}

func seedCredential(t *testing.T, store *fakePasskeyStore, userID string, rawID []byte, name string, createdAt time.Time) storage.PasskeyCredential {
	t.Helper()
	credential := webauthn.Credential{ID: rawID}
	payload, err := json.Marshal(credential)
	if err != nil {
		t.Fatalf("marshal credential: %v", err)
	}
	record := storage.PasskeyCredential{
		CredentialID:   encodeCredentialID(rawID),
		UserID:         userID,
		Name:           name,
		CredentialJSON: string(payload),
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	store.credentials[record.CredentialID] = record
	return record
}
