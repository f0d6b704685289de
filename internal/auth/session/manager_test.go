package session

import (
	"errors"
	"testing"
	"time"

	"github.com/keyfold/keyfold/internal/auth/passkey"
)

type fakeTransport struct {
	blob      string
	has       bool
	saveErr   error
	saves     int
	destroyed int
}

func (f *fakeTransport) Load() (string, bool) {
	return f.blob, f.has
}

func (f *fakeTransport) Save(blob string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.blob = blob
	f.has = true
	f.saves++
	return nil
}

func (f *fakeTransport) Destroy() error {
	f.blob = ""
	f.has = false
	f.destroyed++
	return nil
}

func newTestManager(t *testing.T, transport Transport, clock func() time.Time) *Manager {
	t.Helper()
	hashKey, blockKey := testKeys()
	return NewManager(NewCodec(hashKey, blockKey), transport, 8*time.Hour, clock)
}

func TestCreateAndCurrentUser(t *testing.T) {
	transport := &fakeTransport{}
	manager := newTestManager(t, transport, nil)

	if err := manager.Create("user-1", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	identity, ok := manager.CurrentUser()
	if !ok {
		t.Fatal("expected valid session")
	}
	if identity.UserID != "user-1" || identity.Username != "alice" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestCurrentUserFailsClosedWithoutSession(t *testing.T) {
	manager := newTestManager(t, &fakeTransport{}, nil)
	if _, ok := manager.CurrentUser(); ok {
		t.Fatal("expected no identity without a session")
	}
	if manager.Valid() {
		t.Fatal("expected invalid session")
	}
}

func TestValidFailsClosedOnGarbageBlob(t *testing.T) {
	transport := &fakeTransport{blob: "not-a-session", has: true}
	manager := newTestManager(t, transport, nil)
	if manager.Valid() {
		t.Fatal("expected garbage blob to be invalid")
	}
}

func TestAbsoluteTimeoutDestroysSession(t *testing.T) {
	start := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	now := start
	clock := func() time.Time { return now }

	transport := &fakeTransport{}
	manager := newTestManager(t, transport, clock)
	if err := manager.Create("user-1", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}

	now = start.Add(7 * time.Hour)
	if !manager.Valid() {
		t.Fatal("expected session valid inside the absolute window")
	}

	now = start.Add(8*time.Hour + time.Minute)
	if manager.Valid() {
		t.Fatal("expected session invalid past the absolute window")
	}
	if transport.destroyed != 1 {
		t.Fatalf("expected lazy expiry to destroy the session, destroys = %d", transport.destroyed)
	}
	if _, ok := manager.CurrentUser(); ok {
		t.Fatal("expected no identity after expiry")
	}
}

func TestDestroyInvalidatesSession(t *testing.T) {
	transport := &fakeTransport{}
	manager := newTestManager(t, transport, nil)
	if err := manager.Create("user-1", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := manager.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if manager.Valid() {
		t.Fatal("expected destroyed session to be invalid")
	}
}

func TestStoreChallengePreservesIdentity(t *testing.T) {
	transport := &fakeTransport{}
	manager := newTestManager(t, transport, nil)
	if err := manager.Create("user-1", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}

	challenge := Challenge{
		Kind:         passkey.CeremonyKindRegistration,
		UserID:       "user-1",
		Username:     "alice",
		CeremonyJSON: []byte(`{"challenge":"abc"}`),
	}
	if err := manager.StoreChallenge(challenge); err != nil {
		t.Fatalf("store challenge: %v", err)
	}

	identity, ok := manager.CurrentUser()
	if !ok || identity.UserID != "user-1" {
		t.Fatalf("expected identity to survive challenge binding, got %+v ok=%v", identity, ok)
	}
}

func TestTakeChallengeReadOnce(t *testing.T) {
	transport := &fakeTransport{}
	manager := newTestManager(t, transport, nil)

	challenge := Challenge{
		Kind:         passkey.CeremonyKindRegistration,
		UserID:       "user-1",
		Username:     "alice",
		CeremonyJSON: []byte(`{"challenge":"abc"}`),
	}
	if err := manager.StoreChallenge(challenge); err != nil {
		t.Fatalf("store challenge: %v", err)
	}

	taken, err := manager.TakeChallenge(passkey.CeremonyKindRegistration)
	if err != nil {
		t.Fatalf("take challenge: %v", err)
	}
	if taken == nil || taken.UserID != "user-1" || string(taken.CeremonyJSON) != `{"challenge":"abc"}` {
		t.Fatalf("unexpected challenge: %+v", taken)
	}

	again, err := manager.TakeChallenge(passkey.CeremonyKindRegistration)
	if err != nil {
		t.Fatalf("take challenge again: %v", err)
	}
	if again != nil {
		t.Fatal("expected second take to return nil")
	}
}

func TestTakeChallengeKindMismatchConsumes(t *testing.T) {
	transport := &fakeTransport{}
	manager := newTestManager(t, transport, nil)

	if err := manager.StoreChallenge(Challenge{Kind: passkey.CeremonyKindLogin}); err != nil {
		t.Fatalf("store challenge: %v", err)
	}

	taken, err := manager.TakeChallenge(passkey.CeremonyKindRegistration)
	if err != nil {
		t.Fatalf("take challenge: %v", err)
	}
	if taken != nil {
		t.Fatal("expected kind mismatch to return nil")
	}

	// The mismatched challenge must not remain available for the right kind.
	taken, err = manager.TakeChallenge(passkey.CeremonyKindLogin)
	if err != nil {
		t.Fatalf("take challenge: %v", err)
	}
	if taken != nil {
		t.Fatal("expected mismatched challenge to have been consumed")
	}
}

func TestTakeChallengeRegistrationRequiresIdentity(t *testing.T) {
	transport := &fakeTransport{}
	manager := newTestManager(t, transport, nil)

	if err := manager.StoreChallenge(Challenge{Kind: passkey.CeremonyKindRegistration}); err != nil {
		t.Fatalf("store challenge: %v", err)
	}
	taken, err := manager.TakeChallenge(passkey.CeremonyKindRegistration)
	if err != nil {
		t.Fatalf("take challenge: %v", err)
	}
	if taken != nil {
		t.Fatal("expected registration challenge without bound identity to return nil")
	}
}

func TestLoginChallengeCarriesNoIdentity(t *testing.T) {
	transport := &fakeTransport{}
	manager := newTestManager(t, transport, nil)

	if err := manager.StoreChallenge(Challenge{Kind: passkey.CeremonyKindLogin, CeremonyJSON: []byte(`{}`)}); err != nil {
		t.Fatalf("store challenge: %v", err)
	}
	taken, err := manager.TakeChallenge(passkey.CeremonyKindLogin)
	if err != nil {
		t.Fatalf("take challenge: %v", err)
	}
	if taken == nil {
		t.Fatal("expected login challenge")
	}
	if taken.UserID != "" || taken.Username != "" {
		t.Fatalf("expected no bound identity on login challenge, got %+v", taken)
	}
}

func TestSaveErrorsPropagate(t *testing.T) {
	saveErr := errors.New("cookie writer failed")
	transport := &fakeTransport{saveErr: saveErr}
	manager := newTestManager(t, transport, nil)

	if err := manager.Create("user-1", "alice"); !errors.Is(err, saveErr) {
		t.Fatalf("expected save error from create, got %v", err)
	}
	if err := manager.StoreChallenge(Challenge{Kind: passkey.CeremonyKindLogin}); !errors.Is(err, saveErr) {
		t.Fatalf("expected save error from store challenge, got %v", err)
	}
}

func TestTakeChallengeSaveErrorWithholdsChallenge(t *testing.T) {
	transport := &fakeTransport{}
	manager := newTestManager(t, transport, nil)
	if err := manager.StoreChallenge(Challenge{Kind: passkey.CeremonyKindLogin}); err != nil {
		t.Fatalf("store challenge: %v", err)
	}

	transport.saveErr = errors.New("cookie writer failed")
	taken, err := manager.TakeChallenge(passkey.CeremonyKindLogin)
	if err == nil {
		t.Fatal("expected error when the clearing write fails")
	}
	if taken != nil {
		t.Fatal("challenge must not be released unless the clear persisted")
	}
}
