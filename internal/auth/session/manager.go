package session

import (
	"fmt"
	"time"

	"github.com/keyfold/keyfold/internal/auth/passkey"
)

// Transport carries the opaque session blob to and from the client.
// The HTTP layer implements it over a cookie; tests use an in-memory fake.
type Transport interface {
	// Load returns the current blob, or false when none is present.
	Load() (string, bool)
	// Save persists the blob and slides the client-side expiry.
	Save(blob string) error
	// Destroy irrecoverably invalidates the client-held blob.
	Destroy() error
}

// Identity is the authenticated principal recorded in a session.
type Identity struct {
	UserID   string
	Username string
}

// Manager reads and writes one request's session state.
//
// A Manager is bound to a single request/response exchange; ceremony state
// between a Start and a Finish call rides entirely in the blob, so no
// server-side state needs protection across the two calls.
type Manager struct {
	codec           *Codec
	transport       Transport
	absoluteTimeout time.Duration
	clock           func() time.Time
}

// NewManager binds a codec and transport for one request.
func NewManager(codec *Codec, transport Transport, absoluteTimeout time.Duration, clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		codec:           codec,
		transport:       transport,
		absoluteTimeout: absoluteTimeout,
		clock:           clock,
	}
}

// load decodes the current blob. Absent or undecodable blobs yield zero
// state: an unreadable session is treated the same as no session.
func (m *Manager) load() Data {
	blob, ok := m.transport.Load()
	if !ok {
		return Data{}
	}
	data, err := m.codec.Decode(blob)
	if err != nil {
		return Data{}
	}
	return data
}

func (m *Manager) save(data Data) error {
	blob, err := m.codec.Encode(data)
	if err != nil {
		return err
	}
	if err := m.transport.Save(blob); err != nil {
		return fmt.Errorf("persist session blob: %w", err)
	}
	return nil
}

// Create overwrites the session with a fresh authenticated identity.
// Any residual challenge state is discarded.
func (m *Manager) Create(userID, username string) error {
	return m.save(Data{
		UserID:    userID,
		Username:  username,
		CreatedAt: m.clock().UTC().Unix(),
	})
}

// Destroy invalidates the session (logout).
func (m *Manager) Destroy() error {
	return m.transport.Destroy()
}

// Valid reports whether an authenticated, unexpired session is present.
// It fails closed on missing identity fields. Detecting absolute expiry
// destroys the session as a side effect: sessions are client-held, so
// there is no background sweep to do it.
func (m *Manager) Valid() bool {
	data := m.load()
	if data.UserID == "" || data.CreatedAt == 0 {
		return false
	}
	createdAt := time.Unix(data.CreatedAt, 0)
	if m.clock().UTC().Sub(createdAt) > m.absoluteTimeout {
		_ = m.transport.Destroy()
		return false
	}
	return true
}

// CurrentUser returns the authenticated identity, or false when the
// session is absent, anonymous, or expired.
func (m *Manager) CurrentUser() (Identity, bool) {
	if !m.Valid() {
		return Identity{}, false
	}
	data := m.load()
	return Identity{UserID: data.UserID, Username: data.Username}, true
}

// StoreChallenge binds a pending ceremony challenge into the blob in one
// write, preserving any authenticated identity already present. A new
// challenge replaces any prior unconsumed one.
func (m *Manager) StoreChallenge(challenge Challenge) error {
	data := m.load()
	data.Challenge = &challenge
	return m.save(data)
}

// TakeChallenge consumes the pending challenge with read-once semantics.
//
// It returns nil (and no error) when no challenge is bound, the kind does
// not match, or a registration challenge is missing its bound identity.
// Whatever was bound is cleared in the same persisted write, so two
// concurrent finishes against one session cannot both observe a challenge,
// and a kind-mismatched challenge cannot be retried against the right
// ceremony later.
func (m *Manager) TakeChallenge(kind passkey.CeremonyKind) (*Challenge, error) {
	data := m.load()
	challenge := data.Challenge
	if challenge == nil {
		return nil, nil
	}
	data.Challenge = nil
	if err := m.save(data); err != nil {
		return nil, err
	}
	if challenge.Kind != kind {
		return nil, nil
	}
	if challenge.Kind == passkey.CeremonyKindRegistration && (challenge.UserID == "" || challenge.Username == "") {
		return nil, nil
	}
	return challenge, nil
}
