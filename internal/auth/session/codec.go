// Package session manages the client-held authenticated session blob.
//
// There is no server-side session table: the blob is an encrypted,
// tamper-evident capability token carried by the client between requests.
// This package is the only reader and writer of its encoding.
package session

import (
	"fmt"

	"github.com/gorilla/securecookie"

	"github.com/keyfold/keyfold/internal/auth/passkey"
)

// BlobName is the label the blob is authenticated against. The cookie
// transport must use it as the cookie name so blobs cannot be replayed
// under a different label.
const BlobName = "keyfold_session"

// schemaVersion is bumped when Data gains fields that older decoders must
// not misread. Decoding an unknown version fails closed.
const schemaVersion = 1

// Data is the decoded session state, schema version 1.
type Data struct {
	Version   int        `json:"v"`
	UserID    string     `json:"uid,omitempty"`
	Username  string     `json:"un,omitempty"`
	CreatedAt int64      `json:"iat,omitempty"` // unix seconds
	Challenge *Challenge `json:"ch,omitempty"`
}

// Challenge is the pending ceremony state bound into the session blob.
//
// The Kind tag discriminates the two variants: registration challenges
// carry the pending identity; login challenges carry none, since identity
// is recovered from the credential at ceremony finish.
type Challenge struct {
	Kind        passkey.CeremonyKind `json:"k"`
	UserID      string               `json:"uid,omitempty"`
	Username    string               `json:"un,omitempty"`
	DisplayName string               `json:"dn,omitempty"`
	// CeremonyJSON is the opaque verifier session (challenge, expiry,
	// verification flags) as produced at ceremony start.
	CeremonyJSON []byte `json:"cd,omitempty"`
}

// Codec encrypts and authenticates session blobs.
type Codec struct {
	sc *securecookie.SecureCookie
}

// NewCodec builds a codec over an encrypt-then-MAC securecookie envelope.
// Lifetime is enforced by the Manager and the cookie expiry, not by the
// envelope, so the codec's own age check is disabled.
func NewCodec(hashKey, blockKey []byte) *Codec {
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(0)
	return &Codec{sc: sc}
}

// Encode serializes data into an opaque blob.
func (c *Codec) Encode(data Data) (string, error) {
	data.Version = schemaVersion
	encoded, err := c.sc.Encode(BlobName, data)
	if err != nil {
		return "", fmt.Errorf("encode session blob: %w", err)
	}
	return encoded, nil
}

// Decode authenticates and deserializes a blob. Tampered blobs, blobs
// sealed under other keys, and unknown schema versions all fail.
func (c *Codec) Decode(blob string) (Data, error) {
	var data Data
	if err := c.sc.Decode(BlobName, blob, &data); err != nil {
		return Data{}, fmt.Errorf("decode session blob: %w", err)
	}
	if data.Version != schemaVersion {
		return Data{}, fmt.Errorf("unsupported session schema version %d", data.Version)
	}
	return data, nil
}
