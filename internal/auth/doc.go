// Package auth is the identity boundary of the service.
//
// It owns user lifecycle, passkey credentials, and the client-held session
// blob, so callers can depend on stable user IDs and authenticated sessions
// instead of re-implementing identity rules. Subpackages split the concern:
// user holds identity records, session the encrypted blob, storage the
// persistence interfaces, ceremony the WebAuthn orchestration, and api/web
// the HTTP surface.
package auth
