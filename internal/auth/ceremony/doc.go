// Package ceremony orchestrates WebAuthn registration and authentication
// ceremonies and the credential lifecycle operations built on them.
package ceremony
