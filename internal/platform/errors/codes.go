// Package errors provides structured error handling for the auth domain.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// User errors
	CodeUserEmptyUsername      Code = "USER_EMPTY_USERNAME"
	CodeUserInvalidUsername    Code = "USER_INVALID_USERNAME"
	CodeUserInvalidDisplayName Code = "USER_INVALID_DISPLAY_NAME"
	CodeUsernameTaken          Code = "USERNAME_TAKEN"
	CodeUserNotFound           Code = "USER_NOT_FOUND"

	// Credential errors
	CodeCredentialNotFound    Code = "CREDENTIAL_NOT_FOUND"
	CodeCredentialNotOwned    Code = "CREDENTIAL_NOT_OWNED"
	CodeCredentialInvalidName Code = "CREDENTIAL_INVALID_NAME"
	CodeLastCredential        Code = "LAST_CREDENTIAL"

	// Ceremony errors
	CodeRegistrationFailed   Code = "REGISTRATION_FAILED"
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED"
	CodeNoChallenge          Code = "NO_CHALLENGE"
	CodeNotAuthenticated     Code = "NOT_AUTHENTICATED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps the code to the HTTP status the transport boundary returns.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUserEmptyUsername, CodeUserInvalidUsername, CodeUserInvalidDisplayName,
		CodeCredentialInvalidName, CodeRegistrationFailed, CodeNoChallenge:
		return http.StatusBadRequest
	case CodeAuthenticationFailed, CodeNotAuthenticated:
		return http.StatusUnauthorized
	case CodeCredentialNotOwned:
		return http.StatusForbidden
	case CodeUserNotFound, CodeCredentialNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeUsernameTaken, CodeLastCredential:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
