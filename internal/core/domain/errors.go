package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents categorized error types.
// These codes are stable and can be used for programmatic error handling.
type ErrorCode string

const (
	ErrCodeConfigInvalid    ErrorCode = "config_invalid"
	ErrCodeIdPNotFound      ErrorCode = "idp_not_found"
	ErrCodeProtocol         ErrorCode = "protocol_error"
	ErrCodeReplay           ErrorCode = "assertion_replayed"
	ErrCodePhaseConflict    ErrorCode = "phase_conflict"
	ErrCodeIdentity         ErrorCode = "identity_rejected"
	ErrCodeStorage          ErrorCode = "storage_error"
	ErrCodeBadRequest       ErrorCode = "bad_request"
	ErrCodeSignatureInvalid ErrorCode = "signature_invalid"
)

// String returns the error code as a string.
func (c ErrorCode) String() string {
	return string(c)
}

// Sentinel errors for errors.Is checks at adapter boundaries.
var (
	// ErrStateNotFound is returned when no login state matches a lookup key.
	ErrStateNotFound = errors.New("login state not found")

	// ErrAssertionReplayed is returned when an assertion id was already used.
	ErrAssertionReplayed = errors.New("assertion already used")

	// ErrPhaseConflict is returned when a conditional phase transition
	// found the state in a different phase than expected.
	ErrPhaseConflict = errors.New("login state phase conflict")

	// ErrUserNotFound is returned by the user directory on a miss.
	ErrUserNotFound = errors.New("user not found")
)

// AppError is a structured error with code, message, and optional cause.
// Protocol and identity failures are always terminal to the request; the
// HTTP layer renders them and stops, never falling through to the
// protected application with partial state.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status code for this error code.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrCodeIdPNotFound:
		return http.StatusNotFound
	case ErrCodeProtocol, ErrCodeReplay, ErrCodePhaseConflict, ErrCodeIdentity:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeSignatureInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Title returns a user-friendly title for this error code.
func (c ErrorCode) Title() string {
	switch c {
	case ErrCodeConfigInvalid:
		return "Configuration Error"
	case ErrCodeIdPNotFound:
		return "Identity Provider Not Found"
	case ErrCodeProtocol:
		return "Authentication Failed"
	case ErrCodeReplay:
		return "Response Already Used"
	case ErrCodePhaseConflict:
		return "Login State Conflict"
	case ErrCodeIdentity:
		return "Account Not Accepted"
	case ErrCodeStorage:
		return "Storage Error"
	case ErrCodeBadRequest:
		return "Invalid Request"
	case ErrCodeSignatureInvalid:
		return "Signature Invalid"
	default:
		return "Error"
	}
}

// ConfigError creates a configuration error.
func ConfigError(message string) *AppError {
	return &AppError{Code: ErrCodeConfigInvalid, Message: message}
}

// IdPNotFoundError creates an IdP not found error.
func IdPNotFoundError(id int64) *AppError {
	return &AppError{
		Code:    ErrCodeIdPNotFound,
		Message: fmt.Sprintf("No identity provider configuration with id %d", id),
	}
}

// ProtocolError creates a protocol error with optional cause.
func ProtocolError(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeProtocol, Message: message, Cause: cause}
}

// ReplayError describes a reused assertion to the user.
func ReplayError(assertionID string) *AppError {
	return &AppError{
		Code:    ErrCodeReplay,
		Message: "This authentication response was already used. Go back to the application and sign in again.",
		Cause:   fmt.Errorf("assertion %q: %w", assertionID, ErrAssertionReplayed),
	}
}

// PhaseError creates a phase-violation error.
func PhaseError(got, want Phase) *AppError {
	return &AppError{
		Code:    ErrCodePhaseConflict,
		Message: "Your sign-in attempt is out of step, possibly because of a second tab or a resubmitted page. Start again from the application.",
		Cause:   fmt.Errorf("phase %s, expected %s: %w", got, want, ErrPhaseConflict),
	}
}

// IdentityError creates an identity-resolution error. These are user
// errors, not attacker errors, so the message names the offending detail.
func IdentityError(message string) *AppError {
	return &AppError{Code: ErrCodeIdentity, Message: message}
}

// StorageError creates a storage error.
func StorageError(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeStorage, Message: message, Cause: cause}
}

// BadRequestError creates a bad request error.
func BadRequestError(message string) *AppError {
	return &AppError{Code: ErrCodeBadRequest, Message: message}
}
