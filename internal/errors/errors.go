// Package errors provides the error taxonomy for the livechat service.
// It defines error categories, codes, and the mapping from authentication
// failures to connection refusal reasons.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/real-rm/livechat/internal/auth"
	"github.com/real-rm/livechat/internal/event"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryAuth represents connection and request authentication refusals
	CategoryAuth ErrorCategory = "auth"
	// CategoryValidation represents input validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryService represents collaborator failures (database, directory, bus)
	CategoryService ErrorCategory = "service"
	// CategoryPresence represents internal registry faults; never sent to clients
	CategoryPresence ErrorCategory = "presence"
	// CategoryDelivery represents push failures; logged, never escalated
	CategoryDelivery ErrorCategory = "delivery"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Connection refusal reasons
	ErrCodeNoCredential      ErrorCode = "NO_CREDENTIAL"
	ErrCodeInvalidCredential ErrorCode = "INVALID_CREDENTIAL"
	ErrCodeExpired           ErrorCode = "EXPIRED"
	ErrCodeUnknownUser       ErrorCode = "UNKNOWN_USER"
	ErrCodeLookupFailed      ErrorCode = "LOOKUP_FAILED"

	// Internal
	ErrCodeRegistryInvariant ErrorCode = "REGISTRY_INVARIANT_VIOLATION"
	ErrCodePartialDelivery   ErrorCode = "DELIVERY_PARTIAL_FAILURE"

	// Validation errors
	ErrCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
	ErrCodeMissingField  ErrorCode = "MISSING_FIELD"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeForbidden     ErrorCode = "FORBIDDEN"

	// Service errors
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
	ErrCodeServiceError  ErrorCode = "SERVICE_ERROR"
)

// ChatError represents an application error with category and recoverability information
type ChatError struct {
	Category    ErrorCategory
	Code        ErrorCode
	Message     string
	Recoverable bool
	RetryAfter  int // milliseconds
	Cause       error
}

// Error implements the error interface
func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// ToErrorInfo converts a ChatError to the wire form sent in an error frame
func (e *ChatError) ToErrorInfo() *event.ErrorInfo {
	return &event.ErrorInfo{
		Code:        string(e.Code),
		Message:     e.Message,
		Recoverable: e.Recoverable,
		RetryAfter:  e.RetryAfter,
	}
}

// HTTPStatus returns the status used when the error refuses an HTTP request or upgrade
func (e *ChatError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeNoCredential, ErrCodeInvalidCredential, ErrCodeExpired, ErrCodeUnknownUser:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	}

	switch e.Category {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryService:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewAuthError creates a new authentication refusal (fatal)
func NewAuthError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryAuth,
		Code:        code,
		Message:     message,
		Recoverable: false,
		Cause:       cause,
	}
}

// NewValidationError creates a new validation error (recoverable)
func NewValidationError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewServiceError creates a new service error (recoverable with retry)
func NewServiceError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryService,
		Code:        code,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// ErrNoCredential creates the refusal for a handshake carrying no credential
func ErrNoCredential() *ChatError {
	return NewAuthError(ErrCodeNoCredential, "Unauthorized - No Token Provided", auth.ErrNoCredential)
}

// ErrInvalidCredential creates the refusal for a malformed or badly signed credential
func ErrInvalidCredential(cause error) *ChatError {
	return NewAuthError(ErrCodeInvalidCredential, "Unauthorized - Invalid Token", cause)
}

// ErrExpired creates the refusal for an expired credential
func ErrExpired(cause error) *ChatError {
	return NewAuthError(ErrCodeExpired, "Unauthorized - Token Expired", cause)
}

// ErrUnknownUser creates the refusal for a valid credential whose user no longer exists
func ErrUnknownUser(cause error) *ChatError {
	return NewAuthError(ErrCodeUnknownUser, "User not found", cause)
}

// ErrLookupFailed creates the refusal for a user directory failure.
// Unlike the other refusals it is recoverable: the credential may be fine.
func ErrLookupFailed(cause error) *ChatError {
	return &ChatError{
		Category:    CategoryService,
		Code:        ErrCodeLookupFailed,
		Message:     "Unauthorized - Authentication failed",
		Recoverable: true,
		Cause:       cause,
	}
}

// ErrRegistryInvariant describes an empty presence entry found in the registry
func ErrRegistryInvariant(userID string) *ChatError {
	return &ChatError{
		Category:    CategoryPresence,
		Code:        ErrCodeRegistryInvariant,
		Message:     fmt.Sprintf("empty presence entry for user %s", userID),
		Recoverable: true,
	}
}

// ErrDeliveryPartialFailure describes a push that reached some but not all connections
func ErrDeliveryPartialFailure(recipient string, failed, total int) *ChatError {
	return &ChatError{
		Category:    CategoryDelivery,
		Code:        ErrCodePartialDelivery,
		Message:     fmt.Sprintf("push to %s failed on %d of %d connections", recipient, failed, total),
		Recoverable: true,
	}
}

// ErrInvalidMessageFormat creates an invalid message format error
func ErrInvalidMessageFormat(details string, cause error) *ChatError {
	return NewValidationError(ErrCodeInvalidFormat, details, cause)
}

// ErrMissingField creates a missing field error
func ErrMissingField(fieldName string) *ChatError {
	return NewValidationError(ErrCodeMissingField, fmt.Sprintf("Required field missing: %s", fieldName), nil)
}

// ErrNotFound creates a not found error for the named resource
func ErrNotFound(resource string) *ChatError {
	return NewValidationError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// ErrForbidden creates an error for an operation the caller may not perform
func ErrForbidden(message string) *ChatError {
	return NewValidationError(ErrCodeForbidden, message, nil)
}

// ErrDatabaseError creates a database error
func ErrDatabaseError(cause error) *ChatError {
	return NewServiceError(ErrCodeDatabaseError, "Database operation failed", cause)
}

// FromAuthError maps an error returned by the auth package to its refusal reason.
// Unrecognized errors map to LOOKUP_FAILED, which lets the client retry.
func FromAuthError(err error) *ChatError {
	var chatErr *ChatError
	if stderrors.As(err, &chatErr) {
		return chatErr
	}

	switch {
	case stderrors.Is(err, auth.ErrNoCredential):
		return ErrNoCredential()
	case stderrors.Is(err, auth.ErrExpired):
		return ErrExpired(err)
	case stderrors.Is(err, auth.ErrInvalidCredential):
		return ErrInvalidCredential(err)
	case stderrors.Is(err, auth.ErrUnknownUser):
		return ErrUnknownUser(err)
	default:
		return ErrLookupFailed(err)
	}
}

// RefusalCodes lists the codes a client treats as permanent: retrying
// the same credential cannot succeed.
var RefusalCodes = []ErrorCode{
	ErrCodeNoCredential,
	ErrCodeInvalidCredential,
	ErrCodeExpired,
	ErrCodeUnknownUser,
}

// IsPermanentRefusal reports whether code is one of RefusalCodes
func IsPermanentRefusal(code string) bool {
	for _, c := range RefusalCodes {
		if string(c) == code {
			return true
		}
	}
	return false
}
