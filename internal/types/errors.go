package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Services construct errors via NewAppError with one
// of these codes instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationOutOfRange   ErrorCode = "validation_value_out_of_range"
	ErrCodeValidationBadDocument  ErrorCode = "validation_malformed_document"

	// Auth (401)
	ErrCodeAuthKeyMissing ErrorCode = "auth_admin_key_missing"
	ErrCodeAuthKeyInvalid ErrorCode = "auth_admin_key_invalid"

	// Not Found (404)
	ErrCodeNotFoundDocument ErrorCode = "not_found_document"
	ErrCodeNotFoundSession  ErrorCode = "not_found_session"

	// Conflict (409)
	ErrCodeConflictExists ErrorCode = "conflict_document_exists"

	// Internal/Upstream (500/502)
	ErrCodeInternalStore      ErrorCode = "internal_store_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeModelLoad          ErrorCode = "model_artifact_load_failed"
	ErrCodeUpstreamActuator   ErrorCode = "upstream_actuator_unavailable"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the admin API to translate AppErrors into responses. Returns 500
// for unrecognized codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. Domain errors are
// expressed as AppError to enable consistent logging, HTTP status mapping,
// and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
