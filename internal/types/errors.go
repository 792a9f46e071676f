package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and adapters use these instead of literals.
const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidEmail ErrorCode = "validation_invalid_email"
	ErrCodeValidationInvalidFlag  ErrorCode = "validation_invalid_flag"
	ErrCodeValidationInvalidJSON  ErrorCode = "validation_invalid_json"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"

	// Method (405)
	ErrCodeMethodNotAllowed ErrorCode = "method_not_allowed"

	// Configuration (500)
	ErrCodeConfigMissingSecret      ErrorCode = "config_missing_secret"
	ErrCodeConfigMissingCredentials ErrorCode = "config_missing_mail_credentials"
	ErrCodeConfigUnknownProvider    ErrorCode = "config_unknown_provider"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB            ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeInternalRender        ErrorCode = "internal_render_error"
	ErrCodeUpstreamEmailProvider ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamAuth          ErrorCode = "upstream_auth_rejected"
	ErrCodeUpstreamCache         ErrorCode = "upstream_cache_unavailable"

	// Delivery
	ErrCodeEmailBlocked ErrorCode = "email_blocked"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case s == string(ErrCodeMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case s == string(ErrCodeEmailBlocked):
		return http.StatusForbidden
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	case strings.HasPrefix(s, "config_"), strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type used throughout the service.
// Domain, adapter and handler errors are expressed as AppError so that they
// carry a stable code, map to an HTTP status and keep the error chain intact.
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

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
