package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorImplementsError(t *testing.T) {
	var _ error = (*AppError)(nil)
}

// TestAppErrorErrorFormat verifies the Error() method produces "code: message".
func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeConfigMissingCredentials,
		Message: "EMAIL_USER and EMAIL_PASS are required",
	}

	expected := "config_missing_mail_credentials: EMAIL_USER and EMAIL_PASS are required"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("database connection failed")
	appErr := NewAppError(ErrCodeInternalDB, "failed to list planners", underlying)

	if !errors.Is(appErr, underlying) {
		t.Errorf("errors.Is should find the underlying error")
	}
	if NewAppError(ErrCodeInternalDB, "x", nil).Unwrap() != nil {
		t.Errorf("Unwrap() should return nil when Err is nil")
	}
}

func TestAppErrorErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("send failed: %w", NewAppError(ErrCodeEmailBlocked, "recipient blocked", nil))

	var target *AppError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should extract *AppError from the chain")
	}
	if target.Code != ErrCodeEmailBlocked {
		t.Errorf("Code = %q, want %q", target.Code, ErrCodeEmailBlocked)
	}
}

func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationInvalidFlag, http.StatusBadRequest},
		{ErrCodeValidationInvalidJSON, http.StatusBadRequest},
		{ErrCodeAuthTokenMissing, http.StatusUnauthorized},
		{ErrCodeAuthTokenInvalid, http.StatusUnauthorized},
		{ErrCodeMethodNotAllowed, http.StatusMethodNotAllowed},
		{ErrCodeEmailBlocked, http.StatusForbidden},
		{ErrCodeUpstreamRateLimited, http.StatusBadGateway},
		{ErrCodeUpstreamEmailProvider, http.StatusBadGateway},
		{ErrCodeConfigMissingSecret, http.StatusInternalServerError},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAppErrorWithDetailsDoesNotMutateOriginal(t *testing.T) {
	orig := NewAppErrorWithDetails(ErrCodeUpstreamAuth, "auth rejected", nil, map[string]any{"responseCode": 535})
	derived := orig.WithDetails(map[string]any{"command": "AUTH PLAIN"})

	if _, ok := orig.Details["command"]; ok {
		t.Error("WithDetails must not modify the receiver")
	}
	if derived.Details["responseCode"] != 535 || derived.Details["command"] != "AUTH PLAIN" {
		t.Errorf("derived details = %v", derived.Details)
	}
	if derived.HTTPStatus() != http.StatusBadGateway {
		t.Errorf("HTTPStatus() = %d", derived.HTTPStatus())
	}
}
