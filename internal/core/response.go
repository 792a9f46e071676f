package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"mealreminder/internal/types"
)

// maxRequestBodySize is the maximum allowed size of a request body (64 KB).
// Trigger bodies only ever carry a handful of flags.
const maxRequestBodySize = 64 << 10

// FailureResponse is the envelope for every error response.
type FailureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// JSON writes data as a JSON response. A marshal failure degrades to a 500
// failure envelope.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(FailureResponse{Error: "failed to marshal response"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Failure writes {success:false, error:msg} with the given status.
func Failure(w http.ResponseWriter, r *http.Request, status int, msg string) {
	JSON(w, r, status, FailureResponse{Success: false, Error: msg})
}

// Error maps err to a failure response. AppErrors use their code's status
// and message; anything else becomes a 500 without leaking internals.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		Failure(w, r, appErr.HTTPStatus(), appErr.Message)
		return
	}
	Failure(w, r, http.StatusInternalServerError, "an unexpected error occurred")
}

// DecodeJSON reads a single JSON value from the request body into dst,
// bounded by maxRequestBodySize. An empty body leaves dst untouched and
// returns nil.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return mapDecodeError(err)
	}
	if dec.More() {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON,
			"request body must contain a single JSON object", nil)
	}
	return nil
}

func mapDecodeError(err error) *types.AppError {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "request body is too large", err)
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "malformed JSON in request body", err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidJSON,
			"invalid value for field", err,
			map[string]any{"field": typeErr.Field, "expected": typeErr.Type.String()})
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || strings.Contains(err.Error(), "unexpected EOF") {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "truncated JSON in request body", err)
	}

	return types.NewAppError(types.ErrCodeValidationInvalidJSON, "invalid JSON in request body", err)
}
