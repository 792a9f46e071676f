package core

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"mealreminder/internal/types"
)

// Messages written by RequireBearerSecret.
const (
	MsgMisconfigured = "Server misconfiguration"
	MsgUnauthorized  = "Unauthorized"
)

// RequireBearerSecret guards a route group with a shared secret sent as
// "Authorization: Bearer <secret>".
//
// An unset secret is a deployment error: every request fails with 500 rather
// than running unauthenticated. A missing or different token yields 401.
func RequireBearerSecret(secret types.SecretString, logger *slog.Logger) func(http.Handler) http.Handler {
	expected := []byte(secret.Unmask())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				logger.Error("CRON_SECRET is not set; refusing trigger request",
					slog.String("path", r.URL.Path),
					slog.String("request_id", types.GetRequestID(r.Context())),
				)
				Failure(w, r, http.StatusInternalServerError, MsgMisconfigured)
				return
			}

			token := extractBearerToken(r.Header.Get("Authorization"))
			if token == "" || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
				logger.Warn("unauthorized trigger attempt blocked",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.Bool("header_present", r.Header.Get("Authorization") != ""),
				)
				Failure(w, r, http.StatusUnauthorized, MsgUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken returns the token of a "Bearer <token>" header value
// (scheme is case-insensitive), or "" when the format does not match.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}
