package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/google/uuid"

	"mealreminder/internal/types"
)

const defaultRequestTimeout = 60 * time.Second

// LandingText is the body of GET /.
const LandingText = "Reminder service is running"

var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
}

// MountRoutes registers the middleware chain, the public routes and every
// domain registrar.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Failure(w, r, http.StatusNotFound, "Not found")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		Failure(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	s.router.Get("/", s.HandleLanding)
	s.router.Get("/ping", s.HandlePing)
	s.router.Get("/health", s.HandleHealth)

	for _, registrar := range s.RouteRegistrars {
		registrar(s.router)
	}
}

// registerGlobalMiddleware applies middleware in order:
//
//  1. Recoverer       - outermost so every panic is caught.
//  2. ContextTimeout  - soft deadline below the host's hard timeout.
//  3. RequestID       - correlation ID for logs.
//  4. SecurityHeaders
//  5. RequestLogger   - redacts Authorization and Cookie.
//  6. CORS
//  7. Compress        - gzip for clients that accept it.
//  8. Metrics
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.compressMiddleware())
	s.router.Use(s.MetricsMiddleware)
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Server.CorsAllowedOrigins) > 0 {
		return s.Config.Server.CorsAllowedOrigins
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware propagates X-Request-Id, generating one when absent,
// and stores it in the request context.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = generateRequestID()
		}
		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(b)
}

// HandleLanding answers GET / with a plain-text banner.
func (s *Server) HandleLanding(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(LandingText))
}

type pingResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// HandlePing is the liveness probe. It never touches dependencies.
func (s *Server) HandlePing(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, pingResponse{
		Status: "alive",
		Time:   time.Now().UTC().Format(time.RFC3339Nano),
	})
}
