// Package core provides the HTTP chassis for the meal reminder service: a chi
// router with the cross-cutting middleware (panic recovery, request IDs,
// logging, CORS, compression) and the public liveness and health routes.
// Domain handlers attach through RouteRegistrars.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mealreminder/internal/config"
)

// MetricsCollector records API telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server holds the router and everything the middleware chain needs.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Metrics      MetricsCollector
	HealthProbes []HealthProbe

	// RouteRegistrars mount domain routes on the root router. They are
	// populated by the entry point to keep core free of handler imports.
	RouteRegistrars []func(chi.Router)

	closers []func(context.Context) error
	router  *chi.Mux
}

// NewServer validates its inputs and prepares an unmounted router.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a cleanup hook (pool close, client close) run by
// Shutdown in reverse registration order.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// Shutdown runs the registered cleanup hooks. All hooks run even if one fails.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing server resources: %w", errors.Join(errs...))
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
