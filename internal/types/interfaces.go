package types

import (
	"log/slog"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always reports the same instant. Used by the CLI --at flag and tests.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.T }

// Logger defines the structured logging interface used throughout the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// SlogAdapter wraps *slog.Logger to implement Logger. slog.Logger already has
// the level methods but its With returns *slog.Logger, so an adapter is needed.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps the given logger. A nil logger falls back to slog.Default.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

func (a *SlogAdapter) Debug(msg string, args ...any) { a.logger.Debug(msg, args...) }
func (a *SlogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *SlogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *SlogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *SlogAdapter) With(args ...any) Logger {
	return &SlogAdapter{logger: a.logger.With(args...)}
}

// Compile-time assertion that SlogAdapter satisfies Logger.
var _ Logger = (*SlogAdapter)(nil)
