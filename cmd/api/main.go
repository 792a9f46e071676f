// Package main is the entry point for the reminder HTTP service.
//
// It loads the configuration, wires the reminder engine, mounts the trigger
// routes on the core chassis and listens on PORT. With WORKER_ENABLED=true the
// process also runs the reminder pass itself every WORKER_INTERVAL, so a
// single long-lived host needs no external scheduler.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mealreminder/internal/api/handlers"
	"mealreminder/internal/app"
	"mealreminder/internal/config"
	"mealreminder/internal/core"
	"mealreminder/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("reminder API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := buildServer(ctx, cfg, logger, app.Deps{})
	if err != nil {
		return err
	}
	return runHTTPServer(ctx, srv, cfg, logger)
}

// buildServer wires the app, mounts routes and starts the worker when
// enabled. Everything it opens is released by srv.Shutdown.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps app.Deps) (*core.Server, error) {
	a, err := app.New(ctx, cfg, logger, deps)
	if err != nil {
		return nil, fmt.Errorf("wiring reminder service: %w", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.OnShutdown(a.Close)
	srv.Metrics = a.RequestMetrics
	srv.HealthProbes = a.Probes

	reminders := handlers.NewRemindersHandler(a.Engine, cfg.Auth.CronSecret, cfg.Reminder.LeadMinutes, cfg.Reminder.RunTimeout, logger)
	srv.RouteRegistrars = append(srv.RouteRegistrars, reminders.RegisterRoutes)
	srv.MountRoutes()

	if cfg.Worker.Enabled {
		worker, err := scheduler.NewWorker(a.Engine, scheduler.WorkerConfig{
			Interval:      cfg.Worker.Interval,
			RunTimeout:    cfg.Reminder.RunTimeout,
			LeadMinutes:   cfg.Reminder.LeadMinutes,
			AlignToMinute: true,
		}, logger)
		if err == nil {
			err = worker.Start(ctx)
		}
		if err != nil {
			_ = srv.Shutdown(ctx)
			return nil, fmt.Errorf("starting reminder worker: %w", err)
		}
		// Registered after a.Close so it runs first: the worker must stop
		// before the store it writes to is closed.
		srv.OnShutdown(func(context.Context) error { return worker.Stop() })
	}

	if !cfg.Auth.CronSecret.IsSet() {
		logger.Warn("CRON_SECRET is not set; trigger endpoints will answer 500")
	}
	return srv, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	// WriteTimeout must outlast a full reminder run.
	writeTimeout := cfg.Server.RequestTimeout + 5*time.Second
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
