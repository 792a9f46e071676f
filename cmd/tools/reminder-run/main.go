// Package main implements the reminder-run CLI tool for executing one
// reminder pass directly, bypassing the HTTP trigger and the Lambda shim.
//
// This tool is intended for local development, replaying a missed minute and
// operational debugging. It prints the run report as JSON.
//
// Usage:
//
//	go run ./cmd/tools/reminder-run --dry-run --debug
//	go run ./cmd/tools/reminder-run --at=2026-10-14T18:30:00Z --force
//	go run ./cmd/tools/reminder-run --seed=testdata/planners.json --ignore-time-match --dry-run
//
// Configuration comes from the environment (or a .env file) exactly as for
// the service. APP_ENV defaults to local. --seed switches to the in-memory
// store loaded from the given fixture.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mealreminder/internal/app"
	"mealreminder/internal/config"
	"mealreminder/internal/types"
)

// options are the parsed command-line flags.
type options struct {
	run  types.RunOptions
	at   time.Time
	seed string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("reminder-run", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		o     options
		atStr string
	)
	fs.BoolVar(&o.run.Debug, "debug", false, "Include per-user detail in the report")
	fs.BoolVar(&o.run.DryRun, "dry-run", false, "Match and report without sending or writing the log")
	fs.BoolVar(&o.run.Force, "force", false, "Send even when the reminder log already has an entry")
	fs.BoolVar(&o.run.IgnoreTimeMatch, "ignore-time-match", false, "Treat every planned slot as due")
	fs.IntVar(&o.run.LeadMinutes, "lead", 0, "Minutes before the meal to remind (default REMINDER_LEAD_MINUTES)")
	fs.StringVar(&atStr, "at", "", "Run as if the clock read this instant (RFC3339, e.g. 2026-10-14T18:30:00Z)")
	fs.StringVar(&o.seed, "seed", "", "Load planners from this JSON fixture into the in-memory store")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: reminder-run [flags]\n\nRun one meal reminder pass and print the report.\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	leadSet := false
	fs.Visit(func(f *flag.Flag) { leadSet = leadSet || f.Name == "lead" })
	if o.run.LeadMinutes < 0 || (leadSet && o.run.LeadMinutes < 1) {
		return o, fmt.Errorf("--lead must be at least 1 minute")
	}
	if atStr != "" {
		t, err := time.Parse(time.RFC3339, atStr)
		if err != nil {
			return o, fmt.Errorf("invalid --at %q: %w", atStr, err)
		}
		o.at = t.UTC()
	}
	o.run.Trigger = "cli"
	return o, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, ok := os.LookupEnv("APP_ENV"); !ok {
		_ = os.Setenv("APP_ENV", "local")
	}
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	}
	if opts.seed != "" {
		// Overrides are applied before LoadConfig so they pass validation.
		for k, v := range map[string]string{
			"STORAGE_BACKEND":   config.StorageMemory,
			"PLANNER_SEED_FILE": opts.seed,
			"LEDGER_BACKEND":    config.LedgerStore,
		} {
			if err := os.Setenv(k, v); err != nil {
				fmt.Fprintf(stderr, "error: %v\n", err)
				return 1
			}
		}
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		fmt.Fprintf(stderr, "error: loading configuration: %v\n", err)
		return 1
	}
	if opts.run.LeadMinutes == 0 {
		opts.run.LeadMinutes = cfg.Reminder.LeadMinutes
	}

	// Logs go to stderr so stdout carries only the report.
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: levelFor(cfg.LogLevel)}))

	deps := app.Deps{}
	if !opts.at.IsZero() {
		deps.Clock = types.FixedClock{T: opts.at}
	}
	a, err := app.New(ctx, cfg, logger, deps)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer a.Close(context.Background()) //nolint:errcheck

	runCtx := ctx
	if cfg.Reminder.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Reminder.RunTimeout)
		defer cancel()
	}

	report, runErr := a.Engine.Run(runCtx, opts.run)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(stderr, "error: encoding report: %v\n", err)
		return 1
	}
	if runErr != nil {
		fmt.Fprintf(stderr, "error: run failed: %v\n", runErr)
		return 1
	}
	return 0
}

func levelFor(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
