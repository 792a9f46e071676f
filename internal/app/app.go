// Package app assembles the reminder engine and its collaborators from
// configuration. Every host (Lambda, HTTP server, CLI) builds one App at
// startup and closes it on exit.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"mealreminder/internal/config"
	"mealreminder/internal/core"
	"mealreminder/internal/db"
	"mealreminder/internal/external"
	"mealreminder/internal/memstore"
	"mealreminder/internal/metrics"
	"mealreminder/internal/redisledger"
	"mealreminder/internal/reminder"
	"mealreminder/internal/sqlite"
	"mealreminder/internal/types"
)

// JobLocker acquires a named lock for ttl. Only the Postgres backend has one.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// JobHistorian records one row per scheduled invocation.
type JobHistorian interface {
	Start(ctx context.Context, jobType, runID string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, jobErr error) error
}

// App is the wired service.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Engine *reminder.Engine

	// RequestMetrics is handed to core.Server. It is metrics.Nop unless
	// METRICS_ENABLED is set.
	RequestMetrics core.MetricsCollector
	Probes         []core.HealthProbe

	// Locks and History are nil for the sqlite and memory backends.
	Locks   JobLocker
	History JobHistorian

	closers []func(ctx context.Context) error
}

// Deps lets tests and the CLI override pieces of the wiring.
type Deps struct {
	// Mailers replaces the provider selected by EMAIL_PROVIDER.
	Mailers reminder.MailerFactory
	// AWSConfig replaces the default AWS config loader.
	AWSConfig func(ctx context.Context) (aws.Config, error)
	// Clock pins the engine and the store clocks.
	Clock types.Clock
}

// NewLogger creates a JSON slog.Logger on stdout for the given level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// logStore is what every storage backend offers.
type logStore interface {
	reminder.PlannerRepository
	reminder.ReminderLog
}

// New wires the App. On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = NewLogger(cfg.LogLevel)
	}
	a := &App{Config: cfg, Logger: logger, RequestMetrics: metrics.Nop{}}

	fail := func(err error) (*App, error) {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
		return nil, err
	}

	store, err := a.openStore(ctx, deps.Clock)
	if err != nil {
		return fail(err)
	}

	var ledger reminder.ReminderLog = store
	if cfg.Ledger.Backend == config.LedgerRedis {
		client := redisledger.NewClient(cfg.Ledger)
		rl := redisledger.New(client, cfg.Ledger.KeyTTL)
		if deps.Clock != nil {
			rl.WithClock(deps.Clock)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		a.Probes = append(a.Probes, core.Probe("redis", rl.Ping))
		ledger = rl
	}

	awsLoader := deps.AWSConfig
	if awsLoader == nil {
		awsLoader = a.loadAWSConfig
	}

	mailers := deps.Mailers
	if mailers == nil {
		mailers = a.mailerFactory(awsLoader)
	}

	var runMetrics reminder.RunMetrics = metrics.Nop{}
	if cfg.Observability.MetricsEnabled {
		awsCfg, err := awsLoader(ctx)
		if err != nil {
			return fail(fmt.Errorf("loading AWS config for metrics: %w", err))
		}
		cw := metrics.NewCloudWatch(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, types.NewSlogAdapter(logger))
		runMetrics = cw
		a.RequestMetrics = cw
	}

	engine, err := reminder.NewEngine(reminder.EngineConfig{
		Sender:      cfg.Email.Sender(),
		Concurrency: cfg.Reminder.Concurrency,
		ClaimTTL:    cfg.Reminder.ClaimTTL,
	}, logger, store, ledger, mailers, runMetrics)
	if err != nil {
		return fail(err)
	}
	if deps.Clock != nil {
		engine.Clock = deps.Clock
	}
	a.Engine = engine

	logger.Info("reminder service wired",
		"storage", cfg.Storage.Backend,
		"ledger", cfg.Ledger.Backend,
		"email_provider", cfg.Email.Provider,
		"metrics", cfg.Observability.MetricsEnabled,
	)
	return a, nil
}

// postgresStore joins the two Postgres repositories into one logStore.
type postgresStore struct {
	*db.PlannerRepository
	*db.ReminderLogRepository
}

func (a *App) openStore(ctx context.Context, clock types.Clock) (logStore, error) {
	cfg := a.Config.Storage

	var seed *types.SeedFile
	if cfg.SeedFile != "" {
		s, err := types.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		seed = s
	}

	switch cfg.Backend {
	case config.StorageMemory:
		st := memstore.New()
		if seed != nil {
			st = memstore.FromSeed(seed)
		}
		if clock != nil {
			st.WithClock(clock)
		}
		a.Probes = append(a.Probes, core.Probe("store", st.Ping))
		return st, nil

	case config.StorageSQLite:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return st.Close() })
		if seed != nil {
			if err := st.ImportSeed(ctx, seed); err != nil {
				return nil, err
			}
		}
		if clock != nil {
			st.WithClock(clock)
		}
		a.Probes = append(a.Probes, core.Probe("database", st.Ping))
		return st, nil

	default:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { pool.Close(); return nil })
		if seed != nil {
			if err := db.EnsureSchema(ctx, pool); err != nil {
				return nil, err
			}
			if err := db.ImportSeed(ctx, pool, seed); err != nil {
				return nil, err
			}
		}
		ledger := db.NewReminderLogRepository(pool)
		if clock != nil {
			ledger.WithClock(clock)
		}
		a.Locks = db.NewJobLockRepository(pool)
		a.History = db.NewJobHistoryRepository(pool)
		a.Probes = append(a.Probes, core.Probe("database", pool.Ping))
		return postgresStore{db.NewPlannerRepository(pool), ledger}, nil
	}
}

func (a *App) loadAWSConfig(ctx context.Context) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.Config.AWS.Region))
	if err != nil {
		return aws.Config{}, err
	}
	if a.Config.AWS.EndpointURL != "" {
		cfg.BaseEndpoint = aws.String(a.Config.AWS.EndpointURL)
	}
	return cfg, nil
}

// mailerFactory builds a fresh provider per run so rotated credentials are
// picked up without a restart.
func (a *App) mailerFactory(awsLoader func(ctx context.Context) (aws.Config, error)) reminder.MailerFactory {
	httpClient := &http.Client{Timeout: 15 * time.Second}
	return func(ctx context.Context) (reminder.Mailer, error) {
		return external.NewEmailProvider(ctx, a.Config.Email, external.ProviderDeps{
			HTTPClient: httpClient,
			AWSConfig:  awsLoader,
			Logger:     a.Logger,
		})
	}
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
