package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"mealreminder/internal/types"
)

// JobName is the gocron job name of the reminder pass.
const JobName = "meal-reminders"

// WorkerConfig tunes the in-process worker.
type WorkerConfig struct {
	Interval    time.Duration // Default: 1m
	RunTimeout  time.Duration // Default: Interval minus 5s, floored at Interval/2
	LeadMinutes int
	// AlignToMinute delays the first run to the next wall-clock minute so
	// every tick lands early in its minute.
	AlignToMinute bool
}

// Worker runs the reminder pass on a fixed interval. Runs never overlap:
// a tick that fires while the previous run is still going is skipped.
type Worker struct {
	runner Runner
	cfg    WorkerConfig
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	sched  gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker builds a stopped worker.
func NewWorker(runner Runner, cfg WorkerConfig, logger *slog.Logger) (*Worker, error) {
	if runner == nil {
		return nil, errors.New("scheduler: runner is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = cfg.Interval - 5*time.Second
		if cfg.RunTimeout < cfg.Interval/2 {
			cfg.RunTimeout = cfg.Interval / 2
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{runner: runner, cfg: cfg, logger: logger, now: time.Now}, nil
}

// Start schedules the job and returns immediately. Cancelling ctx cancels an
// in-flight run; call Stop to release the scheduler.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sched != nil {
		return errors.New("scheduler: worker already started")
	}

	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(w.logger),
		gocron.WithStopTimeout(w.cfg.RunTimeout+5*time.Second),
	)
	if err != nil {
		return err
	}

	w.ctx, w.cancel = context.WithCancel(ctx)

	start := gocron.WithStartImmediately()
	if w.cfg.AlignToMinute {
		start = gocron.WithStartDateTime(w.now().UTC().Truncate(time.Minute).Add(time.Minute))
	}

	_, err = s.NewJob(
		gocron.DurationJob(w.cfg.Interval),
		gocron.NewTask(w.tick),
		gocron.WithName(JobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(start),
	)
	if err != nil {
		w.cancel()
		_ = s.Shutdown()
		return err
	}

	s.Start()
	w.sched = s
	w.logger.Info("reminder worker started",
		"interval", w.cfg.Interval.String(),
		"run_timeout", w.cfg.RunTimeout.String(),
		"align_to_minute", w.cfg.AlignToMinute,
	)
	return nil
}

// Stop cancels any in-flight run and waits for the scheduler to drain.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sched == nil {
		return nil
	}
	w.cancel()
	err := w.sched.Shutdown()
	w.sched = nil
	w.logger.Info("reminder worker stopped")
	return err
}

func (w *Worker) tick() {
	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.RunTimeout)
	defer cancel()

	report, err := w.runner.Run(ctx, types.RunOptions{
		LeadMinutes: w.cfg.LeadMinutes,
		Trigger:     "worker",
	})
	if err != nil {
		w.logger.Error("scheduled reminder run failed", "error", err)
		return
	}
	if report != nil && report.Summary.Sent > 0 {
		w.logger.Info("scheduled reminder run sent reminders",
			"run_id", report.RunID,
			"sent", report.Summary.Sent,
			"errors", report.Summary.Errors,
		)
	}
}
