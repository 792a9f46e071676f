// Package main is the entrypoint for the reminder cron Lambda.
//
// An EventBridge rule invokes the function once a minute with an empty detail.
// The handler takes the per-minute job lock, records a job_history row, runs
// one reminder pass and logs the summary. Other detail payloads select the
// lock maintenance task or replay a past minute (see scheduler.Payload).
//
// With APP_ENV=local the function reads one event from stdin instead of
// starting the Lambda runtime:
//
//	echo '{"detail":{"task":"send_reminders","dryRun":true}}' | go run ./cmd/reminder-cron
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"

	"mealreminder/internal/app"
	"mealreminder/internal/config"
	"mealreminder/internal/db"
	"mealreminder/internal/scheduler"
)

const (
	// reminderLockTTL covers one run (REMINDER_RUN_TIMEOUT) with margin.
	reminderLockTTL = 2 * time.Minute

	// purgeLockTTL guards the hourly maintenance task.
	purgeLockTTL = 15 * time.Minute
)

// JobLocker abstracts the distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType, runID string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Handler holds the dependencies of the cron Lambda. JobLock and JobHistory
// are optional; without them every invocation runs.
type Handler struct {
	// RunnerAt returns a reminder runner whose clock reads now.
	RunnerAt    func(now time.Time) scheduler.Runner
	Purger      *scheduler.LockPurger
	JobLock     JobLocker
	JobHistory  JobHistorian
	WorkerID    string
	LeadMinutes int
	RunTimeout  time.Duration
	Logger      *slog.Logger

	now func() time.Time
}

// DecodePayload reads the scheduler payload from an EventBridge detail. An
// empty detail is a plain scheduled tick.
func DecodePayload(detail json.RawMessage) (scheduler.Payload, error) {
	var p scheduler.Payload
	trimmed := bytes.TrimSpace(detail)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return p, fmt.Errorf("decoding event detail: %w", err)
		}
	}
	if p.Task == "" {
		p.Task = scheduler.TaskSendReminders
	}
	return p, nil
}

// Handle processes one EventBridge event.
//
//  1. Decode the payload and determine the reference time.
//  2. Acquire the lock "<task>:<UTC minute>" (hour for maintenance).
//  3. Record job start in job_history.
//  4. Dispatch the task.
//  5. Record job completion with status and item count.
func (h *Handler) Handle(ctx context.Context, event events.CloudWatchEvent) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	payload, err := DecodePayload(event.Detail)
	if err != nil {
		logger.ErrorContext(ctx, "invalid cron event", "event_id", event.ID, "error", err)
		return "", err
	}

	clock := h.now
	if clock == nil {
		clock = time.Now
	}
	now := clock().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.InfoContext(ctx, "reminder cron invoked",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"replay", payload.ReferenceTime != nil,
		"worker_id", h.WorkerID,
	)

	lockID, ttl, err := lockFor(payload.Task, now)
	if err != nil {
		return "", err
	}

	if h.JobLock != nil {
		acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, ttl)
		if err != nil {
			logger.ErrorContext(ctx, "failed to acquire job lock", "lock_id", lockID, "error", err)
			return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
		}
		if !acquired {
			logger.InfoContext(ctx, "job lock not acquired, another invocation is processing", "lock_id", lockID)
			return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
		}
	}

	var jobID int64
	if h.JobHistory != nil {
		jobID, err = h.JobHistory.Start(ctx, taskStr, invocationID(ctx))
		if err != nil {
			// History is for visibility only; the run still happens.
			logger.ErrorContext(ctx, "failed to start job history", "task", taskStr, "error", err)
			jobID = 0
		}
	}

	items, execErr := h.dispatch(ctx, payload, now)

	status := db.JobStatusSuccess
	if execErr != nil {
		status = db.JobStatusFailed
	}
	if jobID != 0 {
		if finishErr := h.JobHistory.Finish(ctx, jobID, status, items, execErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history", "job_id", jobID, "error", finishErr)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "task execution failed", "task", taskStr, "error", execErr)
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", taskStr, items)
	logger.InfoContext(ctx, result, "task", taskStr, "items", items)
	return result, nil
}

func lockFor(task scheduler.TaskType, now time.Time) (string, time.Duration, error) {
	switch task {
	case scheduler.TaskSendReminders:
		return "reminders:" + now.Truncate(time.Minute).Format("2006-01-02T15:04"), reminderLockTTL, nil
	case scheduler.TaskPurgeLocks:
		return string(task) + ":" + now.Truncate(time.Hour).Format("2006-01-02T15"), purgeLockTTL, nil
	default:
		return "", 0, fmt.Errorf("unknown task type: %q", task)
	}
}

// dispatch runs the task and returns the number of items it handled:
// reminders sent, or locks purged.
func (h *Handler) dispatch(ctx context.Context, payload scheduler.Payload, now time.Time) (int, error) {
	switch payload.Task {
	case scheduler.TaskSendReminders:
		if h.RunnerAt == nil {
			return 0, fmt.Errorf("reminder runner not configured")
		}
		runCtx := ctx
		if h.RunTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, h.RunTimeout)
			defer cancel()
		}
		report, err := h.RunnerAt(now).Run(runCtx, payload.Options("cron", h.LeadMinutes))
		if report == nil {
			return 0, err
		}
		return report.Summary.Sent, err

	case scheduler.TaskPurgeLocks:
		if h.Purger == nil || h.Purger.Store == nil {
			return 0, fmt.Errorf("lock purge requires the postgres storage backend")
		}
		return h.Purger.Purge(ctx, now)

	default:
		return 0, fmt.Errorf("unknown task type: %q", payload.Task)
	}
}

// invocationID is the Lambda request ID, or a fresh UUID outside Lambda.
func invocationID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.NewString()
}

func main() {
	logger := app.NewLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("reminder cron initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = app.NewLogger(cfg.LogLevel).With("service", cfg.Service, "version", cfg.Build.Version)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger, app.Deps{})
	if err != nil {
		logger.Error("failed to wire reminder service", "error", err)
		os.Exit(1)
	}

	handler := &Handler{
		RunnerAt:    func(now time.Time) scheduler.Runner { return a.Engine.At(now) },
		WorkerID:    uuid.NewString(),
		LeadMinutes: cfg.Reminder.LeadMinutes,
		RunTimeout:  cfg.Reminder.RunTimeout,
		Logger:      logger,
	}
	// Interface fields stay nil (not typed-nil) for backends without locks.
	if a.Locks != nil {
		handler.JobLock = a.Locks
		handler.Purger = &scheduler.LockPurger{Store: a.Locks, Logger: logger}
	}
	if a.History != nil {
		handler.JobHistory = a.History
	}

	logger.Info("reminder cron initialized",
		"worker_id", handler.WorkerID,
		"storage", cfg.Storage.Backend,
		"locking", handler.JobLock != nil,
	)

	if cfg.IsLocal() {
		logger.Info("APP_ENV=local: reading event from stdin")
		code := runLocal(ctx, handler, os.Stdin, os.Stdout, logger)
		_ = a.Close(ctx)
		os.Exit(code)
	}

	lambda.Start(handler.Handle)
}

// runLocal feeds one event from r to the handler and writes the result to w.
// Empty input is treated as a scheduled tick.
func runLocal(ctx context.Context, h *Handler, r io.Reader, w io.Writer, logger *slog.Logger) int {
	raw, err := io.ReadAll(r)
	if err != nil {
		logger.Error("failed to read stdin", "error", err)
		return 1
	}
	var event events.CloudWatchEvent
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &event); err != nil {
			logger.Error("failed to parse stdin as a CloudWatch event", "error", err)
			return 1
		}
	}
	result, err := h.Handle(ctx, event)
	if err != nil {
		logger.Error("handler execution failed", "error", err)
		return 1
	}
	fmt.Fprintln(w, result)
	return 0
}
