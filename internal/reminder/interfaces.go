// Package reminder implements the meal reminder engine: it resolves each
// planner's local time, matches meal slots whose reminder instant is the
// current minute, deduplicates through the reminder log and drives delivery.
//
// The engine holds no state between runs. Hosts (Lambda, HTTP trigger,
// in-process worker, CLI) call Engine.Run once per tick.
package reminder

import (
	"context"
	"time"

	"mealreminder/internal/types"
)

// PlannerRepository reads planner documents and user profiles.
type PlannerRepository interface {
	// ListAllPlanners returns every planner with defaults applied.
	ListAllPlanners(ctx context.Context) ([]types.PlannerConfig, error)

	// ResolveEmail returns the recipient for ownerID, or "" when none is known.
	ResolveEmail(ctx context.Context, ownerID string, planner types.PlannerConfig) (string, error)
}

// ReminderLog is the idempotency ledger keyed by types.DedupKey.
//
// Claim must be an atomic create-if-absent: when two runs claim the same key
// exactly one gets true. A pending claim older than ttl may be reclaimed.
type ReminderLog interface {
	// Exists reports whether a sent entry or a live pending claim exists.
	Exists(ctx context.Context, key string) (bool, error)
	// Claim records a pending entry if none exists.
	Claim(ctx context.Context, entry types.ReminderLogEntry, ttl time.Duration) (bool, error)
	// Confirm marks a claimed entry as sent.
	Confirm(ctx context.Context, entry types.ReminderLogEntry) error
	// Release drops a pending claim after a failed send. Sent entries are kept.
	Release(ctx context.Context, key string) error
	// Overwrite creates or replaces a sent entry (force mode).
	Overwrite(ctx context.Context, entry types.ReminderLogEntry) error
}

// Mailer is the per-run mail transport.
type Mailer interface {
	// Verify checks credentials and connectivity before the first send.
	Verify(ctx context.Context) error
	// Send delivers one message and returns the provider message ID.
	Send(ctx context.Context, input types.SendInput) (string, error)
}

// MailerFactory builds a fresh Mailer for each run. Missing credentials are
// reported here.
type MailerFactory func(ctx context.Context) (Mailer, error)

// RunMetrics publishes the outcome of a run.
type RunMetrics interface {
	RecordRun(ctx context.Context, report *types.RunReport)
}

// NopMetrics discards run metrics.
type NopMetrics struct{}

// RecordRun does nothing.
func (NopMetrics) RecordRun(context.Context, *types.RunReport) {}
