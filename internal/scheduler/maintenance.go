package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// DefaultLockRetention keeps a day of per-minute locks for debugging
// overlapping invocations.
const DefaultLockRetention = 24 * time.Hour

// LockStore deletes job locks that expired before cutoff.
type LockStore interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockPurger bounds the job_locks table. Every cron minute inserts one row,
// so without it the table grows by 1440 rows a day.
type LockPurger struct {
	Store     LockStore
	Retention time.Duration
	Logger    *slog.Logger
}

// Purge removes locks older than now minus the retention window and returns
// how many were deleted.
func (p *LockPurger) Purge(ctx context.Context, now time.Time) (int, error) {
	retention := p.Retention
	if retention <= 0 {
		retention = DefaultLockRetention
	}
	cutoff := now.UTC().Add(-retention)

	n, err := p.Store.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if p.Logger != nil {
		p.Logger.InfoContext(ctx, "purged job locks", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return int(n), nil
}
