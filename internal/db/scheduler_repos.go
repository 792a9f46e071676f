package db

import (
	"context"
	"time"

	"mealreminder/internal/types"
)

// Job history statuses.
const (
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusFailed  = "failed"
)

// ============================================================
// JobLockRepository
// ============================================================

// JobLockRepository provides distributed locking via the job_locks table so
// that overlapping scheduled invocations do not run the same minute twice.
type JobLockRepository struct {
	db  DBTX
	now func() time.Time
}

// NewJobLockRepository creates a new JobLockRepository backed by the given
// database connection (pool or transaction).
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db, now: time.Now}
}

// Acquire attempts to insert a lock row. Returns true if acquired, false if
// the lock already exists and has not expired. The lockID is
// "reminders:<UTC minute>" (e.g. "reminders:2026-10-14T18:30").
//
// SQL pattern:
//
//	INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
//	VALUES ($1, $2, $3, $4)
//	ON CONFLICT (id) DO UPDATE
//	  SET worker_id = EXCLUDED.worker_id,
//	      locked_at = EXCLUDED.locked_at,
//	      expires_at = EXCLUDED.expires_at
//	  WHERE job_locks.expires_at < $3
//
// Timestamps are computed in Go; a Go duration string is not a valid
// PostgreSQL interval.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := r.now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}

	// 1 when inserted or an expired lock was reclaimed; 0 when held elsewhere.
	return tag.RowsAffected() > 0, nil
}

// Purge removes lock rows that expired before cutoff. Per-minute lock ids
// accumulate otherwise.
func (r *JobLockRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM job_locks WHERE expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge job locks", err)
	}
	return tag.RowsAffected(), nil
}

// ============================================================
// JobHistoryRepository
// ============================================================

// JobHistoryRepository records one job_history row per reminder run for
// operational visibility.
type JobHistoryRepository struct {
	db DBTX
}

// NewJobHistoryRepository creates a new JobHistoryRepository.
func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start inserts a 'running' row and returns its BIGSERIAL id.
func (r *JobHistoryRepository) Start(ctx context.Context, jobType, runID string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_type, run_id, started_at, status)
		 VALUES ($1, NULLIF($2::text, ''), NOW(), $3)
		 RETURNING id`,
		jobType,
		runID,
		JobStatusRunning,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish records the final status, the number of reminders sent and the
// error message when jobErr is non-nil.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status string, items int, jobErr error) error {
	var errMsg *string
	if jobErr != nil {
		s := jobErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET finished_at = NOW(), status = $2, items_count = $3, error = $4
		 WHERE id = $1`,
		id,
		status,
		items,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job history entry not found", nil)
	}
	return nil
}
