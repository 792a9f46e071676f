package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"mealreminder/internal/types"
)

// ReminderLogRepository implements the reminder ledger on the reminder_logs
// table. The row id is the dedup key, so the primary key constraint is what
// makes Claim atomic across concurrent runs.
type ReminderLogRepository struct {
	db    DBTX
	clock types.Clock
}

// NewReminderLogRepository creates a new ReminderLogRepository.
func NewReminderLogRepository(db DBTX) *ReminderLogRepository {
	return &ReminderLogRepository{db: db, clock: types.RealClock{}}
}

// WithClock overrides the clock used to judge claim expiry in Exists.
func (r *ReminderLogRepository) WithClock(c types.Clock) *ReminderLogRepository {
	r.clock = c
	return r
}

// Exists reports whether a sent entry or an unexpired pending claim exists.
func (r *ReminderLogRepository) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM reminder_logs
		   WHERE id = $1 AND (status = 'sent' OR expires_at > $2)
		 )`,
		key,
		r.clock.Now().UTC(),
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check reminder log", err)
	}
	return exists, nil
}

// Claim inserts a pending row for the entry's key. A pending row whose
// expires_at has passed is taken over; a sent row never is.
//
// SQL pattern:
//
//	INSERT ... ON CONFLICT (id) DO UPDATE ...
//	  WHERE reminder_logs.status = 'pending' AND reminder_logs.expires_at < $claimed_at
//
// RowsAffected is 1 when the caller owns the claim and 0 when another run does.
func (r *ReminderLogRepository) Claim(ctx context.Context, entry types.ReminderLogEntry, ttl time.Duration) (bool, error) {
	claimedAt := entry.ClaimedAt.UTC()
	if claimedAt.IsZero() {
		claimedAt = r.clock.Now().UTC()
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO reminder_logs
		   (id, owner_id, date_key, meal_slot, meal_name, recipient_email, time_zone, status, claimed_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $9)
		 ON CONFLICT (id) DO UPDATE
		   SET meal_name = EXCLUDED.meal_name,
		       recipient_email = EXCLUDED.recipient_email,
		       time_zone = EXCLUDED.time_zone,
		       claimed_at = EXCLUDED.claimed_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE reminder_logs.status = 'pending' AND reminder_logs.expires_at < $8`,
		entry.Key(),
		entry.OwnerID,
		entry.DateKey,
		string(entry.MealSlot),
		entry.MealName,
		entry.RecipientEmail,
		entry.TimeZone,
		claimedAt,
		claimedAt.Add(ttl),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim reminder", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Confirm marks the entry sent. A missing row is inserted as sent; an entry
// that is already sent is left untouched.
func (r *ReminderLogRepository) Confirm(ctx context.Context, entry types.ReminderLogEntry) error {
	return r.writeSent(ctx, entry, `WHERE reminder_logs.status = 'pending'`, "failed to confirm reminder")
}

// Overwrite creates or replaces the entry as sent regardless of its state.
func (r *ReminderLogRepository) Overwrite(ctx context.Context, entry types.ReminderLogEntry) error {
	return r.writeSent(ctx, entry, "", "failed to overwrite reminder log")
}

func (r *ReminderLogRepository) writeSent(ctx context.Context, entry types.ReminderLogEntry, where, failMsg string) error {
	sentAt := entry.SentAt.UTC()
	if sentAt.IsZero() {
		sentAt = r.clock.Now().UTC()
	}
	claimedAt := entry.ClaimedAt.UTC()
	if claimedAt.IsZero() {
		claimedAt = sentAt
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO reminder_logs
		   (id, owner_id, date_key, meal_slot, meal_name, recipient_email, time_zone, status, message_id, claimed_at, expires_at, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'sent', NULLIF($8::text, ''), $9, $10, $10)
		 ON CONFLICT (id) DO UPDATE
		   SET status = 'sent',
		       meal_name = EXCLUDED.meal_name,
		       recipient_email = EXCLUDED.recipient_email,
		       time_zone = EXCLUDED.time_zone,
		       message_id = EXCLUDED.message_id,
		       sent_at = EXCLUDED.sent_at
		   `+where,
		entry.Key(),
		entry.OwnerID,
		entry.DateKey,
		string(entry.MealSlot),
		entry.MealName,
		entry.RecipientEmail,
		entry.TimeZone,
		entry.MessageID,
		claimedAt,
		sentAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, failMsg, err)
	}
	return nil
}

// Release deletes a pending claim. Sent rows are never removed.
func (r *ReminderLogRepository) Release(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM reminder_logs WHERE id = $1 AND status = 'pending'`,
		key,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release reminder claim", err)
	}
	return nil
}

// Get returns the entry stored under key, or nil when absent. Used by the
// CLI to show ledger state.
func (r *ReminderLogRepository) Get(ctx context.Context, key string) (*types.ReminderLogEntry, error) {
	var (
		e      types.ReminderLogEntry
		slot   string
		status string
		sentAt *time.Time
	)
	err := r.db.QueryRow(ctx,
		`SELECT owner_id, date_key, meal_slot, meal_name, recipient_email, time_zone,
		        status, COALESCE(message_id, ''), claimed_at, sent_at
		 FROM reminder_logs
		 WHERE id = $1`,
		key,
	).Scan(&e.OwnerID, &e.DateKey, &slot, &e.MealName, &e.RecipientEmail, &e.TimeZone,
		&status, &e.MessageID, &e.ClaimedAt, &sentAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read reminder log", err)
	}
	e.MealSlot = types.MealSlot(slot)
	e.Status = types.LogStatus(status)
	if sentAt != nil {
		e.SentAt = *sentAt
	}
	return &e, nil
}
