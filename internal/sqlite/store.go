// Package sqlite is a single-file planner store and reminder ledger for
// single-node deployments and local development. It uses the pure-Go
// modernc.org/sqlite driver, so no cgo toolchain is needed.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "modernc.org/sqlite"

	"mealreminder/internal/types"
)

//go:embed schema.sql
var schemaSQL string

// Store implements reminder.PlannerRepository and reminder.ReminderLog.
type Store struct {
	db    *sql.DB
	clock types.Clock
}

// Open opens (creating if needed) the database at path and applies the schema.
// A single connection is used: it serializes writers, which is what makes the
// claim upsert exclusive, and keeps ":memory:" databases shared.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to open sqlite database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to apply sqlite schema", err)
	}
	return &Store{db: db, clock: types.RealClock{}}, nil
}

// WithClock overrides the clock used for claim expiry checks.
func (s *Store) WithClock(c types.Clock) *Store {
	s.clock = c
	return s
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------- planners ---------------------------------------------------------

// ListAllPlanners returns every planner with defaults applied.
func (s *Store) ListAllPlanners(ctx context.Context) ([]types.PlannerConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, time_zone, reminder_enabled, reminder_times, planner, owner_email
		FROM meal_planners
		ORDER BY owner_id`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query planners", err)
	}
	defer rows.Close()

	var planners []types.PlannerConfig
	for rows.Next() {
		var (
			doc         types.PlannerDocument
			enabled     sql.NullBool
			timesJSON   sql.NullString
			plannerJSON sql.NullString
		)
		if err := rows.Scan(&doc.OwnerID, &doc.TimeZone, &enabled, &timesJSON, &plannerJSON, &doc.OwnerEmail); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan planner row", err)
		}
		if enabled.Valid {
			doc.ReminderEnabled = &enabled.Bool
		}
		if timesJSON.Valid {
			doc.ReminderTimes = types.DecodeReminderTimes([]byte(timesJSON.String))
		}
		if plannerJSON.Valid {
			doc.Planner = types.DecodeWeeklyPlan([]byte(plannerJSON.String))
		}
		planners = append(planners, doc.Normalize())
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating planner rows", err)
	}
	return planners, nil
}

// ResolveEmail returns the cached planner email or the user's first usable
// address. An unknown user yields "".
func (s *Store) ResolveEmail(ctx context.Context, ownerID string, planner types.PlannerConfig) (string, error) {
	if cached := planner.CachedEmail(); cached != "" {
		return cached, nil
	}
	var u types.UserRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, profile_email, auth_email FROM users WHERE id = ?`, ownerID,
	).Scan(&u.ID, &u.Email, &u.ProfileEmail, &u.AuthEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to look up user email", err)
	}
	return types.ResolveRecipient(planner, &u), nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertPlanner creates or replaces a planner document.
func (s *Store) UpsertPlanner(ctx context.Context, doc types.PlannerDocument) error {
	return upsertPlanner(ctx, s.db, doc)
}

// UpsertUser creates or replaces a user's email fields.
func (s *Store) UpsertUser(ctx context.Context, u types.UserDocument) error {
	return upsertUser(ctx, s.db, u)
}

// ImportSeed loads a seed fixture in one transaction.
func (s *Store) ImportSeed(ctx context.Context, seed *types.SeedFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin seed transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, u := range seed.Users {
		if err := upsertUser(ctx, tx, u); err != nil {
			return err
		}
	}
	for _, p := range seed.Planners {
		if err := upsertPlanner(ctx, tx, p); err != nil {
			return fmt.Errorf("seeding planner %s: %w", p.OwnerID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit seed transaction", err)
	}
	return nil
}

func upsertPlanner(ctx context.Context, ex execer, doc types.PlannerDocument) error {
	times, err := doc.ReminderTimes.Value()
	if err != nil {
		return fmt.Errorf("encoding reminder times: %w", err)
	}
	plan, err := doc.Planner.Value()
	if err != nil {
		return fmt.Errorf("encoding planner: %w", err)
	}
	var enabled sql.NullBool
	if doc.ReminderEnabled != nil {
		enabled = sql.NullBool{Bool: *doc.ReminderEnabled, Valid: true}
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO meal_planners (owner_id, time_zone, reminder_enabled, reminder_times, planner, owner_email)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			time_zone = excluded.time_zone,
			reminder_enabled = excluded.reminder_enabled,
			reminder_times = excluded.reminder_times,
			planner = excluded.planner,
			owner_email = excluded.owner_email`,
		doc.OwnerID, doc.TimeZone, enabled, string(times.([]byte)), string(plan.([]byte)), doc.OwnerEmail,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert planner", err)
	}
	return nil
}

func upsertUser(ctx context.Context, ex execer, u types.UserDocument) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO users (id, email, profile_email, auth_email)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			profile_email = excluded.profile_email,
			auth_email = excluded.auth_email`,
		u.ID, u.Email, u.Profile.Email, u.Auth.Email,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert user", err)
	}
	return nil
}

// ---------- reminder log -----------------------------------------------------

// Exists reports whether a sent entry or an unexpired pending claim exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reminder_logs
		WHERE id = ? AND (status = 'sent' OR expires_at > ?)`,
		key, s.clock.Now().UnixMilli(),
	).Scan(&n)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check reminder log", err)
	}
	return n > 0, nil
}

// Claim inserts a pending entry, taking over a pending entry whose claim has
// expired. Returns false when another run holds the key or it is already sent.
func (s *Store) Claim(ctx context.Context, entry types.ReminderLogEntry, ttl time.Duration) (bool, error) {
	claimedAt := entry.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = s.clock.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reminder_logs
			(id, owner_id, date_key, meal_slot, meal_name, recipient_email, time_zone, status, claimed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			meal_name = excluded.meal_name,
			recipient_email = excluded.recipient_email,
			time_zone = excluded.time_zone,
			claimed_at = excluded.claimed_at,
			expires_at = excluded.expires_at
		WHERE reminder_logs.status = 'pending' AND reminder_logs.expires_at < excluded.claimed_at`,
		entry.Key(), entry.OwnerID, entry.DateKey, string(entry.MealSlot), entry.MealName,
		entry.RecipientEmail, entry.TimeZone, claimedAt.UnixMilli(), claimedAt.Add(ttl).UnixMilli(),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim reminder", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to read claim result", err)
	}
	return n > 0, nil
}

// Confirm marks a pending entry sent, inserting it if the claim vanished.
func (s *Store) Confirm(ctx context.Context, entry types.ReminderLogEntry) error {
	return s.writeSent(ctx, entry, `WHERE reminder_logs.status = 'pending'`, "failed to confirm reminder")
}

// Overwrite creates or replaces the entry as sent.
func (s *Store) Overwrite(ctx context.Context, entry types.ReminderLogEntry) error {
	return s.writeSent(ctx, entry, "", "failed to overwrite reminder log")
}

func (s *Store) writeSent(ctx context.Context, entry types.ReminderLogEntry, where, failMsg string) error {
	sentAt := entry.SentAt
	if sentAt.IsZero() {
		sentAt = s.clock.Now()
	}
	claimedAt := entry.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = sentAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminder_logs
			(id, owner_id, date_key, meal_slot, meal_name, recipient_email, time_zone, status, message_id, claimed_at, expires_at, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'sent', ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = 'sent',
			meal_name = excluded.meal_name,
			recipient_email = excluded.recipient_email,
			time_zone = excluded.time_zone,
			message_id = excluded.message_id,
			sent_at = excluded.sent_at
		`+where,
		entry.Key(), entry.OwnerID, entry.DateKey, string(entry.MealSlot), entry.MealName,
		entry.RecipientEmail, entry.TimeZone, entry.MessageID,
		claimedAt.UnixMilli(), sentAt.UnixMilli(), sentAt.UnixMilli(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, failMsg, err)
	}
	return nil
}

// Release deletes a pending claim; sent entries are kept.
func (s *Store) Release(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reminder_logs WHERE id = ? AND status = 'pending'`, key); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release reminder claim", err)
	}
	return nil
}

// Get returns the entry under key, or nil.
func (s *Store) Get(ctx context.Context, key string) (*types.ReminderLogEntry, error) {
	var (
		e         types.ReminderLogEntry
		slot      string
		status    string
		claimedMs int64
		sentMs    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, date_key, meal_slot, meal_name, recipient_email, time_zone,
		       status, message_id, claimed_at, sent_at
		FROM reminder_logs WHERE id = ?`, key,
	).Scan(&e.OwnerID, &e.DateKey, &slot, &e.MealName, &e.RecipientEmail, &e.TimeZone,
		&status, &e.MessageID, &claimedMs, &sentMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read reminder log", err)
	}
	e.MealSlot = types.MealSlot(slot)
	e.Status = types.LogStatus(status)
	e.ClaimedAt = time.UnixMilli(claimedMs).UTC()
	if sentMs.Valid {
		e.SentAt = time.UnixMilli(sentMs.Int64).UTC()
	}
	return &e, nil
}
