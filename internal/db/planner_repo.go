package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"mealreminder/internal/types"
)

// PlannerRepository reads planner documents from meal_planners and recipient
// emails from users.
type PlannerRepository struct {
	db DBTX
}

// NewPlannerRepository creates a new PlannerRepository backed by the given
// database connection (pool or transaction).
func NewPlannerRepository(db DBTX) *PlannerRepository {
	return &PlannerRepository{db: db}
}

// ListAllPlanners returns every planner with defaults applied, ordered by
// owner so run reports are stable. JSONB columns are decoded tolerantly: a
// malformed day or slot is dropped rather than failing the whole run.
func (r *PlannerRepository) ListAllPlanners(ctx context.Context) ([]types.PlannerConfig, error) {
	rows, err := r.db.Query(ctx,
		`SELECT owner_id, COALESCE(time_zone, ''), reminder_enabled,
		        reminder_times, planner, COALESCE(owner_email, '')
		 FROM meal_planners
		 ORDER BY owner_id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query planners", err)
	}
	defer rows.Close()

	var planners []types.PlannerConfig
	for rows.Next() {
		var (
			doc         types.PlannerDocument
			enabled     *bool
			timesJSON   []byte
			plannerJSON []byte
		)
		if err := rows.Scan(&doc.OwnerID, &doc.TimeZone, &enabled, &timesJSON, &plannerJSON, &doc.OwnerEmail); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan planner row", err)
		}
		doc.ReminderEnabled = enabled
		if len(timesJSON) > 0 {
			doc.ReminderTimes = types.DecodeReminderTimes(timesJSON)
		}
		if len(plannerJSON) > 0 {
			doc.Planner = types.DecodeWeeklyPlan(plannerJSON)
		}
		planners = append(planners, doc.Normalize())
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating planner rows", err)
	}
	return planners, nil
}

// ResolveEmail returns the recipient for ownerID. The planner's cached email
// wins; otherwise the users row is consulted. A missing user is not an error.
func (r *PlannerRepository) ResolveEmail(ctx context.Context, ownerID string, planner types.PlannerConfig) (string, error) {
	if cached := planner.CachedEmail(); cached != "" {
		return cached, nil
	}

	var user types.UserRecord
	err := r.db.QueryRow(ctx,
		`SELECT id, COALESCE(email, ''), COALESCE(profile->>'email', ''), COALESCE(auth->>'email', '')
		 FROM users
		 WHERE id = $1`,
		ownerID,
	).Scan(&user.ID, &user.Email, &user.ProfileEmail, &user.AuthEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to look up user email", err)
	}
	return types.ResolveRecipient(planner, &user), nil
}

// UpsertPlanner creates or replaces a planner document.
func (r *PlannerRepository) UpsertPlanner(ctx context.Context, doc types.PlannerDocument) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO meal_planners (owner_id, time_zone, reminder_enabled, reminder_times, planner, owner_email, updated_at)
		 VALUES ($1, NULLIF($2::text, ''), $3, $4, $5, NULLIF($6::text, ''), NOW())
		 ON CONFLICT (owner_id) DO UPDATE
		   SET time_zone = EXCLUDED.time_zone,
		       reminder_enabled = EXCLUDED.reminder_enabled,
		       reminder_times = EXCLUDED.reminder_times,
		       planner = EXCLUDED.planner,
		       owner_email = EXCLUDED.owner_email,
		       updated_at = NOW()`,
		doc.OwnerID,
		doc.TimeZone,
		doc.ReminderEnabled,
		doc.ReminderTimes,
		doc.Planner,
		doc.OwnerEmail,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert planner", err)
	}
	return nil
}

// UpsertUser creates or replaces the email-bearing fields of a user.
func (r *PlannerRepository) UpsertUser(ctx context.Context, user types.UserDocument) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, email, profile, auth)
		 VALUES ($1, NULLIF($2::text, ''), jsonb_strip_nulls(jsonb_build_object('email', NULLIF($3::text, ''))),
		         jsonb_strip_nulls(jsonb_build_object('email', NULLIF($4::text, ''))))
		 ON CONFLICT (id) DO UPDATE
		   SET email = EXCLUDED.email,
		       profile = users.profile || EXCLUDED.profile,
		       auth = users.auth || EXCLUDED.auth`,
		user.ID,
		user.Email,
		user.Profile.Email,
		user.Auth.Email,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert user", err)
	}
	return nil
}
