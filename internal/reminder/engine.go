package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mealreminder/internal/types"
)

const (
	// DefaultConcurrency bounds the number of planners evaluated at once.
	DefaultConcurrency = 4
	// DefaultClaimTTL is how long a pending claim blocks other runs before it
	// is treated as abandoned.
	DefaultClaimTTL = 5 * time.Minute
)

// EngineConfig holds the tunables of the reminder engine.
type EngineConfig struct {
	Sender      types.SenderIdentity
	Concurrency int           // Default: 4
	ClaimTTL    time.Duration // Default: 5m
}

// Engine runs reminder passes over every planner.
type Engine struct {
	Config   EngineConfig
	Log      *slog.Logger
	Planners PlannerRepository
	Ledger   ReminderLog
	Mailers  MailerFactory
	Renderer *Renderer
	Metrics  RunMetrics
	Clock    types.Clock
}

// NewEngine wires an Engine and applies defaults for unset fields.
func NewEngine(cfg EngineConfig, log *slog.Logger, planners PlannerRepository, ledger ReminderLog, mailers MailerFactory, metrics RunMetrics) (*Engine, error) {
	if planners == nil || ledger == nil || mailers == nil {
		return nil, errors.New("reminder: planners, ledger and mailer factory are required")
	}
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Engine{
		Config:   cfg,
		Log:      log,
		Planners: planners,
		Ledger:   ledger,
		Mailers:  mailers,
		Renderer: renderer,
		Metrics:  metrics,
		Clock:    types.RealClock{},
	}, nil
}

// At returns a copy of the engine whose clock is pinned to t. It is used to
// replay a past minute.
func (e *Engine) At(t time.Time) *Engine {
	cp := *e
	cp.Clock = types.FixedClock{T: t.UTC()}
	return &cp
}

// run carries the per-invocation state shared by planner workers.
type run struct {
	opts   types.RunOptions
	now    time.Time
	lead   int
	mailer Mailer
	log    *slog.Logger
}

// Run performs one reminder pass. The returned report is always non-nil.
// A non-nil error means the run could not proceed at all (mailer unusable or
// planners unreadable); per-slot failures are only counted in the summary.
func (e *Engine) Run(ctx context.Context, opts types.RunOptions) (*types.RunReport, error) {
	start := time.Now()
	now := e.Clock.Now().UTC().Truncate(time.Minute)

	runID := uuid.NewString()
	ctx = types.WithRunID(ctx, runID)
	log := e.Log.With("run_id", runID, "trigger", opts.Trigger)

	if opts.LeadMinutes < 1 {
		opts.LeadMinutes = types.DefaultLeadMinutes
	}

	report := &types.RunReport{
		RunID:   runID,
		RunAt:   now,
		Options: opts,
	}
	defer func() {
		report.DurationMs = time.Since(start).Milliseconds()
		e.Metrics.RecordRun(ctx, report)
	}()

	log.InfoContext(ctx, "Reminder run started",
		"run_at", now.Format(time.RFC3339),
		"dry_run", opts.DryRun,
		"force", opts.Force,
		"ignore_time_match", opts.IgnoreTimeMatch,
		"lead_minutes", opts.LeadMinutes,
	)

	mailer, err := e.Mailers(ctx)
	if err == nil {
		err = mailer.Verify(ctx)
	}
	if err != nil {
		report.Summary.Errors++
		log.ErrorContext(ctx, "Mail transport unavailable", "error", err)
		return report, err
	}

	planners, err := e.Planners.ListAllPlanners(ctx)
	if err != nil {
		report.Summary.Errors++
		log.ErrorContext(ctx, "Failed to list planners", "error", err)
		return report, fmt.Errorf("reminder: listing planners: %w", err)
	}
	if len(planners) == 0 {
		log.InfoContext(ctx, "No planners found")
		return report, nil
	}

	r := &run{opts: opts, now: now, lead: opts.LeadMinutes, mailer: mailer, log: log}

	var (
		mu      sync.Mutex
		users   = make([]types.UserReport, len(planners))
		summary types.RunSummary
	)

	// Workers never return errors: one failing planner must not cancel the rest.
	var g errgroup.Group
	g.SetLimit(e.Config.Concurrency)
	for i, planner := range planners {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			var local types.RunSummary
			user := e.evaluatePlanner(ctx, r, planner, &local)
			mu.Lock()
			users[i] = user
			mergeSummary(&summary, local)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Summary = summary
	if opts.Debug {
		report.Users = compactUsers(users)
	}

	log.InfoContext(ctx, "Reminder run finished",
		"users_checked", summary.UsersChecked,
		"matches", summary.Matches,
		"sent", summary.Sent,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
	)
	return report, nil
}

func (e *Engine) evaluatePlanner(ctx context.Context, r *run, planner types.PlannerConfig, summary *types.RunSummary) types.UserReport {
	summary.UsersChecked++

	lt := ResolveLocalTime(planner.TimeZone, r.now)
	user := types.UserReport{
		OwnerID:         planner.OwnerID,
		TimeZone:        lt.TimeZone,
		Weekday:         lt.Weekday,
		NowHHMM:         lt.HHMM,
		ReminderEnabled: planner.ReminderEnabled,
	}
	log := r.log.With("owner_id", planner.OwnerID)

	if !planner.ReminderEnabled {
		summary.Skipped++
		user.SkipReason = "reminders_disabled"
		return user
	}

	day, ok := planner.WeeklyPlan[lt.Weekday]
	if !ok || day == nil {
		summary.Skipped++
		user.SkipReason = "nothing_planned"
		return user
	}

	if r.opts.Debug {
		log.DebugContext(ctx, "Evaluating planner",
			"time_zone", lt.TimeZone,
			"weekday", lt.Weekday,
			"now", lt.HHMM,
		)
	}

	for _, slot := range types.MealSlots {
		slotReport := e.evaluateSlot(ctx, r, log, planner, lt, day, slot, summary)
		user.Slots = append(user.Slots, slotReport)
	}
	return user
}

func (e *Engine) evaluateSlot(
	ctx context.Context,
	r *run,
	log *slog.Logger,
	planner types.PlannerConfig,
	lt LocalTime,
	day types.DayPlan,
	slot types.MealSlot,
	summary *types.RunSummary,
) types.SlotReport {
	out := types.SlotReport{Slot: slot}

	meal, planned := day[slot]
	if !planned {
		summary.Skipped++
		out.Outcome = types.OutcomeNotPlanned
		return out
	}

	mealTime := planner.ReminderTimes[slot]
	if mealTime == "" {
		summary.Skipped++
		out.Outcome = types.OutcomeNoMealTime
		return out
	}
	out.MealTime = mealTime

	reminderAt, valid := ReminderTime(mealTime, r.lead)
	if !valid {
		summary.Skipped++
		out.Outcome = types.OutcomeBadMealTime
		log.WarnContext(ctx, "Invalid meal time", "slot", string(slot), "meal_time", mealTime)
		return out
	}
	out.ReminderTime = reminderAt

	if !r.opts.IgnoreTimeMatch && reminderAt != lt.HHMM {
		summary.Skipped++
		out.Outcome = types.OutcomeNotDue
		return out
	}
	summary.Matches++

	key := types.DedupKey(planner.OwnerID, lt.DateKey, slot)
	log = log.With("slot", string(slot), "key", key)

	if !r.opts.Force {
		exists, err := e.Ledger.Exists(ctx, key)
		if err != nil {
			summary.Errors++
			out.Outcome = types.OutcomeLogError
			log.ErrorContext(ctx, "Reminder log lookup failed", "error", err)
			return out
		}
		if exists {
			summary.Skipped++
			out.Outcome = types.OutcomeAlreadySent
			return out
		}
	}

	recipient, err := e.Planners.ResolveEmail(ctx, planner.OwnerID, planner)
	if err != nil {
		log.WarnContext(ctx, "Recipient lookup failed", "error", err)
		recipient = ""
	}
	if recipient == "" {
		summary.Skipped++
		out.Outcome = types.OutcomeNoRecipient
		log.WarnContext(ctx, "No recipient email for planner owner")
		return out
	}

	mealName := meal.DisplayName()

	if r.opts.DryRun {
		out.Outcome = types.OutcomeDryRun
		log.InfoContext(ctx, "Dry run: reminder would be sent",
			"to", types.RedactEmail(recipient),
			"meal", mealName,
			"reminder_time", reminderAt,
		)
		return out
	}

	msg, err := e.Renderer.Render(MessageData{
		MealName:     mealName,
		Slot:         slot,
		Weekday:      lt.Weekday,
		MealTime:     mealTime,
		ReminderTime: reminderAt,
	})
	if err != nil {
		summary.Errors++
		out.Outcome = types.OutcomeRenderError
		log.ErrorContext(ctx, "Failed to render reminder", "error", err)
		return out
	}

	entry := types.ReminderLogEntry{
		OwnerID:        planner.OwnerID,
		DateKey:        lt.DateKey,
		MealSlot:       slot,
		MealName:       mealName,
		RecipientEmail: recipient,
		TimeZone:       lt.TimeZone,
		Status:         types.LogStatusPending,
		ClaimedAt:      e.Clock.Now().UTC(),
	}

	if !r.opts.Force {
		claimed, err := e.Ledger.Claim(ctx, entry, e.Config.ClaimTTL)
		if err != nil {
			summary.Errors++
			out.Outcome = types.OutcomeLogError
			log.ErrorContext(ctx, "Failed to claim reminder", "error", err)
			return out
		}
		if !claimed {
			summary.Skipped++
			out.Outcome = types.OutcomeClaimLost
			log.InfoContext(ctx, "Reminder claimed by another run")
			return out
		}
	}

	messageID, err := r.mailer.Send(ctx, types.SendInput{
		To:          recipient,
		From:        e.Config.Sender,
		Subject:     msg.Subject,
		BodyHTML:    msg.HTML,
		BodyText:    msg.Text,
		ReferenceID: key,
	})
	if err != nil {
		summary.Errors++
		out.Outcome = types.OutcomeDeliveryError
		failure := SummarizeFailure(err)
		log.ErrorContext(ctx, "Failed to send reminder",
			"to", types.RedactEmail(recipient),
			"failure", failure,
		)
		if !r.opts.Force {
			if relErr := e.Ledger.Release(ctx, key); relErr != nil {
				log.ErrorContext(ctx, "Failed to release reminder claim", "error", relErr)
			}
		}
		return out
	}

	entry.Status = types.LogStatusSent
	entry.MessageID = messageID
	entry.SentAt = e.Clock.Now().UTC()

	var logErr error
	if r.opts.Force {
		logErr = e.Ledger.Overwrite(ctx, entry)
	} else {
		logErr = e.Ledger.Confirm(ctx, entry)
	}
	if logErr != nil {
		log.ErrorContext(ctx, "Reminder sent but log write failed", "error", logErr)
	}

	summary.Sent++
	out.Outcome = types.OutcomeSent
	log.InfoContext(ctx, "Reminder sent",
		"to", types.RedactEmail(recipient),
		"meal", mealName,
		"message_id", messageID,
	)
	return out
}

func mergeSummary(dst *types.RunSummary, src types.RunSummary) {
	dst.UsersChecked += src.UsersChecked
	dst.Matches += src.Matches
	dst.Sent += src.Sent
	dst.Skipped += src.Skipped
	dst.Errors += src.Errors
}

// compactUsers drops entries for planners that were never evaluated because
// the run context was cancelled.
func compactUsers(users []types.UserReport) []types.UserReport {
	out := make([]types.UserReport, 0, len(users))
	for _, u := range users {
		if u.OwnerID == "" && u.Weekday == "" {
			continue
		}
		out = append(out, u)
	}
	return out
}
