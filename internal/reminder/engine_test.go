package reminder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealreminder/internal/types"
)

// --- Test Doubles ---

type fakePlanners struct {
	planners []types.PlannerConfig
	emails   map[string]string
	listErr  error
	emailErr error
}

func (f *fakePlanners) ListAllPlanners(ctx context.Context) ([]types.PlannerConfig, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.planners, nil
}

func (f *fakePlanners) ResolveEmail(ctx context.Context, ownerID string, planner types.PlannerConfig) (string, error) {
	if f.emailErr != nil {
		return "", f.emailErr
	}
	if cached := planner.CachedEmail(); cached != "" {
		return cached, nil
	}
	return f.emails[ownerID], nil
}

// fakeLedger is a mutex map with the same claim semantics as the real stores.
type fakeLedger struct {
	mu        sync.Mutex
	entries   map[string]types.ReminderLogEntry
	existsErr error
	claimErr  error
	confirmed int
	released  int
	overwrote int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[string]types.ReminderLogEntry)}
}

func (f *fakeLedger) Exists(ctx context.Context, key string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[key]
	return ok, nil
}

func (f *fakeLedger) Claim(ctx context.Context, entry types.ReminderLogEntry, ttl time.Duration) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[entry.Key()]; ok {
		return false, nil
	}
	f.entries[entry.Key()] = entry
	return true, nil
}

func (f *fakeLedger) Confirm(ctx context.Context, entry types.ReminderLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed++
	f.entries[entry.Key()] = entry
	return nil
}

func (f *fakeLedger) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	if e, ok := f.entries[key]; ok && e.Status == types.LogStatusPending {
		delete(f.entries, key)
	}
	return nil
}

func (f *fakeLedger) Overwrite(ctx context.Context, entry types.ReminderLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overwrote++
	f.entries[entry.Key()] = entry
	return nil
}

type fakeMailer struct {
	mu        sync.Mutex
	sent      []types.SendInput
	verifyErr error
	sendErr   error
}

func (m *fakeMailer) Verify(ctx context.Context) error { return m.verifyErr }

func (m *fakeMailer) Send(ctx context.Context, input types.SendInput) (string, error) {
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, input)
	return fmt.Sprintf("msg-%d", len(m.sent)), nil
}

type recordingMetrics struct {
	mu      sync.Mutex
	reports []*types.RunReport
}

func (r *recordingMetrics) RecordRun(ctx context.Context, report *types.RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

// --- Helpers ---

// monday1930 is 2024-01-15 19:30 UTC, a Monday.
var monday1930 = time.Date(2024, 1, 15, 19, 30, 12, 0, time.UTC)

func tacosPlanner(ownerID string) types.PlannerConfig {
	return types.PlannerConfig{
		OwnerID:         ownerID,
		TimeZone:        "UTC",
		ReminderEnabled: true,
		ReminderTimes:   types.MergeReminderTimes(nil),
		WeeklyPlan: types.WeeklyPlan{
			"Monday": types.DayPlan{
				types.SlotDinner: {StrMeal: "Tacos"},
			},
		},
	}
}

type harness struct {
	engine   *Engine
	planners *fakePlanners
	ledger   *fakeLedger
	mailer   *fakeMailer
	metrics  *recordingMetrics
}

func newHarness(t *testing.T, now time.Time, planners ...types.PlannerConfig) *harness {
	t.Helper()
	h := &harness{
		planners: &fakePlanners{planners: planners, emails: map[string]string{}},
		ledger:   newFakeLedger(),
		mailer:   &fakeMailer{},
		metrics:  &recordingMetrics{},
	}
	for _, p := range planners {
		h.planners.emails[p.OwnerID] = p.OwnerID + "@example.com"
	}
	factory := func(ctx context.Context) (Mailer, error) { return h.mailer, nil }
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := NewEngine(EngineConfig{
		Sender: types.SenderIdentity{Name: "Recipe Finder", Address: "me@example.com"},
	}, log, h.planners, h.ledger, factory, h.metrics)
	require.NoError(t, err)
	engine.Clock = types.FixedClock{T: now}
	h.engine = engine
	return h
}

// --- Tests ---

func TestRun_EndToEndTacos(t *testing.T) {
	h := newHarness(t, monday1930, tacosPlanner("U1"))

	report, err := h.engine.Run(context.Background(), types.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Summary.UsersChecked)
	assert.Equal(t, 1, report.Summary.Matches)
	assert.Equal(t, 1, report.Summary.Sent)
	assert.Equal(t, 2, report.Summary.Skipped) // Breakfast and Lunch not planned
	assert.Equal(t, 0, report.Summary.Errors)

	require.Len(t, h.mailer.sent, 1)
	msg := h.mailer.sent[0]
	assert.Equal(t, "U1@example.com", msg.To)
	assert.Contains(t, msg.Subject, "Tacos")
	assert.Equal(t, "U1_2024-01-15_Dinner", msg.ReferenceID)
	assert.Contains(t, msg.BodyText, "Reminder: Dinner (Tacos) at 20:00.")
	assert.Contains(t, msg.BodyHTML, "19:30 (meal at 20:00)")

	entry, ok := h.ledger.entries["U1_2024-01-15_Dinner"]
	require.True(t, ok)
	assert.Equal(t, types.LogStatusSent, entry.Status)
	assert.Equal(t, "msg-1", entry.MessageID)
	assert.Equal(t, "Tacos", entry.MealName)
	assert.Equal(t, "U1@example.com", entry.RecipientEmail)

	// Second invocation in the same minute sends nothing.
	report2, err := h.engine.Run(context.Background(), types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, report2.Summary.Sent)
	assert.Equal(t, 1, report2.Summary.Matches)
	assert.Equal(t, 3, report2.Summary.Skipped)
	assert.Len(t, h.mailer.sent, 1)

	require.Len(t, h.metrics.reports, 2)
}

func TestRun_DisabledPlannerNeverMatches(t *testing.T) {
	p := tacosPlanner("U2")
	p.ReminderEnabled = false
	h := newHarness(t, monday1930, p)

	report, err := h.engine.Run(context.Background(), types.RunOptions{Debug: true, IgnoreTimeMatch: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Summary.UsersChecked)
	assert.Equal(t, 0, report.Summary.Matches)
	assert.Equal(t, 1, report.Summary.Skipped)
	require.Len(t, report.Users, 1)
	assert.Equal(t, "reminders_disabled", report.Users[0].SkipReason)
	assert.Empty(t, h.mailer.sent)
}

func TestRun_DryRunMatchesWithoutSending(t *testing.T) {
	h := newHarness(t, monday1930, tacosPlanner("U1"))

	report, err := h.engine.Run(context.Background(), types.RunOptions{DryRun: true, Debug: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Summary.Matches)
	assert.Equal(t, 0, report.Summary.Sent)
	assert.Empty(t, h.mailer.sent)
	assert.Empty(t, h.ledger.entries)

	require.Len(t, report.Users, 1)
	dinner := report.Users[0].Slots[2]
	assert.Equal(t, types.SlotDinner, dinner.Slot)
	assert.Equal(t, types.OutcomeDryRun, dinner.Outcome)
}

func TestRun_NotDueOutsideMinute(t *testing.T) {
	h := newHarness(t, monday1930.Add(time.Minute), tacosPlanner("U1"))

	report, err := h.engine.Run(context.Background(), types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Summary.Matches)
	assert.Equal(t, 3, report.Summary.Skipped)
	assert.Empty(t, h.mailer.sent)
}

func TestRun_IgnoreTimeMatch(t *testing.T) {
	p := tacosPlanner("U1")
	p.WeeklyPlan["Monday"][types.SlotBreakfast] = types.PlannedMeal{Title: "Oats"}
	h := newHarness(t, monday1930.Add(3*time.Hour), p) // 22:30, nothing due

	report, err := h.engine.Run(context.Background(), types.RunOptions{IgnoreTimeMatch: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Summary.Matches)
	assert.Equal(t, 2, report.Summary.Sent)
	assert.Len(t, h.mailer.sent, 2)
}

func TestRun_ForceBypassesDedup(t *testing.T) {
	h := newHarness(t, monday1930, tacosPlanner("U1"))

	_, err := h.engine.Run(context.Background(), types.RunOptions{})
	require.NoError(t, err)

	report, err := h.engine.Run(context.Background(), types.RunOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.Sent)
	assert.Len(t, h.mailer.sent, 2)
	assert.Equal(t, 1, h.ledger.overwrote)
	assert.Equal(t, "msg-2", h.ledger.entries["U1_2024-01-15_Dinner"].MessageID)
}

func TestRun_MailerVerifyFailureIsFatal(t *testing.T) {
	h := newHarness(t, monday1930, tacosPlanner("U1"))
	h.mailer.verifyErr = errors.New("535 auth failed")

	report, err := h.engine.Run(context.Background(), types.RunOptions{})
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Summary.Errors)
	assert.Equal(t, 0, report.Summary.UsersChecked)
	assert.Empty(t, h.mailer.sent)
}

func TestRun_MailerFactoryErrorKeepsCode(t *testing.T) {
	h := newHarness(t, monday1930, tacosPlanner("U1"))
	h.engine.Mailers = func(ctx context.Context) (Mailer, error) {
		return nil, types.NewAppError(types.ErrCodeConfigMissingCredentials, "EMAIL_USER is not set", nil)
	}

	_, err := h.engine.Run(context.Background(), types.RunOptions{})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConfigMissingCredentials, appErr.Code)
}

func TestRun_ListFailureIsFatal(t *testing.T) {
	h := newHarness(t, monday1930)
	h.planners.listErr = errors.New("connection refused")

	report, err := h.engine.Run(context.Background(), types.RunOptions{})
	require.Error(t, err)
	assert.Equal(t, 0, report.Summary.UsersChecked)
}

func TestRun_NoPlannersIsNoop(t *testing.T) {
	h := newHarness(t, monday1930)

	report, err := h.engine.Run(context.Background(), types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.RunSummary{}, report.Summary)
	require.Len(t, h.metrics.reports, 1)
}

func TestRun_SendFailureReleasesClaimAndContinues(t *testing.T) {
	h := newHarness(t, monday1930, tacosPlanner("U1"), tacosPlanner("U2"))
	h.mailer.sendErr = types.NewAppErrorWithDetails(types.ErrCodeUpstreamEmailProvider, "smtp send failed", nil,
		map[string]any{"responseCode": 550, "command": "RCPT TO"})

	report, err := h.engine.Run(context.Background(), types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Summary.UsersChecked)
	assert.Equal(t, 2, report.Summary.Matches)
	assert.Equal(t, 2, report.Summary.Errors)
	assert.Equal(t, 0, report.Summary.Sent)
	assert.Equal(t, 2, h.ledger.released)
	assert.Empty(t, h.ledger.entries, "failed sends must not leave a log entry")
}

func TestRun_ClaimLostCountsAsSkipped(t *testing.T) {
	h := newHarness(t, monday1930, tacosPlanner("U1"))
	// Another run claimed the key between Exists and Claim.
	h.engine.Ledger = &racingLedger{fakeLedger: h.ledger}

	report, err := h.engine.Run(context.Background(), types.RunOptions{Debug: true})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Summary.Sent)
	assert.Equal(t, 3, report.Summary.Skipped)
	assert.Equal(t, types.OutcomeClaimLost, report.Users[0].Slots[2].Outcome)
	assert.Empty(t, h.mailer.sent)
}

// racingLedger reports no entry on Exists but always loses the claim.
type racingLedger struct {
	*fakeLedger
}

func (r *racingLedger) Claim(ctx context.Context, entry types.ReminderLogEntry, ttl time.Duration) (bool, error) {
	return false, nil
}

func TestRun_LogLookupErrorCountsError(t *testing.T) {
	h := newHarness(t, monday1930, tacosPlanner("U1"))
	h.ledger.existsErr = errors.New("timeout")

	report, err := h.engine.Run(context.Background(), types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.Errors)
	assert.Empty(t, h.mailer.sent)
}

func TestRun_NoRecipientSkips(t *testing.T) {
	h := newHarness(t, monday1930, tacosPlanner("U1"))
	h.planners.emails = map[string]string{}

	report, err := h.engine.Run(context.Background(), types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.Matches)
	assert.Equal(t, 3, report.Summary.Skipped)
	assert.Equal(t, 0, report.Summary.Errors)
}

func TestRun_RecipientLookupErrorSkipsSlot(t *testing.T) {
	h := newHarness(t, monday1930, tacosPlanner("U1"))
	h.planners.emailErr = errors.New("users table unavailable")

	report, err := h.engine.Run(context.Background(), types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Summary.Skipped)
	assert.Equal(t, 0, report.Summary.Errors)
}

func TestRun_CachedOwnerEmailWins(t *testing.T) {
	p := tacosPlanner("U1")
	p.OwnerEmail = "cached@example.com"
	h := newHarness(t, monday1930, p)

	_, err := h.engine.Run(context.Background(), types.RunOptions{})
	require.NoError(t, err)
	require.Len(t, h.mailer.sent, 1)
	assert.Equal(t, "cached@example.com", h.mailer.sent[0].To)
}

func TestRun_TimeZoneDateKey(t *testing.T) {
	// 2024-01-15 23:30 UTC is 2024-01-16 08:30 in Tokyo, a Tuesday.
	now := time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC)
	p := types.PlannerConfig{
		OwnerID:         "U3",
		TimeZone:        "Asia/Tokyo",
		ReminderEnabled: true,
		ReminderTimes:   types.MergeReminderTimes(map[string]string{"Breakfast": "09:00"}),
		WeeklyPlan: types.WeeklyPlan{
			"Tuesday": types.DayPlan{types.SlotBreakfast: {Name: "Miso soup"}},
		},
	}
	h := newHarness(t, now, p)

	report, err := h.engine.Run(context.Background(), types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.Sent)
	_, ok := h.ledger.entries["U3_2024-01-16_Breakfast"]
	assert.True(t, ok)
}

func TestRun_InvalidMealTimeSkips(t *testing.T) {
	p := tacosPlanner("U1")
	p.ReminderTimes[types.SlotDinner] = "25:99"
	h := newHarness(t, monday1930, p)

	report, err := h.engine.Run(context.Background(), types.RunOptions{Debug: true, IgnoreTimeMatch: true})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Summary.Matches)
	assert.Equal(t, types.OutcomeBadMealTime, report.Users[0].Slots[2].Outcome)
}

func TestRun_NothingPlannedToday(t *testing.T) {
	p := tacosPlanner("U1")
	p.WeeklyPlan = types.WeeklyPlan{"Friday": types.DayPlan{types.SlotLunch: {}}}
	h := newHarness(t, monday1930, p)

	report, err := h.engine.Run(context.Background(), types.RunOptions{Debug: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.Skipped)
	assert.Equal(t, "nothing_planned", report.Users[0].SkipReason)
}

func TestRun_ParallelKeepsPlannerOrderAndSendsOnce(t *testing.T) {
	var planners []types.PlannerConfig
	for i := 0; i < 25; i++ {
		planners = append(planners, tacosPlanner(fmt.Sprintf("U%02d", i)))
	}
	h := newHarness(t, monday1930, planners...)
	h.engine.Config.Concurrency = 8

	report, err := h.engine.Run(context.Background(), types.RunOptions{Debug: true})
	require.NoError(t, err)
	assert.Equal(t, 25, report.Summary.UsersChecked)
	assert.Equal(t, 25, report.Summary.Sent)

	ids := make([]string, 0, len(report.Users))
	for _, u := range report.Users {
		ids = append(ids, u.OwnerID)
	}
	assert.True(t, sort.StringsAreSorted(ids), "user entries must follow planner order")

	seen := map[string]bool{}
	for _, m := range h.mailer.sent {
		assert.False(t, seen[m.ReferenceID], "duplicate send for %s", m.ReferenceID)
		seen[m.ReferenceID] = true
	}
}

func TestRun_ConcurrentRunsSendOnce(t *testing.T) {
	h := newHarness(t, monday1930, tacosPlanner("U1"))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.engine.Run(context.Background(), types.RunOptions{})
		}()
	}
	wg.Wait()

	assert.Len(t, h.mailer.sent, 1)
}

func TestRun_DebugReportOmitsEmails(t *testing.T) {
	h := newHarness(t, monday1930, tacosPlanner("U1"))

	report, err := h.engine.Run(context.Background(), types.RunOptions{Debug: true})
	require.NoError(t, err)
	require.Len(t, report.Users, 1)
	u := report.Users[0]
	assert.Equal(t, "U1", u.OwnerID)
	assert.Equal(t, "Monday", u.Weekday)
	assert.Equal(t, "19:30", u.NowHHMM)
	require.Len(t, u.Slots, 3)
	assert.Equal(t, types.OutcomeNotPlanned, u.Slots[0].Outcome)
	assert.Equal(t, types.OutcomeSent, u.Slots[2].Outcome)
}

func TestRun_NonDebugReportHasNoUsers(t *testing.T) {
	h := newHarness(t, monday1930, tacosPlanner("U1"))

	report, err := h.engine.Run(context.Background(), types.RunOptions{})
	require.NoError(t, err)
	assert.Nil(t, report.Users)
	assert.Equal(t, types.DefaultLeadMinutes, report.Options.LeadMinutes)
	assert.NotEmpty(t, report.RunID)
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	_, err := NewEngine(EngineConfig{}, nil, nil, newFakeLedger(), nil, nil)
	assert.Error(t, err)
}

func TestEngine_AtReplaysMinute(t *testing.T) {
	h := newHarness(t, monday1930.Add(2*time.Hour), tacosPlanner("U1"))

	report, err := h.engine.Run(context.Background(), types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Summary.Sent)

	replay := h.engine.At(monday1930.Add(25 * time.Second))
	report, err = replay.Run(context.Background(), types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.Sent)
	assert.Equal(t, monday1930.Truncate(time.Minute), report.RunAt)

	assert.Equal(t, monday1930.Add(2*time.Hour), h.engine.Clock.Now(), "original engine clock is untouched")
}

func TestRun_ShortLeadFiresJustBeforeMeal(t *testing.T) {
	h := newHarness(t, time.Date(2024, 1, 15, 19, 59, 0, 0, time.UTC), tacosPlanner("U1"))

	report, err := h.engine.Run(context.Background(), types.RunOptions{LeadMinutes: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Options.LeadMinutes)
	assert.Equal(t, 1, report.Summary.Sent)

	report, err = h.engine.Run(context.Background(), types.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.DefaultLeadMinutes, report.Options.LeadMinutes, "zero is unset")
	assert.Equal(t, 0, report.Summary.Matches)
}
