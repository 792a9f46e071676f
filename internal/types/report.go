package types

import "time"

// DefaultLeadMinutes is how long before a meal the reminder fires.
const DefaultLeadMinutes = 30

// RunOptions controls a single reminder pass.
type RunOptions struct {
	// Debug adds per-user entries to the report and extra log lines.
	Debug bool `json:"debug"`
	// DryRun matches and logs intent but never sends or writes the log.
	DryRun bool `json:"dryRun"`
	// Force skips the reminder log check so a slot can be re-delivered.
	Force bool `json:"force"`
	// IgnoreTimeMatch fires every planned slot regardless of the local minute.
	IgnoreTimeMatch bool `json:"ignoreTimeMatch"`
	// LeadMinutes is at least one minute. Zero means unset and selects
	// DefaultLeadMinutes.
	LeadMinutes int `json:"leadMinutes"`
	// Trigger names the host that started the run (cron, http, worker, cli).
	Trigger string `json:"trigger,omitempty"`
}

// RunSummary aggregates the outcome counters of a run.
type RunSummary struct {
	UsersChecked int `json:"usersChecked"`
	Matches      int `json:"matches"`
	Sent         int `json:"sent"`
	Skipped      int `json:"skipped"`
	Errors       int `json:"errors"`
}

// SlotOutcome describes what happened to one slot in a run.
type SlotOutcome string

const (
	OutcomeSent          SlotOutcome = "sent"
	OutcomeDryRun        SlotOutcome = "dry_run"
	OutcomeNotPlanned    SlotOutcome = "not_planned"
	OutcomeNoMealTime    SlotOutcome = "no_meal_time"
	OutcomeBadMealTime   SlotOutcome = "invalid_meal_time"
	OutcomeNotDue        SlotOutcome = "not_due"
	OutcomeAlreadySent   SlotOutcome = "already_sent"
	OutcomeClaimLost     SlotOutcome = "claimed_elsewhere"
	OutcomeNoRecipient   SlotOutcome = "no_recipient"
	OutcomeLogError      SlotOutcome = "log_error"
	OutcomeRenderError   SlotOutcome = "render_error"
	OutcomeDeliveryError SlotOutcome = "delivery_error"
)

// SlotReport is the debug view of one slot evaluation.
type SlotReport struct {
	Slot         MealSlot    `json:"slot"`
	MealTime     string      `json:"mealTime,omitempty"`
	ReminderTime string      `json:"reminderTime,omitempty"`
	Outcome      SlotOutcome `json:"outcome"`
}

// UserReport is the debug view of one planner evaluation. It never carries
// recipient addresses.
type UserReport struct {
	OwnerID         string       `json:"ownerId"`
	TimeZone        string       `json:"timeZone"`
	Weekday         string       `json:"weekday"`
	NowHHMM         string       `json:"nowHHmm"`
	ReminderEnabled bool         `json:"reminderEnabled"`
	SkipReason      string       `json:"skipReason,omitempty"`
	Slots           []SlotReport `json:"slots,omitempty"`
}

// RunReport is returned to the caller of a run for observability. It is not
// persisted.
type RunReport struct {
	RunID      string       `json:"runId"`
	RunAt      time.Time    `json:"runAt"`
	Options    RunOptions   `json:"options"`
	Users      []UserReport `json:"users,omitempty"`
	Summary    RunSummary   `json:"summary"`
	DurationMs int64        `json:"durationMs"`
}

// FailureSummary is the structured detail captured when a delivery fails.
type FailureSummary struct {
	Name         string `json:"name"`
	Message      string `json:"message"`
	Code         string `json:"code,omitempty"`
	ResponseCode int    `json:"responseCode,omitempty"`
	Command      string `json:"command,omitempty"`
	Response     string `json:"response,omitempty"`
}
