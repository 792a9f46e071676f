package types

import (
	"fmt"
	"strings"
	"time"
)

// MealSlot is a named meal occasion within a day.
type MealSlot string

const (
	SlotBreakfast MealSlot = "Breakfast"
	SlotLunch     MealSlot = "Lunch"
	SlotDinner    MealSlot = "Dinner"
)

// MealSlots lists the canonical slots in the order they are evaluated.
// The order keeps reports stable between runs.
var MealSlots = []MealSlot{SlotBreakfast, SlotLunch, SlotDinner}

// DefaultTimeZone is substituted when a planner has no usable time zone.
const DefaultTimeZone = "UTC"

// LoadZone resolves an IANA zone name. Empty names, unknown names and "Local"
// (the host's zone) are rejected.
func LoadZone(name string) (*time.Location, bool) {
	if name == "" || name == "Local" {
		return nil, false
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, false
	}
	return loc, true
}

// DefaultMealName is used when a planned meal carries no display name.
const DefaultMealName = "Planned Recipe"

// DefaultReminderTimes returns the system meal times that per-user
// reminderTimes override slot by slot.
func DefaultReminderTimes() map[MealSlot]string {
	return map[MealSlot]string{
		SlotBreakfast: "08:00",
		SlotLunch:     "13:00",
		SlotDinner:    "20:00",
	}
}

// MergeReminderTimes overlays the user's overrides on the defaults. Empty
// override values do not replace a default.
func MergeReminderTimes(overrides map[string]string) map[MealSlot]string {
	merged := DefaultReminderTimes()
	for slot, t := range overrides {
		if t == "" {
			continue
		}
		merged[MealSlot(slot)] = t
	}
	return merged
}

// PlannedMeal is one recipe placed in a planner slot. Recipe documents come
// from several sources, so the display name may live in any of three fields.
type PlannedMeal struct {
	StrMeal string `json:"strMeal,omitempty"`
	Title   string `json:"title,omitempty"`
	Name    string `json:"name,omitempty"`
}

// DisplayName returns the first non-empty name field, or DefaultMealName.
func (m PlannedMeal) DisplayName() string {
	for _, n := range []string{m.StrMeal, m.Title, m.Name} {
		if strings.TrimSpace(n) != "" {
			return n
		}
	}
	return DefaultMealName
}

// DayPlan maps a slot to the meal planned for it.
type DayPlan map[MealSlot]PlannedMeal

// WeeklyPlan maps an English weekday name ("Monday") to that day's plan.
type WeeklyPlan map[string]DayPlan

// PlannerConfig is one user's planner document with defaults already applied.
type PlannerConfig struct {
	OwnerID         string              `json:"ownerId"`
	TimeZone        string              `json:"timeZone"`
	ReminderEnabled bool                `json:"reminderEnabled"`
	ReminderTimes   map[MealSlot]string `json:"reminderTimes"`
	WeeklyPlan      WeeklyPlan          `json:"weeklyPlan"`
	OwnerEmail      string              `json:"ownerEmail,omitempty"`
}

// CachedEmail returns the planner's cached recipient if it is usable.
func (p PlannerConfig) CachedEmail() string {
	if strings.Contains(p.OwnerEmail, "@") {
		return p.OwnerEmail
	}
	return ""
}

// UserRecord holds the email-bearing fields of a user profile document.
type UserRecord struct {
	ID           string
	Email        string
	ProfileEmail string
	AuthEmail    string
}

// ResolveRecipient applies the recipient resolution order shared by every
// planner repository: cached planner email, then the user record's email,
// profile.email and auth.email. Returns "" when nothing usable is found.
func ResolveRecipient(planner PlannerConfig, user *UserRecord) string {
	if cached := planner.CachedEmail(); cached != "" {
		return cached
	}
	if user == nil {
		return ""
	}
	for _, candidate := range []string{user.Email, user.ProfileEmail, user.AuthEmail} {
		if candidate == "" {
			continue
		}
		if strings.Contains(candidate, "@") {
			return candidate
		}
		return ""
	}
	return ""
}

// LogStatus is the lifecycle state of a reminder log entry.
type LogStatus string

const (
	LogStatusPending LogStatus = "pending"
	LogStatusSent    LogStatus = "sent"
)

// ReminderLogEntry records one reminder instance. Its key is derived from
// (owner, local date, slot) and at most one entry exists per key.
type ReminderLogEntry struct {
	OwnerID        string    `json:"ownerId"`
	DateKey        string    `json:"dateKey"`
	MealSlot       MealSlot  `json:"mealSlot"`
	MealName       string    `json:"mealName"`
	RecipientEmail string    `json:"recipientEmail"`
	TimeZone       string    `json:"timeZone"`
	Status         LogStatus `json:"status"`
	MessageID      string    `json:"messageId,omitempty"`
	ClaimedAt      time.Time `json:"claimedAt"`
	SentAt         time.Time `json:"sentAt,omitempty"`
}

// Key returns the deterministic dedup key for the entry.
func (e ReminderLogEntry) Key() string {
	return DedupKey(e.OwnerID, e.DateKey, e.MealSlot)
}

// DedupKey builds the reminder log key "<owner>_<date>_<slot>".
func DedupKey(ownerID, dateKey string, slot MealSlot) string {
	return fmt.Sprintf("%s_%s_%s", ownerID, dateKey, slot)
}

// SendInput defines the contract for email transmission.
type SendInput struct {
	To          string
	From        SenderIdentity
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string
}

// SenderIdentity defines the sender for outgoing emails.
type SenderIdentity struct {
	Name    string
	Address string
}

// Header renders the identity as an RFC 5322 From value with a quoted
// display name, e.g. `"Recipe Finder" <me@gmail.com>`.
func (s SenderIdentity) Header() string {
	if s.Name == "" {
		return s.Address
	}
	return fmt.Sprintf("%q <%s>", s.Name, s.Address)
}
