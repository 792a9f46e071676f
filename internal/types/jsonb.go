package types

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Planner documents are written by the web front end and are loosely shaped:
// days or slots can be null, strings, or objects with extra display data. The
// decoders here are tolerant so one malformed value never fails a whole
// document; anything that is not the expected shape is treated as absent.

// PlannerDocument is the stored shape of a planner, before defaults apply.
type PlannerDocument struct {
	OwnerID         string        `json:"ownerId"`
	TimeZone        string        `json:"timeZone,omitempty"`
	ReminderEnabled *bool         `json:"reminderEnabled,omitempty"`
	ReminderTimes   ReminderTimes `json:"reminderTimes,omitempty"`
	Planner         WeeklyPlan    `json:"planner,omitempty"`
	OwnerEmail      string        `json:"ownerEmail,omitempty"`
}

// Normalize applies the planner defaults: UTC for a missing or unknown time
// zone, reminders enabled unless explicitly false, and default meal times for
// slots the user did not override.
func (d PlannerDocument) Normalize() PlannerConfig {
	tz := d.TimeZone
	if _, ok := LoadZone(tz); !ok {
		tz = DefaultTimeZone
	}

	enabled := true
	if d.ReminderEnabled != nil {
		enabled = *d.ReminderEnabled
	}

	plan := d.Planner
	if plan == nil {
		plan = WeeklyPlan{}
	}

	return PlannerConfig{
		OwnerID:         d.OwnerID,
		TimeZone:        tz,
		ReminderEnabled: enabled,
		ReminderTimes:   MergeReminderTimes(d.ReminderTimes),
		WeeklyPlan:      plan,
		OwnerEmail:      d.OwnerEmail,
	}
}

// ReminderTimes is the per-slot override map. Non-string and empty values
// are dropped.
type ReminderTimes map[string]string

// UnmarshalJSON decodes an object of slot -> "HH:MM", ignoring other value types.
func (r *ReminderTimes) UnmarshalJSON(data []byte) error {
	*r = DecodeReminderTimes(data)
	return nil
}

// DecodeReminderTimes tolerantly decodes a reminderTimes document.
func DecodeReminderTimes(data []byte) ReminderTimes {
	out := ReminderTimes{}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return out
	}
	for slot, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil && s != "" {
			out[slot] = s
		}
	}
	return out
}

// UnmarshalJSON decodes a weekly plan, skipping days that are not objects.
func (w *WeeklyPlan) UnmarshalJSON(data []byte) error {
	*w = DecodeWeeklyPlan(data)
	return nil
}

// DecodeWeeklyPlan tolerantly decodes a weekday -> slot -> meal document.
func DecodeWeeklyPlan(data []byte) WeeklyPlan {
	plan := WeeklyPlan{}
	var days map[string]json.RawMessage
	if err := json.Unmarshal(data, &days); err != nil {
		return plan
	}
	for day, rawDay := range days {
		var slots map[string]json.RawMessage
		if !isObject(rawDay) || json.Unmarshal(rawDay, &slots) != nil {
			continue
		}
		dp := DayPlan{}
		for slot, rawMeal := range slots {
			if meal, ok := decodePlannedMeal(rawMeal); ok {
				dp[MealSlot(slot)] = meal
			}
		}
		plan[day] = dp
	}
	return plan
}

// decodePlannedMeal reports whether the raw value counts as a planned meal.
// Objects carry the name fields; other truthy values count as a meal with the
// default name. null, false, "" and 0 are absent.
func decodePlannedMeal(raw json.RawMessage) (PlannedMeal, bool) {
	trimmed := bytes.TrimSpace(raw)
	if isObject(trimmed) {
		var m PlannedMeal
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return PlannedMeal{}, true
		}
		return m, true
	}
	switch string(trimmed) {
	case "", "null", "false", `""`, "0":
		return PlannedMeal{}, false
	}
	return PlannedMeal{}, true
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// Value implements driver.Valuer for JSONB storage.
func (r ReminderTimes) Value() (driver.Value, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(r))
}

// Scan implements sql.Scanner for JSONB retrieval. NULL scans as empty.
func (r *ReminderTimes) Scan(src any) error {
	data, err := jsonbBytes(src)
	if err != nil {
		return err
	}
	*r = DecodeReminderTimes(data)
	return nil
}

// Value implements driver.Valuer for JSONB storage.
func (w WeeklyPlan) Value() (driver.Value, error) {
	if w == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]DayPlan(w))
}

// Scan implements sql.Scanner for JSONB retrieval. NULL scans as empty.
func (w *WeeklyPlan) Scan(src any) error {
	data, err := jsonbBytes(src)
	if err != nil {
		return err
	}
	*w = DecodeWeeklyPlan(data)
	return nil
}

func jsonbBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("jsonb: unsupported scan type %T", src)
	}
}
