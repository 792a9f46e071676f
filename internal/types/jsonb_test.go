package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlannerDocument_NormalizeDefaults(t *testing.T) {
	var doc PlannerDocument
	require.NoError(t, json.Unmarshal([]byte(`{"ownerId":"U1"}`), &doc))

	cfg := doc.Normalize()
	assert.Equal(t, "U1", cfg.OwnerID)
	assert.Equal(t, "UTC", cfg.TimeZone)
	assert.True(t, cfg.ReminderEnabled, "absent reminderEnabled defaults to true")
	assert.Equal(t, DefaultReminderTimes(), cfg.ReminderTimes)
	assert.NotNil(t, cfg.WeeklyPlan)
}

func TestPlannerDocument_NormalizeOverrides(t *testing.T) {
	raw := `{
		"ownerId": "U2",
		"timeZone": "Europe/Paris",
		"reminderEnabled": false,
		"reminderTimes": {"Dinner": "19:15", "Lunch": "", "Breakfast": 7},
		"ownerEmail": "u2@example.com"
	}`
	var doc PlannerDocument
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	cfg := doc.Normalize()
	assert.Equal(t, "Europe/Paris", cfg.TimeZone)
	assert.False(t, cfg.ReminderEnabled)
	assert.Equal(t, "19:15", cfg.ReminderTimes[SlotDinner])
	assert.Equal(t, "13:00", cfg.ReminderTimes[SlotLunch], "empty override keeps default")
	assert.Equal(t, "08:00", cfg.ReminderTimes[SlotBreakfast], "non-string override is ignored")
	assert.Equal(t, "u2@example.com", cfg.CachedEmail())
}

func TestPlannerDocument_InvalidZoneFallsBack(t *testing.T) {
	cfg := PlannerDocument{OwnerID: "U3", TimeZone: "Not/AZone"}.Normalize()
	assert.Equal(t, "UTC", cfg.TimeZone)

	cfg = PlannerDocument{OwnerID: "U4", TimeZone: "Local"}.Normalize()
	assert.Equal(t, "UTC", cfg.TimeZone)
}

func TestDecodeWeeklyPlan_TolerantShapes(t *testing.T) {
	raw := []byte(`{
		"Monday": {
			"Breakfast": {"strMeal": "Pancakes"},
			"Lunch": {"title": "Salad"},
			"Dinner": {"name": "Stew"}
		},
		"Tuesday": {
			"Breakfast": true,
			"Lunch": null,
			"Dinner": "",
			"Snack": 0
		},
		"Wednesday": null,
		"Thursday": "meal prep",
		"Friday": {"Dinner": 42}
	}`)

	plan := DecodeWeeklyPlan(raw)

	require.Contains(t, plan, "Monday")
	assert.Equal(t, "Pancakes", plan["Monday"][SlotBreakfast].DisplayName())
	assert.Equal(t, "Salad", plan["Monday"][SlotLunch].DisplayName())
	assert.Equal(t, "Stew", plan["Monday"][SlotDinner].DisplayName())

	require.Contains(t, plan, "Tuesday")
	breakfast, ok := plan["Tuesday"][SlotBreakfast]
	assert.True(t, ok, "truthy non-object is a planned meal")
	assert.Equal(t, DefaultMealName, breakfast.DisplayName())
	assert.NotContains(t, plan["Tuesday"], SlotLunch)
	assert.NotContains(t, plan["Tuesday"], SlotDinner)
	assert.NotContains(t, plan["Tuesday"], MealSlot("Snack"))

	assert.NotContains(t, plan, "Wednesday")
	assert.NotContains(t, plan, "Thursday")

	_, ok = plan["Friday"][SlotDinner]
	assert.True(t, ok)
}

func TestDecodeWeeklyPlan_NotAnObject(t *testing.T) {
	assert.Empty(t, DecodeWeeklyPlan([]byte(`[1,2,3]`)))
	assert.Empty(t, DecodeWeeklyPlan([]byte(`not json`)))
}

func TestWeeklyPlan_ScanValue(t *testing.T) {
	plan := WeeklyPlan{"Monday": DayPlan{SlotDinner: {StrMeal: "Tacos"}}}
	v, err := plan.Value()
	require.NoError(t, err)

	var scanned WeeklyPlan
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, "Tacos", scanned["Monday"][SlotDinner].DisplayName())

	var fromNull WeeklyPlan
	require.NoError(t, fromNull.Scan(nil))
	assert.Empty(t, fromNull)

	assert.Error(t, fromNull.Scan(12))
}

func TestReminderTimes_Scan(t *testing.T) {
	var rt ReminderTimes
	require.NoError(t, rt.Scan(`{"Lunch":"12:30","Dinner":null}`))
	assert.Equal(t, ReminderTimes{"Lunch": "12:30"}, rt)
}
