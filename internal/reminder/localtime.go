package reminder

import (
	"time"
	_ "time/tzdata" // Lambda runtimes ship without a zoneinfo database.

	"mealreminder/internal/types"
)

// LocalTime is "now" as observed in a planner's time zone.
type LocalTime struct {
	// TimeZone is the zone actually used; "UTC" when the requested one was invalid.
	TimeZone string
	// Weekday is the full English weekday name, e.g. "Monday".
	Weekday string
	// HHMM is the 24-hour local time at minute resolution, seconds truncated.
	HHMM string
	// DateKey is the local calendar date as YYYY-MM-DD.
	DateKey string
}

// ResolveLocalTime computes weekday, minute and date key for now in timeZone.
// An empty or unknown zone falls back to UTC instead of failing, so a single
// bad planner never blocks the run.
func ResolveLocalTime(timeZone string, now time.Time) LocalTime {
	loc, effective := loadLocation(timeZone)
	local := now.In(loc)
	return LocalTime{
		TimeZone: effective,
		Weekday:  local.Weekday().String(),
		HHMM:     local.Format("15:04"),
		DateKey:  local.Format("2006-01-02"),
	}
}

func loadLocation(timeZone string) (*time.Location, string) {
	loc, ok := types.LoadZone(timeZone)
	if !ok {
		return time.UTC, types.DefaultTimeZone
	}
	return loc, timeZone
}
