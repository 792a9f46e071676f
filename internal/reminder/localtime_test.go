package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveLocalTime(t *testing.T) {
	// 2024-03-10 23:45:59 UTC is a Sunday.
	now := time.Date(2024, 3, 10, 23, 45, 59, 0, time.UTC)

	tests := []struct {
		name     string
		zone     string
		wantZone string
		weekday  string
		hhmm     string
		dateKey  string
	}{
		{"utc", "UTC", "UTC", "Sunday", "23:45", "2024-03-10"},
		{"ahead crosses midnight", "Asia/Kolkata", "Asia/Kolkata", "Monday", "05:15", "2024-03-11"},
		{"behind", "America/Los_Angeles", "America/Los_Angeles", "Sunday", "16:45", "2024-03-10"},
		{"empty falls back", "", "UTC", "Sunday", "23:45", "2024-03-10"},
		{"unknown falls back", "Mars/Olympus", "UTC", "Sunday", "23:45", "2024-03-10"},
		{"host zone falls back", "Local", "UTC", "Sunday", "23:45", "2024-03-10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lt := ResolveLocalTime(tt.zone, now)
			assert.Equal(t, tt.wantZone, lt.TimeZone)
			assert.Equal(t, tt.weekday, lt.Weekday)
			assert.Equal(t, tt.hhmm, lt.HHMM)
			assert.Equal(t, tt.dateKey, lt.DateKey)
		})
	}
}

func TestResolveLocalTime_DateKeyMatchesWeekday(t *testing.T) {
	// Weekday and date key are computed in the same zone, so the date key always
	// parses back to the reported weekday.
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, zone := range []string{"Pacific/Kiritimati", "Pacific/Pago_Pago", "Europe/Berlin"} {
		for h := 0; h < 48; h += 5 {
			lt := ResolveLocalTime(zone, start.Add(time.Duration(h)*time.Hour))
			d, err := time.Parse("2006-01-02", lt.DateKey)
			if err != nil {
				t.Fatalf("bad date key %q: %v", lt.DateKey, err)
			}
			if d.Weekday().String() != lt.Weekday {
				t.Fatalf("%s: date key %s is %s, weekday says %s", zone, lt.DateKey, d.Weekday(), lt.Weekday)
			}
		}
	}
}
