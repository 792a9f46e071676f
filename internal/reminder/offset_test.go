package reminder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReminderTime(t *testing.T) {
	tests := []struct {
		name     string
		mealTime string
		lead     int
		want     string
		ok       bool
	}{
		{"regular", "20:00", 30, "19:30", true},
		{"wraps past midnight", "00:10", 30, "23:40", true},
		{"zero lead", "13:00", 0, "13:00", true},
		{"exact midnight", "00:30", 30, "00:00", true},
		{"lead longer than a day", "08:00", 1500, "07:00", true},
		{"negative lead moves forward", "23:50", -20, "00:10", true},
		{"out of range", "25:99", 30, "", false},
		{"hour 24", "24:00", 30, "", false},
		{"minute 60", "12:60", 30, "", false},
		{"not padded", "8:00", 30, "", false},
		{"with seconds", "08:00:00", 30, "", false},
		{"empty", "", 30, "", false},
		{"garbage", "noon", 30, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ReminderTime(tt.mealTime, tt.lead)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReminderTime_RoundTrip(t *testing.T) {
	// Shifting forward by the lead recovers the meal time for every minute of the day.
	for total := 0; total < minutesPerDay; total += 7 {
		mealTime := formatHHMM(total)
		reminder, ok := ReminderTime(mealTime, 30)
		if !ok {
			t.Fatalf("ReminderTime(%q) not schedulable", mealTime)
		}
		back, ok := ReminderTime(reminder, -30)
		if !ok || back != mealTime {
			t.Fatalf("round trip for %q gave %q", mealTime, back)
		}
	}
}

func formatHHMM(total int) string {
	h, m := total/60, total%60
	return string([]byte{byte('0' + h/10), byte('0' + h%10), ':', byte('0' + m/10), byte('0' + m%10)})
}
