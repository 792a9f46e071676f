package reminder

import (
	"fmt"
	"regexp"
	"strconv"
)

const minutesPerDay = 24 * 60

var mealTimePattern = regexp.MustCompile(`^(\d{2}):(\d{2})$`)

// ReminderTime returns the wall-clock "HH:MM" at which a reminder for a meal
// at mealTime fires, leadMinutes earlier. The subtraction wraps around
// midnight, so "00:10" with a 30 minute lead gives "23:40". The second return
// is false when mealTime is not a valid zero-padded 24-hour time; such a slot
// cannot be scheduled.
func ReminderTime(mealTime string, leadMinutes int) (string, bool) {
	m := mealTimePattern.FindStringSubmatch(mealTime)
	if m == nil {
		return "", false
	}
	hours, err := strconv.Atoi(m[1])
	if err != nil || hours > 23 {
		return "", false
	}
	minutes, err := strconv.Atoi(m[2])
	if err != nil || minutes > 59 {
		return "", false
	}

	total := hours*60 + minutes - leadMinutes
	normalized := ((total % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", normalized/60, normalized%60), true
}
