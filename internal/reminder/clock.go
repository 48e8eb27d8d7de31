package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// parseClock converts "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("time %q is not HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("time %q has an invalid hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("time %q has an invalid minute", s)
	}
	return h*60 + m, nil
}

// minuteOfDay returns the minutes since local midnight of t.
func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// dayKey identifies the local calendar day of t.
func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// at returns the instant on t's local day at the given minute of day.
func at(t time.Time, minute int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, minute/60, minute%60, 0, 0, t.Location())
}

// startOfDay returns local midnight of t's day.
func startOfDay(t time.Time) time.Time {
	return at(t, 0)
}

// inWindow reports whether minute lies in [start, end]. A window whose end is
// before its start wraps midnight.
func inWindow(minute, start, end int) bool {
	if end < start {
		return minute >= start || minute <= end
	}
	return minute >= start && minute <= end
}
