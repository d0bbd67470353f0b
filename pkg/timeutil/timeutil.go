// Package timeutil provides time helpers for FocusHall Bot: rolling windows,
// streak day arithmetic, and quiet-hours checks for reminder delivery.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatTime is the standard time format (HH:MM).
	FormatTime = "15:04"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
	// FormatDateTimeSeconds includes seconds.
	FormatDateTimeSeconds = "2006-01-02 15:04:05"
)

// StartOfDay returns the start of the day (00:00:00) in the time's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the end of the day (23:59:59.999999999) in the time's location.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, t.Location())
}

// IsSameDay checks if two times fall on the same calendar day.
// Both times are compared in t1's location.
func IsSameDay(t1, t2 time.Time) bool {
	t2 = t2.In(t1.Location())
	return t1.Year() == t2.Year() && t1.YearDay() == t2.YearDay()
}

// IsConsecutiveDay checks if t2 is the calendar day after t1.
func IsConsecutiveDay(t1, t2 time.Time) bool {
	return IsSameDay(t1.AddDate(0, 0, 1), t2)
}

// DaysBetween calculates the number of calendar days between two times.
func DaysBetween(t1, t2 time.Time) int {
	a1 := StartOfDay(t1)
	a2 := StartOfDay(t2.In(t1.Location()))
	days := int(a2.Sub(a1).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// ══════════════════════════════════════════════════════════════════════════════
// ROLLING WINDOW
// Used by the break monitor to count break-room joins within the last hour.
// ══════════════════════════════════════════════════════════════════════════════

// PruneBefore returns the suffix of a sorted timestamp slice whose entries are
// at or after the cutoff. The input must be sorted ascending; the result
// aliases the input's backing array.
func PruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(times) && times[idx].Before(cutoff) {
		idx++
	}
	return times[idx:]
}

// CountSince counts entries of a sorted timestamp slice at or after the cutoff.
func CountSince(times []time.Time, cutoff time.Time) int {
	return len(PruneBefore(times, cutoff))
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION TIMING
// ══════════════════════════════════════════════════════════════════════════════

// IsSafeNotificationTime checks if it's appropriate to send reminder DMs
// (9:00-22:00 in the given location). Enforcement notices ignore this; only
// advisory nags respect quiet hours.
func IsSafeNotificationTime(t time.Time) bool {
	hour := t.Hour()
	return hour >= 9 && hour < 22
}

// FormatRelative returns a human-readable relative time string.
func FormatRelative(t time.Time) string {
	d := time.Since(t)
	if d < 0 {
		return "just now"
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// FormatClock formats a time as HH:MM in its location.
func FormatClock(t time.Time) string {
	return t.Format(FormatTime)
}
