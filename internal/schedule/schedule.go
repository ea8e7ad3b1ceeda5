// Package schedule resolves the departure time of a recurring ride
// agreement for a given calendar date. Both the realtime certification path
// (current day) and the batch generator (arbitrary date range) go through
// the same resolver.
package schedule

import (
	"time"

	"github.com/Iliess-A/Mobicoop-api/internal/models"
)

// TimeFor returns the departure time of day applicable to date according to
// the weekly grid of the criteria. ok is false when that weekday is not a
// carpool day. Weekday indexing follows time.Weekday (0=Sunday).
func TimeFor(c models.Criteria, date time.Time) (time.Time, bool) {
	day := c.Days[date.Weekday()]
	if !day.Check {
		return time.Time{}, false
	}
	return day.Time, true
}

// Apply combines the calendar day of date with the hour and minute of the
// given time of day, in date's location.
func Apply(date, timeOfDay time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), timeOfDay.Hour(), timeOfDay.Minute(), 0, 0, date.Location())
}

// Day truncates a timestamp to its calendar day.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDay reports whether two timestamps fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// DefaultWindow returns the full previous calendar day relative to now:
// 00:00:00 to 23:59:59.999. The batch jobs run once daily over this window.
func DefaultWindow(now time.Time) (time.Time, time.Time) {
	y := now.AddDate(0, 0, -1)
	from := time.Date(y.Year(), y.Month(), y.Day(), 0, 0, 0, 0, y.Location())
	to := time.Date(y.Year(), y.Month(), y.Day(), 23, 59, 59, 999000000, y.Location())
	return from, to
}
