package tenancy

import (
	"fmt"
	"time"
)

// =============================================================================
// CALENDAR HELPERS - Billing periods are calendar months
// =============================================================================

const (
	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"
)

// MonthOf returns midnight on the first day of t's month, in t's location.
func MonthOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// DayOf returns midnight of t's day, in t's location.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DueDateFor returns the due date of a bill created at createdAt: the given
// day of the month following createdAt.
func DueDateFor(createdAt time.Time, dueDay int) time.Time {
	next := MonthOf(createdAt).AddDate(0, 1, 0)
	return time.Date(next.Year(), next.Month(), dueDay, 0, 0, 0, 0, createdAt.Location())
}

// ParseMonth accepts "2006-01" or "2006-01-02" and returns the first of that
// month in loc.
func ParseMonth(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{MonthLayout, DateLayout, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return MonthOf(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid month %q (use YYYY-MM): %w", s, ErrInvalidInput)
}

// ParseDate accepts "2006-01-02" or RFC3339 and returns midnight of that day
// in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{DateLayout, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return DayOf(t.In(loc)), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, ErrInvalidInput)
}
