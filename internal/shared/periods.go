package shared

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DateLayout formats calendar dates.
	DateLayout = "2006-01-02"
	// MonthLayout formats period codes.
	MonthLayout = "2006-01"
)

// ErrInvalidPeriod indicates a malformed date or month code.
var ErrInvalidPeriod = errors.New("invalid period")

// Day truncates t to its calendar date at 00:00 UTC, using t's own location
// to decide which date it falls on.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a 2006-01-02 calendar date.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidPeriod, raw)
	}
	return t, nil
}

// FormatDate renders a calendar date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// MonthOf returns the period code for a date.
func MonthOf(t time.Time) string {
	return t.Format(MonthLayout)
}

// MonthRange returns the first and last calendar dates of a period code.
func MonthRange(month string) (time.Time, time.Time, error) {
	start, err := time.Parse(MonthLayout, month)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: month %q", ErrInvalidPeriod, month)
	}
	end := start.AddDate(0, 1, -1)
	return start, end, nil
}

// PreviousMonth returns the period code preceding the month containing t.
func PreviousMonth(t time.Time) string {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return MonthOf(first.AddDate(0, -1, 0))
}

// Yesterday returns the calendar date before now in the given location.
func Yesterday(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return Day(now.In(loc)).AddDate(0, 0, -1)
}
