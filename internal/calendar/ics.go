package calendar

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/odyssey-erp/attendance/internal/attendance"
	"github.com/odyssey-erp/attendance/internal/shared"
)

// maxEventDays caps the expansion of a single VEVENT.
const maxEventDays = 31

// ImportResult summarises an iCalendar import.
type ImportResult struct {
	Events   int `json:"events"`
	Holidays int `json:"holidays"`
	Skipped  int `json:"skipped"`
}

// ImportICS reads VEVENTs from r and upserts one holiday per covered date.
// Re-importing the same feed is idempotent because ids derive from UID and date.
func (s *Service) ImportICS(ctx context.Context, r io.Reader, kind attendance.HolidayKind, location string) (ImportResult, error) {
	holidays, result, err := ParseICS(r, kind, location)
	if err != nil {
		return ImportResult{}, err
	}
	if err := s.Add(ctx, holidays...); err != nil {
		return ImportResult{}, err
	}
	s.logger.Info("holiday calendar imported",
		slog.Int("events", result.Events),
		slog.Int("holidays", result.Holidays),
		slog.Int("skipped", result.Skipped),
		slog.String("kind", string(kind)),
	)
	return result, nil
}

// ParseICS converts an iCalendar feed into holiday entries.
func ParseICS(r io.Reader, kind attendance.HolidayKind, location string) ([]Holiday, ImportResult, error) {
	cal, err := ics.ParseCalendar(r)
	if err != nil {
		return nil, ImportResult{}, fmt.Errorf("%w: parse ics: %v", ErrInvalidHoliday, err)
	}
	var (
		out    []Holiday
		result ImportResult
	)
	for _, evt := range cal.Events() {
		result.Events++
		summary := evt.GetProperty(ics.ComponentPropertySummary)
		if summary == nil || strings.TrimSpace(summary.Value) == "" {
			result.Skipped++
			continue
		}
		start, err := eventDate(evt, ics.ComponentPropertyDtStart)
		if err != nil {
			result.Skipped++
			continue
		}
		// DTEND is exclusive for all-day events; a missing DTEND means one day.
		end, err := eventDate(evt, ics.ComponentPropertyDtEnd)
		if err != nil || !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
		uid := strings.TrimSpace(evt.Id())
		if uid == "" {
			uid = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(summary.Value), " ", "-"))
		}
		days := 0
		for d := start; d.Before(end) && days < maxEventDays; d = d.AddDate(0, 0, 1) {
			out = append(out, Holiday{
				ID:       fmt.Sprintf("ics:%s:%s", uid, shared.FormatDate(d)),
				Date:     d,
				Name:     strings.TrimSpace(summary.Value),
				Kind:     kind,
				Location: location,
			})
			days++
		}
	}
	result.Holidays = len(out)
	return out, result, nil
}

func eventDate(evt *ics.VEvent, prop ics.ComponentProperty) (time.Time, error) {
	p := evt.GetProperty(prop)
	if p == nil {
		return time.Time{}, fmt.Errorf("missing property %s", prop)
	}
	val := strings.TrimSpace(p.Value)
	for _, layout := range []string{"20060102", "20060102T150405Z", "20060102T150405"} {
		t, err := time.Parse(layout, val)
		if err != nil {
			continue
		}
		if layout == "20060102T150405" {
			for k, v := range p.ICalParameters {
				if strings.EqualFold(k, "TZID") && len(v) > 0 {
					if loc, err := time.LoadLocation(v[0]); err == nil {
						t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
					}
				}
			}
		}
		return shared.Day(t), nil
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", val)
}
