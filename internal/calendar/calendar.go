package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/attendance/internal/attendance"
	"github.com/odyssey-erp/attendance/internal/shared"
)

// ErrInvalidHoliday indicates a malformed holiday entry.
var ErrInvalidHoliday = fmt.Errorf("calendar: invalid holiday: %w", shared.ErrValidation)

// Holiday is one calendar entry. An empty Location applies everywhere.
type Holiday struct {
	ID       string                 `json:"id"`
	Date     time.Time              `json:"date"`
	Name     string                 `json:"name"`
	Kind     attendance.HolidayKind `json:"kind"`
	Location string                 `json:"location,omitempty"`
}

// Validate checks the entry is complete.
func (h Holiday) Validate() error {
	if strings.TrimSpace(h.ID) == "" || strings.TrimSpace(h.Name) == "" || h.Date.IsZero() {
		return fmt.Errorf("%w: id, name and date are required", ErrInvalidHoliday)
	}
	if h.Kind != attendance.HolidayOfficial && h.Kind != attendance.HolidayManual {
		return fmt.Errorf("%w: kind %q", ErrInvalidHoliday, h.Kind)
	}
	return nil
}

// Repository persists holidays.
type Repository interface {
	HolidaysOn(ctx context.Context, location string, date time.Time) ([]Holiday, error)
	ListRange(ctx context.Context, from, to time.Time) ([]Holiday, error)
	Upsert(ctx context.Context, holidays []Holiday) error
}

// Service manages the holiday calendar.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

var _ attendance.CalendarSource = (*Service)(nil)

// NewService constructs a Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// HolidaysOn implements attendance.CalendarSource.
func (s *Service) HolidaysOn(ctx context.Context, location string, date time.Time) ([]attendance.Holiday, error) {
	entries, err := s.repo.HolidaysOn(ctx, location, shared.Day(date))
	if err != nil {
		return nil, err
	}
	out := make([]attendance.Holiday, 0, len(entries))
	for _, h := range entries {
		out = append(out, attendance.Holiday{ID: h.ID, Name: h.Name, Kind: h.Kind})
	}
	return out, nil
}

// List returns entries in [from, to].
func (s *Service) List(ctx context.Context, from, to time.Time) ([]Holiday, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: calendar: range end before start", shared.ErrValidation)
	}
	return s.repo.ListRange(ctx, shared.Day(from), shared.Day(to))
}

// Add stores manual or official entries.
func (s *Service) Add(ctx context.Context, holidays ...Holiday) error {
	for i := range holidays {
		holidays[i].Date = shared.Day(holidays[i].Date)
		if err := holidays[i].Validate(); err != nil {
			return err
		}
	}
	if len(holidays) == 0 {
		return nil
	}
	return s.repo.Upsert(ctx, holidays)
}
