package attendance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/attendance/internal/shared"
)

// Clock is a local wall-clock time expressed as minutes after midnight.
// Values past 1440 denote the following day.
type Clock int

// ParseClock parses HH:MM.
func ParseClock(raw string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: clock %q", shared.ErrValidation, raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: clock %q", shared.ErrValidation, raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: clock %q", shared.ErrValidation, raw)
	}
	return Clock(h*60 + m), nil
}

// MustClock is ParseClock for literals.
func MustClock(raw string) Clock {
	c, err := ParseClock(raw)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string {
	prefix := ""
	v := int(c)
	if v < 0 {
		prefix = "-"
		v = -v
	}
	return fmt.Sprintf("%s%02d:%02d", prefix, v/60, v%60)
}

// Employee is the directory view of a worker.
type Employee struct {
	ID             string
	Name           string
	Active         bool
	Administrative bool
	SupervisorID   string
	ScheduleID     string
	Location       string
}

// WorkSchedule is the schedule assignment in force on a date.
type WorkSchedule struct {
	ID            string
	Location      string
	TimeZone      string
	Start         Clock
	End           Clock
	RequiredHours decimal.Decimal
	WorkDays      []time.Weekday
	CheckInGrace  int
	CheckOutGrace int
}

// IsWorkDay reports whether the weekday is scheduled.
func (w WorkSchedule) IsWorkDay(day time.Weekday) bool {
	for _, d := range w.WorkDays {
		if d == day {
			return true
		}
	}
	return false
}

// DefaultSchedule is used when an employee has no assignment on a date.
func DefaultSchedule() WorkSchedule {
	return WorkSchedule{
		ID:            "default",
		TimeZone:      "UTC",
		Start:         MustClock("08:00"),
		End:           MustClock("16:00"),
		RequiredHours: decimal.NewFromInt(8),
		WorkDays:      []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		CheckInGrace:  15,
		CheckOutGrace: 0,
	}
}

// HolidayKind distinguishes official calendar entries from manual ones.
type HolidayKind string

const (
	HolidayOfficial HolidayKind = "OFFICIAL"
	HolidayManual   HolidayKind = "MANUAL"
)

// Holiday is a calendar hit for the date.
type Holiday struct {
	ID   string
	Name string
	Kind HolidayKind
}

// LeaveCategory classifies approved leave.
type LeaveCategory string

const (
	LeaveAnnual         LeaveCategory = "ANNUAL"
	LeaveSick           LeaveCategory = "SICK"
	LeaveUnpaid         LeaveCategory = "UNPAID"
	LeaveAdministrative LeaveCategory = "ADMINISTRATIVE"
)

// Leave is an approved leave span.
type Leave struct {
	ID       string
	Category LeaveCategory
	From     time.Time
	To       time.Time
}

// Mission is an approved mission span.
type Mission struct {
	ID          string
	Destination string
	From        time.Time
	To          time.Time
}

// PermissionKind distinguishes full-day from partial permissions.
type PermissionKind string

const (
	PermissionFullDay PermissionKind = "FULL_DAY"
	PermissionPartial PermissionKind = "PARTIAL"
)

// Permission is an approved permission on the date. From/To apply to partial permissions.
type Permission struct {
	ID   string
	Kind PermissionKind
	From Clock
	To   Clock
}

// Covers reports whether a partial permission window contains [from, to].
func (p Permission) Covers(from, to Clock) bool {
	return p.Kind == PermissionPartial && p.From <= from && p.To >= to
}

// PunchKind is the direction of a punch.
type PunchKind string

const (
	PunchIn  PunchKind = "IN"
	PunchOut PunchKind = "OUT"
)

// Punch is a raw attendance event. Local is filled by the collector.
type Punch struct {
	ID    string
	Kind  PunchKind
	At    time.Time
	Local Clock
}

// Evidence is the complete, sorted fact bundle for one (employee, date).
type Evidence struct {
	EmployeeID  string
	Date        time.Time
	Elapsed     bool
	Schedule    WorkSchedule
	Holidays    []Holiday
	Leaves      []Leave
	Missions    []Mission
	Permissions []Permission
	Punches     []Punch
}

// EmployeeDirectory exposes the employee collaborator.
type EmployeeDirectory interface {
	Employee(ctx context.Context, id string) (Employee, error)
	ActiveEmployees(ctx context.Context) ([]Employee, error)
}

// ScheduleSource returns the work schedule in force for a date.
type ScheduleSource interface {
	ScheduleFor(ctx context.Context, employeeID string, date time.Time) (WorkSchedule, error)
}

// CalendarSource returns holiday hits for a location and date.
type CalendarSource interface {
	HolidaysOn(ctx context.Context, location string, date time.Time) ([]Holiday, error)
}

// LeaveLedger returns approved leave spans covering a date.
type LeaveLedger interface {
	ApprovedLeaves(ctx context.Context, employeeID string, date time.Time) ([]Leave, error)
}

// MissionLedger returns approved mission spans covering a date.
type MissionLedger interface {
	ApprovedMissions(ctx context.Context, employeeID string, date time.Time) ([]Mission, error)
}

// PermissionLedger returns approved permissions on a date.
type PermissionLedger interface {
	ApprovedPermissions(ctx context.Context, employeeID string, date time.Time) ([]Permission, error)
}

// PunchSource returns raw punches within [from, to).
type PunchSource interface {
	Punches(ctx context.Context, employeeID string, from, to time.Time) ([]Punch, error)
}

// Sources groups the collaborators the collector reads from.
type Sources struct {
	Directory   EmployeeDirectory
	Schedules   ScheduleSource
	Calendar    CalendarSource
	Leaves      LeaveLedger
	Missions    MissionLedger
	Permissions PermissionLedger
	Punches     PunchSource
}

// EvidenceCollector gathers evidence bundles.
type EvidenceCollector interface {
	Collect(ctx context.Context, employeeID string, date time.Time) (Evidence, error)
}

// Collector is the read-only Evidence Collector.
type Collector struct {
	src Sources
	now func() time.Time
}

// NewCollector wires the collaborators.
func NewCollector(src Sources) *Collector {
	return &Collector{src: src, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (c *Collector) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Collect gathers all facts for one day. Only an unknown employee is an error;
// empty categories are normal.
func (c *Collector) Collect(ctx context.Context, employeeID string, date time.Time) (Evidence, error) {
	date = shared.Day(date)
	emp, err := c.src.Directory.Employee(ctx, employeeID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Evidence{}, fmt.Errorf("%w: %s", ErrEmployeeNotFound, employeeID)
		}
		return Evidence{}, err
	}

	schedule, err := c.src.Schedules.ScheduleFor(ctx, emp.ID, date)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return Evidence{}, err
		}
		schedule = DefaultSchedule()
	}
	if schedule.Location == "" {
		schedule.Location = emp.Location
	}
	loc, err := time.LoadLocation(schedule.TimeZone)
	if err != nil {
		return Evidence{}, fmt.Errorf("attendance: schedule %s time zone: %w", schedule.ID, err)
	}
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	ev := Evidence{
		EmployeeID: emp.ID,
		Date:       date,
		Elapsed:    !c.now().Before(dayEnd),
		Schedule:   schedule,
	}

	if ev.Holidays, err = c.src.Calendar.HolidaysOn(ctx, schedule.Location, date); err != nil {
		return Evidence{}, err
	}
	if ev.Leaves, err = c.src.Leaves.ApprovedLeaves(ctx, emp.ID, date); err != nil {
		return Evidence{}, err
	}
	if ev.Missions, err = c.src.Missions.ApprovedMissions(ctx, emp.ID, date); err != nil {
		return Evidence{}, err
	}
	if ev.Permissions, err = c.src.Permissions.ApprovedPermissions(ctx, emp.ID, date); err != nil {
		return Evidence{}, err
	}
	punches, err := c.src.Punches.Punches(ctx, emp.ID, dayStart.UTC(), dayEnd.UTC())
	if err != nil {
		return Evidence{}, err
	}
	for i := range punches {
		local := punches[i].At.In(loc)
		punches[i].At = punches[i].At.UTC()
		punches[i].Local = Clock(int(local.Sub(dayStart).Minutes()))
	}
	ev.Punches = punches
	normalizeEvidence(&ev)
	return ev, nil
}

// normalizeEvidence orders every slice so traces are reproducible regardless
// of the order collaborators return rows in.
func normalizeEvidence(ev *Evidence) {
	sort.SliceStable(ev.Holidays, func(i, j int) bool {
		if ev.Holidays[i].Kind != ev.Holidays[j].Kind {
			return ev.Holidays[i].Kind == HolidayOfficial
		}
		return ev.Holidays[i].ID < ev.Holidays[j].ID
	})
	sort.SliceStable(ev.Leaves, func(i, j int) bool { return ev.Leaves[i].ID < ev.Leaves[j].ID })
	sort.SliceStable(ev.Missions, func(i, j int) bool { return ev.Missions[i].ID < ev.Missions[j].ID })
	sort.SliceStable(ev.Permissions, func(i, j int) bool { return ev.Permissions[i].ID < ev.Permissions[j].ID })
	sort.SliceStable(ev.Punches, func(i, j int) bool {
		if !ev.Punches[i].At.Equal(ev.Punches[j].At) {
			return ev.Punches[i].At.Before(ev.Punches[j].At)
		}
		return ev.Punches[i].ID < ev.Punches[j].ID
	})
}
