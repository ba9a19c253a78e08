package attendance

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/attendance/internal/shared"
)

// Status is the single authoritative outcome of a resolved day.
type Status string

const (
	StatusPresent      Status = "PRESENT"
	StatusLate         Status = "LATE"
	StatusLateExcused  Status = "LATE_EXCUSED"
	StatusEarlyLeave   Status = "EARLY_LEAVE"
	StatusEarlyExcused Status = "EARLY_EXCUSED"
	StatusPermission   Status = "PERMISSION"
	StatusOnMission    Status = "ON_MISSION"
	StatusOnLeave      Status = "ON_LEAVE"
	StatusOnAdminLeave Status = "ON_ADMIN_LEAVE"
	StatusHoliday      Status = "HOLIDAY"
	StatusWeekend      Status = "WEEKEND"
	StatusAbsent       Status = "ABSENT"
)

// AllStatuses lists the closed status set.
var AllStatuses = []Status{
	StatusPresent, StatusLate, StatusLateExcused, StatusEarlyLeave, StatusEarlyExcused,
	StatusPermission, StatusOnMission, StatusOnLeave, StatusOnAdminLeave,
	StatusHoliday, StatusWeekend, StatusAbsent,
}

// ParseStatus validates a status string.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range AllStatuses {
		if s == known {
			return s, true
		}
	}
	return "", false
}

// IsAttendance reports whether the status came from evaluating punches.
func (s Status) IsAttendance() bool {
	switch s {
	case StatusPresent, StatusLate, StatusLateExcused, StatusEarlyLeave, StatusEarlyExcused:
		return true
	default:
		return false
	}
}

// LockStatus is the time-gated mutability tier of a day.
type LockStatus string

const (
	LockOpen   LockStatus = "open"
	LockReview LockStatus = "review"
	LockLocked LockStatus = "locked"
)

// Source categorises which kind of evidence drove the decision.
type Source string

const (
	SourceCalendar   Source = "calendar"
	SourceLeave      Source = "leave"
	SourceMission    Source = "mission"
	SourcePermission Source = "permission"
	SourceAttendance Source = "attendance"
	SourceOverride   Source = "override"
)

// ReasonCode is the machine-readable decision reason.
type ReasonCode string

const (
	ReasonWeekend         ReasonCode = "WEEKEND"
	ReasonOfficialHoliday ReasonCode = "HOLIDAY_OFFICIAL"
	ReasonManualHoliday   ReasonCode = "HOLIDAY_MANUAL"
	ReasonLeave           ReasonCode = "LEAVE_APPROVED"
	ReasonAdminLeave      ReasonCode = "ADMIN_LEAVE_APPROVED"
	ReasonMission         ReasonCode = "MISSION_APPROVED"
	ReasonFullPermission  ReasonCode = "PERMISSION_FULL_DAY"
	ReasonNoPunches       ReasonCode = "NO_PUNCHES"
	ReasonOnTime          ReasonCode = "ON_TIME"
	ReasonLate            ReasonCode = "LATE_ARRIVAL"
	ReasonLateExcused     ReasonCode = "LATE_EXCUSED_BY_PERMISSION"
	ReasonEarly           ReasonCode = "EARLY_DEPARTURE"
	ReasonEarlyExcused    ReasonCode = "EARLY_EXCUSED_BY_PERMISSION"
	ReasonOverride        ReasonCode = "ADMIN_OVERRIDE"
)

// Reference points at the ledger record that won the decision.
type Reference struct {
	Kind Source `json:"kind"`
	ID   string `json:"id"`
}

func (r Reference) String() string {
	if r.ID == "" {
		return "-"
	}
	return string(r.Kind) + ":" + r.ID
}

// Snapshot captures the comparable outcome of a day for correction entries.
type Snapshot struct {
	Status            Status          `json:"status"`
	ReasonCode        ReasonCode      `json:"reason_code"`
	Source            Source          `json:"source"`
	RequiredHours     decimal.Decimal `json:"required_hours"`
	ActualHours       decimal.Decimal `json:"actual_hours"`
	LateMinutes       int             `json:"late_minutes"`
	EarlyLeaveMinutes int             `json:"early_leave_minutes"`
	Fingerprint       string          `json:"fingerprint"`
}

// Correction is one audit trail entry appended when a stored day changes.
type Correction struct {
	ID       string       `json:"id"`
	At       time.Time    `json:"at"`
	Actor    shared.Actor `json:"actor"`
	Reason   string       `json:"reason"`
	Override bool         `json:"override"`
	Previous Snapshot     `json:"previous"`
	Current  Snapshot     `json:"current"`
}

// DailyStatus is the persisted resolution for one (employee, date).
type DailyStatus struct {
	EmployeeID        string
	Date              time.Time
	Status            Status
	ReasonCode        ReasonCode
	Reason            string
	Source            Source
	CheckIn           *time.Time
	CheckOut          *time.Time
	RequiredHours     decimal.Decimal
	ActualHours       decimal.Decimal
	CompensationHours decimal.Decimal
	PermissionHours   decimal.Decimal
	PermissionMinutes int
	LateMinutes       int
	EarlyLeaveMinutes int
	LeaveID           string
	MissionID         string
	PermissionID      string
	HolidayID         string
	PunchIDs          []string
	Trace             Trace
	Fingerprint       string
	Corrections       []Correction
	LockDeadline      time.Time
	LockStatus        LockStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Version           int
}

// Snapshot extracts the comparable outcome.
func (d DailyStatus) Snapshot() Snapshot {
	return Snapshot{
		Status:            d.Status,
		ReasonCode:        d.ReasonCode,
		Source:            d.Source,
		RequiredHours:     d.RequiredHours,
		ActualHours:       d.ActualHours,
		LateMinutes:       d.LateMinutes,
		EarlyLeaveMinutes: d.EarlyLeaveMinutes,
		Fingerprint:       d.Fingerprint,
	}
}

// Month returns the period code the day belongs to.
func (d DailyStatus) Month() string {
	return shared.MonthOf(d.Date)
}

// applyDecision copies a decision onto the record, leaving identity,
// lifecycle timestamps and the correction trail untouched.
func (d *DailyStatus) applyDecision(dec Decision) {
	d.Status = dec.Status
	d.ReasonCode = dec.ReasonCode
	d.Reason = dec.Reason
	d.Source = dec.Source
	d.CheckIn = dec.CheckIn
	d.CheckOut = dec.CheckOut
	d.RequiredHours = dec.RequiredHours
	d.ActualHours = dec.ActualHours
	d.CompensationHours = dec.CompensationHours
	d.PermissionHours = dec.PermissionHours
	d.PermissionMinutes = dec.PermissionMinutes
	d.LateMinutes = dec.LateMinutes
	d.EarlyLeaveMinutes = dec.EarlyLeaveMinutes
	d.LeaveID, d.MissionID, d.PermissionID, d.HolidayID = "", "", "", ""
	switch dec.Ref.Kind {
	case SourceLeave:
		d.LeaveID = dec.Ref.ID
	case SourceMission:
		d.MissionID = dec.Ref.ID
	case SourcePermission:
		d.PermissionID = dec.Ref.ID
	case SourceCalendar:
		d.HolidayID = dec.Ref.ID
	}
	d.PunchIDs = append([]string(nil), dec.PunchIDs...)
	d.Trace = dec.Trace
	d.Fingerprint = dec.Fingerprint()
}

// ResolveInput requests (re)computation of a single day.
type ResolveInput struct {
	EmployeeID string
	Date       time.Time
	Actor      shared.Actor
	Reason     string
}

// Validate ensures the input is coherent.
func (in ResolveInput) Validate() error {
	if strings.TrimSpace(in.EmployeeID) == "" {
		return fmt.Errorf("%w: attendance: employee id required", shared.ErrValidation)
	}
	if in.Date.IsZero() {
		return fmt.Errorf("%w: attendance: date required", shared.ErrValidation)
	}
	if in.Actor.ID == "" || in.Actor.Role == "" {
		return fmt.Errorf("%w: attendance: actor required", shared.ErrValidation)
	}
	return nil
}

// OverrideInput requests an administrative correction that bypasses the lock tiers.
type OverrideInput struct {
	EmployeeID  string
	Date        time.Time
	Actor       shared.Actor
	Reason      string
	ForceStatus *Status
}

// Validate ensures the override is explicit and attributable.
func (in OverrideInput) Validate() error {
	if err := (ResolveInput{EmployeeID: in.EmployeeID, Date: in.Date, Actor: in.Actor}).Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(in.Reason) == "" {
		return fmt.Errorf("%w: attendance: override reason required", shared.ErrValidation)
	}
	return nil
}

var (
	// ErrDayNotFound indicates no stored resolution exists.
	ErrDayNotFound = fmt.Errorf("attendance: day %w", shared.ErrNotFound)
	// ErrEmployeeNotFound indicates the employee is unknown to the directory.
	ErrEmployeeNotFound = fmt.Errorf("attendance: employee %w", shared.ErrNotFound)
	// ErrLocked is returned when recomputing a locked day without override.
	ErrLocked = fmt.Errorf("attendance: day is locked: %w", shared.ErrLockedRecord)
	// ErrMonthFinalized is returned when mutating a day of a finalized or paid out month.
	ErrMonthFinalized = fmt.Errorf("attendance: month is frozen: %w", shared.ErrLockedRecord)
	// ErrForceNeedsLock is returned when forcing a status on a day that can still be recomputed.
	ErrForceNeedsLock = fmt.Errorf("%w: attendance: status can only be forced on a locked day, recompute it instead", shared.ErrInvalidTransition)
	// ErrRoleNotPermitted is returned when the actor's role cannot correct the day in its lock tier.
	ErrRoleNotPermitted = fmt.Errorf("attendance: role cannot correct day in current lock tier: %w", shared.ErrForbidden)
	// ErrDayInProgress is returned for a day that has not elapsed and has no punches yet.
	ErrDayInProgress = errors.New("attendance: day has not elapsed and has no punches")
)
