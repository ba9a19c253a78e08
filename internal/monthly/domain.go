package monthly

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/attendance/internal/attendance"
	"github.com/odyssey-erp/attendance/internal/shared"
)

// State is the lifecycle of a monthly record.
type State string

const (
	StateOpen      State = "open"
	StateFinalized State = "finalized"
)

// Counters are day-type tallies over resolved statuses.
type Counters struct {
	WorkingDays       int `json:"working_days"`
	PresentDays       int `json:"present_days"`
	AbsentDays        int `json:"absent_days"`
	LeaveDays         int `json:"leave_days"`
	PermissionDays    int `json:"permission_days"`
	HolidayDays       int `json:"holiday_days"`
	MissionDays       int `json:"mission_days"`
	WeekendDays       int `json:"weekend_days"`
	LateCount         int `json:"late_count"`
	LateMinutes       int `json:"late_minutes"`
	EarlyLeaveCount   int `json:"early_leave_count"`
	EarlyLeaveMinutes int `json:"early_leave_minutes"`
}

// DayDetail is the per-day line folded into a monthly aggregate.
type DayDetail struct {
	Date              time.Time         `json:"date"`
	Status            attendance.Status `json:"status"`
	RequiredHours     decimal.Decimal   `json:"required_hours"`
	ActualHours       decimal.Decimal   `json:"actual_hours"`
	CompensationHours decimal.Decimal   `json:"compensation_hours"`
	PermissionHours   decimal.Decimal   `json:"permission_hours"`
	LateMinutes       int               `json:"late_minutes"`
	EarlyLeaveMinutes int               `json:"early_leave_minutes"`
}

// MonthlyHours is the aggregate for one (employee, month).
type MonthlyHours struct {
	EmployeeID        string
	Month             string
	Counters          Counters
	RequiredHours     decimal.Decimal
	ActualHours       decimal.Decimal
	CompensationHours decimal.Decimal
	PermissionHours   decimal.Decimal
	NetHours          decimal.Decimal
	DeficitHours      decimal.Decimal
	DeficitDays       decimal.Decimal
	AbsentDates       []time.Time
	Details           []DayDetail
	CoveredThrough    time.Time
	State             State
	FinalizedAt       *time.Time
	FinalizedBy       string
	ReopenCount       int
	ComputedAt        time.Time
	Version           int
}

// Finalized reports whether the record is frozen.
func (m MonthlyHours) Finalized() bool {
	return m.State == StateFinalized
}

// Fold computes the monthly aggregate from resolved days. Days outside the
// month are ignored and a date may appear only once; standardDay must be positive.
func Fold(employeeID, month string, days []attendance.DailyStatus, standardDay decimal.Decimal) (MonthlyHours, error) {
	if !standardDay.IsPositive() {
		return MonthlyHours{}, fmt.Errorf("%w: standard day length must be positive", shared.ErrValidation)
	}
	mh := MonthlyHours{
		EmployeeID:        employeeID,
		Month:             month,
		RequiredHours:     decimal.Zero,
		ActualHours:       decimal.Zero,
		CompensationHours: decimal.Zero,
		PermissionHours:   decimal.Zero,
		State:             StateOpen,
	}
	c := &mh.Counters
	seen := make(map[string]struct{}, len(days))
	for _, d := range days {
		if d.Month() != month {
			continue
		}
		key := shared.FormatDate(d.Date)
		if _, dup := seen[key]; dup {
			return MonthlyHours{}, fmt.Errorf("%w: monthly: %s folded twice", shared.ErrValidation, key)
		}
		seen[key] = struct{}{}
		mh.Details = append(mh.Details, DayDetail{
			Date:              d.Date,
			Status:            d.Status,
			RequiredHours:     d.RequiredHours,
			ActualHours:       d.ActualHours,
			CompensationHours: d.CompensationHours,
			PermissionHours:   d.PermissionHours,
			LateMinutes:       d.LateMinutes,
			EarlyLeaveMinutes: d.EarlyLeaveMinutes,
		})
		if d.Date.After(mh.CoveredThrough) {
			mh.CoveredThrough = d.Date
		}
		mh.RequiredHours = mh.RequiredHours.Add(d.RequiredHours)
		mh.ActualHours = mh.ActualHours.Add(d.ActualHours)
		mh.CompensationHours = mh.CompensationHours.Add(d.CompensationHours)
		mh.PermissionHours = mh.PermissionHours.Add(d.PermissionHours)
		if d.LateMinutes > 0 {
			c.LateCount++
			c.LateMinutes += d.LateMinutes
		}
		if d.EarlyLeaveMinutes > 0 {
			c.EarlyLeaveCount++
			c.EarlyLeaveMinutes += d.EarlyLeaveMinutes
		}
		switch d.Status {
		case attendance.StatusWeekend:
			c.WeekendDays++
			continue
		case attendance.StatusPresent, attendance.StatusLate, attendance.StatusLateExcused,
			attendance.StatusEarlyLeave, attendance.StatusEarlyExcused:
			c.PresentDays++
		case attendance.StatusAbsent:
			c.AbsentDays++
			mh.AbsentDates = append(mh.AbsentDates, d.Date)
		case attendance.StatusOnLeave, attendance.StatusOnAdminLeave:
			c.LeaveDays++
		case attendance.StatusPermission:
			c.PermissionDays++
		case attendance.StatusHoliday:
			c.HolidayDays++
		case attendance.StatusOnMission:
			c.MissionDays++
		default:
			return MonthlyHours{}, fmt.Errorf("monthly: unknown status %q on %s", d.Status, shared.FormatDate(d.Date))
		}
		c.WorkingDays++
	}
	mh.NetHours = mh.ActualHours.Add(mh.CompensationHours).Sub(mh.RequiredHours)
	mh.DeficitHours = decimal.Max(decimal.Zero, mh.NetHours.Neg())
	mh.DeficitDays = mh.DeficitHours.Div(standardDay).Round(2)
	sort.Slice(mh.Details, func(i, j int) bool { return mh.Details[i].Date.Before(mh.Details[j].Date) })
	return mh, nil
}

// checkCoverage verifies the folded days span every calendar day from the
// first of the month through CoveredThrough.
func (m MonthlyHours) checkCoverage(first time.Time) error {
	want := 0
	if !m.CoveredThrough.IsZero() {
		want = int(m.CoveredThrough.Sub(first).Hours()/24) + 1
	}
	if got := m.Counters.WorkingDays + m.Counters.WeekendDays; got != want {
		return fmt.Errorf("monthly: %s %s folded %d days, calendar through %s has %d",
			m.EmployeeID, m.Month, got, shared.FormatDate(m.CoveredThrough), want)
	}
	return nil
}

var (
	// ErrNotFound indicates the month has not been aggregated.
	ErrNotFound = fmt.Errorf("monthly: record %w", shared.ErrNotFound)
	// ErrFinalized is returned when recomputing a finalized month.
	ErrFinalized = fmt.Errorf("monthly: month is finalized: %w", shared.ErrLockedRecord)
	// ErrNotFinalized is returned when reopening an open month.
	ErrNotFinalized = fmt.Errorf("monthly: month is not finalized: %w", shared.ErrInvalidTransition)
	// ErrExecutedProposal blocks reopening and re-aggregation once a derived proposal was executed.
	ErrExecutedProposal = fmt.Errorf("monthly: an executed proposal depends on this month: %w", shared.ErrLockedRecord)
	// ErrRoleNotPermitted is returned when the actor may not finalize or reopen.
	ErrRoleNotPermitted = fmt.Errorf("monthly: role not permitted: %w", shared.ErrForbidden)
)
