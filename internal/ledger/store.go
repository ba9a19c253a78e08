// Package ledger reads the upstream HR records the evidence collector consumes:
// employees, schedule assignments, approved leave, missions, permissions and punches.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/attendance/internal/attendance"
	"github.com/odyssey-erp/attendance/internal/shared"
)

var (
	_ attendance.EmployeeDirectory = (*Store)(nil)
	_ attendance.ScheduleSource    = (*Store)(nil)
	_ attendance.LeaveLedger       = (*Store)(nil)
	_ attendance.MissionLedger     = (*Store)(nil)
	_ attendance.PermissionLedger  = (*Store)(nil)
	_ attendance.PunchSource       = (*Store)(nil)
)

const statusApproved = "APPROVED"

// Store is a read-only view over the HR tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Employee loads one employee.
func (s *Store) Employee(ctx context.Context, id string) (attendance.Employee, error) {
	var e attendance.Employee
	err := s.pool.QueryRow(ctx, `SELECT id, name, active, administrative, COALESCE(supervisor_id, ''), COALESCE(schedule_id, ''), COALESCE(location, '')
FROM employees WHERE id = $1`, id).Scan(&e.ID, &e.Name, &e.Active, &e.Administrative, &e.SupervisorID, &e.ScheduleID, &e.Location)
	if errors.Is(err, pgx.ErrNoRows) {
		return attendance.Employee{}, fmt.Errorf("ledger: employee %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return attendance.Employee{}, shared.WrapStoreError(err)
	}
	return e, nil
}

// ActiveEmployees lists every active employee ordered by id.
func (s *Store) ActiveEmployees(ctx context.Context) ([]attendance.Employee, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, active, administrative, COALESCE(supervisor_id, ''), COALESCE(schedule_id, ''), COALESCE(location, '')
FROM employees WHERE active ORDER BY id`)
	if err != nil {
		return nil, shared.WrapStoreError(err)
	}
	defer rows.Close()
	var out []attendance.Employee
	for rows.Next() {
		var e attendance.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.Active, &e.Administrative, &e.SupervisorID, &e.ScheduleID, &e.Location); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, shared.WrapStoreError(rows.Err())
}

// ScheduleFor returns the assignment effective on date, falling back to the
// employee's default schedule.
func (s *Store) ScheduleFor(ctx context.Context, employeeID string, date time.Time) (attendance.WorkSchedule, error) {
	row := s.pool.QueryRow(ctx, `SELECT ws.id, COALESCE(ws.location, ''), ws.time_zone, ws.start_time, ws.end_time, ws.required_hours::text,
ws.work_days, ws.check_in_grace, ws.check_out_grace
FROM work_schedules ws
WHERE ws.id = COALESCE(
	(SELECT a.schedule_id FROM schedule_assignments a
	 WHERE a.employee_id = $1 AND a.effective_from <= $2 AND (a.effective_to IS NULL OR a.effective_to >= $2)
	 ORDER BY a.effective_from DESC LIMIT 1),
	(SELECT e.schedule_id FROM employees e WHERE e.id = $1))`, employeeID, shared.Day(date))
	var (
		ws         attendance.WorkSchedule
		start, end string
		required   string
		days       []int32
	)
	err := row.Scan(&ws.ID, &ws.Location, &ws.TimeZone, &start, &end, &required, &days, &ws.CheckInGrace, &ws.CheckOutGrace)
	if errors.Is(err, pgx.ErrNoRows) {
		return attendance.WorkSchedule{}, fmt.Errorf("ledger: schedule for %s: %w", employeeID, shared.ErrNotFound)
	}
	if err != nil {
		return attendance.WorkSchedule{}, shared.WrapStoreError(err)
	}
	if ws.Start, err = attendance.ParseClock(start); err != nil {
		return attendance.WorkSchedule{}, err
	}
	if ws.End, err = attendance.ParseClock(end); err != nil {
		return attendance.WorkSchedule{}, err
	}
	if ws.RequiredHours, err = decimal.NewFromString(required); err != nil {
		return attendance.WorkSchedule{}, fmt.Errorf("ledger: schedule %s required hours: %w", ws.ID, err)
	}
	for _, d := range days {
		ws.WorkDays = append(ws.WorkDays, time.Weekday(d))
	}
	return ws, nil
}

// ApprovedLeaves returns approved leave spans covering date.
func (s *Store) ApprovedLeaves(ctx context.Context, employeeID string, date time.Time) ([]attendance.Leave, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, category, from_date, to_date FROM leaves
WHERE employee_id = $1 AND status = $2 AND from_date <= $3 AND to_date >= $3 ORDER BY id`, employeeID, statusApproved, shared.Day(date))
	if err != nil {
		return nil, shared.WrapStoreError(err)
	}
	defer rows.Close()
	var out []attendance.Leave
	for rows.Next() {
		var l attendance.Leave
		var category string
		if err := rows.Scan(&l.ID, &category, &l.From, &l.To); err != nil {
			return nil, err
		}
		l.Category = attendance.LeaveCategory(category)
		out = append(out, l)
	}
	return out, shared.WrapStoreError(rows.Err())
}

// ApprovedMissions returns approved mission spans covering date.
func (s *Store) ApprovedMissions(ctx context.Context, employeeID string, date time.Time) ([]attendance.Mission, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, COALESCE(destination, ''), from_date, to_date FROM missions
WHERE employee_id = $1 AND status = $2 AND from_date <= $3 AND to_date >= $3 ORDER BY id`, employeeID, statusApproved, shared.Day(date))
	if err != nil {
		return nil, shared.WrapStoreError(err)
	}
	defer rows.Close()
	var out []attendance.Mission
	for rows.Next() {
		var m attendance.Mission
		if err := rows.Scan(&m.ID, &m.Destination, &m.From, &m.To); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, shared.WrapStoreError(rows.Err())
}

// ApprovedPermissions returns approved permissions on date.
func (s *Store) ApprovedPermissions(ctx context.Context, employeeID string, date time.Time) ([]attendance.Permission, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, kind, COALESCE(from_time, ''), COALESCE(to_time, '') FROM permissions
WHERE employee_id = $1 AND status = $2 AND permit_date = $3 ORDER BY id`, employeeID, statusApproved, shared.Day(date))
	if err != nil {
		return nil, shared.WrapStoreError(err)
	}
	defer rows.Close()
	var out []attendance.Permission
	for rows.Next() {
		var (
			p        attendance.Permission
			kind     string
			from, to string
		)
		if err := rows.Scan(&p.ID, &kind, &from, &to); err != nil {
			return nil, err
		}
		p.Kind = attendance.PermissionKind(kind)
		if p.Kind == attendance.PermissionPartial {
			if p.From, err = attendance.ParseClock(from); err != nil {
				return nil, err
			}
			if p.To, err = attendance.ParseClock(to); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, shared.WrapStoreError(rows.Err())
}

// Punches returns raw punches within [from, to).
func (s *Store) Punches(ctx context.Context, employeeID string, from, to time.Time) ([]attendance.Punch, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, kind, punched_at FROM attendance_punches
WHERE employee_id = $1 AND punched_at >= $2 AND punched_at < $3 ORDER BY punched_at, id`, employeeID, from, to)
	if err != nil {
		return nil, shared.WrapStoreError(err)
	}
	defer rows.Close()
	var out []attendance.Punch
	for rows.Next() {
		var p attendance.Punch
		var kind string
		if err := rows.Scan(&p.ID, &kind, &p.At); err != nil {
			return nil, err
		}
		p.Kind = attendance.PunchKind(kind)
		out = append(out, p)
	}
	return out, shared.WrapStoreError(rows.Err())
}
