package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/attendance/internal/shared"
)

var _ Repository = (*PGRepository)(nil)

// PGRepository stores daily statuses in Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const dayColumns = `employee_id, work_date, status, reason_code, reason, source, check_in, check_out,
required_hours::text, actual_hours::text, compensation_hours::text, permission_hours::text,
permission_minutes, late_minutes, early_leave_minutes,
COALESCE(leave_id, ''), COALESCE(mission_id, ''), COALESCE(permission_id, ''), COALESCE(holiday_id, ''),
punch_ids, trace, fingerprint, corrections, created_at, updated_at, version`

// GetDay loads a stored day.
func (r *PGRepository) GetDay(ctx context.Context, employeeID string, date time.Time) (DailyStatus, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+dayColumns+` FROM daily_statuses WHERE employee_id = $1 AND work_date = $2`,
		employeeID, shared.Day(date))
	day, err := scanDay(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return DailyStatus{}, fmt.Errorf("%w: %s %s", ErrDayNotFound, employeeID, shared.FormatDate(date))
	}
	if err != nil {
		return DailyStatus{}, shared.WrapStoreError(err)
	}
	return day, nil
}

// ListDays returns days in [from, to] ordered by date.
func (r *PGRepository) ListDays(ctx context.Context, employeeID string, from, to time.Time) ([]DailyStatus, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+dayColumns+` FROM daily_statuses
WHERE employee_id = $1 AND work_date BETWEEN $2 AND $3 ORDER BY work_date`, employeeID, shared.Day(from), shared.Day(to))
	if err != nil {
		return nil, shared.WrapStoreError(err)
	}
	defer rows.Close()
	var days []DailyStatus
	for rows.Next() {
		day, err := scanDay(rows)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.WrapStoreError(err)
	}
	return days, nil
}

// InsertDay stores a new day.
func (r *PGRepository) InsertDay(ctx context.Context, day DailyStatus) error {
	args, err := dayArgs(day)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO daily_statuses (
employee_id, work_date, status, reason_code, reason, source, check_in, check_out,
required_hours, actual_hours, compensation_hours, permission_hours,
permission_minutes, late_minutes, early_leave_minutes,
leave_id, mission_id, permission_id, holiday_id, punch_ids, trace, fingerprint, corrections,
lock_deadline, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11::numeric, $12::numeric, $13, $14, $15,
NULLIF($16, ''), NULLIF($17, ''), NULLIF($18, ''), NULLIF($19, ''), $20, $21, $22, $23, $24, $25, $26, $27)`, args...)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return fmt.Errorf("attendance: insert %s %s: %w", day.EmployeeID, shared.FormatDate(day.Date), shared.ErrConcurrentUpdate)
		}
		return shared.WrapStoreError(err)
	}
	return nil
}

// UpdateDay overwrites a day when its stored version still matches.
func (r *PGRepository) UpdateDay(ctx context.Context, day DailyStatus, expectedVersion int) error {
	args, err := dayArgs(day)
	if err != nil {
		return err
	}
	args = append(args, expectedVersion)
	tag, err := r.pool.Exec(ctx, `UPDATE daily_statuses SET
status = $3, reason_code = $4, reason = $5, source = $6, check_in = $7, check_out = $8,
required_hours = $9::numeric, actual_hours = $10::numeric, compensation_hours = $11::numeric, permission_hours = $12::numeric,
permission_minutes = $13, late_minutes = $14, early_leave_minutes = $15,
leave_id = NULLIF($16, ''), mission_id = NULLIF($17, ''), permission_id = NULLIF($18, ''), holiday_id = NULLIF($19, ''),
punch_ids = $20, trace = $21, fingerprint = $22, corrections = $23, lock_deadline = $24,
updated_at = $26, version = $27
WHERE employee_id = $1 AND work_date = $2 AND version = $28 AND created_at = $25`, args...)
	if err != nil {
		return shared.WrapStoreError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attendance: update %s %s: %w", day.EmployeeID, shared.FormatDate(day.Date), shared.ErrConcurrentUpdate)
	}
	return nil
}

func dayArgs(day DailyStatus) ([]any, error) {
	trace, err := json.Marshal(day.Trace)
	if err != nil {
		return nil, err
	}
	corrections, err := json.Marshal(day.Corrections)
	if err != nil {
		return nil, err
	}
	punchIDs := day.PunchIDs
	if punchIDs == nil {
		punchIDs = []string{}
	}
	return []any{
		day.EmployeeID, shared.Day(day.Date), string(day.Status), string(day.ReasonCode), day.Reason, string(day.Source),
		day.CheckIn, day.CheckOut,
		day.RequiredHours.String(), day.ActualHours.String(), day.CompensationHours.String(), day.PermissionHours.String(),
		day.PermissionMinutes, day.LateMinutes, day.EarlyLeaveMinutes,
		day.LeaveID, day.MissionID, day.PermissionID, day.HolidayID,
		punchIDs, trace, day.Fingerprint, corrections,
		day.LockDeadline, day.CreatedAt, day.UpdatedAt, day.Version,
	}, nil
}

func scanDay(row pgx.Row) (DailyStatus, error) {
	var (
		day                                  DailyStatus
		status, reasonCode, source           string
		required, actual, compensation, perm string
		traceJSON, correctionsJSON           []byte
	)
	err := row.Scan(
		&day.EmployeeID, &day.Date, &status, &reasonCode, &day.Reason, &source, &day.CheckIn, &day.CheckOut,
		&required, &actual, &compensation, &perm,
		&day.PermissionMinutes, &day.LateMinutes, &day.EarlyLeaveMinutes,
		&day.LeaveID, &day.MissionID, &day.PermissionID, &day.HolidayID,
		&day.PunchIDs, &traceJSON, &day.Fingerprint, &correctionsJSON,
		&day.CreatedAt, &day.UpdatedAt, &day.Version,
	)
	if err != nil {
		return DailyStatus{}, err
	}
	day.Date = shared.Day(day.Date)
	day.Status = Status(status)
	day.ReasonCode = ReasonCode(reasonCode)
	day.Source = Source(source)
	for dst, raw := range map[*decimal.Decimal]string{
		&day.RequiredHours:     required,
		&day.ActualHours:       actual,
		&day.CompensationHours: compensation,
		&day.PermissionHours:   perm,
	} {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return DailyStatus{}, fmt.Errorf("attendance: decode hours %q: %w", raw, err)
		}
		*dst = v
	}
	if len(traceJSON) > 0 {
		if err := json.Unmarshal(traceJSON, &day.Trace); err != nil {
			return DailyStatus{}, fmt.Errorf("attendance: decode trace: %w", err)
		}
	}
	if len(correctionsJSON) > 0 {
		if err := json.Unmarshal(correctionsJSON, &day.Corrections); err != nil {
			return DailyStatus{}, fmt.Errorf("attendance: decode corrections: %w", err)
		}
	}
	return day, nil
}
