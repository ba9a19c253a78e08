package monthly

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

// PGRepository stores monthly aggregates in Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Get loads one aggregate.
func (r *PGRepository) Get(ctx context.Context, employeeID, month string) (MonthlyHours, error) {
	var (
		mh                                         MonthlyHours
		state                                      string
		counters, details                          []byte
		required, actual, comp, perm, net, deficit string
		deficitDays                                string
		covered                                    *time.Time
	)
	err := r.pool.QueryRow(ctx, `SELECT employee_id, period, state, counters,
required_hours::text, actual_hours::text, compensation_hours::text, permission_hours::text,
net_hours::text, deficit_hours::text, deficit_days::text, absent_dates, covered_through,
finalized_at, COALESCE(finalized_by, ''), reopen_count, computed_at, version, details
FROM monthly_hours WHERE employee_id = $1 AND period = $2`, employeeID, month).Scan(
		&mh.EmployeeID, &mh.Month, &state, &counters,
		&required, &actual, &comp, &perm, &net, &deficit, &deficitDays,
		&mh.AbsentDates, &covered, &mh.FinalizedAt, &mh.FinalizedBy, &mh.ReopenCount, &mh.ComputedAt, &mh.Version, &details,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return MonthlyHours{}, fmt.Errorf("%w: %s %s", ErrNotFound, employeeID, month)
	}
	if err != nil {
		return MonthlyHours{}, shared.WrapStoreError(err)
	}
	mh.State = State(state)
	if covered != nil {
		mh.CoveredThrough = shared.Day(*covered)
	}
	if err := json.Unmarshal(counters, &mh.Counters); err != nil {
		return MonthlyHours{}, fmt.Errorf("monthly: decode counters: %w", err)
	}
	if err := json.Unmarshal(details, &mh.Details); err != nil {
		return MonthlyHours{}, fmt.Errorf("monthly: decode details: %w", err)
	}
	for i := range mh.Details {
		mh.Details[i].Date = shared.Day(mh.Details[i].Date)
	}
	targets := []*decimal.Decimal{&mh.RequiredHours, &mh.ActualHours, &mh.CompensationHours, &mh.PermissionHours, &mh.NetHours, &mh.DeficitHours, &mh.DeficitDays}
	for i, raw := range []string{required, actual, comp, perm, net, deficit, deficitDays} {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return MonthlyHours{}, fmt.Errorf("monthly: decode hours %q: %w", raw, err)
		}
		*targets[i] = v
	}
	for i := range mh.AbsentDates {
		mh.AbsentDates[i] = shared.Day(mh.AbsentDates[i])
	}
	return mh, nil
}

// Save inserts or compare-and-swaps the aggregate.
func (r *PGRepository) Save(ctx context.Context, mh MonthlyHours, expectedVersion int) error {
	counters, err := json.Marshal(mh.Counters)
	if err != nil {
		return err
	}
	detailRows := mh.Details
	if detailRows == nil {
		detailRows = []DayDetail{}
	}
	details, err := json.Marshal(detailRows)
	if err != nil {
		return err
	}
	var covered *time.Time
	if !mh.CoveredThrough.IsZero() {
		covered = &mh.CoveredThrough
	}
	absent := mh.AbsentDates
	if absent == nil {
		absent = []time.Time{}
	}
	args := []any{
		mh.EmployeeID, mh.Month, string(mh.State), counters,
		mh.RequiredHours.String(), mh.ActualHours.String(), mh.CompensationHours.String(), mh.PermissionHours.String(),
		mh.NetHours.String(), mh.DeficitHours.String(), mh.DeficitDays.String(),
		absent, covered, mh.FinalizedAt, mh.FinalizedBy, mh.ReopenCount, mh.ComputedAt, mh.Version, details,
	}
	if expectedVersion == 0 {
		_, err = r.pool.Exec(ctx, `INSERT INTO monthly_hours (employee_id, period, state, counters,
required_hours, actual_hours, compensation_hours, permission_hours, net_hours, deficit_hours, deficit_days,
absent_dates, covered_through, finalized_at, finalized_by, reopen_count, computed_at, version, details)
VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11::numeric,
$12::date[], $13, $14, NULLIF($15, ''), $16, $17, $18, $19)`, args...)
		if shared.IsUniqueViolation(err) {
			return fmt.Errorf("monthly: insert %s %s: %w", mh.EmployeeID, mh.Month, shared.ErrConcurrentUpdate)
		}
		return shared.WrapStoreError(err)
	}
	args = append(args, expectedVersion)
	tag, err := r.pool.Exec(ctx, `UPDATE monthly_hours SET state = $3, counters = $4,
required_hours = $5::numeric, actual_hours = $6::numeric, compensation_hours = $7::numeric, permission_hours = $8::numeric,
net_hours = $9::numeric, deficit_hours = $10::numeric, deficit_days = $11::numeric,
absent_dates = $12::date[], covered_through = $13, finalized_at = $14, finalized_by = NULLIF($15, ''),
reopen_count = $16, computed_at = $17, version = $18, details = $19
WHERE employee_id = $1 AND period = $2 AND version = $20`, args...)
	if err != nil {
		return shared.WrapStoreError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("monthly: update %s %s: %w", mh.EmployeeID, mh.Month, shared.ErrConcurrentUpdate)
	}
	return nil
}
