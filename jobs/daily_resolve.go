package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/attendance/internal/attendance"
	"github.com/odyssey-erp/attendance/internal/shared"
)

// DayResolver is the part of the attendance service the daily batch drives.
type DayResolver interface {
	Resolve(ctx context.Context, in attendance.ResolveInput) (attendance.DailyStatus, error)
}

// DailyResolveJob resolves one date for every active, non-administrative employee.
type DailyResolveJob struct {
	BatchDeps
	Days  DayResolver
	clock func() time.Time
}

// NewDailyResolveJob initialises the daily batch handler.
func NewDailyResolveJob(deps BatchDeps, days DayResolver) *DailyResolveJob {
	return &DailyResolveJob{
		BatchDeps: deps,
		Days:      days,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle is the asynq entry point.
func (j *DailyResolveJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Days == nil {
		return errors.New("daily resolve: handler not configured")
	}
	var payload DailyResolvePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("daily resolve: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	date, err := ResolveDate(payload.Date, j.now(), j.location())
	if err != nil {
		return fmt.Errorf("daily resolve: %v: %w", err, asynq.SkipRetry)
	}
	_, err = j.Run(ctx, date, payload.Trigger)
	return err
}

// Run resolves date for the eligible population and returns the appended log.
// Re-running the same date reconciles: unchanged days are no-ops.
func (j *DailyResolveJob) Run(ctx context.Context, date time.Time, trigger string) (JobLog, error) {
	date = shared.Day(date)
	return j.execute(ctx, TaskDailyResolve, shared.FormatDate(date), trigger, j.now, func(ctx context.Context, employeeID string) (UnitOutcome, error) {
		_, err := j.Days.Resolve(ctx, attendance.ResolveInput{
			EmployeeID: employeeID,
			Date:       date,
			Actor:      shared.SystemActor,
			Reason:     "daily batch",
		})
		switch {
		case err == nil:
			return UnitOK, nil
		case errors.Is(err, attendance.ErrLocked),
			errors.Is(err, attendance.ErrMonthFinalized),
			errors.Is(err, attendance.ErrDayInProgress):
			return UnitSkipped, nil
		default:
			return UnitError, err
		}
	})
}

func (j *DailyResolveJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
