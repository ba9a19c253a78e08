package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/attendance/internal/monthly"
	"github.com/odyssey-erp/attendance/internal/proposals"
)

// MonthAggregator is the part of the monthly service the batch drives.
type MonthAggregator interface {
	Aggregate(ctx context.Context, employeeID, month string) (monthly.MonthlyHours, error)
}

// ProposalEvaluator turns an aggregated month into proposals.
type ProposalEvaluator interface {
	Evaluate(ctx context.Context, employeeID, month string) ([]proposals.Proposal, error)
}

// MonthlyAggregateJob aggregates one month per employee and runs the proposer.
type MonthlyAggregateJob struct {
	BatchDeps
	Months    MonthAggregator
	Proposals ProposalEvaluator
	clock     func() time.Time
}

// NewMonthlyAggregateJob initialises the monthly batch handler.
func NewMonthlyAggregateJob(deps BatchDeps, months MonthAggregator, evaluator ProposalEvaluator) *MonthlyAggregateJob {
	return &MonthlyAggregateJob{
		BatchDeps: deps,
		Months:    months,
		Proposals: evaluator,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle is the asynq entry point.
func (j *MonthlyAggregateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Months == nil {
		return errors.New("monthly aggregate: handler not configured")
	}
	var payload MonthlyAggregatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("monthly aggregate: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	month, err := ResolveMonth(payload.Month, j.now(), j.location())
	if err != nil {
		return fmt.Errorf("monthly aggregate: %v: %w", err, asynq.SkipRetry)
	}
	_, err = j.Run(ctx, month, payload.Trigger)
	return err
}

// Run aggregates month for the eligible population. A finalized month, or
// one behind an executed proposal, is counted as skipped but still evaluated
// so proposals created before finalization are returned rather than duplicated.
func (j *MonthlyAggregateJob) Run(ctx context.Context, month, trigger string) (JobLog, error) {
	return j.execute(ctx, TaskMonthlyAggregate, month, trigger, j.now, func(ctx context.Context, employeeID string) (UnitOutcome, error) {
		outcome := UnitOK
		if _, err := j.Months.Aggregate(ctx, employeeID, month); err != nil {
			if !errors.Is(err, monthly.ErrFinalized) && !errors.Is(err, monthly.ErrExecutedProposal) {
				return UnitError, err
			}
			outcome = UnitSkipped
		}
		if j.Proposals != nil {
			if _, err := j.Proposals.Evaluate(ctx, employeeID, month); err != nil {
				return UnitError, fmt.Errorf("evaluate proposals: %w", err)
			}
		}
		return outcome, nil
	})
}

func (j *MonthlyAggregateJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
