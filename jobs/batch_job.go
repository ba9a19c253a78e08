package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/attendance/internal/attendance"
	jobmetrics "github.com/odyssey-erp/attendance/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// BatchDeps are the collaborators shared by the daily and monthly batches.
type BatchDeps struct {
	Employees attendance.EmployeeDirectory
	Logs      JobLogStore
	Runner    *BatchRunner
	Location  *time.Location
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// execute lists eligible employees, fans the unit out and appends the JobLog.
// The returned error is non-nil only when the batch could not start or its log
// could not be written.
func (d BatchDeps) execute(ctx context.Context, job, target, trigger string, now func() time.Time, unit Unit) (log JobLog, err error) {
	tracker := d.metrics().Track(job)
	defer func() {
		err = tracker.End(err)
	}()
	if trigger == "" {
		trigger = TriggerSchedule
	}
	log = JobLog{ID: uuid.New(), JobType: job, Target: target, Trigger: trigger, StartedAt: now()}
	logger := d.logger(job).With(slog.String("target", target), slog.String("trigger", trigger))
	logger.Info("starting batch")

	if d.Employees == nil {
		return d.abort(ctx, logger, log, fmt.Errorf("jobs: %s: employee directory not configured", job), now)
	}
	employees, listErr := d.Employees.ActiveEmployees(ctx)
	if listErr != nil {
		return d.abort(ctx, logger, log, fmt.Errorf("jobs: %s: list employees: %w", job, listErr), now)
	}
	ids := employeeIDs(employees,
		func(e attendance.Employee) string { return e.ID },
		func(e attendance.Employee) bool { return e.Active && !e.Administrative },
	)

	runner := d.Runner
	if runner == nil {
		runner = NewBatchRunner(BatchConfig{}, d.Logger)
	}
	res := runner.Run(ctx, job, ids, unit)
	log.complete(res, now())

	m := d.metrics()
	m.AddEmployees(job, string(UnitOK), res.Succeeded)
	m.AddEmployees(job, string(UnitSkipped), res.Skipped)
	m.AddEmployees(job, string(UnitError), len(res.Errors))

	if appendErr := d.appendLog(ctx, log); appendErr != nil {
		logger.Error("append job log", slog.Any("error", appendErr))
		return log, appendErr
	}
	logger.Info("completed batch",
		slog.String("status", string(log.Status)),
		slog.Int("processed", log.ProcessedCount),
		slog.Int("skipped", log.SkippedCount),
		slog.Int("errors", log.ErrorCount),
		slog.Duration("duration", log.FinishedAt.Sub(log.StartedAt)),
	)
	return log, nil
}

func (d BatchDeps) abort(ctx context.Context, logger *slog.Logger, log JobLog, cause error, now func() time.Time) (JobLog, error) {
	log.fail(cause, now())
	logger.Error("batch could not start", slog.Any("error", cause))
	if err := d.appendLog(ctx, log); err != nil {
		logger.Error("append job log", slog.Any("error", err))
	}
	return log, cause
}

func (d BatchDeps) appendLog(ctx context.Context, log JobLog) error {
	if d.Logs == nil {
		return nil
	}
	return d.Logs.Append(context.WithoutCancel(ctx), log)
}

func (d BatchDeps) logger(job string) *slog.Logger {
	if d.Logger != nil {
		return d.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func (d BatchDeps) metrics() *jobmetrics.Metrics {
	if d.Metrics != nil {
		return d.Metrics
	}
	return defaultJobMetrics
}

func (d BatchDeps) location() *time.Location {
	if d.Location != nil {
		return d.Location
	}
	return time.UTC
}
