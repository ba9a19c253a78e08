package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/attendance/internal/shared"
)

// JobStatus is the outcome of a batch run.
type JobStatus string

const (
	JobSuccess JobStatus = "success"
	JobPartial JobStatus = "partial"
	JobFailed  JobStatus = "failed"
)

// UnitError records one employee's failure inside a batch.
type UnitError struct {
	EmployeeID string `json:"employee_id"`
	Error      string `json:"error"`
}

// JobLog is the append-only record of one batch run.
type JobLog struct {
	ID             uuid.UUID   `json:"id"`
	JobType        string      `json:"job_type"`
	Target         string      `json:"target"`
	Trigger        string      `json:"trigger"`
	ProcessedCount int         `json:"processed_count"`
	SkippedCount   int         `json:"skipped_count"`
	ErrorCount     int         `json:"error_count"`
	Errors         []UnitError `json:"errors"`
	Status         JobStatus   `json:"status"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
}

// JobLogStore appends and lists job logs.
type JobLogStore interface {
	Append(ctx context.Context, log JobLog) error
	List(ctx context.Context, jobType string, limit int) ([]JobLog, error)
}

// PGJobLogStore keeps job logs in Postgres.
type PGJobLogStore struct {
	pool *pgxpool.Pool
}

// NewPGJobLogStore constructs a PGJobLogStore.
func NewPGJobLogStore(pool *pgxpool.Pool) *PGJobLogStore {
	return &PGJobLogStore{pool: pool}
}

// Append inserts the log.
func (s *PGJobLogStore) Append(ctx context.Context, log JobLog) error {
	errs := log.Errors
	if errs == nil {
		errs = []UnitError{}
	}
	raw, err := json.Marshal(errs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO job_logs (id, job_type, target, trigger, processed_count, skipped_count, error_count, errors, status, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		log.ID, log.JobType, log.Target, log.Trigger, log.ProcessedCount, log.SkippedCount, log.ErrorCount, raw, string(log.Status), log.StartedAt, log.FinishedAt)
	if err != nil {
		return fmt.Errorf("jobs: append log: %w", shared.WrapStoreError(err))
	}
	return nil
}

// List returns the newest logs first, optionally filtered by job type.
func (s *PGJobLogStore) List(ctx context.Context, jobType string, limit int) ([]JobLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT id, job_type, target, trigger, processed_count, skipped_count, error_count, errors, status, started_at, finished_at
FROM job_logs WHERE ($1 = '' OR job_type = $1) ORDER BY started_at DESC LIMIT $2`, jobType, limit)
	if err != nil {
		return nil, shared.WrapStoreError(err)
	}
	defer rows.Close()
	var out []JobLog
	for rows.Next() {
		var (
			l      JobLog
			raw    []byte
			status string
		)
		if err := rows.Scan(&l.ID, &l.JobType, &l.Target, &l.Trigger, &l.ProcessedCount, &l.SkippedCount, &l.ErrorCount, &raw, &status, &l.StartedAt, &l.FinishedAt); err != nil {
			return nil, err
		}
		l.Status = JobStatus(status)
		if err := json.Unmarshal(raw, &l.Errors); err != nil {
			return nil, fmt.Errorf("jobs: decode errors: %w", err)
		}
		out = append(out, l)
	}
	return out, shared.WrapStoreError(rows.Err())
}

// complete folds a batch result into the log.
func (l *JobLog) complete(res BatchResult, finishedAt time.Time) {
	l.ProcessedCount = res.Processed
	l.SkippedCount = res.Skipped
	l.ErrorCount = len(res.Errors)
	l.Errors = res.Errors
	l.Status = res.Status()
	l.FinishedAt = finishedAt
}

// fail marks a batch that could not start.
func (l *JobLog) fail(err error, finishedAt time.Time) {
	l.Status = JobFailed
	l.ErrorCount = 1
	l.Errors = []UnitError{{Error: err.Error()}}
	l.FinishedAt = finishedAt
}
