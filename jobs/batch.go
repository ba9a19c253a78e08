package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/attendance/internal/shared"
)

// UnitOutcome classifies a finished batch unit.
type UnitOutcome string

const (
	UnitOK      UnitOutcome = "ok"
	UnitSkipped UnitOutcome = "skipped"
	UnitError   UnitOutcome = "error"
)

// Unit processes a single employee. It must be idempotent.
type Unit func(ctx context.Context, employeeID string) (UnitOutcome, error)

// ErrBatchTimeout marks employees whose unit never started before the batch deadline.
var ErrBatchTimeout = errors.New("jobs: batch timeout reached before the employee was processed")

// BatchConfig tunes fan-out, retry and timeouts.
type BatchConfig struct {
	Concurrency    int
	Timeout        time.Duration
	UnitTimeout    time.Duration
	MaxAttempts    uint
	InitialBackoff time.Duration
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Minute
	}
	if c.UnitTimeout <= 0 {
		c.UnitTimeout = 2 * time.Minute
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 4
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	return c
}

// BatchResult aggregates unit outcomes.
type BatchResult struct {
	Processed int
	Succeeded int
	Skipped   int
	Errors    []UnitError
}

// BatchRunner fans a unit out over employees with bounded concurrency. Each
// unit is retried on transient errors through a shared circuit breaker.
type BatchRunner struct {
	cfg     BatchConfig
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewBatchRunner constructs a BatchRunner.
func NewBatchRunner(cfg BatchConfig, logger *slog.Logger) *BatchRunner {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	r := &BatchRunner{cfg: cfg, logger: logger}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "attendance-store",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !shared.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return r
}

// Run processes every employee and never aborts on a single failure. Units
// already running when the batch deadline passes finish on their own deadline;
// units not yet started are recorded as ErrBatchTimeout.
func (r *BatchRunner) Run(ctx context.Context, job string, employeeIDs []string, unit Unit) BatchResult {
	batchCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var (
		mu  sync.Mutex
		res = BatchResult{Processed: len(employeeIDs)}
	)
	record := func(id string, outcome UnitOutcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case UnitOK:
			res.Succeeded++
		case UnitSkipped:
			res.Skipped++
		default:
			res.Errors = append(res.Errors, UnitError{EmployeeID: id, Error: err.Error()})
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Concurrency)
	for _, id := range employeeIDs {
		if batchCtx.Err() != nil {
			record(id, UnitError, ErrBatchTimeout)
			continue
		}
		g.Go(func() error {
			if batchCtx.Err() != nil {
				record(id, UnitError, ErrBatchTimeout)
				return nil
			}
			unitCtx, unitCancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.UnitTimeout)
			defer unitCancel()
			outcome, err := r.runUnit(unitCtx, id, unit)
			if err != nil {
				r.logger.Warn("batch unit failed", slog.String("job", job), slog.String("employee_id", id), slog.Any("error", err))
				record(id, UnitError, err)
				return nil
			}
			record(id, outcome, nil)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].EmployeeID < res.Errors[j].EmployeeID })
	return res
}

func (r *BatchRunner) runUnit(ctx context.Context, employeeID string, unit Unit) (UnitOutcome, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialBackoff
	policy.MaxInterval = 10 * r.cfg.InitialBackoff

	return backoff.Retry(ctx, func() (UnitOutcome, error) {
		out, err := r.breaker.Execute(func() (interface{}, error) {
			outcome, err := unit(ctx, employeeID)
			return outcome, err
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return "", backoff.Permanent(fmt.Errorf("%w: %v", shared.ErrTransientStore, err))
			}
			if !shared.IsTransient(err) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		outcome, _ := out.(UnitOutcome)
		if outcome == "" {
			outcome = UnitOK
		}
		return outcome, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(r.cfg.MaxAttempts), backoff.WithMaxElapsedTime(r.cfg.UnitTimeout))
}

// Status derives the job status from the batch result.
func (res BatchResult) Status() JobStatus {
	if len(res.Errors) == 0 {
		return JobSuccess
	}
	return JobPartial
}

func employeeIDs[T any](items []T, id func(T) string, keep func(T) bool) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, id(it))
		}
	}
	sort.Strings(out)
	return out
}
