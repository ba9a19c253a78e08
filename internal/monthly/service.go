package monthly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/attendance/internal/attendance"
	"github.com/odyssey-erp/attendance/internal/shared"
)

// Repository persists monthly aggregates.
type Repository interface {
	Get(ctx context.Context, employeeID, month string) (MonthlyHours, error)
	// Save inserts when expectedVersion is zero, otherwise compare-and-swaps on version.
	Save(ctx context.Context, mh MonthlyHours, expectedVersion int) error
}

// DayService is the DailyStatus surface the aggregator relies on.
type DayService interface {
	Ensure(ctx context.Context, employeeID string, date time.Time) (attendance.DailyStatus, error)
}

// ProposalGuard reports whether a month fed an executed proposal.
type ProposalGuard interface {
	HasExecuted(ctx context.Context, employeeID, month string) (bool, error)
}

// Config tunes aggregation.
type Config struct {
	StandardDayHours decimal.Decimal
	Location         *time.Location
}

// Service aggregates and finalizes months.
type Service struct {
	repo      Repository
	days      DayService
	locker    shared.Locker
	audit     shared.AuditRecorder
	proposals ProposalGuard
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

var _ attendance.FinalizationGuard = (*Service)(nil)

// NewService constructs a Service.
func NewService(repo Repository, days DayService, locker shared.Locker, audit shared.AuditRecorder, cfg Config, logger *slog.Logger) *Service {
	if locker == nil {
		locker = shared.NewKeyedMutex()
	}
	if cfg.StandardDayHours.IsZero() {
		cfg.StandardDayHours = decimal.NewFromInt(8)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		days:   days,
		locker: locker,
		audit:  audit,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "monthly")),
		now:    time.Now,
	}
}

// SetProposalGuard injects the executed-proposal check used by Aggregate,
// Reopen and MonthFinalized.
func (s *Service) SetProposalGuard(guard ProposalGuard) {
	s.proposals = guard
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns the stored aggregate.
func (s *Service) Get(ctx context.Context, employeeID, month string) (MonthlyHours, error) {
	if _, _, err := shared.MonthRange(month); err != nil {
		return MonthlyHours{}, err
	}
	return s.repo.Get(ctx, employeeID, month)
}

// MonthFinalized implements attendance.FinalizationGuard. A month is frozen
// once finalized or once an executed proposal was derived from it.
func (s *Service) MonthFinalized(ctx context.Context, employeeID, month string) (bool, error) {
	mh, err := s.repo.Get(ctx, employeeID, month)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return false, err
	}
	if err == nil && mh.Finalized() {
		return true, nil
	}
	return s.executed(ctx, employeeID, month)
}

func (s *Service) executed(ctx context.Context, employeeID, month string) (bool, error) {
	if s.proposals == nil {
		return false, nil
	}
	return s.proposals.HasExecuted(ctx, employeeID, month)
}

// Aggregate gap-fills every elapsed day of the month and recomputes totals.
// A finalized month is returned untouched together with ErrFinalized, a
// month behind an executed proposal together with ErrExecutedProposal.
func (s *Service) Aggregate(ctx context.Context, employeeID, month string) (MonthlyHours, error) {
	start, end, err := shared.MonthRange(month)
	if err != nil {
		return MonthlyHours{}, err
	}
	release, err := s.locker.Acquire(ctx, shared.MonthLockKey(employeeID, month))
	if err != nil {
		return MonthlyHours{}, err
	}
	defer release()

	existing, err := s.repo.Get(ctx, employeeID, month)
	found := err == nil
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return MonthlyHours{}, err
	}
	if found && existing.Finalized() {
		return existing, ErrFinalized
	}
	executed, err := s.executed(ctx, employeeID, month)
	if err != nil {
		return MonthlyHours{}, err
	}
	if executed {
		return existing, ErrExecutedProposal
	}

	last := shared.Yesterday(s.now(), s.cfg.Location)
	if end.Before(last) {
		last = end
	}
	var days []attendance.DailyStatus
	for d := start; !d.After(last); d = d.AddDate(0, 0, 1) {
		day, err := s.days.Ensure(ctx, employeeID, d)
		if errors.Is(err, attendance.ErrDayInProgress) {
			break
		}
		if err != nil {
			return MonthlyHours{}, fmt.Errorf("monthly: %s %s: %w", employeeID, shared.FormatDate(d), err)
		}
		days = append(days, day)
	}

	mh, err := Fold(employeeID, month, days, s.cfg.StandardDayHours)
	if err != nil {
		return MonthlyHours{}, err
	}
	if err := mh.checkCoverage(start); err != nil {
		return MonthlyHours{}, err
	}
	mh.ComputedAt = s.now().UTC()
	expected := 0
	if found {
		expected = existing.Version
		mh.ReopenCount = existing.ReopenCount
	}
	mh.Version = expected + 1
	if err := s.repo.Save(ctx, mh, expected); err != nil {
		return MonthlyHours{}, err
	}
	s.logger.Info("month aggregated",
		slog.String("employee_id", employeeID),
		slog.String("month", month),
		slog.Int("days", len(days)),
		slog.String("net_hours", mh.NetHours.String()),
		slog.String("deficit_hours", mh.DeficitHours.String()),
	)
	return mh, nil
}

// Finalize freezes an aggregated month.
func (s *Service) Finalize(ctx context.Context, employeeID, month string, actor shared.Actor) (MonthlyHours, error) {
	if !actor.HasAny(shared.RoleHRManager, shared.RoleAdmin) {
		return MonthlyHours{}, ErrRoleNotPermitted
	}
	release, err := s.locker.Acquire(ctx, shared.MonthLockKey(employeeID, month))
	if err != nil {
		return MonthlyHours{}, err
	}
	defer release()

	mh, err := s.repo.Get(ctx, employeeID, month)
	if err != nil {
		return MonthlyHours{}, err
	}
	if mh.Finalized() {
		return mh, nil
	}
	now := s.now().UTC()
	expected := mh.Version
	mh.State = StateFinalized
	mh.FinalizedAt = &now
	mh.FinalizedBy = actor.ID
	mh.Version++
	if err := s.repo.Save(ctx, mh, expected); err != nil {
		return MonthlyHours{}, err
	}
	return mh, s.record(ctx, actor, "monthly.finalize", mh, "")
}

// Reopen unfreezes a finalized month so days can be corrected and the month
// re-aggregated. Months behind an executed proposal stay frozen.
func (s *Service) Reopen(ctx context.Context, employeeID, month string, actor shared.Actor, reason string) (MonthlyHours, error) {
	if actor.Role != shared.RoleAdmin {
		return MonthlyHours{}, ErrRoleNotPermitted
	}
	if strings.TrimSpace(reason) == "" {
		return MonthlyHours{}, fmt.Errorf("%w: monthly: reopen reason required", shared.ErrValidation)
	}
	release, err := s.locker.Acquire(ctx, shared.MonthLockKey(employeeID, month))
	if err != nil {
		return MonthlyHours{}, err
	}
	defer release()

	mh, err := s.repo.Get(ctx, employeeID, month)
	if err != nil {
		return MonthlyHours{}, err
	}
	if !mh.Finalized() {
		return MonthlyHours{}, ErrNotFinalized
	}
	executed, err := s.executed(ctx, employeeID, month)
	if err != nil {
		return MonthlyHours{}, err
	}
	if executed {
		return MonthlyHours{}, ErrExecutedProposal
	}
	expected := mh.Version
	mh.State = StateOpen
	mh.FinalizedAt = nil
	mh.FinalizedBy = ""
	mh.ReopenCount++
	mh.Version++
	if err := s.repo.Save(ctx, mh, expected); err != nil {
		return MonthlyHours{}, err
	}
	return mh, s.record(ctx, actor, "monthly.reopen", mh, reason)
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action string, mh MonthlyHours, reason string) error {
	s.logger.Info("month state changed",
		slog.String("action", action),
		slog.String("employee_id", mh.EmployeeID),
		slog.String("month", mh.Month),
		slog.String("actor", actor.ID),
	)
	if s.audit == nil {
		return nil
	}
	meta := map[string]any{"state": string(mh.State), "version": mh.Version}
	if reason != "" {
		meta["reason"] = reason
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Role:     actor.Role,
		Action:   action,
		Entity:   "monthly_hours",
		EntityID: mh.EmployeeID + "/" + mh.Month,
		Meta:     meta,
		At:       s.now().UTC(),
	})
	if err != nil {
		s.logger.Error("audit month", slog.String("action", action), slog.Any("error", err))
		return fmt.Errorf("monthly: audit %s: %w", action, err)
	}
	return nil
}
