package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/attendance/internal/notify"
	"github.com/odyssey-erp/attendance/internal/shared"
)

const maxWriteAttempts = 3

// Repository persists resolved days.
type Repository interface {
	GetDay(ctx context.Context, employeeID string, date time.Time) (DailyStatus, error)
	ListDays(ctx context.Context, employeeID string, from, to time.Time) ([]DailyStatus, error)
	// InsertDay fails with shared.ErrConcurrentUpdate when the day already exists.
	InsertDay(ctx context.Context, day DailyStatus) error
	// UpdateDay fails with shared.ErrConcurrentUpdate when the stored version differs.
	UpdateDay(ctx context.Context, day DailyStatus, expectedVersion int) error
}

// FinalizationGuard reports whether the month holding a day is frozen.
type FinalizationGuard interface {
	MonthFinalized(ctx context.Context, employeeID, month string) (bool, error)
}

// ConflictCounter records evidence conflicts for monitoring.
type ConflictCounter interface {
	AddEvidenceConflicts(rule string, count int)
}

// ServiceConfig collects the collaborators of Service.
type ServiceConfig struct {
	Repo      Repository
	Collector EvidenceCollector
	Locker    shared.Locker
	Policy    LockPolicy
	Audit     shared.AuditRecorder
	Events    notify.Emitter
	Conflicts ConflictCounter
	Logger    *slog.Logger
}

// Service owns DailyStatus writes: resolution, correction and override.
type Service struct {
	repo      Repository
	collector EvidenceCollector
	locker    shared.Locker
	policy    LockPolicy
	audit     shared.AuditRecorder
	events    notify.Emitter
	conflicts ConflictCounter
	guard     FinalizationGuard
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:      cfg.Repo,
		collector: cfg.Collector,
		locker:    cfg.Locker,
		policy:    cfg.Policy,
		audit:     cfg.Audit,
		events:    cfg.Events,
		conflicts: cfg.Conflicts,
		logger:    cfg.Logger,
		now:       time.Now,
	}
	if s.locker == nil {
		s.locker = shared.NewKeyedMutex()
	}
	if s.policy == (LockPolicy{}) {
		s.policy = DefaultLockPolicy()
	}
	if s.events == nil {
		s.events = notify.Discard{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "attendance"))
	return s
}

// SetFinalizationGuard injects the monthly finalization check.
func (s *Service) SetFinalizationGuard(guard FinalizationGuard) {
	s.guard = guard
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Policy exposes the lock policy in force.
func (s *Service) Policy() LockPolicy {
	return s.policy
}

// Get returns the stored day with its lock tier evaluated against now.
func (s *Service) Get(ctx context.Context, employeeID string, date time.Time) (DailyStatus, error) {
	day, err := s.repo.GetDay(ctx, employeeID, shared.Day(date))
	if err != nil {
		return DailyStatus{}, err
	}
	s.refreshLock(&day)
	return day, nil
}

// ListRange returns stored days within [from, to] inclusive.
func (s *Service) ListRange(ctx context.Context, employeeID string, from, to time.Time) ([]DailyStatus, error) {
	days, err := s.repo.ListDays(ctx, employeeID, shared.Day(from), shared.Day(to))
	if err != nil {
		return nil, err
	}
	for i := range days {
		s.refreshLock(&days[i])
	}
	return days, nil
}

// Resolve (re)computes one day. Unchanged evidence leaves the stored record
// untouched; changed evidence appends a correction unless the lock tier forbids it.
func (s *Service) Resolve(ctx context.Context, in ResolveInput) (DailyStatus, error) {
	if err := in.Validate(); err != nil {
		return DailyStatus{}, err
	}
	date := shared.Day(in.Date)
	release, err := s.locker.Acquire(ctx, shared.DayLockKey(in.EmployeeID, date))
	if err != nil {
		return DailyStatus{}, err
	}
	defer release()
	return s.resolveLocked(ctx, in.EmployeeID, date, in.Actor, in.Reason)
}

// Ensure returns the stored day, resolving it first when missing.
func (s *Service) Ensure(ctx context.Context, employeeID string, date time.Time) (DailyStatus, error) {
	date = shared.Day(date)
	release, err := s.locker.Acquire(ctx, shared.DayLockKey(employeeID, date))
	if err != nil {
		return DailyStatus{}, err
	}
	defer release()
	day, err := s.repo.GetDay(ctx, employeeID, date)
	if err == nil {
		s.refreshLock(&day)
		return day, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return DailyStatus{}, err
	}
	return s.resolveLocked(ctx, employeeID, date, shared.SystemActor, "gap fill")
}

func (s *Service) resolveLocked(ctx context.Context, employeeID string, date time.Time, actor shared.Actor, reason string) (DailyStatus, error) {
	if err := s.ensureMonthOpen(ctx, employeeID, date); err != nil {
		return DailyStatus{}, err
	}
	ev, err := s.collector.Collect(ctx, employeeID, date)
	if err != nil {
		return DailyStatus{}, err
	}
	dec, err := Resolve(ev)
	if err != nil {
		return DailyStatus{}, err
	}
	fingerprint := dec.Fingerprint()

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		existing, err := s.repo.GetDay(ctx, employeeID, date)
		if errors.Is(err, shared.ErrNotFound) {
			day := s.newDay(employeeID, date, dec)
			if err := s.repo.InsertDay(ctx, day); err != nil {
				if errors.Is(err, shared.ErrConcurrentUpdate) {
					continue
				}
				return DailyStatus{}, err
			}
			s.logger.Debug("day resolved", slog.String("employee_id", employeeID), slog.String("date", shared.FormatDate(date)), slog.String("status", string(day.Status)))
			s.publish(ctx, day, dec, true)
			return day, nil
		}
		if err != nil {
			return DailyStatus{}, err
		}
		s.refreshLock(&existing)

		if existing.Fingerprint == fingerprint && actor.Role == shared.RoleSystem {
			return existing, nil
		}
		if err := s.policy.checkRecompute(existing.LockStatus, actor.Role); err != nil {
			return DailyStatus{}, err
		}
		if existing.Fingerprint == fingerprint || existing.Source == SourceOverride {
			return existing, nil
		}

		updated := existing
		updated.applyDecision(dec)
		updated.Corrections = appendCorrection(existing.Corrections, Correction{
			ID:       uuid.NewString(),
			At:       s.now().UTC(),
			Actor:    actor,
			Reason:   reason,
			Previous: existing.Snapshot(),
			Current:  updated.Snapshot(),
		})
		updated.UpdatedAt = s.now().UTC()
		updated.Version = existing.Version + 1
		if err := s.repo.UpdateDay(ctx, updated, existing.Version); err != nil {
			if errors.Is(err, shared.ErrConcurrentUpdate) {
				continue
			}
			return DailyStatus{}, err
		}
		s.logger.Info("day corrected",
			slog.String("employee_id", employeeID),
			slog.String("date", shared.FormatDate(date)),
			slog.String("from", string(existing.Status)),
			slog.String("to", string(updated.Status)),
			slog.String("actor", actor.ID),
		)
		s.publish(ctx, updated, dec, existing.Status != updated.Status)
		return updated, nil
	}
	return DailyStatus{}, fmt.Errorf("attendance: resolve %s %s: %w", employeeID, shared.FormatDate(date), shared.ErrConcurrentUpdate)
}

// Override applies an administrative correction. A forced status is only
// accepted on a locked day; open and review days are corrected through
// Resolve. A repeat override producing the stored outcome is a no-op.
func (s *Service) Override(ctx context.Context, in OverrideInput) (DailyStatus, error) {
	if err := in.Validate(); err != nil {
		return DailyStatus{}, err
	}
	if !s.policy.CanOverride(in.Actor.Role) {
		return DailyStatus{}, fmt.Errorf("%w: override requires admin", ErrRoleNotPermitted)
	}
	if in.ForceStatus != nil {
		if _, ok := ParseStatus(string(*in.ForceStatus)); !ok {
			return DailyStatus{}, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, *in.ForceStatus)
		}
	}
	date := shared.Day(in.Date)
	release, err := s.locker.Acquire(ctx, shared.DayLockKey(in.EmployeeID, date))
	if err != nil {
		return DailyStatus{}, err
	}
	defer release()

	if err := s.ensureMonthOpen(ctx, in.EmployeeID, date); err != nil {
		return DailyStatus{}, err
	}
	ev, err := s.collector.Collect(ctx, in.EmployeeID, date)
	if err != nil {
		return DailyStatus{}, err
	}
	dec, err := Resolve(ev)
	if err != nil {
		return DailyStatus{}, err
	}
	if in.ForceStatus != nil {
		forceDecision(&dec, *in.ForceStatus, in.Actor, in.Reason)
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		existing, err := s.repo.GetDay(ctx, in.EmployeeID, date)
		notFound := errors.Is(err, shared.ErrNotFound)
		if err != nil && !notFound {
			return DailyStatus{}, err
		}
		if !notFound {
			s.refreshLock(&existing)
		}
		if in.ForceStatus != nil && (notFound || existing.LockStatus != LockLocked) {
			return DailyStatus{}, ErrForceNeedsLock
		}
		var day DailyStatus
		if notFound {
			day = s.newDay(in.EmployeeID, date, dec)
		} else {
			day = existing
			day.applyDecision(dec)
			if sameOutcome(existing, day) {
				return existing, nil
			}
			day.UpdatedAt = s.now().UTC()
			day.Version = existing.Version + 1
		}
		day.Corrections = appendCorrection(existing.Corrections, Correction{
			ID:       uuid.NewString(),
			At:       s.now().UTC(),
			Actor:    in.Actor,
			Reason:   in.Reason,
			Override: true,
			Previous: existing.Snapshot(),
			Current:  day.Snapshot(),
		})
		if notFound {
			err = s.repo.InsertDay(ctx, day)
		} else {
			err = s.repo.UpdateDay(ctx, day, existing.Version)
		}
		if errors.Is(err, shared.ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return DailyStatus{}, err
		}
		s.recordOverride(ctx, in, existing, day)
		s.publish(ctx, day, dec, existing.Status != day.Status)
		return day, nil
	}
	return DailyStatus{}, fmt.Errorf("attendance: override %s %s: %w", in.EmployeeID, shared.FormatDate(date), shared.ErrConcurrentUpdate)
}

// sameOutcome reports whether applying a decision left the stored result unchanged.
func sameOutcome(before, after DailyStatus) bool {
	return before.Fingerprint == after.Fingerprint &&
		before.Source == after.Source &&
		before.Status == after.Status
}

// recordOverride logs and audits a committed override. The day is already
// stored, so an audit failure is logged and not returned.
func (s *Service) recordOverride(ctx context.Context, in OverrideInput, before, after DailyStatus) {
	s.logger.Warn("day overridden",
		slog.String("employee_id", in.EmployeeID),
		slog.String("date", shared.FormatDate(after.Date)),
		slog.String("lock_status", string(after.LockStatus)),
		slog.String("actor", in.Actor.ID),
		slog.String("reason", in.Reason),
	)
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  in.Actor.ID,
		Role:     in.Actor.Role,
		Action:   "attendance.override",
		Entity:   "daily_status",
		EntityID: in.EmployeeID + "/" + shared.FormatDate(after.Date),
		Meta: map[string]any{
			"reason":      in.Reason,
			"lock_status": string(after.LockStatus),
			"previous":    string(before.Status),
			"current":     string(after.Status),
			"version":     after.Version,
		},
		At: s.now().UTC(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error("audit override",
			slog.String("employee_id", in.EmployeeID),
			slog.String("date", shared.FormatDate(after.Date)),
			slog.Int("version", after.Version),
			slog.Any("error", err),
		)
	}
}

// forceDecision replaces the resolved status. Attendance statuses credit the
// full required hours and clear late and early minutes; absence credits none.
func forceDecision(dec *Decision, status Status, actor shared.Actor, reason string) {
	previous := dec.Status
	dec.Status = status
	dec.ReasonCode = ReasonOverride
	dec.Reason = reason
	dec.Source = SourceOverride
	switch {
	case status == StatusWeekend || status == StatusHoliday:
		dec.RequiredHours, dec.ActualHours = decimal.Zero, decimal.Zero
		dec.LateMinutes, dec.EarlyLeaveMinutes = 0, 0
	case status == StatusAbsent:
		dec.ActualHours = decimal.Zero
	case status == StatusPresent:
		dec.ActualHours = decimal.Max(dec.ActualHours, dec.RequiredHours)
		dec.LateMinutes, dec.EarlyLeaveMinutes = 0, 0
	default:
		dec.ActualHours = decimal.Max(dec.ActualHours, dec.RequiredHours)
	}
	dec.Trace.add("override", OutcomeFired, "status %s forced to %s by %s: %s", orDash(string(previous)), status, actor.ID, reason)
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func (s *Service) ensureMonthOpen(ctx context.Context, employeeID string, date time.Time) error {
	if s.guard == nil {
		return nil
	}
	finalized, err := s.guard.MonthFinalized(ctx, employeeID, shared.MonthOf(date))
	if err != nil {
		return err
	}
	if finalized {
		return fmt.Errorf("%w (%s %s)", ErrMonthFinalized, employeeID, shared.MonthOf(date))
	}
	return nil
}

func (s *Service) newDay(employeeID string, date time.Time, dec Decision) DailyStatus {
	now := s.now().UTC()
	day := DailyStatus{
		EmployeeID: employeeID,
		Date:       date,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
	day.applyDecision(dec)
	s.refreshLock(&day)
	return day
}

func (s *Service) refreshLock(day *DailyStatus) {
	day.LockDeadline = s.policy.Deadline(day.CreatedAt)
	day.LockStatus = s.policy.StatusAt(day.CreatedAt, s.now())
}

func appendCorrection(trail []Correction, c Correction) []Correction {
	out := make([]Correction, 0, len(trail)+1)
	out = append(out, trail...)
	return append(out, c)
}

// publish reports conflicts and emits notifications; delivery failures are logged only.
func (s *Service) publish(ctx context.Context, day DailyStatus, dec Decision, statusChanged bool) {
	date := shared.FormatDate(day.Date)
	for _, c := range dec.Conflicts {
		s.logger.Warn("evidence conflict",
			slog.String("employee_id", day.EmployeeID),
			slog.String("date", date),
			slog.String("rule", c.Rule),
			slog.String("detail", c.Detail),
			slog.String("trace", dec.Trace.String()),
		)
		if s.conflicts != nil {
			s.conflicts.AddEvidenceConflicts(c.Rule, 1)
		}
		s.emit(ctx, notify.Event{
			Type:       notify.TypeEvidenceConflict,
			EmployeeID: day.EmployeeID,
			Date:       date,
			Payload:    map[string]any{"rule": c.Rule, "detail": c.Detail},
		})
	}
	if !statusChanged {
		return
	}
	switch day.Status {
	case StatusLate:
		s.emit(ctx, notify.Event{
			Type:       notify.TypeLateDetected,
			EmployeeID: day.EmployeeID,
			Date:       date,
			Payload:    map[string]any{"late_minutes": day.LateMinutes},
		})
	case StatusAbsent:
		s.emit(ctx, notify.Event{
			Type:       notify.TypeAbsenceDetected,
			EmployeeID: day.EmployeeID,
			Date:       date,
			Payload:    map[string]any{"reason": day.Reason},
		})
	}
}

func (s *Service) emit(ctx context.Context, evt notify.Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = s.now().UTC()
	}
	if err := s.events.Emit(ctx, evt); err != nil {
		s.logger.Warn("emit event", slog.String("type", evt.Type), slog.Any("error", err))
	}
}
