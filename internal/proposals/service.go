package proposals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/attendance/internal/attendance"
	"github.com/odyssey-erp/attendance/internal/monthly"
	"github.com/odyssey-erp/attendance/internal/notify"
	"github.com/odyssey-erp/attendance/internal/shared"
)

// Repository persists proposals.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (Proposal, error)
	FindByKey(ctx context.Context, employeeID, month string, kind Kind) (Proposal, error)
	ListByEmployee(ctx context.Context, employeeID string) ([]Proposal, error)
	// Insert fails with shared.ErrConcurrentUpdate when the natural key exists.
	Insert(ctx context.Context, p Proposal) error
	Update(ctx context.Context, p Proposal, expectedVersion int) error
	// CountPrior counts approved or executed proposals of kind in months before month.
	CountPrior(ctx context.Context, employeeID string, kind Kind, month string) (int, error)
	HasExecuted(ctx context.Context, employeeID, month string) (bool, error)
}

// MonthlySource returns aggregated months.
type MonthlySource interface {
	Get(ctx context.Context, employeeID, month string) (monthly.MonthlyHours, error)
}

// DaySource lists resolved days.
type DaySource interface {
	ListRange(ctx context.Context, employeeID string, from, to time.Time) ([]attendance.DailyStatus, error)
}

// ApprovalChain is the external approval workflow proposals are handed to.
type ApprovalChain interface {
	Submit(ctx context.Context, p Proposal) error
	Record(ctx context.Context, p Proposal, action shared.ApprovalAction, actor shared.Actor, note string) error
}

// Config holds the violation thresholds.
type Config struct {
	DeficitThresholdHours decimal.Decimal
	AbsenceWindowDays     int
	AbsenceThreshold      int
	LatenessThreshold     int
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		DeficitThresholdHours: decimal.Zero,
		AbsenceWindowDays:     90,
		AbsenceThreshold:      3,
		LatenessThreshold:     5,
	}
}

// Service evaluates months and drives the proposal workflow.
type Service struct {
	repo   Repository
	months MonthlySource
	days   DaySource
	chain  ApprovalChain
	events notify.Emitter
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

var _ monthly.ProposalGuard = (*Service)(nil)

// NewService constructs a Service.
func NewService(repo Repository, months MonthlySource, days DaySource, chain ApprovalChain, events notify.Emitter, cfg Config, logger *slog.Logger) *Service {
	if events == nil {
		events = notify.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		months: months,
		days:   days,
		chain:  chain,
		events: events,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "proposals")),
		now:    time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns one proposal.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Proposal, error) {
	return s.repo.Get(ctx, id)
}

// List returns proposals of an employee.
func (s *Service) List(ctx context.Context, employeeID string) ([]Proposal, error) {
	return s.repo.ListByEmployee(ctx, employeeID)
}

// HasExecuted implements monthly.ProposalGuard.
func (s *Service) HasExecuted(ctx context.Context, employeeID, month string) (bool, error) {
	return s.repo.HasExecuted(ctx, employeeID, month)
}

// Evaluate inspects the month and returns the proposals it warrants. Calling
// it again for the same month returns the proposals created the first time.
func (s *Service) Evaluate(ctx context.Context, employeeID, month string) ([]Proposal, error) {
	start, end, err := shared.MonthRange(month)
	if err != nil {
		return nil, err
	}
	mh, err := s.months.Get(ctx, employeeID, month)
	if err != nil {
		return nil, err
	}

	var out []Proposal
	if mh.DeficitHours.GreaterThan(s.cfg.DeficitThresholdHours) {
		p, err := s.ensure(ctx, employeeID, month, KindHoursDeficit, func(p *Proposal) {
			p.DeficitHours = mh.DeficitHours
			p.DeficitDays = mh.DeficitDays
			p.Multiplier = Multiplier(p.PriorViolations)
			p.DeductionDays = DeductionDays(mh.DeficitDays, p.PriorViolations)
			p.EvidenceDates = mh.AbsentDates
		})
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	if s.cfg.AbsenceThreshold > 0 && mh.Counters.AbsentDays > 0 {
		windowStart := end.AddDate(0, 0, -s.cfg.AbsenceWindowDays+1)
		if windowStart.After(start) {
			windowStart = start
		}
		days, err := s.days.ListRange(ctx, employeeID, windowStart, end)
		if err != nil {
			return nil, err
		}
		isolated := IsolatedAbsences(days)
		if len(isolated) >= s.cfg.AbsenceThreshold {
			p, err := s.ensure(ctx, employeeID, month, KindScatteredAbsence, func(p *Proposal) {
				p.Occurrences = len(isolated)
				p.EvidenceDates = isolated
			})
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}

	if s.cfg.LatenessThreshold > 0 && mh.Counters.LateCount >= s.cfg.LatenessThreshold {
		p, err := s.ensure(ctx, employeeID, month, KindRepeatedLateness, func(p *Proposal) {
			p.Occurrences = mh.Counters.LateCount
		})
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) ensure(ctx context.Context, employeeID, month string, kind Kind, fill func(*Proposal)) (Proposal, error) {
	existing, err := s.repo.FindByKey(ctx, employeeID, month, kind)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Proposal{}, err
	}
	priors, err := s.repo.CountPrior(ctx, employeeID, kind, month)
	if err != nil {
		return Proposal{}, err
	}
	now := s.now().UTC()
	p := Proposal{
		ID:              uuid.New(),
		EmployeeID:      employeeID,
		Month:           month,
		Kind:            kind,
		Category:        CategoryOf(kind),
		Status:          StatusPending,
		DeficitHours:    decimal.Zero,
		DeficitDays:     decimal.Zero,
		Multiplier:      decimal.Zero,
		DeductionDays:   decimal.Zero,
		Level:           LevelFor(priors),
		PriorViolations: priors,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	fill(&p)
	if err := s.repo.Insert(ctx, p); err != nil {
		if errors.Is(err, shared.ErrConcurrentUpdate) {
			return s.repo.FindByKey(ctx, employeeID, month, kind)
		}
		return Proposal{}, err
	}
	if s.chain != nil {
		if err := s.chain.Submit(ctx, p); err != nil {
			s.logger.Error("submit proposal", slog.String("proposal_id", p.ID.String()), slog.Any("error", err))
		}
	}
	evtType := notify.TypeWarningProposed
	payload := map[string]any{"proposal_id": p.ID.String(), "kind": string(kind), "level": string(p.Level)}
	if p.Category == CategoryDeduction {
		evtType = notify.TypeDeductionProposed
		payload["deduction_days"] = p.DeductionDays.String()
	}
	s.emit(ctx, notify.Event{Type: evtType, EmployeeID: employeeID, Month: month, Payload: payload})
	s.logger.Info("proposal created",
		slog.String("proposal_id", p.ID.String()),
		slog.String("employee_id", employeeID),
		slog.String("month", month),
		slog.String("kind", string(kind)),
		slog.Int("priors", priors),
	)
	return p, nil
}

// Approve moves a pending proposal to approved.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, actor shared.Actor, note string) (Proposal, error) {
	return s.transition(ctx, id, actor, note, StatusApproved)
}

// Reject moves a pending deduction to rejected. Warnings cannot be rejected.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actor shared.Actor, note string) (Proposal, error) {
	return s.transition(ctx, id, actor, note, StatusRejected)
}

// Execute moves an approved proposal to executed.
func (s *Service) Execute(ctx context.Context, id uuid.UUID, actor shared.Actor, note string) (Proposal, error) {
	return s.transition(ctx, id, actor, note, StatusExecuted)
}

// CheckTransition validates a move against the workflow and the actor's role.
func CheckTransition(p Proposal, to Status, role shared.Role) error {
	reviewer := role == shared.RoleHRManager || role == shared.RoleAdmin
	executor := role == shared.RolePayroll || role == shared.RoleAdmin
	switch {
	case p.Status == StatusPending && to == StatusApproved && reviewer:
		return nil
	case p.Status == StatusPending && to == StatusRejected && reviewer && p.Category == CategoryDeduction:
		return nil
	case p.Status == StatusApproved && to == StatusExecuted && executor:
		return nil
	}
	return fmt.Errorf("%w: %s %s -> %s by %s", ErrInvalidTransition, p.Category, p.Status, to, role)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, actor shared.Actor, note string, to Status) (Proposal, error) {
	if actor.ID == "" {
		return Proposal{}, fmt.Errorf("%w: proposals: actor required", shared.ErrValidation)
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Proposal{}, err
	}
	if err := CheckTransition(p, to, actor.Role); err != nil {
		return Proposal{}, err
	}
	now := s.now().UTC()
	expected := p.Version
	p.History = append(append([]Transition(nil), p.History...), Transition{
		From: p.Status, To: to, ActorID: actor.ID, Role: actor.Role, Note: note, At: now,
	})
	p.Status = to
	p.UpdatedAt = now
	p.Version++
	if err := s.repo.Update(ctx, p, expected); err != nil {
		if errors.Is(err, shared.ErrConcurrentUpdate) {
			return Proposal{}, fmt.Errorf("%w: proposal changed concurrently", ErrInvalidTransition)
		}
		return Proposal{}, err
	}
	if s.chain != nil {
		if err := s.chain.Record(ctx, p, approvalAction(to), actor, note); err != nil {
			s.logger.Error("record approval", slog.String("proposal_id", p.ID.String()), slog.Any("error", err))
		}
	}
	s.emit(ctx, notify.Event{
		Type:       notify.ProposalStatusType(string(to)),
		EmployeeID: p.EmployeeID,
		Month:      p.Month,
		Payload:    map[string]any{"proposal_id": p.ID.String(), "kind": string(p.Kind), "actor": actor.ID},
	})
	return p, nil
}

func approvalAction(to Status) shared.ApprovalAction {
	switch to {
	case StatusApproved:
		return shared.ApprovalApprove
	case StatusRejected:
		return shared.ApprovalReject
	default:
		return shared.ApprovalExecute
	}
}

func (s *Service) emit(ctx context.Context, evt notify.Event) {
	evt.OccurredAt = s.now().UTC()
	if err := s.events.Emit(ctx, evt); err != nil {
		s.logger.Warn("emit event", slog.String("type", evt.Type), slog.Any("error", err))
	}
}

// IsolatedAbsences returns absence dates whose neighbouring working days were
// not absences. Weekends and holidays are skipped when looking for neighbours.
func IsolatedAbsences(days []attendance.DailyStatus) []time.Time {
	working := make([]attendance.DailyStatus, 0, len(days))
	for _, d := range days {
		if d.Status == attendance.StatusWeekend || d.Status == attendance.StatusHoliday {
			continue
		}
		working = append(working, d)
	}
	sort.Slice(working, func(i, j int) bool { return working[i].Date.Before(working[j].Date) })
	var out []time.Time
	for i, d := range working {
		if d.Status != attendance.StatusAbsent {
			continue
		}
		if i > 0 && working[i-1].Status == attendance.StatusAbsent {
			continue
		}
		if i+1 < len(working) && working[i+1].Status == attendance.StatusAbsent {
			continue
		}
		out = append(out, d.Date)
	}
	return out
}
