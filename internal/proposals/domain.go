package proposals

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/attendance/internal/shared"
)

// Kind is the violation a proposal responds to.
type Kind string

const (
	KindHoursDeficit     Kind = "HOURS_DEFICIT"
	KindScatteredAbsence Kind = "SCATTERED_ABSENCE"
	KindRepeatedLateness Kind = "REPEATED_LATENESS"
)

// Category separates salary deductions from disciplinary warnings.
type Category string

const (
	CategoryDeduction Category = "deduction"
	CategoryWarning   Category = "warning"
)

// CategoryOf maps a violation kind to its proposal category.
func CategoryOf(kind Kind) Category {
	if kind == KindHoursDeficit {
		return CategoryDeduction
	}
	return CategoryWarning
}

// Status is the proposal workflow state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
)

// Level grades warnings by prior violations.
type Level string

const (
	LevelFirst  Level = "FIRST"
	LevelSecond Level = "SECOND"
	LevelFinal  Level = "FINAL"
)

// Transition is one history entry.
type Transition struct {
	From    Status      `json:"from"`
	To      Status      `json:"to"`
	ActorID string      `json:"actor_id"`
	Role    shared.Role `json:"role"`
	Note    string      `json:"note,omitempty"`
	At      time.Time   `json:"at"`
}

// Proposal is a deduction or warning awaiting review. (EmployeeID, Month, Kind) is unique.
type Proposal struct {
	ID              uuid.UUID
	EmployeeID      string
	Month           string
	Kind            Kind
	Category        Category
	Status          Status
	DeficitHours    decimal.Decimal
	DeficitDays     decimal.Decimal
	Multiplier      decimal.Decimal
	DeductionDays   decimal.Decimal
	Occurrences     int
	Level           Level
	PriorViolations int
	EvidenceDates   []time.Time
	History         []Transition
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int
}

// Multiplier scales deductions for repeat offenders: 1, 1.5, then 2.
func Multiplier(priors int) decimal.Decimal {
	switch {
	case priors <= 0:
		return decimal.NewFromInt(1)
	case priors == 1:
		return decimal.RequireFromString("1.5")
	default:
		return decimal.NewFromInt(2)
	}
}

// LevelFor grades a warning by prior violations.
func LevelFor(priors int) Level {
	switch {
	case priors <= 0:
		return LevelFirst
	case priors == 1:
		return LevelSecond
	default:
		return LevelFinal
	}
}

// DeductionDays computes the deterministic deduction amount.
func DeductionDays(deficitDays decimal.Decimal, priors int) decimal.Decimal {
	return deficitDays.Mul(Multiplier(priors)).Round(2)
}

var (
	// ErrNotFound indicates an unknown proposal.
	ErrNotFound = fmt.Errorf("proposals: proposal %w", shared.ErrNotFound)
	// ErrInvalidTransition indicates an illegal workflow move or role.
	ErrInvalidTransition = fmt.Errorf("proposals: %w", shared.ErrInvalidTransition)
)
