package proposals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/attendance/internal/shared"
)

var _ Repository = (*PGRepository)(nil)

// PGRepository stores proposals in Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const proposalColumns = `id, employee_id, period, kind, category, status,
deficit_hours::text, deficit_days::text, multiplier::text, deduction_days::text,
occurrences, COALESCE(level, ''), prior_violations, evidence_dates, history, created_at, updated_at, version`

// Get loads one proposal.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (Proposal, error) {
	p, err := scanProposal(r.pool.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Proposal{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, shared.WrapStoreError(err)
}

// FindByKey loads the proposal for the natural key.
func (r *PGRepository) FindByKey(ctx context.Context, employeeID, month string, kind Kind) (Proposal, error) {
	p, err := scanProposal(r.pool.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals
WHERE employee_id = $1 AND period = $2 AND kind = $3`, employeeID, month, string(kind)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Proposal{}, fmt.Errorf("%w: %s %s %s", ErrNotFound, employeeID, month, kind)
	}
	return p, shared.WrapStoreError(err)
}

// ListByEmployee returns proposals newest month first.
func (r *PGRepository) ListByEmployee(ctx context.Context, employeeID string) ([]Proposal, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+proposalColumns+` FROM proposals
WHERE employee_id = $1 ORDER BY period DESC, kind`, employeeID)
	if err != nil {
		return nil, shared.WrapStoreError(err)
	}
	defer rows.Close()
	var out []Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, shared.WrapStoreError(rows.Err())
}

// Insert stores a new proposal.
func (r *PGRepository) Insert(ctx context.Context, p Proposal) error {
	history, evidence, err := encodeProposal(p)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO proposals (id, employee_id, period, kind, category, status,
deficit_hours, deficit_days, multiplier, deduction_days, occurrences, level, prior_violations,
evidence_dates, history, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11, NULLIF($12, ''), $13, $14::date[], $15, $16, $17, $18)`,
		p.ID, p.EmployeeID, p.Month, string(p.Kind), string(p.Category), string(p.Status),
		p.DeficitHours.String(), p.DeficitDays.String(), p.Multiplier.String(), p.DeductionDays.String(),
		p.Occurrences, string(p.Level), p.PriorViolations, evidence, history, p.CreatedAt, p.UpdatedAt, p.Version)
	if shared.IsUniqueViolation(err) {
		return fmt.Errorf("proposals: insert %s %s %s: %w", p.EmployeeID, p.Month, p.Kind, shared.ErrConcurrentUpdate)
	}
	return shared.WrapStoreError(err)
}

// Update writes status and history when the stored version still matches.
func (r *PGRepository) Update(ctx context.Context, p Proposal, expectedVersion int) error {
	history, _, err := encodeProposal(p)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE proposals SET status = $2, history = $3, updated_at = $4, version = $5
WHERE id = $1 AND version = $6`, p.ID, string(p.Status), history, p.UpdatedAt, p.Version, expectedVersion)
	if err != nil {
		return shared.WrapStoreError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("proposals: update %s: %w", p.ID, shared.ErrConcurrentUpdate)
	}
	return nil
}

// CountPrior counts approved or executed proposals of kind before month.
func (r *PGRepository) CountPrior(ctx context.Context, employeeID string, kind Kind, month string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM proposals
WHERE employee_id = $1 AND kind = $2 AND period < $3 AND status IN ('approved', 'executed')`,
		employeeID, string(kind), month).Scan(&n)
	return n, shared.WrapStoreError(err)
}

// HasExecuted reports whether any proposal of the month was executed.
func (r *PGRepository) HasExecuted(ctx context.Context, employeeID, month string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM proposals WHERE employee_id = $1 AND period = $2 AND status = 'executed')`,
		employeeID, month).Scan(&exists)
	return exists, shared.WrapStoreError(err)
}

func encodeProposal(p Proposal) ([]byte, []time.Time, error) {
	history := p.History
	if history == nil {
		history = []Transition{}
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return nil, nil, err
	}
	evidence := p.EvidenceDates
	if evidence == nil {
		evidence = []time.Time{}
	}
	return raw, evidence, nil
}

func scanProposal(row pgx.Row) (Proposal, error) {
	var (
		p                                 Proposal
		kind, category, status, level     string
		deficit, days, multiplier, deduct string
		history                           []byte
	)
	err := row.Scan(&p.ID, &p.EmployeeID, &p.Month, &kind, &category, &status,
		&deficit, &days, &multiplier, &deduct,
		&p.Occurrences, &level, &p.PriorViolations, &p.EvidenceDates, &history, &p.CreatedAt, &p.UpdatedAt, &p.Version)
	if err != nil {
		return Proposal{}, err
	}
	p.Kind, p.Category, p.Status, p.Level = Kind(kind), Category(category), Status(status), Level(level)
	targets := []*decimal.Decimal{&p.DeficitHours, &p.DeficitDays, &p.Multiplier, &p.DeductionDays}
	for i, raw := range []string{deficit, days, multiplier, deduct} {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return Proposal{}, fmt.Errorf("proposals: decode amount %q: %w", raw, err)
		}
		*targets[i] = v
	}
	for i := range p.EvidenceDates {
		p.EvidenceDates[i] = shared.Day(p.EvidenceDates[i])
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &p.History); err != nil {
			return Proposal{}, fmt.Errorf("proposals: decode history: %w", err)
		}
	}
	return p, nil
}
