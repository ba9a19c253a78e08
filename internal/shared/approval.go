package shared

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	ApprovalSubmit  ApprovalAction = "SUBMIT"
	ApprovalApprove ApprovalAction = "APPROVE"
	ApprovalReject  ApprovalAction = "REJECT"
	ApprovalExecute ApprovalAction = "EXECUTE"
)

// ApprovalLog is one entry handed to the approval-chain service.
type ApprovalLog struct {
	Module string
	RefID  uuid.UUID
	Actor  Actor
	Action ApprovalAction
	Note   string
	At     time.Time
}

func (l ApprovalLog) validate() error {
	switch {
	case l.Module == "":
		return fmt.Errorf("%w: approval module required", ErrValidation)
	case l.RefID == uuid.Nil:
		return fmt.Errorf("%w: approval ref id required", ErrValidation)
	case l.Actor.ID == "":
		return fmt.Errorf("%w: approval actor required", ErrValidation)
	case l.Action == "":
		return fmt.Errorf("%w: approval action required", ErrValidation)
	}
	return nil
}

// ApprovalRecorder writes the approvals table consumed by the approval chain.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalRecorder{pool: pool, logger: logger.With(slog.String("component", "approvals"))}
}

// Record appends an entry.
func (r *ApprovalRecorder) Record(ctx context.Context, entry ApprovalLog) error {
	if err := entry.validate(); err != nil {
		return err
	}
	var at *time.Time
	if !entry.At.IsZero() {
		at = &entry.At
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO approvals (module, ref_id, actor_id, actor_role, action, note, at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		entry.Module, entry.RefID, entry.Actor.ID, string(entry.Actor.Role), string(entry.Action), entry.Note, at)
	if err != nil {
		r.logger.Error("record approval", slog.String("ref_id", entry.RefID.String()), slog.Any("error", err))
		return WrapStoreError(err)
	}
	return nil
}

// EnsureSubmit inserts the SUBMIT entry for ref unless one already exists.
// It reports whether a row was written.
func (r *ApprovalRecorder) EnsureSubmit(ctx context.Context, entry ApprovalLog) (bool, error) {
	entry.Action = ApprovalSubmit
	if err := entry.validate(); err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `INSERT INTO approvals (module, ref_id, actor_id, actor_role, action, note)
SELECT $1, $2, $3, $4, 'SUBMIT', $5
WHERE NOT EXISTS (SELECT 1 FROM approvals WHERE module = $1 AND ref_id = $2 AND action = 'SUBMIT')`,
		entry.Module, entry.RefID, entry.Actor.ID, string(entry.Actor.Role), entry.Note)
	if err != nil {
		r.logger.Error("submit approval", slog.String("ref_id", entry.RefID.String()), slog.Any("error", err))
		return false, WrapStoreError(err)
	}
	return tag.RowsAffected() == 1, nil
}
