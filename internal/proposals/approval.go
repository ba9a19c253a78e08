package proposals

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/attendance/internal/shared"
)

// approvalModule tags proposal rows in the approvals table.
const approvalModule = "attendance.proposal"

// RecorderChain hands proposals to the approval-chain service through the
// approvals table it consumes.
type RecorderChain struct {
	recorder *shared.ApprovalRecorder
}

var _ ApprovalChain = (*RecorderChain)(nil)

// NewRecorderChain constructs a RecorderChain.
func NewRecorderChain(recorder *shared.ApprovalRecorder) *RecorderChain {
	return &RecorderChain{recorder: recorder}
}

// Submit records the SUBMIT entry once per proposal.
func (c *RecorderChain) Submit(ctx context.Context, p Proposal) error {
	_, err := c.recorder.EnsureSubmit(ctx, shared.ApprovalLog{
		Module: approvalModule,
		RefID:  p.ID,
		Actor:  shared.SystemActor,
		Note:   fmt.Sprintf("%s %s for %s", p.Kind, p.Month, p.EmployeeID),
	})
	return err
}

// Record appends a review or execution entry.
func (c *RecorderChain) Record(ctx context.Context, p Proposal, action shared.ApprovalAction, actor shared.Actor, note string) error {
	return c.recorder.Record(ctx, shared.ApprovalLog{
		Module: approvalModule,
		RefID:  p.ID,
		Actor:  actor,
		Action: action,
		Note:   note,
	})
}
