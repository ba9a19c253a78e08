package attendance

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/attendance/internal/shared"
)

// LockPolicy derives the mutability tier of a stored day from its creation time.
type LockPolicy struct {
	OpenWindow   time.Duration
	ReviewWindow time.Duration
}

// DefaultLockPolicy keeps days open for 48h and reviewable for a week.
func DefaultLockPolicy() LockPolicy {
	return LockPolicy{OpenWindow: 48 * time.Hour, ReviewWindow: 7 * 24 * time.Hour}
}

// Validate checks the windows are ordered.
func (p LockPolicy) Validate() error {
	if p.OpenWindow <= 0 || p.ReviewWindow <= 0 {
		return fmt.Errorf("%w: lock windows must be positive", shared.ErrValidation)
	}
	if p.OpenWindow > p.ReviewWindow {
		return fmt.Errorf("%w: open window %s exceeds review window %s", shared.ErrValidation, p.OpenWindow, p.ReviewWindow)
	}
	return nil
}

// Deadline is the instant after which the day is locked.
func (p LockPolicy) Deadline(createdAt time.Time) time.Time {
	return createdAt.Add(p.ReviewWindow)
}

// StatusAt evaluates the tier lazily against now.
func (p LockPolicy) StatusAt(createdAt, now time.Time) LockStatus {
	age := now.Sub(createdAt)
	switch {
	case age < p.OpenWindow:
		return LockOpen
	case age < p.ReviewWindow:
		return LockReview
	default:
		return LockLocked
	}
}

// CanRecompute reports whether role may recompute a day in the given tier.
func (p LockPolicy) CanRecompute(status LockStatus, role shared.Role) bool {
	switch status {
	case LockOpen:
		switch role {
		case shared.RoleSystem, shared.RoleSupervisor, shared.RoleHRManager, shared.RoleAdmin:
			return true
		}
	case LockReview:
		switch role {
		case shared.RoleSystem, shared.RoleHRManager, shared.RoleAdmin:
			return true
		}
	}
	return false
}

// CanOverride reports whether role may use the administrative override.
func (p LockPolicy) CanOverride(role shared.Role) bool {
	return role == shared.RoleAdmin
}

// checkRecompute translates a denied recompute into the matching error.
func (p LockPolicy) checkRecompute(status LockStatus, role shared.Role) error {
	if p.CanRecompute(status, role) {
		return nil
	}
	if status == LockLocked {
		return ErrLocked
	}
	return fmt.Errorf("%w (tier %s, role %s)", ErrRoleNotPermitted, status, role)
}
