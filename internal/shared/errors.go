package shared

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrLockedRecord indicates a mutation against a locked or frozen record.
	ErrLockedRecord = errors.New("record locked")
	// ErrInvalidTransition indicates an illegal state machine move.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrEvidenceConflict flags exclusive evidence sources claiming the same date.
	ErrEvidenceConflict = errors.New("evidence conflict")
	// ErrTransientStore marks I/O failures that are safe to retry.
	ErrTransientStore = errors.New("transient store error")
	// ErrForbidden indicates the actor role may not perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrConcurrentUpdate indicates a compare-and-swap write lost the race.
	ErrConcurrentUpdate = errors.New("concurrent update")
)

// IsTransient reports whether err is an I/O failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientStore) || errors.Is(err, ErrConcurrentUpdate) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}

// WrapStoreError tags retryable driver failures with ErrTransientStore.
func WrapStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransientStore) {
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", ErrTransientStore, err)
	}
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
