package pool

import (
	"fmt"

	apperrors "github.com/pharmaops/rxpool/lib/errors"
)

// Errors returned by the pool. They alias the central definitions in
// lib/errors so callers can match either.
var (
	// ErrPoolClosing is returned by Acquire during or after Close.
	ErrPoolClosing = apperrors.ErrPoolClosing
	// ErrAcquireTimeout is returned when a queued acquire exceeds AcquireTimeout.
	ErrAcquireTimeout = apperrors.ErrAcquireTimeout
	// ErrConnectionCreation matches every *CreationError.
	ErrConnectionCreation = apperrors.ErrConnectionCreation
	// ErrConnectionFault marks a connection removed after an asynchronous fault.
	ErrConnectionFault = apperrors.ErrConnectionFault
	// ErrInvalidRelease is returned by Release and Discard for connections
	// that are not currently checked out from the pool.
	ErrInvalidRelease = apperrors.ErrInvalidRelease
	// ErrInvalidConfig is returned by New for a rejected Config.
	ErrInvalidConfig = apperrors.ErrInvalidPoolConfig
	// ErrCircuitOpen is the cause of a creation refused by the breaker.
	ErrCircuitOpen = apperrors.ErrCircuitOpen
)

// CreationError reports a failed connection creation to the caller that
// triggered it. It matches ErrConnectionCreation and its cause.
type CreationError struct {
	Pool   string
	ConnID string
	Err    error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("pool %s: create connection %s: %v", e.Pool, e.ConnID, e.Err)
}

func (e *CreationError) Unwrap() []error {
	return []error{ErrConnectionCreation, e.Err}
}
