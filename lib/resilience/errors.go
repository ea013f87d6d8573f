package resilience

import apperrors "github.com/pharmaops/rxpool/lib/errors"

// ErrCircuitOpen is returned when an attempt is rejected because the circuit is open.
// This is an alias to the central error definition in lib/errors.
var ErrCircuitOpen = apperrors.ErrCircuitOpen

// ErrCreateThrottled is returned when the creation limiter refuses an attempt.
var ErrCreateThrottled = apperrors.ErrCreateThrottled
