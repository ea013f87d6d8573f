// Package errors provides structured error types for rxpool.
// Errors returned by the pools are safe to surface to upstream services
// without exposing driver internals.
//
// This package provides:
//   - Sentinel errors for common error conditions
//   - Pool, database and cache specific errors wrapping those sentinels
//   - Error codes for categorizing failures in status responses
//   - Error wrapping with context preservation
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Error codes for categorizing errors.
const (
	CodeInternal      = 1000 // Internal error
	CodeInvalidInput  = 1001 // Invalid input or parameters
	CodeConfiguration = 1002 // Invalid configuration
	CodeTimeout       = 1003 // Operation timeout
	CodeUnavailable   = 1004 // Backend or circuit unavailable
	CodeConnection    = 1005 // Connection error
	CodeState         = 1006 // Invalid state
	CodeClosed        = 1007 // Resource closed
	CodeRateLimited   = 1008 // Rate limit exceeded
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrUnavailable indicates a service is unavailable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrRateLimited indicates a rate limit was exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrClosed indicates a resource is closed.
	ErrClosed = errors.New("closed")

	// ErrInvalidState indicates an invalid state transition.
	ErrInvalidState = errors.New("invalid state")

	// ErrConnection indicates a connection error.
	ErrConnection = errors.New("connection error")

	// ErrInternal indicates an internal error.
	ErrInternal = errors.New("internal error")

	// ErrConfiguration indicates a configuration error.
	ErrConfiguration = errors.New("configuration error")

	// ErrCircuitOpen indicates the circuit breaker is open.
	ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", ErrUnavailable)
)

// Pool errors
var (
	// ErrPoolClosing is returned by Acquire during or after Close, and
	// delivered to every waiter still queued when Close runs.
	ErrPoolClosing = fmt.Errorf("pool: %w", ErrClosed)

	// ErrAcquireTimeout indicates a queued acquire waited longer than the
	// configured acquire timeout.
	ErrAcquireTimeout = fmt.Errorf("pool: acquire %w", ErrTimeout)

	// ErrConnectionCreation indicates the factory failed to create a connection.
	ErrConnectionCreation = fmt.Errorf("pool: create: %w", ErrConnection)

	// ErrConnectionFault indicates a registered connection reported an
	// asynchronous error or disconnect.
	ErrConnectionFault = fmt.Errorf("pool: fault: %w", ErrConnection)

	// ErrInvalidRelease indicates a release of a connection that is not
	// currently checked out from this pool.
	ErrInvalidRelease = fmt.Errorf("pool: release: %w", ErrInvalidState)

	// ErrInvalidPoolConfig indicates a pool configuration was rejected.
	ErrInvalidPoolConfig = fmt.Errorf("pool: %w", ErrConfiguration)

	// ErrCreateThrottled indicates connection creation was refused by the
	// creation rate limit.
	ErrCreateThrottled = fmt.Errorf("pool: create: %w", ErrRateLimited)
)

// Database errors
var (
	// ErrDatabaseURIRequired indicates the database factory has no URI.
	ErrDatabaseURIRequired = fmt.Errorf("dbpool: uri %w", ErrInvalidInput)
)

// Cache errors
var (
	// ErrCacheAddrRequired indicates the cache factory has no address.
	ErrCacheAddrRequired = fmt.Errorf("cachepool: addr %w", ErrInvalidInput)
)

// Error is a structured error with a code and safe message.
// It implements the error interface and provides methods for
// error handling and response generation.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message is a safe, user-facing error message
	Message string `json:"message"`
	// Err is the underlying error (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// SafeMessage returns a client-safe error message without internal details.
func (e *Error) SafeMessage() string {
	return e.Message
}

// HTTPStatus maps the error code to an HTTP status for status endpoints.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidInput, CodeConfiguration:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnavailable, CodeClosed, CodeConnection:
		return http.StatusServiceUnavailable
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Wrap wraps an existing error with a code and safe message.
// The original error is preserved for debugging but not exposed to clients.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// FromSentinel creates a structured error from a sentinel error.
// It assigns an error code based on the sentinel the error wraps.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    codeFromError(err),
		Message: err.Error(),
		Err:     err,
	}
}

// codeFromError maps sentinel errors to error codes.
// ErrCircuitOpen wraps ErrUnavailable and is covered by that case.
func codeFromError(err error) int {
	switch {
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrClosed):
		return CodeClosed
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, ErrInvalidState):
		return CodeState
	case errors.Is(err, ErrConnection):
		return CodeConnection
	default:
		return CodeInternal
	}
}

// IsUnavailable returns true if the error indicates a service is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsClosed returns true if the error indicates a resource is closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsConnection returns true if the error indicates a connection problem.
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}

// Join combines multiple errors into a single error.
// Returns nil if all errors are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
