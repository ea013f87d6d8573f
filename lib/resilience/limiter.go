package resilience

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// CreateLimiter throttles connection creation attempts with a token bucket.
// A nil *CreateLimiter allows everything.
type CreateLimiter struct {
	lim *rate.Limiter
}

// NewCreateLimiter returns a limiter allowing perSecond attempts with the
// given burst. perSecond <= 0 disables limiting and returns nil.
func NewCreateLimiter(perSecond float64, burst int) *CreateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &CreateLimiter{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until an attempt is permitted or ctx is done. A wait that
// cannot finish before the ctx deadline fails immediately.
func (l *CreateLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.lim.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrCreateThrottled, err)
	}
	return nil
}
