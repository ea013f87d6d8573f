// Package resilience guards connection creation against a failing backend.
//
// A Breaker stops a pool from hammering a database or cache that keeps
// refusing connections, and a CreateLimiter spreads creation attempts out
// when many callers hit an empty pool at once.
//
// State transitions:
//
//	Closed (normal) -> Open (failing) -> HalfOpen (probing) -> Closed
//	                     ^                    |
//	                     +--------------------+ (if a trial fails)
package resilience

import (
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed lets every creation attempt through.
	StateClosed State = iota
	// StateOpen rejects creation attempts until the open timeout elapses.
	StateOpen
	// StateHalfOpen lets a limited number of trial attempts through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int `toml:"failure_threshold"`
	// SuccessThreshold is the number of successful trials that closes it again.
	SuccessThreshold int `toml:"success_threshold"`
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration `toml:"-"`
	// MaxHalfOpen is the number of concurrent trials allowed while half-open.
	MaxHalfOpen int `toml:"max_half_open"`
}

// DefaultBreakerConfig returns defaults suited to database and cache backends.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenTimeout:      10 * time.Second,
		MaxHalfOpen:      1,
	}
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	mu     sync.Mutex
	config BreakerConfig
	name   string

	state    State
	failures int
	trials   int
	passed   int

	lastFailure time.Time
	lastChange  time.Time
	openedAt    time.Time

	metrics       *breakerMetrics
	onStateChange func(from, to State)
}

// NewBreaker creates a breaker. Zero config fields take their defaults.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.MaxHalfOpen <= 0 {
		cfg.MaxHalfOpen = def.MaxHalfOpen
	}

	return &Breaker{
		config:     cfg,
		name:       name,
		state:      StateClosed,
		lastChange: time.Now(),
		metrics:    newBreakerMetrics(name),
	}
}

// OnStateChange registers a callback run (in its own goroutine) on every transition.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. An open circuit whose timeout has
// elapsed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.config.OpenTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Allow reports whether an attempt may proceed, reserving a trial slot
// when half-open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.config.OpenTimeout {
			b.transitionTo(StateHalfOpen)
			b.trials = 1
			return true
		}
	case StateHalfOpen:
		if b.trials < b.config.MaxHalfOpen {
			b.trials++
			return true
		}
	}
	b.metrics.rejections.Inc()
	return false
}

// RecordSuccess records a successful attempt.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.passed++
		if b.trials > 0 {
			b.trials--
		}
		if b.passed >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	case StateOpen:
		log.WithField("breaker", b.name).Warn("success recorded while circuit open")
	}
}

// RecordFailure records a failed attempt.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	}
}

// transitionTo changes state. Must be called with the lock held.
func (b *Breaker) transitionTo(to State) {
	if b.state == to {
		return
	}

	from := b.state
	b.state = to
	b.lastChange = time.Now()

	switch to {
	case StateClosed:
		b.failures = 0
		b.passed = 0
		b.trials = 0
	case StateOpen:
		b.openedAt = b.lastChange
		b.passed = 0
		b.trials = 0
		b.metrics.trips.Inc()
	case StateHalfOpen:
		b.passed = 0
		b.trials = 0
	}
	b.metrics.state.Set(int64(to))

	log.WithField("breaker", b.name).
		WithField("from", from.String()).
		WithField("to", to.String()).
		Info("circuit breaker state transition")

	if b.onStateChange != nil {
		go b.onStateChange(from, to)
	}
}

// ForceOpen opens the circuit. A HealthMonitor calls it when the backend
// fails a health check.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateOpen)
}

// Reset returns the breaker to closed with cleared counters. A
// HealthMonitor calls it when the backend passes a health check again.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
	b.failures = 0
	b.openedAt = time.Time{}
}

// BreakerStats holds statistics for a breaker.
type BreakerStats struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
	LastChange  time.Time `json:"last_change"`
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() BreakerStats {
	state := b.State()

	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		Name:        b.name,
		State:       state.String(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		LastChange:  b.lastChange,
	}
}
