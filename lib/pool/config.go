package pool

import (
	"fmt"
	"time"

	"github.com/pharmaops/rxpool/lib/metrics"
	"github.com/pharmaops/rxpool/lib/resilience"
	"github.com/pharmaops/rxpool/lib/tracing"
)

// Config configures a pool. It is copied by New and never changes afterwards.
type Config struct {
	// Name identifies the pool in logs, metric labels and span attributes.
	// Default: "pool"
	Name string
	// MaxConnections is the hard cap on live connections, counting
	// creations in flight.
	// Default: 10
	MaxConnections int
	// MinConnections is the floor kept by Initialize and by reaping.
	// Default: 0
	MinConnections int
	// AcquireTimeout is how long a queued Acquire waits.
	// Default: 30 seconds
	AcquireTimeout time.Duration
	// IdleTimeout is an advisory staleness threshold. The pool does not
	// enforce it; factories pass it to their drivers.
	// Default: 10 minutes
	IdleTimeout time.Duration
	// ReapInterval is the cadence of the background reaper. Zero disables
	// the reaper goroutine and is not replaced by the default, so a Config
	// literal must set it explicitly to get reaping.
	// DefaultConfig: 30 seconds
	ReapInterval time.Duration
	// CreateRate limits factory Create calls per second. 0 means unlimited.
	CreateRate float64
	// CreateBurst is the burst allowed by CreateRate.
	// Default: 1
	CreateBurst int
	// Breaker, if set, guards factory Create calls.
	Breaker *resilience.Breaker
	// Tracer receives acquire and create spans. Nil disables tracing.
	Tracer tracing.Tracer
	// Metrics is the registry for the pool's series. Nil uses the default registry.
	Metrics *metrics.Registry
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:           "pool",
		MaxConnections: 10,
		MinConnections: 0,
		AcquireTimeout: 30 * time.Second,
		IdleTimeout:    10 * time.Minute,
		ReapInterval:   30 * time.Second,
		CreateBurst:    1,
	}
}

// withDefaults fills zero values that have no "disabled" meaning.
// ReapInterval and CreateRate are left alone: zero turns them off.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = def.AcquireTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.CreateBurst == 0 {
		c.CreateBurst = def.CreateBurst
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Default()
	}
	return c
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	switch {
	case c.MaxConnections < 1:
		return fmt.Errorf("%w: max connections must be at least 1", ErrInvalidConfig)
	case c.MinConnections < 0:
		return fmt.Errorf("%w: min connections must not be negative", ErrInvalidConfig)
	case c.MinConnections > c.MaxConnections:
		return fmt.Errorf("%w: min connections %d exceeds max connections %d",
			ErrInvalidConfig, c.MinConnections, c.MaxConnections)
	case c.AcquireTimeout < 0, c.IdleTimeout < 0, c.ReapInterval < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	case c.CreateRate < 0:
		return fmt.Errorf("%w: create rate must not be negative", ErrInvalidConfig)
	}
	return nil
}
