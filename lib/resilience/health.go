package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/pharmaops/rxpool/lib/metrics"
)

// CheckFunc checks a backend once. It must honour ctx's deadline.
type CheckFunc func(ctx context.Context) error

// HealthConfig configures a HealthMonitor.
type HealthConfig struct {
	// CheckInterval is the time between checks.
	CheckInterval time.Duration
	// CheckTimeout bounds a single check.
	CheckTimeout time.Duration
}

// DefaultHealthConfig returns sensible defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval: 30 * time.Second,
		CheckTimeout:  5 * time.Second,
	}
}

// HealthMonitor periodically checks a backend and drives a pool's creation
// breaker from the result. A failed check opens the breaker, so callers
// stop waiting on connection attempts to a backend that is down. A passing
// check closes an open breaker again without waiting for its timeout.
type HealthMonitor struct {
	mu      sync.RWMutex
	name    string
	config  HealthConfig
	check   CheckFunc
	breaker *Breaker
	healthy *metrics.Gauge

	lastCheck   time.Time
	lastHealthy time.Time
	lastErr     error
	isHealthy   bool

	onUnhealthy func(err error)
	onHealthy   func()

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHealthMonitor creates a monitor for the backend called name. breaker
// may be nil, in which case the monitor only reports health.
func NewHealthMonitor(name string, check CheckFunc, breaker *Breaker, cfg HealthConfig) *HealthMonitor {
	def := DefaultHealthConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}

	hm := &HealthMonitor{
		name:    name,
		config:  cfg,
		check:   check,
		breaker: breaker,
		healthy: metrics.NewGauge(
			"rxpool_backend_healthy",
			"Whether the last backend check passed (1) or failed (0)",
			metrics.Labels{"backend": name},
		),
		isHealthy: true, // optimistic until the first check
	}
	hm.healthy.Set(1)
	return hm
}

// SetCallbacks sets functions run (in their own goroutine) when the
// backend becomes unhealthy or recovers.
func (hm *HealthMonitor) SetCallbacks(onUnhealthy func(err error), onHealthy func()) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.onUnhealthy = onUnhealthy
	hm.onHealthy = onHealthy
}

// Start begins checking. The first check runs immediately.
func (hm *HealthMonitor) Start(ctx context.Context) {
	hm.mu.Lock()
	if hm.running {
		hm.mu.Unlock()
		return
	}
	hm.running = true
	ctx, cancel := context.WithCancel(ctx)
	hm.cancel = cancel
	hm.mu.Unlock()

	log.WithField("backend", hm.name).
		WithField("checkInterval", hm.config.CheckInterval).
		Debug("starting backend health monitor")

	hm.wg.Add(1)
	go func() {
		defer hm.wg.Done()
		hm.monitorLoop(ctx)
	}()
}

// Stop halts checking and waits for a running check to finish.
func (hm *HealthMonitor) Stop() {
	hm.mu.Lock()
	if !hm.running {
		hm.mu.Unlock()
		return
	}
	hm.running = false
	hm.cancel()
	hm.mu.Unlock()

	hm.wg.Wait()
	log.WithField("backend", hm.name).Debug("backend health monitor stopped")
}

func (hm *HealthMonitor) monitorLoop(ctx context.Context) {
	hm.Check(ctx)

	ticker := time.NewTicker(hm.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hm.Check(ctx)
		}
	}
}

// Check tests the backend now and applies the result. It returns the
// check error, if any.
func (hm *HealthMonitor) Check(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, hm.config.CheckTimeout)
	err := hm.check(checkCtx)
	cancel()
	if err != nil && ctx.Err() != nil {
		// Shutting down; the backend was not at fault.
		return err
	}

	now := time.Now()
	hm.mu.Lock()
	wasHealthy := hm.isHealthy
	hm.lastCheck = now
	hm.lastErr = err
	hm.isHealthy = err == nil
	if err == nil {
		hm.lastHealthy = now
	}
	onUnhealthy := hm.onUnhealthy
	onHealthy := hm.onHealthy
	hm.mu.Unlock()

	if err != nil {
		hm.healthy.Set(0)
		if hm.breaker != nil {
			hm.breaker.ForceOpen()
		}
		if wasHealthy {
			log.WithField("backend", hm.name).WithError(err).Warn("backend health check failed")
			if onUnhealthy != nil {
				go onUnhealthy(err)
			}
		}
		return err
	}

	hm.healthy.Set(1)
	if hm.breaker != nil && hm.breaker.State() != StateClosed {
		hm.breaker.Reset()
	}
	if !wasHealthy {
		log.WithField("backend", hm.name).Info("backend health check passed again")
		if onHealthy != nil {
			go onHealthy()
		}
	}
	return nil
}

// IsHealthy reports whether the last check passed.
func (hm *HealthMonitor) IsHealthy() bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.isHealthy
}

// HealthStats is a snapshot of a HealthMonitor.
type HealthStats struct {
	Name        string        `json:"name"`
	Healthy     bool          `json:"healthy"`
	LastCheck   time.Time     `json:"last_check"`
	LastHealthy time.Time     `json:"last_healthy"`
	LastError   string        `json:"last_error,omitempty"`
	Breaker     *BreakerStats `json:"breaker,omitempty"`
}

// Stats returns the monitor's health and its breaker's state.
func (hm *HealthMonitor) Stats() HealthStats {
	hm.mu.RLock()
	st := HealthStats{
		Name:        hm.name,
		Healthy:     hm.isHealthy,
		LastCheck:   hm.lastCheck,
		LastHealthy: hm.lastHealthy,
	}
	if hm.lastErr != nil {
		st.LastError = hm.lastErr.Error()
	}
	hm.mu.RUnlock()

	if hm.breaker != nil {
		bs := hm.breaker.Stats()
		st.Breaker = &bs
	}
	return st
}
