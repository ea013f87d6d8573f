package pool

import "github.com/pharmaops/rxpool/lib/metrics"

// poolMetrics are the series of one pool, labelled with its name.
type poolMetrics struct {
	max      *metrics.Gauge
	open     *metrics.Gauge
	idle     *metrics.Gauge
	inUse    *metrics.Gauge
	waiters  *metrics.Gauge
	creating *metrics.Gauge

	acquireTotal    *metrics.Counter
	acquireSuccess  *metrics.Counter
	acquireFailed   *metrics.Counter
	acquireTimeouts *metrics.Counter
	releaseTotal    *metrics.Counter
	created         *metrics.Counter
	createFailed    *metrics.Counter
	faults          *metrics.Counter
	reaped          *metrics.Counter

	acquireLatency *metrics.Histogram
}

func newPoolMetrics(reg *metrics.Registry, name string) *poolMetrics {
	l := metrics.Labels{"pool": name}
	return &poolMetrics{
		max:      reg.NewGauge("rxpool_pool_connections_max", "Maximum number of connections in the pool", l),
		open:     reg.NewGauge("rxpool_pool_connections_open", "Current number of registered connections", l),
		idle:     reg.NewGauge("rxpool_pool_connections_idle", "Current number of idle connections", l),
		inUse:    reg.NewGauge("rxpool_pool_connections_in_use", "Number of connections checked out", l),
		waiters:  reg.NewGauge("rxpool_pool_waiters", "Number of callers queued for a connection", l),
		creating: reg.NewGauge("rxpool_pool_connections_creating", "Number of connection creations in flight", l),

		acquireTotal:    reg.NewCounter("rxpool_pool_acquire_total", "Total number of connection acquire attempts", l),
		acquireSuccess:  reg.NewCounter("rxpool_pool_acquire_success_total", "Total number of successful acquires", l),
		acquireFailed:   reg.NewCounter("rxpool_pool_acquire_failed_total", "Total number of failed acquires", l),
		acquireTimeouts: reg.NewCounter("rxpool_pool_acquire_timeouts_total", "Total number of queued acquires that timed out", l),
		releaseTotal:    reg.NewCounter("rxpool_pool_release_total", "Total number of connection releases", l),
		created:         reg.NewCounter("rxpool_pool_connections_created_total", "Total number of connections created", l),
		createFailed:    reg.NewCounter("rxpool_pool_create_failed_total", "Total number of failed connection creations", l),
		faults:          reg.NewCounter("rxpool_pool_faults_total", "Total number of connections removed after a fault", l),
		reaped:          reg.NewCounter("rxpool_pool_reaped_total", "Total number of idle connections closed by the reaper", l),

		acquireLatency: reg.NewHistogram("rxpool_pool_acquire_duration_seconds",
			"Time spent acquiring a connection from the pool", metrics.DefaultLatencyBuckets, l),
	}
}

// updateGaugesLocked refreshes the gauges. Must be called with the pool lock held.
func (p *Pool[T]) updateGaugesLocked() {
	m := p.metrics
	m.max.Set(int64(p.config.MaxConnections))
	m.open.Set(int64(len(p.reg.conns)))
	m.idle.Set(int64(len(p.reg.idle)))
	m.inUse.Set(int64(len(p.reg.active)))
	m.waiters.Set(int64(p.reg.waiters.Len()))
	m.creating.Set(int64(p.reg.creating))
}
