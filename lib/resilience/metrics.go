package resilience

import (
	"github.com/pharmaops/rxpool/lib/metrics"
)

// breakerMetrics are the per-breaker series, labelled by breaker name.
type breakerMetrics struct {
	state      *metrics.Gauge
	trips      *metrics.Counter
	rejections *metrics.Counter
}

func newBreakerMetrics(name string) *breakerMetrics {
	labels := metrics.Labels{"breaker": name}
	return &breakerMetrics{
		state: metrics.NewGauge(
			"rxpool_breaker_state",
			"Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
			labels,
		),
		trips: metrics.NewCounter(
			"rxpool_breaker_trips_total",
			"Total number of times the circuit breaker opened",
			labels,
		),
		rejections: metrics.NewCounter(
			"rxpool_breaker_rejections_total",
			"Total attempts rejected by an open circuit breaker",
			labels,
		),
	}
}
