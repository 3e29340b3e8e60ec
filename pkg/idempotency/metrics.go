package idempotency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds idempotency-related Prometheus metrics
type Metrics struct {
	// Hits counts replays served from a stored outcome
	// Labels: service, operation
	Hits *prometheus.CounterVec

	// Misses counts operations that executed because no outcome was stored
	// Labels: service, operation
	Misses *prometheus.CounterVec

	// ParameterMismatches counts keys reused with different parameters
	// Labels: service, operation
	ParameterMismatches *prometheus.CounterVec

	// StorageErrors counts repository failures
	// Labels: service, operation
	StorageErrors *prometheus.CounterVec
}

// NewMetrics creates and registers the idempotency metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		Hits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idempotency_hits_total",
				Help: "Total number of idempotent replays served from a stored outcome",
			},
			[]string{"service", "operation"},
		),
		Misses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idempotency_misses_total",
				Help: "Total number of keyed operations executed for the first time",
			},
			[]string{"service", "operation"},
		),
		ParameterMismatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idempotency_parameter_mismatches_total",
				Help: "Total number of keys reused with different request parameters",
			},
			[]string{"service", "operation"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idempotency_storage_errors_total",
				Help: "Total number of idempotency storage failures",
			},
			[]string{"service", "operation"},
		),
	}
}
