package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all service metrics. A nil *Metrics is valid and records
// nothing, which keeps unit tests free of registry plumbing.
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Kafka metrics
	KafkaEventsPublished *prometheus.CounterVec
	KafkaPublishDuration *prometheus.HistogramVec

	// Ledger metrics
	LedgerOperations        *prometheus.CounterVec
	LedgerOperationDuration *prometheus.HistogramVec
	VersionConflicts        *prometheus.CounterVec
	Compensations           *prometheus.CounterVec

	// Stock metrics
	StockAdjustments    *prometheus.CounterVec
	StockRetries        prometheus.Counter
	BulkStockOrders     *prometheus.CounterVec
	BulkStockOrderItems prometheus.Histogram
	CounterUpdates      *prometheus.CounterVec
	Reconciliations     *prometheus.CounterVec

	// Summary cache metrics
	SummaryCacheRequests *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	ServiceName string `yaml:"service_name"`
	Namespace   string `yaml:"namespace"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Namespace:   "retail",
	}
}

// New creates a new Metrics instance on a private registry
func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ns := config.Namespace
	m := &Metrics{
		serviceName: config.ServiceName,
		registry:    registry,
	}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	m.HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "http_requests_in_flight",
			Help:        "Number of HTTP requests currently being processed",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	m.KafkaEventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "kafka_events_published_total",
			Help:      "Total number of Kafka events published",
		},
		[]string{"service", "topic", "event_type", "status"},
	)

	m.KafkaPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "kafka_publish_duration_seconds",
			Help:      "Kafka publish duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"service", "topic"},
	)

	m.LedgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "ledger_operations_total",
			Help:      "Credit ledger operations by outcome",
		},
		[]string{"service", "operation", "status", "code"},
	)

	m.LedgerOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "ledger_operation_duration_seconds",
			Help:      "Credit ledger operation duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"service", "operation"},
	)

	m.VersionConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "version_conflicts_total",
			Help:      "Optimistic concurrency conflicts that forced a re-read",
		},
		[]string{"service", "entity"},
	)

	m.Compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "saga_compensations_total",
			Help:      "Compensating writes issued after a failed saga step",
		},
		[]string{"service", "operation", "outcome"},
	)

	m.StockAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "stock_adjustments_total",
			Help:      "Single-item stock adjustments by direction and outcome",
		},
		[]string{"service", "direction", "status"},
	)

	m.StockRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "stock_write_retries_total",
			Help:        "Stock writes retried after a transient storage error",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	m.BulkStockOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "bulk_stock_orders_total",
			Help:      "Order-level stock batches by outcome",
		},
		[]string{"service", "status"},
	)

	m.BulkStockOrderItems = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "bulk_stock_order_items",
			Help:        "Line items per order-level stock batch",
			Buckets:     []float64{1, 2, 5, 10, 25, 50, 100},
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	m.CounterUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "summary_counter_updates_total",
			Help:      "Best-effort summary counter updates by outcome",
		},
		[]string{"service", "status"},
	)

	m.Reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "summary_counter_reconciliations_total",
			Help:      "Counter reconciliation runs per store by outcome",
		},
		[]string{"service", "status"},
	)

	m.SummaryCacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "summary_cache_requests_total",
			Help:      "Inventory summary reads by cache result",
		},
		[]string{"service", "result"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.KafkaEventsPublished,
		m.KafkaPublishDuration,
		m.LedgerOperations,
		m.LedgerOperationDuration,
		m.VersionConflicts,
		m.Compensations,
		m.StockAdjustments,
		m.StockRetries,
		m.BulkStockOrders,
		m.BulkStockOrderItems,
		m.CounterUpdates,
		m.Reconciliations,
		m.SummaryCacheRequests,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(m.serviceName, method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(m.serviceName, method, path).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments in-flight requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.HTTPRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements in-flight requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.HTTPRequestsInFlight.Dec()
}

// RecordKafkaPublish records a Kafka publish attempt
func (m *Metrics) RecordKafkaPublish(topic, eventType string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.KafkaEventsPublished.WithLabelValues(m.serviceName, topic, eventType, statusLabel(success)).Inc()
	m.KafkaPublishDuration.WithLabelValues(m.serviceName, topic).Observe(duration.Seconds())
}

// RecordLedgerOperation records the outcome of a credit ledger operation.
// code is empty on success.
func (m *Metrics) RecordLedgerOperation(operation string, success bool, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LedgerOperations.WithLabelValues(m.serviceName, operation, statusLabel(success), code).Inc()
	m.LedgerOperationDuration.WithLabelValues(m.serviceName, operation).Observe(duration.Seconds())
}

// RecordVersionConflict records an optimistic concurrency conflict
func (m *Metrics) RecordVersionConflict(entity string) {
	if m == nil {
		return
	}
	m.VersionConflicts.WithLabelValues(m.serviceName, entity).Inc()
}

// RecordCompensation records a compensating write; outcome is
// "compensated" or "failed".
func (m *Metrics) RecordCompensation(operation, outcome string) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(m.serviceName, operation, outcome).Inc()
}

// RecordStockAdjustment records a single-item stock adjustment
func (m *Metrics) RecordStockAdjustment(delta int64, success bool) {
	if m == nil {
		return
	}
	direction := "increment"
	if delta < 0 {
		direction = "decrement"
	}
	m.StockAdjustments.WithLabelValues(m.serviceName, direction, statusLabel(success)).Inc()
}

// RecordStockRetry records a transient-error retry of a stock write
func (m *Metrics) RecordStockRetry() {
	if m == nil {
		return
	}
	m.StockRetries.Inc()
}

// RecordBulkStockOrder records an order-level stock batch
func (m *Metrics) RecordBulkStockOrder(items int, success bool) {
	if m == nil {
		return
	}
	m.BulkStockOrders.WithLabelValues(m.serviceName, statusLabel(success)).Inc()
	m.BulkStockOrderItems.Observe(float64(items))
}

// RecordCounterUpdate records a best-effort summary counter update
func (m *Metrics) RecordCounterUpdate(status string) {
	if m == nil {
		return
	}
	m.CounterUpdates.WithLabelValues(m.serviceName, status).Inc()
}

// RecordReconciliation records one store's counter reconciliation
func (m *Metrics) RecordReconciliation(success bool) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(m.serviceName, statusLabel(success)).Inc()
}

// RecordSummaryCache records a summary read; result is "hit", "miss" or "bypass"
func (m *Metrics) RecordSummaryCache(result string) {
	if m == nil {
		return
	}
	m.SummaryCacheRequests.WithLabelValues(m.serviceName, result).Inc()
}
