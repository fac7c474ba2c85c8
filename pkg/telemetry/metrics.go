package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics provides Prometheus metrics for the history store.
type Metrics struct {
	config MetricsConfig

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsByKind      *prometheus.CounterVec

	items        prometheus.Gauge
	itemsTrimmed prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op collector
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_operations_total",
				Help:      "Total number of history store operations",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "history_operation_duration_seconds",
				Help:      "Duration of history store operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_errors_total",
				Help:      "Total number of history store errors by kind",
			},
			[]string{"kind"},
		),
		items: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "history_items",
				Help:      "Number of items in the history store at the last count",
			},
		),
		itemsTrimmed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_items_trimmed_total",
				Help:      "Total number of items removed by trim",
			},
		),
	}

	registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.errorsByKind,
		m.items,
		m.itemsTrimmed,
	)

	return m, nil
}

// NewNoopMetrics returns a collector that records nothing.
func NewNoopMetrics() *Metrics {
	return &Metrics{}
}

// RecordOperation records a finished store operation with its duration.
func (m *Metrics) RecordOperation(operation string, duration time.Duration, err error) {
	if m == nil || m.operations == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	if m == nil || m.errorsByKind == nil || kind == "" {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// SetItemCount sets the current number of stored items.
func (m *Metrics) SetItemCount(count int) {
	if m == nil || m.items == nil {
		return
	}
	m.items.Set(float64(count))
}

// AddTrimmed adds n to the trimmed items counter.
func (m *Metrics) AddTrimmed(n int) {
	if m == nil || m.itemsTrimmed == nil || n <= 0 {
		return
	}
	m.itemsTrimmed.Add(float64(n))
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics registry, for embedding
// into a host application's mux.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
