// Package metrics provides Prometheus metrics for the Keyfold control plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the Keyfold server.
type Metrics struct {
	registry *prometheus.Registry

	// API metrics
	APIRequestDuration *prometheus.HistogramVec
	APIRequestsTotal   *prometheus.CounterVec

	// Resolver metrics
	ResolveDuration       prometheus.Histogram
	ResolveFoldersVisited prometheus.Histogram
	ResolveCycleSkips     prometheus.Counter

	// Import graph metrics
	ImportMutationsTotal *prometheus.CounterVec

	// Crypto metrics
	CryptoOpsTotal *prometheus.CounterVec

	// Snapshot metrics
	SnapshotsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	// Register default Go and process collectors
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		APIRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "keyfold",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP API request latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keyfold",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP API requests.",
			},
			[]string{"method", "path", "status"},
		),

		ResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "keyfold",
				Subsystem: "resolver",
				Name:      "resolve_duration_seconds",
				Help:      "Time taken to resolve a folder's merged secret view.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),

		ResolveFoldersVisited: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "keyfold",
				Subsystem: "resolver",
				Name:      "folders_visited",
				Help:      "Number of folders visited per resolution.",
				Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
			},
		),

		ResolveCycleSkips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "keyfold",
				Subsystem: "resolver",
				Name:      "cycle_skips_total",
				Help:      "Total number of import edges skipped due to cycles.",
			},
		),

		ImportMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keyfold",
				Subsystem: "imports",
				Name:      "mutations_total",
				Help:      "Total number of import graph mutations.",
			},
			[]string{"operation"},
		),

		CryptoOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keyfold",
				Subsystem: "crypto",
				Name:      "operations_total",
				Help:      "Total number of envelope crypto operations.",
			},
			[]string{"operation"},
		),

		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keyfold",
				Subsystem: "snapshot",
				Name:      "snapshots_total",
				Help:      "Total number of snapshot operations.",
			},
			[]string{"status"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "keyfold",
				Subsystem: "database",
				Name:      "connections_active",
				Help:      "Number of active database connections.",
			},
		),

		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "keyfold",
				Subsystem: "database",
				Name:      "connections_idle",
				Help:      "Number of idle database connections.",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.APIRequestDuration,
		m.APIRequestsTotal,
		m.ResolveDuration,
		m.ResolveFoldersVisited,
		m.ResolveCycleSkips,
		m.ImportMutationsTotal,
		m.CryptoOpsTotal,
		m.SnapshotsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics:   true,
			MaxRequestsInFlight: 10,
		},
	)
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAPIRequest records an HTTP API request.
func (m *Metrics) RecordAPIRequest(method, path, status string, durationSeconds float64) {
	m.APIRequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
	m.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordImportMutation records a mutation on the import graph.
func (m *Metrics) RecordImportMutation(operation string) {
	m.ImportMutationsTotal.WithLabelValues(operation).Inc()
}

// RecordCryptoOp records an envelope crypto operation.
func (m *Metrics) RecordCryptoOp(operation string) {
	m.CryptoOpsTotal.WithLabelValues(operation).Inc()
}

// SetDBConnections sets the database connection counts.
func (m *Metrics) SetDBConnections(active, idle float64) {
	m.DBConnectionsActive.Set(active)
	m.DBConnectionsIdle.Set(idle)
}
