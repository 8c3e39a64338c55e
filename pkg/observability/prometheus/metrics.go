package prometheus

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fluxorio/pongworker/pkg/worker"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "pongworker"}, DefaultRegistry)

	// Metrics collection
	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds all Prometheus metrics. It implements worker.Observer, so
// registering it on a worker is enough to collect session metrics.
type Metrics struct {
	// Worker session metrics
	SessionsActive   *prometheus.GaugeVec
	SessionsTotal    *prometheus.CounterVec
	SessionErrors    *prometheus.CounterVec
	ExchangesTotal   *prometheus.CounterVec
	ExchangeDuration *prometheus.HistogramVec
	RequestSize      *prometheus.HistogramVec
	ResponseSize     *prometheus.HistogramVec
	FramesDropped    *prometheus.CounterVec
	ReadRetries      *prometheus.CounterVec

	// Admin HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Journal database pool metrics
	DatabaseConnectionsOpen  prometheus.Gauge
	DatabaseConnectionsIdle  prometheus.Gauge
	DatabaseConnectionsInUse prometheus.Gauge
	DatabaseQueryDuration    *prometheus.HistogramVec

	registerer prometheus.Registerer
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates a new metrics collection
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	factory := promauto.With(registerer)
	sizeBuckets := prometheus.ExponentialBuckets(16, 4, 8) // 16B to 256KB

	return &Metrics{
		SessionsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pongworker_sessions_active",
				Help: "Number of running worker sessions",
			},
			[]string{"transport"},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pongworker_sessions_total",
				Help: "Total number of worker sessions started",
			},
			[]string{"transport"},
		),
		SessionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pongworker_session_errors_total",
				Help: "Sessions that ended with an error",
			},
			[]string{"transport", "kind"}, // kind: read, write, other
		),
		ExchangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pongworker_exchanges_total",
				Help: "Total number of answered frames",
			},
			[]string{"transport"},
		),
		ExchangeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pongworker_exchange_duration_seconds",
				Help:    "Time from frame read to flushed response",
				Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"transport"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pongworker_request_size_bytes",
				Help:    "Request frame size in bytes",
				Buckets: sizeBuckets,
			},
			[]string{"transport"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pongworker_response_size_bytes",
				Help:    "Response frame size in bytes",
				Buckets: sizeBuckets,
			},
			[]string{"transport"},
		),
		FramesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pongworker_frames_dropped_total",
				Help: "Frames read but not answered",
			},
			[]string{"transport", "reason"}, // reason: handler, too_large
		),
		ReadRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pongworker_read_retries_total",
				Help: "Reads retried after end of stream or error (on_eof: retry)",
			},
			[]string{"transport"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pongworker_http_requests_total",
				Help: "Total number of admin HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pongworker_http_request_duration_seconds",
				Help:    "Admin HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		DatabaseConnectionsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pongworker_database_connections_open",
				Help: "Number of open journal database connections",
			},
		),
		DatabaseConnectionsIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pongworker_database_connections_idle",
				Help: "Number of idle journal database connections",
			},
		),
		DatabaseConnectionsInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pongworker_database_connections_in_use",
				Help: "Number of journal database connections in use",
			},
		),
		DatabaseQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pongworker_database_query_duration_seconds",
				Help:    "Journal database statement duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"}, // operation: insert, query, migrate
		),

		registerer: registerer,
	}
}

// Registerer returns the registerer the metrics were created with.
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.registerer
}

func (m *Metrics) SessionStarted(s worker.Session) {
	m.SessionsActive.WithLabelValues(s.Transport).Inc()
	m.SessionsTotal.WithLabelValues(s.Transport).Inc()
}

func (m *Metrics) SessionEnded(s worker.Session, err error) {
	m.SessionsActive.WithLabelValues(s.Transport).Dec()
	if kind := errorKind(err); kind != "" {
		m.SessionErrors.WithLabelValues(s.Transport, kind).Inc()
	}
}

func (m *Metrics) ExchangeCompleted(s worker.Session, ex worker.Exchange) {
	m.ExchangesTotal.WithLabelValues(s.Transport).Inc()
	m.ExchangeDuration.WithLabelValues(s.Transport).Observe(ex.Duration.Seconds())
	m.RequestSize.WithLabelValues(s.Transport).Observe(float64(len(ex.Request)))
	m.ResponseSize.WithLabelValues(s.Transport).Observe(float64(len(ex.Response)))
}

func (m *Metrics) FrameDropped(s worker.Session, reason string, _ error) {
	m.FramesDropped.WithLabelValues(s.Transport, reason).Inc()
}

func (m *Metrics) ReadRetried(s worker.Session, _ error) {
	m.ReadRetries.WithLabelValues(s.Transport).Inc()
}

// RecordHTTPRequest records an admin HTTP request metric
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// UpdateDatabasePool updates database pool metrics
func (m *Metrics) UpdateDatabasePool(stats sql.DBStats) {
	m.DatabaseConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DatabaseConnectionsIdle.Set(float64(stats.Idle))
	m.DatabaseConnectionsInUse.Set(float64(stats.InUse))
}

// RecordDatabaseQuery records a database statement metric
func (m *Metrics) RecordDatabaseQuery(operation string, duration time.Duration) {
	m.DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// errorKind classifies how a session ended. End of input and cancellation
// return "".
func errorKind(err error) string {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ""
	case errors.Is(err, worker.ErrReadFailed):
		return "read"
	case errors.Is(err, worker.ErrWriteFailed):
		return "write"
	default:
		return "other"
	}
}
