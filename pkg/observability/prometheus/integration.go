package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/valyala/fasthttp"

	"github.com/fluxorio/pongworker/pkg/tcp"
)

// FastHTTPMetricsMiddleware records admin HTTP request metrics.
func FastHTTPMetricsMiddleware(m *Metrics) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			method := string(ctx.Method())
			path := string(ctx.Path())

			next(ctx)

			status := statusCodeString(ctx.Response.StatusCode())
			m.RecordHTTPRequest(method, path, status, time.Since(start))
		}
	}
}

// RegisterTCPServer exports the server's live counters. Values are read at
// scrape time, so no update loop is needed.
func RegisterTCPServer(registerer prometheus.Registerer, server *tcp.TCPServer) {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	factory := promauto.With(registerer)

	gauge := func(name, help string, value func(tcp.ServerMetrics) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return value(server.Metrics())
		})
	}
	counter := func(name, help string, value func(tcp.ServerMetrics) float64) {
		factory.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
			return value(server.Metrics())
		})
	}

	gauge("pongworker_tcp_queued_connections", "Accepted connections waiting for a worker",
		func(m tcp.ServerMetrics) float64 { return float64(m.QueuedConnections) })
	gauge("pongworker_tcp_active_connections", "Queued plus handling connections",
		func(m tcp.ServerMetrics) float64 { return float64(m.ActiveConnections) })
	gauge("pongworker_tcp_current_ccu", "Connections holding backpressure capacity",
		func(m tcp.ServerMetrics) float64 { return float64(m.CurrentCCU) })
	gauge("pongworker_tcp_normal_ccu", "Backpressure capacity (queue + workers)",
		func(m tcp.ServerMetrics) float64 { return float64(m.NormalCCU) })
	gauge("pongworker_tcp_ccu_utilization", "CCU utilization percentage (0-100)",
		func(m tcp.ServerMetrics) float64 { return m.CCUUtilization })
	counter("pongworker_tcp_accepted_connections_total", "Total accepted connections",
		func(m tcp.ServerMetrics) float64 { return float64(m.TotalAccepted) })
	counter("pongworker_tcp_rejected_connections_total", "Connections closed by backpressure or max_conns",
		func(m tcp.ServerMetrics) float64 { return float64(m.RejectedConnections) })
	counter("pongworker_tcp_handler_errors_total", "Connection handlers that failed or panicked",
		func(m tcp.ServerMetrics) float64 { return float64(m.ErrorConnections) })
}

// statusCodeString converts status code to string
func statusCodeString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return strconv.Itoa(code)
	}
}
