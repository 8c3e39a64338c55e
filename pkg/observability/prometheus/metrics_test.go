package prometheus_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/valyala/fasthttp"

	"github.com/fluxorio/pongworker/pkg/core"
	"github.com/fluxorio/pongworker/pkg/framing"
	"github.com/fluxorio/pongworker/pkg/observability/prometheus"
	"github.com/fluxorio/pongworker/pkg/tcp"
	"github.com/fluxorio/pongworker/pkg/worker"
)

func newMetrics(t *testing.T) (*prometheus.Metrics, *prom.Registry) {
	t.Helper()
	reg := prom.NewRegistry()
	return prometheus.NewMetrics(reg), reg
}

func TestMetrics_WorkerObserver(t *testing.T) {
	m, _ := newMetrics(t)

	cfg := worker.DefaultConfig()
	cfg.Framing = framing.Line
	cfg.MaxMessageSize = 4
	w, err := worker.New(cfg, worker.WithObserver(m))
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}

	if err := w.Serve(context.Background(), strings.NewReader("a\nbb\ntoolong\n"), io.Discard); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	stdio := worker.TransportStdio
	if got := testutil.ToFloat64(m.ExchangesTotal.WithLabelValues(stdio)); got != 2 {
		t.Errorf("exchanges = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FramesDropped.WithLabelValues(stdio, worker.DropTooLarge)); got != 1 {
		t.Errorf("dropped too_large = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsTotal.WithLabelValues(stdio)); got != 1 {
		t.Errorf("sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsActive.WithLabelValues(stdio)); got != 0 {
		t.Errorf("active sessions = %v, want 0 after EOF", got)
	}
	if got := testutil.CollectAndCount(m.RequestSize); got != 1 {
		t.Errorf("request size series = %d, want 1", got)
	}
}

func TestMetrics_SessionErrorKinds(t *testing.T) {
	m, _ := newMetrics(t)
	s := worker.Session{Transport: worker.TransportTCP}

	tests := []struct {
		err  error
		kind string
	}{
		{errors.Join(worker.ErrReadFailed, io.ErrUnexpectedEOF), "read"},
		{errors.Join(worker.ErrWriteFailed, io.ErrClosedPipe), "write"},
		{errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		m.SessionStarted(s)
		m.SessionEnded(s, tt.err)
		if got := testutil.ToFloat64(m.SessionErrors.WithLabelValues(s.Transport, tt.kind)); got != 1 {
			t.Errorf("%s errors = %v, want 1", tt.kind, got)
		}
	}

	m.SessionStarted(s)
	m.SessionEnded(s, nil)
	if got := testutil.CollectAndCount(m.SessionErrors); got != 3 {
		t.Errorf("error series = %d, a clean end must not add one", got)
	}
}

func TestMetrics_ReadRetries(t *testing.T) {
	m, _ := newMetrics(t)
	s := worker.Session{Transport: worker.TransportStdio}

	m.ReadRetried(s, io.EOF)
	m.ReadRetried(s, io.EOF)

	if got := testutil.ToFloat64(m.ReadRetries.WithLabelValues(s.Transport)); got != 2 {
		t.Errorf("retries = %v, want 2", got)
	}
}

func TestMetrics_DatabasePool(t *testing.T) {
	m, _ := newMetrics(t)

	m.UpdateDatabasePool(sql.DBStats{OpenConnections: 4, Idle: 3, InUse: 1})
	m.RecordDatabaseQuery("insert", 2*time.Millisecond)

	if got := testutil.ToFloat64(m.DatabaseConnectionsOpen); got != 4 {
		t.Errorf("open = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.DatabaseConnectionsInUse); got != 1 {
		t.Errorf("in use = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.DatabaseQueryDuration); got != 1 {
		t.Errorf("query duration series = %d, want 1", got)
	}
}

func TestFastHTTPMetricsMiddleware(t *testing.T) {
	m, _ := newMetrics(t)

	h := prometheus.FastHTTPMetricsMiddleware(m)(func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/missing" {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	for _, path := range []string{"/healthz", "/healthz", "/missing"} {
		var ctx fasthttp.RequestCtx
		ctx.Request.Header.SetMethod(fasthttp.MethodGet)
		ctx.Request.SetRequestURI(path)
		h(&ctx)
	}

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/healthz", "2xx")); got != 2 {
		t.Errorf("/healthz 2xx = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/missing", "4xx")); got != 1 {
		t.Errorf("/missing 4xx = %v, want 1", got)
	}
}

func TestRegisterTCPServer(t *testing.T) {
	reg := prom.NewRegistry()
	server := tcp.NewTCPServer(tcp.DefaultTCPServerConfig("127.0.0.1:0"),
		func(context.Context, net.Conn) error { return nil }, core.NewNopLogger())
	t.Cleanup(func() { _ = server.Stop() })

	prometheus.RegisterTCPServer(reg, server)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetGauge() != nil:
				names[mf.GetName()] = metric.GetGauge().GetValue()
			case metric.GetCounter() != nil:
				names[mf.GetName()] = metric.GetCounter().GetValue()
			}
		}
	}

	// 100 queue + 16 workers from the defaults.
	if got, ok := names["pongworker_tcp_normal_ccu"]; !ok || got != 116 {
		t.Errorf("normal ccu = %v (present %v), want 116", got, ok)
	}
	if _, ok := names["pongworker_tcp_rejected_connections_total"]; !ok {
		t.Error("rejected connections counter not exported")
	}
}
