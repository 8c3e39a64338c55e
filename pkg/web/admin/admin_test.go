package admin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"golang.org/x/crypto/bcrypt"

	"github.com/fluxorio/pongworker/pkg/core"
	"github.com/fluxorio/pongworker/pkg/observability/prometheus"
	"github.com/fluxorio/pongworker/pkg/worker"
)

func startAdmin(t *testing.T, cfg Config, deps Deps) *fasthttp.Client {
	t.Helper()
	s := New(cfg, deps, core.NewNopLogger())

	ln := fasthttputil.NewInmemoryListener()
	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
		<-done
	})

	return &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
}

func get(t *testing.T, client *fasthttp.Client, path, authorization string) (int, string) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("http://admin" + path)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)
	if err := client.Do(req, resp); err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp.StatusCode(), string(resp.Body())
}

func TestAdmin_Endpoints(t *testing.T) {
	reg := prom.NewRegistry()
	metrics := prometheus.NewMetrics(reg)
	stats := worker.NewStatsObserver()

	w, err := worker.New(worker.DefaultConfig(), worker.WithObserver(metrics, stats))
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}
	var out strings.Builder
	if err := w.Serve(context.Background(), strings.NewReader("hello"), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	client := startAdmin(t, Config{}, Deps{Gatherer: reg, Metrics: metrics, Stats: stats})

	status, body := get(t, client, "/healthz", "")
	if status != 200 || !strings.Contains(body, `"ok"`) {
		t.Errorf("/healthz = %d %s", status, body)
	}

	status, body = get(t, client, "/metrics", "")
	if status != 200 {
		t.Fatalf("/metrics status = %d", status)
	}
	if !strings.Contains(body, `pongworker_exchanges_total{transport="stdio"} 1`) {
		t.Errorf("/metrics missing exchange counter:\n%s", body)
	}

	status, body = get(t, client, "/stats", "")
	if status != 200 {
		t.Fatalf("/stats status = %d", status)
	}
	var resp statsResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode /stats: %v", err)
	}
	if resp.Worker.Exchanges != 1 || resp.Worker.BytesIn != 5 {
		t.Errorf("stats = %+v", resp.Worker)
	}

	// Admin requests are recorded once the handler returns.
	if got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/healthz", "2xx")); got != 1 {
		t.Errorf("admin /healthz requests = %v, want 1", got)
	}
}

func TestAdmin_HealthFailure(t *testing.T) {
	client := startAdmin(t, Config{}, Deps{
		Gatherer: prom.NewRegistry(),
		Health:   func() error { return errors.New("journal unreachable") },
	})

	status, body := get(t, client, "/healthz", "")
	if status != 503 || !strings.Contains(body, "journal unreachable") {
		t.Errorf("/healthz = %d %s", status, body)
	}
	if status, _ := get(t, client, "/stats", ""); status != 404 {
		t.Errorf("/stats without a stats observer = %d, want 404", status)
	}
}

func TestAdmin_BasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	client := startAdmin(t, Config{Username: "ops", PasswordHash: string(hash)}, Deps{
		Gatherer: prom.NewRegistry(),
		Stats:    worker.NewStatsObserver(),
	})
	creds := "Basic " + base64.StdEncoding.EncodeToString([]byte("ops:pw"))

	if status, _ := get(t, client, "/stats", ""); status != 401 {
		t.Errorf("/stats without credentials = %d, want 401", status)
	}
	if status, _ := get(t, client, "/stats", creds); status != 200 {
		t.Errorf("/stats with credentials = %d, want 200", status)
	}
	if status, _ := get(t, client, "/healthz", ""); status != 200 {
		t.Errorf("/healthz must stay open, got %d", status)
	}
}

func TestAdmin_RateLimit(t *testing.T) {
	client := startAdmin(t, Config{RequestsPerMinute: 6}, Deps{Gatherer: prom.NewRegistry()})

	// Burst is a sixth of the per-minute rate.
	if status, _ := get(t, client, "/healthz", ""); status != 200 {
		t.Fatalf("first request = %d", status)
	}
	if status, _ := get(t, client, "/healthz", ""); status != 429 {
		t.Errorf("second request = %d, want 429", status)
	}
}

func TestConfig_Enabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Error("empty addr must disable the admin server")
	}
	if !(Config{Addr: ":9100"}).Enabled() {
		t.Error("addr set must enable the admin server")
	}
}
