// Package admin assembles the worker's admin HTTP server: Prometheus
// metrics, a liveness probe and session counters.
package admin

import (
	"context"
	"net"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/fluxorio/pongworker/pkg/core"
	"github.com/fluxorio/pongworker/pkg/core/failfast"
	"github.com/fluxorio/pongworker/pkg/observability/prometheus"
	"github.com/fluxorio/pongworker/pkg/web"
	"github.com/fluxorio/pongworker/pkg/web/middleware"
	"github.com/fluxorio/pongworker/pkg/web/middleware/auth"
	"github.com/fluxorio/pongworker/pkg/web/middleware/security"
	"github.com/fluxorio/pongworker/pkg/worker"
)

// Config configures the admin server. It is disabled when Addr is empty.
type Config struct {
	Addr              string        `yaml:"addr" json:"addr"`
	Username          string        `yaml:"username" json:"username"`
	PasswordHash      string        `yaml:"password_hash" json:"password_hash"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	ReadTimeout       time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// Enabled reports whether the admin server should run.
func (c Config) Enabled() bool {
	return c.Addr != ""
}

// Deps are the sources the admin endpoints read from.
type Deps struct {
	// Gatherer backs /metrics. Nil selects prometheus.DefaultRegistry.
	Gatherer prom.Gatherer
	// Metrics records admin request metrics when set.
	Metrics *prometheus.Metrics
	// Stats backs /stats. Nil disables the endpoint.
	Stats *worker.StatsObserver
	// Health backs /healthz. Nil always reports healthy.
	Health func() error
}

// Server is the admin HTTP server.
type Server struct {
	http   *web.FastHTTPServer
	logger core.Logger
}

// New builds the admin server. Basic auth is enabled when both Username and
// PasswordHash are set; /healthz stays open.
func New(cfg Config, deps Deps, logger core.Logger) *Server {
	failfast.NotNil(logger, "logger")

	httpCfg := web.DefaultFastHTTPServerConfig(cfg.Addr)
	if cfg.ReadTimeout > 0 {
		httpCfg.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		httpCfg.WriteTimeout = cfg.WriteTimeout
	}
	srv := web.NewFastHTTPServer(httpCfg, logger)

	router := srv.Router()
	router.Use(
		middleware.Recovery(middleware.RecoveryConfig{Logger: logger}),
		security.Headers(security.DefaultHeadersConfig()),
	)
	if cfg.RequestsPerMinute > 0 {
		router.Use(security.RateLimit(security.RateLimitConfig{RequestsPerMinute: cfg.RequestsPerMinute}))
	}
	if cfg.Username != "" && cfg.PasswordHash != "" {
		router.Use(auth.BasicAuth(auth.DefaultBasicAuthConfig(cfg.Username, cfg.PasswordHash)))
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultRegistry
	}
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: promErrorLogger{logger},
	}))
	router.GET("/metrics", func(ctx *web.FastRequestContext) error {
		metricsHandler(ctx.RequestCtx)
		return nil
	})

	router.GET("/healthz", func(ctx *web.FastRequestContext) error {
		if deps.Health != nil {
			if err := deps.Health(); err != nil {
				return ctx.JSON(503, map[string]string{"status": "unhealthy", "error": err.Error()})
			}
		}
		return ctx.JSON(200, map[string]string{"status": "ok"})
	})

	if deps.Stats != nil {
		router.GET("/stats", func(ctx *web.FastRequestContext) error {
			return ctx.JSON(200, statsResponse{
				Worker: deps.Stats.Snapshot(),
				Admin:  srv.Metrics(),
			})
		})
	}

	if deps.Metrics != nil {
		srv.Wrap(prometheus.FastHTTPMetricsMiddleware(deps.Metrics))
	}

	return &Server{http: srv, logger: logger}
}

type statsResponse struct {
	Worker worker.Stats      `json:"worker"`
	Admin  web.ServerMetrics `json:"admin"`
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	return s.http.Serve(ln)
}

// Start listens on Config.Addr and serves until Stop.
func (s *Server) Start() error {
	return s.http.Start()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Stop(ctx)
}

// HTTP exposes the underlying server.
func (s *Server) HTTP() *web.FastHTTPServer {
	return s.http
}

type promErrorLogger struct {
	logger core.Logger
}

func (l promErrorLogger) Println(v ...interface{}) {
	l.logger.Error(v...)
}
