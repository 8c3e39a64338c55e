package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/fluxorio/pongworker/pkg/core"
	"github.com/fluxorio/pongworker/pkg/journal"
	"github.com/fluxorio/pongworker/pkg/observability/otel"
	"github.com/fluxorio/pongworker/pkg/observability/prometheus"
	"github.com/fluxorio/pongworker/pkg/web/admin"
	"github.com/fluxorio/pongworker/pkg/worker"
)

// app holds everything a worker process wires around the loop.
type app struct {
	cfg    AppConfig
	logger core.Logger

	registry *prom.Registry
	metrics  *prometheus.Metrics
	stats    *worker.StatsObserver
	tracing  *otel.Provider
	journal  *journal.Journal
	worker   *worker.Worker

	admin   *admin.Server
	adminLn net.Listener

	closers []func(context.Context) error
}

// newApp builds the logger, observers and worker for cfg. stderr receives
// logs unless cfg.Log.File is set; stdout is never touched here.
func newApp(ctx context.Context, cfg AppConfig, stderr io.Writer) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	logOut := stderr
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return a, fmt.Errorf("open log file: %w", err)
		}
		logOut = f
		a.closers = append(a.closers, func(context.Context) error { return f.Close() })
	}
	a.logger, err = core.NewLogger(core.LoggerConfig{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: logOut})
	if err != nil {
		return a, err
	}

	a.registry = prom.NewRegistry()
	a.metrics = prometheus.NewMetrics(prom.WrapRegistererWith(prom.Labels{"service": "pongworker"}, a.registry))
	a.stats = worker.NewStatsObserver()
	observers := []worker.Observer{a.metrics, a.stats}

	traceOpts := []otel.Option{otel.WithGlobal()}
	if cfg.Tracing.Output == "" {
		traceOpts = append(traceOpts, otel.WithWriter(stderr))
	}
	a.tracing, err = otel.Initialize(ctx, cfg.Tracing, traceOpts...)
	if err != nil {
		return a, fmt.Errorf("tracing: %w", err)
	}
	a.closers = append(a.closers, a.tracing.Shutdown)

	if cfg.Journal.Enabled() {
		a.journal, err = journal.Open(ctx, cfg.Journal, a.metrics, a.logger)
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, a.journal.Close)
		observers = append(observers, a.journal)
	}

	a.worker, err = worker.New(cfg.Worker,
		worker.WithLogger(a.logger),
		worker.WithObserver(observers...),
		worker.WithMiddleware(a.middleware()...),
	)
	if err != nil {
		return a, err
	}

	if cfg.Admin.Enabled() {
		if err := a.startAdmin(); err != nil {
			return a, err
		}
	}
	return a, nil
}

// middleware is the handler chain, outermost first. Recover comes first so
// a panic anywhere in the chain drops only that frame.
func (a *app) middleware() []worker.Middleware {
	return []worker.Middleware{
		worker.Recover(),
		otel.TracingMiddleware(a.tracing.Tracer()),
	}
}

func (a *app) startAdmin() error {
	ln, err := net.Listen("tcp", a.cfg.Admin.Addr)
	if err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	a.adminLn = ln
	a.admin = admin.New(a.cfg.Admin, admin.Deps{
		Gatherer: a.registry,
		Metrics:  a.metrics,
		Stats:    a.stats,
		Health:   a.health,
	}, a.logger)

	go func() {
		if err := a.admin.Serve(ln); err != nil {
			a.logger.Errorf("admin server: %v", err)
		}
	}()
	a.logger.Infof("admin server listening on %s", ln.Addr())

	a.closers = append(a.closers, func(ctx context.Context) error {
		err := a.admin.Stop(ctx)
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = errors.Join(err, cerr)
		}
		return err
	})
	return nil
}

func (a *app) health() error {
	if a.journal == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.journal.Health(ctx)
}

// close releases resources in reverse order of creation.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
