// Package otel sets up OpenTelemetry tracing for the worker and provides a
// handler middleware that records one span per exchange.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporter names.
const (
	ExporterStdout = "stdout"
	ExporterZipkin = "zipkin"
	ExporterJaeger = "jaeger"
	ExporterNone   = "none"
)

const instrumentationName = "github.com/fluxorio/pongworker"

// ErrUnknownExporter is returned by Initialize for an unsupported exporter.
var ErrUnknownExporter = errors.New("otel: unknown exporter")

// Config configures tracing.
type Config struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	Exporter    string  `yaml:"exporter" json:"exporter"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate"`
	// Output is the file the stdout exporter appends to. Empty means stderr:
	// the process's stdout belongs to the worker protocol.
	Output string `yaml:"output" json:"output"`
}

// DefaultConfig returns tracing disabled, with stdout export to stderr once enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "pongworker",
		Exporter:    ExporterStdout,
		SampleRate:  1.0,
	}
}

// Provider owns the tracer provider and whatever the exporter opened.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
	closer io.Closer
}

// Option customizes Initialize.
type Option func(*options)

type options struct {
	processors []sdktrace.SpanProcessor
	writer     io.Writer
	global     bool
}

// WithSpanProcessor adds a span processor next to the exporter.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *options) {
		o.processors = append(o.processors, sp)
	}
}

// WithWriter sends stdout exporter output to w instead of Config.Output.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// WithGlobal installs the provider as the otel global tracer provider.
func WithGlobal() Option {
	return func(o *options) {
		o.global = true
	}
}

// Initialize builds a tracer provider from cfg. With tracing disabled it
// returns a Provider whose tracer records nothing.
func Initialize(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if !cfg.Enabled {
		return &Provider{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}, nil
	}

	p := &Provider{}
	exporter, err := p.newExporter(cfg, o)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "pongworker"
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
	}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	for _, sp := range o.processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sp))
	}

	p.tp = sdktrace.NewTracerProvider(tpOpts...)
	p.tracer = p.tp.Tracer(instrumentationName)
	if o.global {
		otel.SetTracerProvider(p.tp)
	}
	return p, nil
}

func (p *Provider) newExporter(cfg Config, o *options) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "", ExporterStdout:
		w := o.writer
		if w == nil {
			if cfg.Output == "" {
				w = os.Stderr
			} else {
				f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
				if err != nil {
					return nil, fmt.Errorf("otel: open trace output: %w", err)
				}
				p.closer = f
				w = f
			}
		}
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case ExporterZipkin:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		return zipkin.New(endpoint)
	case ExporterJaeger:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "http://localhost:14268/api/traces"
		}
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	case ExporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, cfg.Exporter)
	}
}

func sampler(rate float64) sdktrace.Sampler {
	if rate <= 0 || rate >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown flushes pending spans and releases the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		errs = append(errs, p.tp.Shutdown(ctx))
	}
	if p.closer != nil {
		errs = append(errs, p.closer.Close())
	}
	return errors.Join(errs...)
}
