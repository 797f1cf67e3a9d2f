// Package observability wires metrics and tracing for the platform core.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds observability configuration.
type Config struct {
	ServiceName     string
	ServiceVersion  string
	Environment     string
	TracingEnabled  bool
	TracingEndpoint string
}

// Provider holds the metrics registry and the tracer provider.
type Provider struct {
	Metrics *Metrics
	logger  *slog.Logger

	config         Config
	tracerProvider *sdktrace.TracerProvider
}

// New creates a provider. A missing or unreachable tracing endpoint
// degrades to a noop tracer with a warning rather than failing startup.
func New(ctx context.Context, cfg Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Provider{
		Metrics: NewMetrics(metricsNamespace(cfg.ServiceName)),
		logger:  logger,
		config:  cfg,
	}

	if cfg.TracingEnabled && cfg.TracingEndpoint != "" {
		if err := p.initTracing(ctx); err != nil {
			logger.Warn("failed to initialize tracing", slog.String("error", err.Error()))
		}
	}
	return p
}

func (p *Provider) initTracing(ctx context.Context) error {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(p.config.TracingEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(p.config.ServiceName),
			semconv.ServiceVersion(p.config.ServiceVersion),
			semconv.DeploymentEnvironment(p.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

// Tracer returns a tracer for the service, or a noop one when tracing is
// disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracerProvider == nil {
		return noop.NewTracerProvider().Tracer(p.config.ServiceName)
	}
	return p.tracerProvider.Tracer(p.config.ServiceName)
}

// Shutdown flushes and stops the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider == nil {
		return nil
	}
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracer shutdown: %w", err)
	}
	return nil
}

// metricsNamespace turns a service name into a Prometheus-safe namespace.
func metricsNamespace(service string) string {
	out := make([]byte, 0, len(service))
	for i := 0; i < len(service); i++ {
		c := service[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
