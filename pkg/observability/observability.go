// Package observability wires OpenTelemetry tracing and metrics for logit.
//
// When disabled the provider falls back to the global otel providers, which
// are no-ops unless something else installed them.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/hoangnb24/logit-sub000"

// Metric names.
const (
	MetricEventsRead    = "logit.ingest.events_read"
	MetricEventsWritten = "logit.ingest.events_written"
	MetricRuns          = "logit.ingest.runs"
	MetricDuration      = "logit.ingest.duration"
)

// Exporter constructors, replaced in tests.
var (
	newTraceExporter = func(ctx context.Context, opts ...otlptracegrpc.Option) (sdktrace.SpanExporter, error) {
		return otlptracegrpc.New(ctx, opts...)
	}
	newMetricExporter = func(ctx context.Context, opts ...otlpmetricgrpc.Option) (sdkmetric.Exporter, error) {
		return otlpmetricgrpc.New(ctx, opts...)
	}
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // e.g. "localhost:4317"
	Insecure       bool
	Enabled        bool
	ExportInterval time.Duration
}

// DefaultConfig returns a disabled configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "logit",
		ServiceVersion: "dev",
		OTLPEndpoint:   "localhost:4317",
		ExportInterval: 15 * time.Second,
	}
}

// Provider owns the trace and metric providers and the ingest instruments.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	eventsRead    metric.Int64Counter
	eventsWritten metric.Int64Counter
	runs          metric.Int64Counter
	duration      metric.Float64Histogram
}

// New creates a provider. With Enabled unset it records into the global
// otel providers and exports nothing.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		return p.bind(otel.GetMeterProvider(), otel.GetTracerProvider())
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExporter, err := newTraceExporter(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)

	metricExporter, err := newMetricExporter(ctx, metricOpts...)
	if err != nil {
		if serr := p.tracerProvider.Shutdown(ctx); serr != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", serr)
		}
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	interval := config.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"insecure", config.Insecure,
	)
	return p.bind(p.meterProvider, p.tracerProvider)
}

// NewWithProviders builds a provider on caller-supplied otel providers.
func NewWithProviders(mp metric.MeterProvider, tp trace.TracerProvider) (*Provider, error) {
	p := &Provider{
		config: DefaultConfig(),
		logger: slog.Default().With("component", "observability"),
	}
	return p.bind(mp, tp)
}

func (p *Provider) bind(mp metric.MeterProvider, tp trace.TracerProvider) (*Provider, error) {
	p.tracer = tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(p.config.ServiceVersion))
	p.meter = mp.Meter(instrumentationName, metric.WithInstrumentationVersion(p.config.ServiceVersion))

	var err error
	if p.eventsRead, err = p.meter.Int64Counter(MetricEventsRead,
		metric.WithDescription("Events read from normalized artifacts"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}
	if p.eventsWritten, err = p.meter.Int64Counter(MetricEventsWritten,
		metric.WithDescription("Events committed to the store"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}
	if p.runs, err = p.meter.Int64Counter(MetricRuns,
		metric.WithDescription("Finalized ingest runs by status"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, err
	}
	if p.duration, err = p.meter.Float64Histogram(MetricDuration,
		metric.WithDescription("Ingest run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300),
	); err != nil {
		return nil, err
	}
	return p, nil
}

// Shutdown flushes and stops providers created by New.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// StartSpan starts a span on the logit tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordRun records the outcome of one finalized ingest run.
func (p *Provider) RecordRun(ctx context.Context, status string, read, written int, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	p.eventsRead.Add(ctx, int64(read))
	p.eventsWritten.Add(ctx, int64(written))
	p.runs.Add(ctx, 1, attrs)
	p.duration.Record(ctx, elapsed.Seconds(), attrs)
}
