package monitoring

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/stajs/SpecFlow.NetCore/pkg/config"
)

// ServiceName identifies this tool in traces
const ServiceName = "specflow-netcore"

// TracingExporter represents the type of trace exporter
type TracingExporter string

const (
	TracingExporterJaeger TracingExporter = "jaeger"
	TracingExporterOTLP   TracingExporter = "otlp"
	TracingExporterStdout TracingExporter = "stdout"
)

// TracingManager owns the tracer provider for a process. A disabled manager hands out no-op spans.
type TracingManager struct {
	config         config.TracingConfig
	serviceVersion string
	output         io.Writer
	logger         zerolog.Logger

	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
}

// NewTracingManager creates a tracing manager. output receives the stdout exporter's spans and
// defaults to stderr so traces never mix with the result banner.
func NewTracingManager(ctx context.Context, cfg config.TracingConfig, serviceVersion string, output io.Writer, logger zerolog.Logger) (*TracingManager, error) {
	if output == nil {
		output = os.Stderr
	}

	tm := &TracingManager{
		config:         cfg,
		serviceVersion: serviceVersion,
		output:         output,
		logger:         logger.With().Str("component", "tracing").Logger(),
		tracer:         noop.NewTracerProvider().Tracer(ServiceName),
	}

	if !cfg.Enabled {
		tm.logger.Debug().Msg("Tracing disabled")
		return tm, nil
	}

	exporter, err := tm.createExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	var processor sdktrace.SpanProcessor
	if TracingExporter(cfg.Exporter) == TracingExporterStdout {
		processor = sdktrace.NewSimpleSpanProcessor(exporter)
	} else {
		processor = sdktrace.NewBatchSpanProcessor(exporter)
	}

	tm.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(tm.createResource()),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRatio))),
		sdktrace.WithSpanProcessor(processor),
	)
	tm.tracer = tm.tracerProvider.Tracer(ServiceName, trace.WithInstrumentationVersion(serviceVersion))

	tm.logger.Info().
		Str("exporter", cfg.Exporter).
		Float64("sampling_ratio", cfg.SamplingRatio).
		Msg("Tracing initialized")

	return tm, nil
}

func (tm *TracingManager) createResource() *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(tm.serviceVersion),
		attribute.String("process.runtime.name", "go"),
		attribute.String("process.runtime.version", runtime.Version()),
		attribute.String("runtime.os", runtime.GOOS),
	)
}

func (tm *TracingManager) createExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	switch TracingExporter(tm.config.Exporter) {
	case TracingExporterJaeger:
		var opts []jaeger.CollectorEndpointOption
		if tm.config.Endpoint != "" {
			opts = append(opts, jaeger.WithEndpoint(tm.config.Endpoint))
		}
		exp, err := jaeger.New(jaeger.WithCollectorEndpoint(opts...))
		if err != nil {
			return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
		}
		return exp, nil

	case TracingExporterOTLP:
		opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if tm.config.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(tm.config.Endpoint))
		}
		exp, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		return exp, nil

	case TracingExporterStdout:
		exp, err := stdouttrace.New(
			stdouttrace.WithWriter(tm.output),
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exp, nil

	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", tm.config.Exporter)
	}
}

// Enabled reports whether spans are recorded and exported
func (tm *TracingManager) Enabled() bool {
	return tm.tracerProvider != nil
}

// StartSpan starts a new span
func (tm *TracingManager) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown flushes and stops the tracer provider
func (tm *TracingManager) Shutdown(ctx context.Context) error {
	if tm.tracerProvider == nil {
		return nil
	}
	if err := tm.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	return nil
}
