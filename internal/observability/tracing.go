package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name for casefind spans.
const TracerName = "github.com/hyperjump/casefind"

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint is the OTLP gRPC endpoint (e.g. "localhost:4317").
	// If empty, tracing is disabled.
	OTLPEndpoint string
}

// TracerProvider wraps the SDK provider so callers can shut it down.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// InitTracing installs a global tracer provider exporting over OTLP gRPC.
// With no endpoint the global no-op provider is left in place.
func InitTracing(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "casefind"
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &TracerProvider{provider: provider}, nil
}

// Shutdown flushes and stops the exporter, if one was started.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// StartStageSpan starts a span for one ingestion stage.
func StartStageSpan(ctx context.Context, stage string, units int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "ingest."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("casefind.ingest.stage", stage),
			attribute.Int("casefind.ingest.units", units),
		),
	)
}

// StartSearchSpan starts a span for one engine query.
func StartSearchSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "search."+method,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("casefind.search.method", method)),
	)
}

// StartProviderSpan starts a client span around one embedding call.
func StartProviderSpan(ctx context.Context, provider, input string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "embed."+input,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("casefind.provider", provider),
			attribute.String("casefind.provider.input", input),
		),
	)
}

// RecordError marks span as failed when err is non-nil.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
