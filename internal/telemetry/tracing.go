// Package telemetry configures OpenTelemetry tracing for the control plane.
//
// Custom span attributes use the `windlass.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "windlass.io/control-plane"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (noop provider).
// Returns a shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via env (OTEL_EXPORTER_OTLP_INSECURE)
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("windlass-control-plane"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartIngestSpan creates the parent span for one ingested event batch.
func StartIngestSpan(ctx context.Context, source string, batchSize int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "events.ingest",
		trace.WithAttributes(
			attribute.String("windlass.ingest.source", source),
			attribute.Int("windlass.ingest.batch_size", batchSize),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartActionSpan creates a span for one automation action execution.
func StartActionSpan(ctx context.Context, action, invocation, automationID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "automation.action",
		trace.WithAttributes(
			attribute.String("windlass.action.type", action),
			attribute.String("windlass.action.invocation", invocation),
			attribute.String("windlass.automation.id", automationID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndActionSpan records the final status of an action execution.
func EndActionSpan(span trace.Span, status string, reason string) {
	span.SetAttributes(attribute.String("windlass.action.status", status))
	if reason != "" {
		span.SetAttributes(attribute.String("windlass.action.reason", reason))
	}
	span.End()
}
