package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer installs an in-memory span exporter for test assertions.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestInitTraceProviderNoopWhenEmpty(t *testing.T) {
	shutdown, err := InitTraceProvider(context.Background(), "", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestStartIngestSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartIngestSpan(context.Background(), "websocket", 3)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "events.ingest" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "events.ingest")
	}

	foundSource := false
	foundSize := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "windlass.ingest.source" && a.Value.AsString() == "websocket" {
			foundSource = true
		}
		if string(a.Key) == "windlass.ingest.batch_size" && a.Value.AsInt64() == 3 {
			foundSize = true
		}
	}
	if !foundSource {
		t.Error("missing windlass.ingest.source attribute")
	}
	if !foundSize {
		t.Error("missing windlass.ingest.batch_size attribute")
	}
}

func TestActionSpanRecordsStatus(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartActionSpan(context.Background(), "suspend-flow-run", "inv-1", "auto-1")
	EndActionSpan(span, "Failed", "run not found")

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "automation.action" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "automation.action")
	}

	foundStatus := false
	foundReason := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "windlass.action.status" && a.Value.AsString() == "Failed" {
			foundStatus = true
		}
		if string(a.Key) == "windlass.action.reason" && a.Value.AsString() == "run not found" {
			foundReason = true
		}
	}
	if !foundStatus {
		t.Error("missing windlass.action.status attribute")
	}
	if !foundReason {
		t.Error("missing windlass.action.reason attribute")
	}
}

func TestNestedSpans(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, ingestSpan := StartIngestSpan(context.Background(), "http", 1)
	_, actionSpan := StartActionSpan(ctx, "cancel-flow-run", "inv-2", "auto-2")
	actionSpan.End()
	ingestSpan.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	actionStub := spans[0] // action ends first
	ingestStub := spans[1]
	if actionStub.Parent.TraceID() != ingestStub.SpanContext.TraceID() {
		t.Error("action span should share trace ID with ingest span")
	}
	if !actionStub.Parent.SpanID().IsValid() {
		t.Error("action span should have a valid parent span ID")
	}
}
