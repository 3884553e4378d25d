package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_NoEndpointIsNoop(t *testing.T) {
	p, err := Init(context.Background(), Config{ServiceName: "casereview"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestStartEnd_RecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := Start(context.Background(), "casework", "casework.ClaimCase", attribute.Int64("case_id", 7))
	End(span, errors.New("taken"))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "casework.ClaimCase" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected error event on span")
	}
}

func TestSampler(t *testing.T) {
	for _, rate := range []float64{0, 0.25, 1} {
		if sampler(rate) == nil {
			t.Errorf("nil sampler for %v", rate)
		}
	}
}
