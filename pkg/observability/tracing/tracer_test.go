package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	provider, err := NewTracerProvider(context.Background(), TracerConfig{ServiceName: "dlqmanager"})
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got: %v", err)
	}
	if provider.Tracer("test") == nil {
		t.Fatal("expected tracer to be non-nil")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewTracerProvider_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  TracerConfig
	}{
		{name: "missing service", cfg: TracerConfig{Enabled: true, Endpoint: "localhost:4317", SampleRate: 1}},
		{name: "missing endpoint", cfg: TracerConfig{Enabled: true, ServiceName: "svc", SampleRate: 1}},
		{name: "bad sample rate", cfg: TracerConfig{Enabled: true, ServiceName: "svc", Endpoint: "localhost:4317", SampleRate: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTracerProvider(context.Background(), tt.cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSpanHelpers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	_, span := StartActionSpan(context.Background(), "redrive", 7, 2)
	RecordSuccess(span)
	span.End()

	_, span = StartBackendSpan(context.Background(), "aws_sqs", "purge", "https://sqs/q1")
	RecordError(span, errors.New("throttled"))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	if ended[0].Name() != "dlq.redrive" || ended[0].Status().Code != codes.Ok {
		t.Fatalf("unexpected action span: %s %v", ended[0].Name(), ended[0].Status())
	}
	if ended[1].Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", ended[1].Status())
	}
}
