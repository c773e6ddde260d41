package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/nimburion/dlqmanager"

// StartActionSpan starts the span covering one dispatched bulk action.
func StartActionSpan(ctx context.Context, action string, sequence uint64, queues int) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, fmt.Sprintf("dlq.%s", action),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("dlq.action", action),
			attribute.Int64("dlq.sequence", int64(sequence)),
			attribute.Int("dlq.queue_count", queues),
		),
	)
}

// StartBackendSpan starts a client span for a call to the queueing system.
func StartBackendSpan(ctx context.Context, system, operation, queueURL string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("messaging.system", system),
		attribute.String("messaging.operation", operation),
	}
	if queueURL != "" {
		attrs = append(attrs, attribute.String("messaging.destination.name", queueURL))
	}
	return otel.Tracer(instrumentationName).Start(ctx, system+" "+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// RecordError marks the span as failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
