package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/relayhub"

// Tracer provides OpenTelemetry spans for ingest, forward and replay.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartIngestSpan starts a span for one inbound webhook.
func (t *Tracer) StartIngestSpan(ctx context.Context, source string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "relayhub.ingest",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("relayhub.source", source)),
	)
}

// StartForwardSpan starts a span for one delivery attempt.
func (t *Tracer) StartForwardSpan(ctx context.Context, eventID, targetURL string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "relayhub.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("relayhub.event_id", eventID),
			attribute.String("relayhub.target_url", targetURL),
		),
	)
}

// EndForwardSpan ends a delivery span with result attributes.
func (t *Tracer) EndForwardSpan(span trace.Span, statusCode, latencyMs int, errMsg string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("relayhub.latency_ms", latencyMs),
	)
	if errMsg != "" {
		span.SetAttributes(attribute.String("relayhub.error", errMsg))
		span.SetStatus(codes.Error, errMsg)
	}
	span.End()
}

// StartReplaySpan starts a span for a guarded replay.
func (t *Tracer) StartReplaySpan(ctx context.Context, eventID, targetURL string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "relayhub.replay",
		trace.WithAttributes(
			attribute.String("relayhub.event_id", eventID),
			attribute.String("relayhub.target_url", targetURL),
		),
	)
}
