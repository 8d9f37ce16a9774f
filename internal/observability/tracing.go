// Package observability wraps the OpenTelemetry global providers with the
// spans and metrics flowarch records for turns, rounds and capability calls.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Uses the global OTel tracer provider.
var tracer = otel.Tracer("flowarch")

// StartTurnSpan starts a span covering one user message and all its rounds.
func StartTurnSpan(ctx context.Context, sessionID, turnID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "flowarch.turn",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("turn.id", turnID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartRoundSpan starts a span for one model request/response exchange.
func StartRoundSpan(ctx context.Context, round int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "flowarch.round",
		trace.WithAttributes(
			attribute.Int("round", round),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartCapabilitySpan starts a span for a single capability invocation.
func StartCapabilitySpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "flowarch.capability."+name,
		trace.WithAttributes(
			attribute.String("capability", name),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
