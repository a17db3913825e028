package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "warden"

// StartCheckpointSpan starts a span for one checkpoint submission.
func StartCheckpointSpan(ctx context.Context, kind, taskID, agent string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "checkpoint",
		trace.WithAttributes(
			attribute.String("checkpoint.kind", kind),
			attribute.String("task.id", taskID),
			attribute.String("agent.id", agent),
		),
	)
}

// StartHolisticSpan starts a span for one holistic batch settlement.
func StartHolisticSpan(ctx context.Context, sessionID string, batchSize int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "holistic.settle",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("batch.size", batchSize),
		),
	)
}

// StartGateSpan starts a span for one execution gate check.
func StartGateSpan(ctx context.Context, implItemID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "gate.check",
		trace.WithAttributes(
			attribute.String("impl_item.id", implItemID),
		),
	)
}
