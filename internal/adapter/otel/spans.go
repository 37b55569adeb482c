package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "filops"

// StartTickSpan starts a span for one compliance tick.
func StartTickSpan(ctx context.Context, agentID, policyID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "compliance.tick",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("policy.id", policyID),
		),
	)
}

// StartActionSpan starts a span for one action execution.
func StartActionSpan(ctx context.Context, actionID, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "action.execute",
		trace.WithAttributes(
			attribute.String("action.id", actionID),
			attribute.String("action.kind", kind),
		),
	)
}
