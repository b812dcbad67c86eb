package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "skyscraper-agent-core"

// StartTaskSpan starts a span for one task execution attempt.
func StartTaskSpan(ctx context.Context, agentID, requestID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task.execute",
		trace.WithAttributes(
			attribute.String("agent", agentID),
			attribute.String("request.id", requestID),
		),
	)
}

// StartChargeSpan starts a span for a wallet charge.
func StartChargeSpan(ctx context.Context, orgID, route string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "wallet.charge",
		trace.WithAttributes(
			attribute.String("org.id", orgID),
			attribute.String("route", route),
		),
	)
}
