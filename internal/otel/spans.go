package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for conductor spans and metrics.
var (
	AttrAgentID   = attribute.Key("conductor.agent.id")
	AttrTaskID    = attribute.Key("conductor.task.id")
	AttrStatus    = attribute.Key("conductor.task.status")
	AttrHTTPRoute = attribute.Key("conductor.http.route")
)

// StartServerSpan starts a span for an inbound gateway request.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}
