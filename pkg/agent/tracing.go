package agent

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// startSpan opens a span when tracing is configured. The returned func ends
// the span, recording err when non-nil. With no tracer both are no-ops.
func (a *Agent) startSpan(ctx context.Context, name string) (context.Context, func(error)) {
	if a.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := a.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("session.id", a.id),
		attribute.String("model.id", a.model.ID),
		attribute.String("model.provider", a.model.Provider),
	))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
