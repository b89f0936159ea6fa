package middleware

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/syncforge/syncforge/task"
)

// tracerName is the instrumentation scope name for syncforge tracing.
const tracerName = "github.com/syncforge/syncforge"

// Tracing returns middleware that wraps task execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop tracer
// is used and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: syncforge.task.id, syncforge.task.name,
// syncforge.task.resources, syncforge.task.group_id.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) (*task.Result, error) {
		ctx, span := tracer.Start(ctx, "syncforge.task.execute",
			trace.WithAttributes(
				attribute.String("syncforge.task.id", t.ID.String()),
				attribute.String("syncforge.task.name", t.Name),
				attribute.String("syncforge.task.resources", strings.Join(t.Resources.Strings(), ",")),
				attribute.String("syncforge.task.group_id", t.GroupID.String()),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		res, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return res, err
	}
}
