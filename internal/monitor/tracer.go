package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "safe-sql-sandbox"

// Tracer wraps OpenTelemetry tracing for the query sandbox.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("sqlsandbox.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for sandbox tracing.
var (
	AttrAssignmentID = attribute.Key("sqlsandbox.assignment.id")
	AttrUserID       = attribute.Key("sqlsandbox.user.id")
	AttrOutcome      = attribute.Key("sqlsandbox.outcome")
	AttrRowCount     = attribute.Key("sqlsandbox.row_count")
	AttrDurationMS   = attribute.Key("sqlsandbox.duration_ms")
	AttrCorrectness  = attribute.Key("sqlsandbox.correctness")
)
