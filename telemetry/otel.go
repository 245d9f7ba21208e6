package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this package's spans in the OTel SDK.
const tracerName = "github.com/tabularun/tabularun/telemetry"

// Tracer wraps an OpenTelemetry tracer for agent-loop requests. Its
// only callers are in package surface, which opens one span per
// request ("surface.run" or "surface.stream"); the LLM call, sandbox
// submission, store writes and event sends get no spans of their
// own. A zero-value Tracer uses the global
// (no-op by default) otel.Tracer, so instrumentation can be added
// without requiring every caller to configure an SDK.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer wraps the process-wide TracerProvider configured by
// go.opentelemetry.io/otel/sdk (set via otel.SetTracerProvider). If no
// SDK has been configured, spans are recorded into the package default
// no-op provider — StartSpan is always safe to call.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(tracerName)}
}

// StartSpan starts a span named for one suspension point, tagged with
// the run's identity, and returns the derived context plus a finish
// func that records err (if any) and ends the span. Call finish
// exactly once, typically via defer.
func (t *Tracer) StartSpan(ctx context.Context, name, datasetID, threadID string) (context.Context, func(err error)) {
	tracer := t.tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	spanCtx, span := tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("dataset_id", datasetID),
		attribute.String("thread_id", threadID),
	))
	return spanCtx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
