package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "reporter-worker"

// SpanContext pairs a span with the context it lives in, so callers can
// hand both around with a single value.
type SpanContext struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan begins a child span of whatever trace is on ctx.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *SpanContext {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, opts...)
	return &SpanContext{ctx: ctx, span: span}
}

// StartSpanFromTraceID begins a span linked to a trace that originated in
// another process. The server puts its trace ID on the trigger message; the
// worker picks it up here so a run can be followed across the queue. An
// empty or malformed trace ID falls back to a fresh root span.
func StartSpanFromTraceID(ctx context.Context, hexTraceID string, name string, opts ...trace.SpanStartOption) *SpanContext {
	traceID, err := trace.TraceIDFromHex(hexTraceID)
	if err != nil {
		return StartSpan(ctx, name, opts...)
	}

	remote := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	opts = append(opts, trace.WithLinks(trace.Link{SpanContext: remote}))
	ctx = trace.ContextWithRemoteSpanContext(ctx, remote)

	return StartSpan(ctx, name, opts...)
}

// Context returns the context carrying the span.
func (sc *SpanContext) Context() context.Context {
	return sc.ctx
}

// RecordError attaches err to the span. Nil errors are ignored.
func (sc *SpanContext) RecordError(err error) {
	if err != nil {
		sc.span.RecordError(err)
	}
}

func (sc *SpanContext) End() {
	sc.span.End()
}
