package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// OperationMeta identifies the stream/operator call a span or metric
// belongs to.
type OperationMeta struct {
	// Stream names the Map/Stream/ForEach/Batch call, e.g. a caller-chosen
	// label for the run. Required.
	Stream string

	// Operator is the operator kind: "map", "stream", "foreach", "batch".
	Operator string

	// Index is the item's input index, for per-item spans; -1 when the
	// span covers a whole run rather than one item.
	Index int64
}

// SpanName returns the deterministic span name for this operation.
func (m OperationMeta) SpanName() string {
	if m.Operator != "" {
		return "rivulet." + m.Operator + "." + m.Stream
	}
	return "rivulet." + m.Stream
}

// Tracer wraps OpenTelemetry tracing with Rivulet-specific span attributes.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, meta OperationMeta) (context.Context, trace.Span)
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

func newTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta OperationMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("rivulet.stream", meta.Stream),
	}
	if meta.Operator != "" {
		attrs = append(attrs, attribute.String("rivulet.operator", meta.Operator))
	}
	if meta.Index >= 0 {
		attrs = append(attrs, attribute.Int64("rivulet.item_index", meta.Index))
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("rivulet.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

func newNoopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta OperationMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) { span.End() }
