package telemetry

import (
	"context"
	"time"

	"github.com/rivulet-go/rivulet/observe"
)

// ItemFunc is the signature of a single item's processing function as
// Middleware wraps it. The Map/ForEach/Batch operators run a typed Op
// without OperationMeta, so a caller adapts its function to this shape.
type ItemFunc func(ctx context.Context, meta OperationMeta, input any) (any, error)

// Middleware wraps item processing with tracing, metrics, and structured
// logging in one call.
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe ItemFunc.
//   - Errors: errors from the wrapped function are recorded and propagated
//     unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  observe.Logger
}

// NewMiddleware creates a Middleware from its observability components. A
// nil tracer, metrics, or logger is replaced with a no-op implementation.
func NewMiddleware(tracer Tracer, metrics Metrics, logger observe.Logger) *Middleware {
	if tracer == nil {
		tracer = newNoopTracer()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = observe.NewNopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger}
}

// MiddlewareFromObserver builds a Middleware from an Observer's tracer and
// meter, plus a logger for the structured-log side (Observer itself carries
// no Logger; that concern is observe's).
func MiddlewareFromObserver(obs Observer, logger observe.Logger) (*Middleware, error) {
	tracer := newTracer(obs.Tracer())
	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(tracer, metrics, logger), nil
}

// Wrap wraps fn with a span, an execution metric, and a structured log line
// per call.
func (m *Middleware) Wrap(fn ItemFunc) ItemFunc {
	return func(ctx context.Context, meta OperationMeta, input any) (any, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := time.Now()

		result, err := fn(ctx, meta, input)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordExecution(ctx, meta, duration, err)

		fields := []observe.Field{{Key: "duration_ms", Value: float64(duration.Milliseconds())}}
		scoped := m.logger.With(
			observe.Field{Key: "rivulet.stream", Value: meta.Stream},
			observe.Field{Key: "rivulet.operator", Value: meta.Operator},
		)
		if err != nil {
			fields = append(fields, observe.Field{Key: "error", Value: err.Error()})
			scoped.Error(ctx, "item processing failed", fields...)
		} else {
			scoped.Debug(ctx, "item processed", fields...)
		}

		return result, err
	}
}
