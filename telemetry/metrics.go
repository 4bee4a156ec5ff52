package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rivulet-go/rivulet/counters"
)

// Metrics records per-item execution metrics as OpenTelemetry instruments.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	RecordExecution(ctx context.Context, meta OperationMeta, duration time.Duration, err error)
}

type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		"rivulet.item.total",
		metric.WithDescription("Total number of items processed"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"rivulet.item.errors",
		metric.WithDescription("Total number of item failures"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"rivulet.item.duration_ms",
		metric.WithDescription("Item processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{totalCount: totalCount, errorCount: errorCount, durationHist: durationHist}, nil
}

func (m *metricsImpl) RecordExecution(ctx context.Context, meta OperationMeta, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("rivulet.stream", meta.Stream)}
	if meta.Operator != "" {
		attrs = append(attrs, attribute.String("rivulet.operator", meta.Operator))
	}
	opt := metric.WithAttributes(attrs...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

type noopMetrics struct{}

func (noopMetrics) RecordExecution(ctx context.Context, meta OperationMeta, duration time.Duration, err error) {
}

// CounterBridge subscribes to a counters.EventStream and counts every typed
// Event (circuit transitions, adaptive resizes) in an OTel counter keyed by
// event kind. It registers no gauges for counters.Counters values. It runs
// its own goroutine until Close is called.
type CounterBridge struct {
	sub        *counters.Subscriber
	eventCount metric.Int64Counter
	dropped    metric.Int64Counter
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewCounterBridge creates a CounterBridge over stream, publishing event
// counts through meter.
func NewCounterBridge(stream *counters.EventStream, meter metric.Meter) (*CounterBridge, error) {
	eventCount, err := meter.Int64Counter(
		"rivulet.events.total",
		metric.WithDescription("Typed events observed on the counters event stream, by kind"),
	)
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter(
		"rivulet.events.dropped",
		metric.WithDescription("Events dropped because this subscriber's buffer was full"),
	)
	if err != nil {
		return nil, err
	}

	b := &CounterBridge{
		sub:        stream.Subscribe(),
		eventCount: eventCount,
		dropped:    dropped,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go b.run()
	return b, nil
}

func (b *CounterBridge) run() {
	defer close(b.doneCh)
	ctx := context.Background()
	for {
		select {
		case <-b.stopCh:
			return
		case ev, ok := <-b.sub.C():
			if !ok {
				return
			}
			b.eventCount.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", ev.Kind)))
		}
	}
}

// Close stops the bridge's goroutine and reports its final dropped-event
// count to the meter.
func (b *CounterBridge) Close() {
	close(b.stopCh)
	<-b.doneCh
	b.dropped.Add(context.Background(), int64(b.sub.DroppedCount()))
}
