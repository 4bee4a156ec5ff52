package rivulet

import (
	"context"

	"github.com/rivulet-go/rivulet/engine"
	"github.com/rivulet-go/rivulet/observe"
)

// Map runs op over every item src yields with bounded concurrency and
// collects one Outcome per item (spec.md §4.1 "Map"). With
// opts.OrderedOutput set, the returned slice is ordered by input index;
// otherwise it is in completion order. Under ErrorModeFailFast, a failing
// item discards whatever had already been collected — the returned slice
// is nil and err is the permanent failure.
func Map[T, R any](ctx context.Context, src Source[T], op Op[T, R], opts Options[T]) ([]Outcome[R], error) {
	cfg, progress, metrics := buildEngineConfig[T, R](opts, src, op)
	startSamplers(ctx, progress, metrics)
	defer stopSamplers(progress, metrics)

	return engine.New(cfg).RunCollect(ctx)
}

func startSamplers(ctx context.Context, progress []*observe.ProgressSampler, metrics []*observe.MetricsSampler) {
	for _, p := range progress {
		p.Start(ctx)
	}
	for _, m := range metrics {
		m.Start(ctx)
	}
}

func stopSamplers(progress []*observe.ProgressSampler, metrics []*observe.MetricsSampler) {
	for _, p := range progress {
		p.Stop()
	}
	for _, m := range metrics {
		m.Stop()
	}
}
