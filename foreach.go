package rivulet

import (
	"context"

	"github.com/rivulet-go/rivulet/engine"
)

// ForEach runs op over every item src yields purely for its side effect
// (spec.md §4.1 "ForEach"). It returns the same aggregate error Map's
// RunCollect would, without retaining any values.
func ForEach[T any](ctx context.Context, src Source[T], op Op[T, struct{}], opts Options[T]) error {
	cfg, progress, metrics := buildEngineConfig[T, struct{}](opts, src, op)
	startSamplers(ctx, progress, metrics)
	defer stopSamplers(progress, metrics)

	return engine.New(cfg).RunEach(ctx)
}
