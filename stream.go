package rivulet

import (
	"context"

	"github.com/rivulet-go/rivulet/engine"
)

// Stream runs op over every item src yields with bounded concurrency and
// returns a channel of Outcomes as they become available, plus a function
// that blocks for the run's final error (spec.md §4.1 "Stream"). The
// channel is closed once the run ends. Unlike Map, Stream is lazy by
// construction and is not subject to the "nothing under FailFast"
// guarantee: Outcomes already sent before a FailFast trip are not
// retracted.
//
// The caller must drain the returned channel to completion (or cancel
// ctx) or the run's workers will stall applying backpressure against an
// unread channel.
func Stream[T, R any](ctx context.Context, src Source[T], op Op[T, R], opts Options[T]) (<-chan Outcome[R], func() error) {
	cfg, progress, metrics := buildEngineConfig[T, R](opts, src, op)
	startSamplers(ctx, progress, metrics)

	out, wait := engine.New(cfg).RunStream(ctx)

	done := make(chan error, 1)
	go func() {
		err := wait()
		stopSamplers(progress, metrics)
		done <- err
	}()

	return out, func() error { return <-done }
}
