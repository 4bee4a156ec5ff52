package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WorkerPool runs a fixed number of goroutines, each pulling items from in
// and publishing the processed Outcome to out, until in is closed or ctx is
// cancelled. The goroutine count is the hard concurrency ceiling named by
// spec.md's max_parallelism; a resilience.AdaptiveController, if wired into
// the per-item process function, narrows effective concurrency further from
// inside that ceiling rather than by changing the pool's size.
type WorkerPool[T, R any] struct {
	size    int
	process func(ctx context.Context, item Item[T]) Outcome[R]
}

// NewWorkerPool creates a WorkerPool of the given size. size must be >= 1.
func NewWorkerPool[T, R any](size int, process func(context.Context, Item[T]) Outcome[R]) *WorkerPool[T, R] {
	if size < 1 {
		size = 1
	}
	return &WorkerPool[T, R]{size: size, process: process}
}

// Run registers size worker goroutines on g. onIdle, if non-nil, is called
// whenever a worker finds in empty and has to wait — the drain_events
// signal from spec.md §4.7.
func (p *WorkerPool[T, R]) Run(ctx context.Context, g *errgroup.Group, in <-chan Item[T], out chan<- Outcome[R], onIdle func()) {
	for i := 0; i < p.size; i++ {
		g.Go(func() error {
			for {
				item, ok, err := receiveWithIdleSignal(ctx, in, onIdle)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}

				outcome := p.process(ctx, item)

				select {
				case out <- outcome:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
	}
}

// receiveWithIdleSignal receives from in, calling onIdle exactly once if the
// channel was not immediately ready (the worker would otherwise have
// blocked with nothing to do).
func receiveWithIdleSignal[T any](ctx context.Context, in <-chan Item[T], onIdle func()) (Item[T], bool, error) {
	select {
	case item, ok := <-in:
		return item, ok, nil
	default:
	}

	if onIdle != nil {
		onIdle()
	}

	select {
	case item, ok := <-in:
		return item, ok, nil
	case <-ctx.Done():
		var zero Item[T]
		return zero, false, ctx.Err()
	}
}
