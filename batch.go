package rivulet

import (
	"context"
	"sync"
	"time"

	"github.com/rivulet-go/rivulet/clock"
	"github.com/rivulet-go/rivulet/engine"
)

// chunker adapts a Source[T] into batches of up to size items, flushing a
// short batch once timeout has elapsed since its first item arrived
// (spec.md §4.1 "Batching" — "or flushed after batch_timeout elapses
// without reaching batch_size, for infinite/slow streams"). A timeout of
// zero disables early flushing; batches then only close at size or end of
// input, same as a plain fixed-size grouping.
//
// Pulling ahead to race against a timer requires src.Next to run on its own
// goroutine rather than being called inline — a single background pump
// feeds items onto a channel the batching loop can select against.
type chunker[T any] struct {
	src     Source[T]
	size    int
	timeout time.Duration
	clock   clock.Clock

	once  sync.Once
	items chan T
	errCh chan error
}

func newChunker[T any](src Source[T], size int, timeout time.Duration) *chunker[T] {
	return &chunker[T]{
		src:     src,
		size:    size,
		timeout: timeout,
		clock:   clock.Real,
		items:   make(chan T),
		errCh:   make(chan error, 1),
	}
}

func (c *chunker[T]) pump(ctx context.Context) {
	c.once.Do(func() {
		go func() {
			defer close(c.items)
			for {
				v, ok, err := c.src.Next(ctx)
				if err != nil {
					c.errCh <- err
					return
				}
				if !ok {
					return
				}
				select {
				case c.items <- v:
				case <-ctx.Done():
					return
				}
			}
		}()
	})
}

// next assembles one batch, returning it once size items have arrived,
// once timeout has elapsed since the first item of this batch, or once the
// source is exhausted (ok == false with a non-empty partial batch still
// being returned first).
func (c *chunker[T]) next(ctx context.Context) ([]T, bool, error) {
	c.pump(ctx)

	batch := make([]T, 0, c.size)
	var timer <-chan time.Time

	for len(batch) < c.size {
		select {
		case v, ok := <-c.items:
			if !ok {
				select {
				case err := <-c.errCh:
					return nil, false, err
				default:
				}
				if len(batch) == 0 {
					return nil, false, nil
				}
				return batch, true, nil
			}
			batch = append(batch, v)
			if c.timeout > 0 && timer == nil {
				timer = c.clock.After(c.timeout)
			}
		case <-timer:
			return batch, true, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	return batch, true, nil
}

// batchSource adapts src into a Source of slices of up to size items
// (the last or a timed-out batch may be smaller), preserving src's order
// within and across batches. timeout <= 0 disables the timed flush.
func batchSource[T any](src Source[T], size int, timeout time.Duration) Source[[]T] {
	c := newChunker(src, size, timeout)
	return engine.SourceFunc[[]T](c.next)
}

// Batch groups src into chunks of batchSize and runs op over each chunk,
// collecting one Outcome per batch (spec.md §4.1 "Batch" — the chunked
// variant of Map). batchSize < 1 is treated as 1. opts.BatchTimeout, if
// positive, flushes a short chunk once that much time has passed since its
// first item — otherwise chunking only resolves at batchSize or end of
// input.
func Batch[T, R any](ctx context.Context, src Source[T], batchSize int, op Op[[]T, []R], opts Options[[]T]) ([]Outcome[[]R], error) {
	if batchSize < 1 {
		batchSize = 1
	}
	return Map[[]T, []R](ctx, batchSource(src, batchSize, opts.BatchTimeout), op, opts)
}

// BatchStream is the chunked variant of Stream: op runs over each batch and
// results are streamed batch-by-batch as they become available.
func BatchStream[T, R any](ctx context.Context, src Source[T], batchSize int, op Op[[]T, []R], opts Options[[]T]) (<-chan Outcome[[]R], func() error) {
	if batchSize < 1 {
		batchSize = 1
	}
	return Stream[[]T, []R](ctx, batchSource(src, batchSize, opts.BatchTimeout), op, opts)
}

// BatchForEach is the chunked variant of ForEach: op runs over each batch
// purely for its side effect.
func BatchForEach[T any](ctx context.Context, src Source[T], batchSize int, op Op[[]T, struct{}], opts Options[[]T]) error {
	if batchSize < 1 {
		batchSize = 1
	}
	return ForEach[[]T](ctx, batchSource(src, batchSize, opts.BatchTimeout), op, opts)
}
