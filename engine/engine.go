package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rivulet-go/rivulet/counters"
	"github.com/rivulet-go/rivulet/observe"
	"github.com/rivulet-go/rivulet/ordering"
	"github.com/rivulet-go/rivulet/resilience"
)

// Config wires together everything one engine run needs. It is built by the
// root rivulet package from a validated, defaulted RivuletOptions; New only
// fills in a MaxParallelism below 1, a nil Counters and a nil Logger.
type Config[T, R any] struct {
	Source Source[T]
	Op     Op[T, R]

	MaxParallelism int
	InputBuffer    int
	OrderedOutput  bool
	ErrorMode      ErrorMode

	Pipeline *resilience.Pipeline

	Counters *counters.Counters
	Logger   observe.Logger
	Hooks    Hooks[T]
}

// Engine runs one pass of Config.Source through Config.Op with bounded
// parallelism and the configured resilience stages, producing one Outcome
// per item. An Engine is single-use: construct a fresh one (or call New
// again with the same Config) for each run.
type Engine[T, R any] struct {
	cfg Config[T, R]
}

// New constructs an Engine from cfg.
func New[T, R any](cfg Config[T, R]) *Engine[T, R] {
	if cfg.MaxParallelism < 1 {
		cfg.MaxParallelism = 1
	}
	if cfg.Counters == nil {
		cfg.Counters = counters.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NewNopLogger()
	}
	return &Engine[T, R]{cfg: cfg}
}

// sinkFunc receives each terminal Outcome, already reordered if
// Config.OrderedOutput is set. It must not block indefinitely; doing so
// applies backpressure all the way back to the reader, per spec.md §5's
// suspension points.
type sinkFunc[R any] func(Outcome[R])

// RunCollect runs to completion and returns every Outcome, used by Map and
// Batch. Under ErrorModeFailFast, a failing item discards whatever had been
// collected so far rather than returning a partial result.
func (e *Engine[T, R]) RunCollect(ctx context.Context) ([]Outcome[R], error) {
	var mu sync.Mutex
	var results []Outcome[R]

	err := e.run(ctx, func(o Outcome[R]) {
		mu.Lock()
		results = append(results, o)
		mu.Unlock()
	})

	if err != nil && e.cfg.ErrorMode == ErrorModeFailFast {
		return nil, err
	}
	return results, err
}

// RunEach runs to completion for side effects only, used by ForEach. It
// returns the same aggregate error RunCollect would, without retaining any
// values.
func (e *Engine[T, R]) RunEach(ctx context.Context) error {
	return e.run(ctx, func(Outcome[R]) {})
}

// RunStream runs in the background and returns a channel of Outcomes as
// they become available (in order if Config.OrderedOutput is set) plus a
// function that blocks for the run's final error. The channel is closed
// once the run ends, whether cleanly or by error. Used by Stream, which is
// lazy by nature and therefore is not subject to the "nothing under
// FailFast" guarantee RunCollect gives — items already forwarded to the
// channel before a FailFast trip are not retracted.
func (e *Engine[T, R]) RunStream(ctx context.Context) (<-chan Outcome[R], func() error) {
	out := make(chan Outcome[R], e.cfg.InputBuffer)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		errCh <- e.run(ctx, func(o Outcome[R]) {
			select {
			case out <- o:
			case <-ctx.Done():
			}
		})
	}()

	return out, func() error { return <-errCh }
}

// run drives the reader -> worker pool -> (ordering) -> sink pipeline and
// returns the first error encountered, or nil if every item was processed
// (individual item failures are reported as Outcomes, not as this error;
// this error only fires for source failures, EngineFaults, or — under
// ErrorModeFailFast — the first item failure).
func (e *Engine[T, R]) run(ctx context.Context, sink sinkFunc[R]) error {
	cfg := e.cfg

	inputBuffer := cfg.InputBuffer
	if inputBuffer < 0 {
		inputBuffer = 0
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	inputCh := make(chan Item[T], inputBuffer)
	resultCh := make(chan Outcome[R], inputBuffer)

	var failFastOnce sync.Once
	var failFastErr error

	g.Go(func() error { return e.readInto(gctx, inputCh) })

	pool := NewWorkerPool(cfg.MaxParallelism, func(ctx context.Context, item Item[T]) Outcome[R] {
		outcome := e.processItem(ctx, item)
		if outcome.Kind == OutcomeFailure && cfg.ErrorMode == ErrorModeFailFast {
			failFastOnce.Do(func() {
				failFastErr = outcome.Err
				cancel()
			})
		}
		return outcome
	})
	pool.Run(gctx, g, inputCh, resultCh, func() { cfg.Counters.Inc(counters.DrainEvents) })

	// Once the reader and every worker registered above have exited,
	// resultCh has no more writers and can be closed so the sink loop below
	// terminates cleanly.
	groupErrCh := make(chan error, 1)
	go func() {
		err := g.Wait()
		close(resultCh)
		groupErrCh <- err
	}()

	var orderBuf *ordering.Buffer[Outcome[R]]
	if cfg.OrderedOutput {
		orderBuf = ordering.NewBuffer[Outcome[R]](0)
	}
	for o := range resultCh {
		emit(orderBuf, sink, o)
	}

	err := <-groupErrCh

	if failFastErr != nil {
		return failFastErr
	}
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// The cancellation originated internally (a FailFast trip racing
		// this check), not from the caller's own context.
		return nil
	}
	return err
}

func emit[R any](buf *ordering.Buffer[Outcome[R]], sink sinkFunc[R], o Outcome[R]) {
	if buf == nil {
		sink(o)
		return
	}
	buf.Push(o.Index, o)
	for _, r := range buf.Drain() {
		sink(r.Value)
	}
}

// readInto pulls items from Config.Source and pushes them onto in. in is
// closed on every exit path: source exhaustion, a non-nil Source error, or
// ctx cancellation. An error return also cancels gctx through errgroup so
// workers unwind.
func (e *Engine[T, R]) readInto(ctx context.Context, in chan<- Item[T]) error {
	defer close(in)

	var index uint64
	for {
		value, ok, err := e.cfg.Source.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		item := Item[T]{Index: index, Payload: value}
		index++

		select {
		case in <- item:
		default:
			e.cfg.Counters.Inc(counters.ThrottleEvents)
			select {
			case in <- item:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// processItem runs one item through the full resilience pipeline and
// classifies the result into a terminal Outcome.
func (e *Engine[T, R]) processItem(ctx context.Context, item Item[T]) Outcome[R] {
	cfg := e.cfg

	cfg.Counters.Inc(counters.ItemsStarted)
	cfg.Hooks.safeStart(item, func(reason string) {
		cfg.Logger.Warn(ctx, "hook panic", observe.Field{Key: "hook", Value: reason}, observe.Field{Key: "index", Value: item.Index})
		cfg.Counters.Events().Publish(counters.Event{Kind: "hook.panic", Source: "engine", Fields: map[string]any{"hook": reason, "index": item.Index}})
	})

	var attempts uint32
	var value R

	runOp := func(opCtx context.Context) error {
		attempts++
		start := time.Now()
		v, err := cfg.Op(opCtx, item.Payload)
		cfg.Logger.Debug(opCtx, "attempt finished",
			observe.Field{Key: "index", Value: item.Index},
			observe.Field{Key: "attempt", Value: attempts},
			observe.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
		)
		if err != nil {
			return err
		}
		value = v
		return nil
	}

	var err error
	if cfg.Pipeline != nil {
		err = cfg.Pipeline.Execute(ctx, runOp)
	} else {
		err = runOp(ctx)
	}

	outcome := e.classify(item.Index, attempts, value, err)

	switch outcome.Kind {
	case OutcomeSuccess:
		cfg.Counters.Inc(counters.ItemsCompleted)
	case OutcomeCancelled:
		// Its own terminal kind; billed against neither items_failed nor
		// items_skipped (spec.md §8 property 1 only sums over a run with
		// no cancellation).
	case OutcomeSkipped:
		// Billed separately from items_failed: items_completed +
		// items_failed + items_skipped == N (spec.md §8 property 1).
		cfg.Counters.Inc(counters.ItemsSkipped)
		cfg.Hooks.safeError(item.Index, outcome.Err, func(reason string) {
			cfg.Logger.Warn(ctx, "hook panic", observe.Field{Key: "hook", Value: reason}, observe.Field{Key: "index", Value: item.Index})
			cfg.Counters.Events().Publish(counters.Event{Kind: "hook.panic", Source: "engine", Fields: map[string]any{"hook": reason, "index": item.Index}})
		})
	default:
		cfg.Counters.Inc(counters.ItemsFailed)
		cfg.Hooks.safeError(item.Index, outcome.Err, func(reason string) {
			cfg.Logger.Warn(ctx, "hook panic", observe.Field{Key: "hook", Value: reason}, observe.Field{Key: "index", Value: item.Index})
			cfg.Counters.Events().Publish(counters.Event{Kind: "hook.panic", Source: "engine", Fields: map[string]any{"hook": reason, "index": item.Index}})
		})
	}

	cfg.Hooks.safeComplete(item.Index, attempts, func(reason string) {
		cfg.Logger.Warn(ctx, "hook panic", observe.Field{Key: "hook", Value: reason}, observe.Field{Key: "index", Value: item.Index})
		cfg.Counters.Events().Publish(counters.Event{Kind: "hook.panic", Source: "engine", Fields: map[string]any{"hook": reason, "index": item.Index}})
	})

	return outcome
}

// classify maps a pipeline result into the terminal Outcome union.
// OutcomeCancelled and OutcomeSkipped are both their own kinds, billed
// against neither items_failed nor each other, so
// items_completed + items_failed + items_skipped accounts for exactly the
// items that were not cancelled.
func (e *Engine[T, R]) classify(index uint64, attempts uint32, value R, err error) Outcome[R] {
	if err == nil {
		return Outcome[R]{Index: index, Kind: OutcomeSuccess, Value: value, Attempts: attempts}
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Outcome[R]{Index: index, Kind: OutcomeCancelled, Err: err, Attempts: attempts, Retried: attempts > 1}
	case errors.Is(err, resilience.ErrCircuitOpen):
		return Outcome[R]{Index: index, Kind: OutcomeSkipped, Err: err, SkipReason: "circuit_open", Attempts: attempts, Retried: attempts > 1}
	default:
		return Outcome[R]{Index: index, Kind: OutcomeFailure, Err: err, Attempts: attempts, Retried: attempts > 1}
	}
}
