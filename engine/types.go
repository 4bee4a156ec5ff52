package engine

import (
	"context"
	"time"
)

// Item is one unit of work pulled from a Source, tagged with its position
// in the input sequence. Index is assigned by the reader in strictly
// increasing order starting at 0, regardless of how many items complete
// out of order downstream.
type Item[T any] struct {
	Index   uint64
	Payload T
}

// Attempt describes one call into the user operation for a given item. The
// engine itself never constructs one: hooks receive the item index and
// attempt count directly, and the per-attempt debug log line carries the
// index, attempt number and duration as fields.
type Attempt struct {
	ItemIndex     uint64
	AttemptNumber uint32
	StartedAt     time.Time
	Deadline      *time.Time
}

// OutcomeKind tags which variant of the Outcome union is populated.
type OutcomeKind int

const (
	// OutcomeSuccess means Op returned a value with no error.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeFailure means Op's error survived retries (or was classified
	// permanent on the first attempt).
	OutcomeFailure
	// OutcomeCancelled means the run's context was cancelled — externally,
	// or by a FailFast trip on another item — before this item resolved.
	OutcomeCancelled
	// OutcomeSkipped means a resilience stage refused the attempt before
	// the user operation ever ran (a circuit breaker held open).
	OutcomeSkipped
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of one item's journey through the engine.
// Exactly one of Value (when Kind == OutcomeSuccess) or Err (otherwise) is
// meaningful; SkipReason is set only for OutcomeSkipped.
type Outcome[R any] struct {
	Index      uint64
	Kind       OutcomeKind
	Value      R
	Err        error
	Retried    bool
	Attempts   uint32
	SkipReason string
}

// ErrorMode governs how a failing item affects the rest of the run.
type ErrorMode int

const (
	// ErrorModeCollectAndContinue keeps processing every item regardless
	// of failures and surfaces them all as Outcomes.
	ErrorModeCollectAndContinue ErrorMode = iota
	// ErrorModeFailFast cancels the run on the first failure; outcomes
	// already in flight may still complete, but no new item is started
	// and buffered results are discarded rather than returned.
	ErrorModeFailFast
	// ErrorModeBestEffort behaves like CollectAndContinue for the purpose
	// of item scheduling, but the caller is expected to treat a non-empty
	// failure set as a soft signal rather than an aggregate error.
	ErrorModeBestEffort
)

// Op is the user-supplied transformation applied to every item's payload.
type Op[T, R any] func(ctx context.Context, input T) (R, error)

// Source produces items lazily, one at a time. Next returns ok == false
// with a nil error to signal a clean end of input. A non-nil error aborts
// the run as an EngineFault-free source failure.
type Source[T any] interface {
	Next(ctx context.Context) (value T, ok bool, err error)
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc[T any] func(ctx context.Context) (T, bool, error)

func (f SourceFunc[T]) Next(ctx context.Context) (T, bool, error) { return f(ctx) }

// FromSlice returns a Source that yields each element of items in order.
func FromSlice[T any](items []T) Source[T] {
	idx := 0
	return SourceFunc[T](func(ctx context.Context) (T, bool, error) {
		var zero T
		if idx >= len(items) {
			return zero, false, nil
		}
		v := items[idx]
		idx++
		return v, true, nil
	})
}

// FromChannel returns a Source that yields values received from ch until it
// is closed or ctx is done.
func FromChannel[T any](ch <-chan T) Source[T] {
	return SourceFunc[T](func(ctx context.Context) (T, bool, error) {
		var zero T
		select {
		case v, ok := <-ch:
			if !ok {
				return zero, false, nil
			}
			return v, true, nil
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
	})
}

// Hooks are optional observation callbacks invoked around each item's
// lifecycle. A panic inside any hook is recovered and reported on the
// counters event stream as "hook.panic" rather than aborting the run —
// hooks are diagnostics, never control flow.
type Hooks[T any] struct {
	OnStartItem    func(item Item[T])
	OnCompleteItem func(index uint64, attempts uint32)
	OnError        func(index uint64, err error)
}

func (h Hooks[T]) safeStart(item Item[T], onPanic func(reason string)) {
	if h.OnStartItem == nil {
		return
	}
	defer recoverHook("on_start_item", onPanic)
	h.OnStartItem(item)
}

func (h Hooks[T]) safeComplete(index uint64, attempts uint32, onPanic func(reason string)) {
	if h.OnCompleteItem == nil {
		return
	}
	defer recoverHook("on_complete_item", onPanic)
	h.OnCompleteItem(index, attempts)
}

func (h Hooks[T]) safeError(index uint64, err error, onPanic func(reason string)) {
	if h.OnError == nil {
		return
	}
	defer recoverHook("on_error", onPanic)
	h.OnError(index, err)
}

func recoverHook(name string, onPanic func(reason string)) {
	if r := recover(); r != nil && onPanic != nil {
		onPanic(name)
	}
}
