package resilience

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rivulet-go/rivulet/clock"
)

// TokenBucketConfig configures a TokenBucket (spec.md §4.5).
type TokenBucketConfig struct {
	// Capacity is the maximum number of tokens the bucket can hold, and
	// the largest single cost Acquire can ever satisfy. Default: 10.
	Capacity float64

	// FillRate is the number of tokens added per second. Default: 100.
	FillRate float64

	// Clock is the time source. Default: clock.Real.
	Clock clock.Clock
}

// TokenBucket is a weighted-cost, FIFO-fair rate limiter. Unlike a plain
// token bucket, Acquire(ctx, n) admits waiters in the order they arrived:
// a large request parked at the head of the queue is not starved by a
// stream of smaller requests that arrive later and could individually be
// satisfied sooner (spec.md §4.5).
type TokenBucket struct {
	config TokenBucketConfig

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	queue      *list.List // of *bucketWaiter, front = longest-waiting
}

type bucketWaiter struct {
	cost    float64
	ready   chan struct{}
	granted bool // set under TokenBucket.mu before ready is closed
}

// NewTokenBucket creates a TokenBucket with documented defaults applied.
func NewTokenBucket(cfg TokenBucketConfig) *TokenBucket {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10
	}
	if cfg.FillRate <= 0 {
		cfg.FillRate = 100
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real
	}
	return &TokenBucket{
		config:     cfg,
		tokens:     cfg.Capacity,
		lastRefill: cfg.Clock.Now(),
		queue:      list.New(),
	}
}

// TryAcquire attempts to take cost tokens without waiting. It only
// succeeds when the queue is empty, so a burst of TryAcquire calls can
// never cut in front of an already-waiting Acquire call.
func (tb *TokenBucket) TryAcquire(cost float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	if tb.queue.Len() == 0 && tb.tokens >= cost {
		tb.tokens -= cost
		return true
	}
	return false
}

// Acquire blocks until cost tokens are available or ctx is cancelled,
// admitting waiters strictly in arrival order.
func (tb *TokenBucket) Acquire(ctx context.Context, cost float64) error {
	tb.mu.Lock()
	tb.refillLocked()
	if tb.queue.Len() == 0 && tb.tokens >= cost {
		tb.tokens -= cost
		tb.mu.Unlock()
		return nil
	}

	w := &bucketWaiter{cost: cost, ready: make(chan struct{})}
	readyCh := w.ready
	elem := tb.queue.PushBack(w)
	tb.mu.Unlock()

	for {
		wait := tb.waitDurationFor(w)
		timer := tb.config.Clock.After(wait)

		select {
		case <-readyCh:
			return nil
		case <-ctx.Done():
			tb.mu.Lock()
			if w.granted {
				tb.mu.Unlock()
				return nil
			}
			tb.queue.Remove(elem)
			tb.dispatchLocked()
			tb.mu.Unlock()
			return ctx.Err()
		case <-timer:
			tb.mu.Lock()
			tb.refillLocked()
			tb.dispatchLocked()
			tb.mu.Unlock()
		}

		select {
		case <-readyCh:
			return nil
		default:
		}
	}
}

// waitDurationFor estimates how long until the bucket could plausibly
// satisfy w, assuming nothing ahead of it in the queue consumes tokens.
// It is a scheduling hint, not a correctness requirement: dispatchLocked
// always re-checks the real state before granting.
func (tb *TokenBucket) waitDurationFor(w *bucketWaiter) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	deficit := w.cost - tb.tokens
	if deficit <= 0 {
		return 0
	}
	seconds := deficit / tb.config.FillRate
	if seconds <= 0 {
		return time.Millisecond
	}
	return time.Duration(seconds * float64(time.Second))
}

// dispatchLocked grants tokens to queued waiters, front first, stopping at
// the first waiter whose cost the current token count cannot cover. Must
// be called with mu held.
func (tb *TokenBucket) dispatchLocked() {
	for {
		front := tb.queue.Front()
		if front == nil {
			return
		}
		w := front.Value.(*bucketWaiter)
		if tb.tokens < w.cost {
			return
		}
		tb.tokens -= w.cost
		tb.queue.Remove(front)
		w.granted = true
		close(w.ready)
	}
}

// Execute runs op after acquiring cost tokens.
func (tb *TokenBucket) Execute(ctx context.Context, cost float64, op func(context.Context) error) error {
	if err := tb.Acquire(ctx, cost); err != nil {
		return err
	}
	return op(ctx)
}

func (tb *TokenBucket) refillLocked() {
	now := tb.config.Clock.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now
	if elapsed <= 0 {
		return
	}

	tb.tokens += elapsed.Seconds() * tb.config.FillRate
	if tb.tokens > tb.config.Capacity {
		tb.tokens = tb.config.Capacity
	}
	tb.dispatchLocked()
}

// Tokens returns the current number of available tokens, after applying
// any refill owed since the last mutation.
func (tb *TokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	return tb.tokens
}

// Reset refills the bucket to capacity. Queued waiters are re-evaluated
// against the new balance.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tokens = tb.config.Capacity
	tb.lastRefill = tb.config.Clock.Now()
	tb.dispatchLocked()
}
