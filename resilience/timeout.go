package resilience

import (
	"context"
	"time"

	"github.com/rivulet-go/rivulet/clock"
)

// ItemTimeoutConfig configures the per-item timeout wrapper (spec.md §4.2:
// the innermost stage of the resilience pipeline, composed with RetryPolicy
// so each retry attempt gets its own fresh deadline).
type ItemTimeoutConfig struct {
	// Timeout is the maximum duration allowed for a single attempt.
	// Default: 30 seconds.
	Timeout time.Duration

	// Clock is the time source. Default: clock.Real.
	Clock clock.Clock
}

// ItemTimeout bounds a single attempt's duration, cancelling the op's
// context and returning ErrTimeout if it runs too long.
type ItemTimeout struct {
	config ItemTimeoutConfig
}

// NewItemTimeout creates an ItemTimeout with documented defaults applied.
func NewItemTimeout(cfg ItemTimeoutConfig) *ItemTimeout {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real
	}
	return &ItemTimeout{config: cfg}
}

// Config returns the (defaulted) configuration.
func (t *ItemTimeout) Config() ItemTimeoutConfig { return t.config }

// Execute runs op, cancelling its context and returning ErrTimeout if it
// does not complete within the configured duration. op runs on its own
// goroutine, whose result send is buffered and never blocks, so that
// goroutine exits as soon as op returns. If op ignores ctx cancellation,
// Execute stops waiting on it and returns, while the goroutine keeps
// running until op returns.
func (t *ItemTimeout) Execute(ctx context.Context, op func(context.Context) error) error {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(opCtx)
	}()

	timer := t.config.Clock.After(t.config.Timeout)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer:
		cancel()
		return ErrTimeout
	}
}

// ExecuteWithTimeout runs op under a one-off ItemTimeout of the given
// duration, using the real clock.
func ExecuteWithTimeout(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	return NewItemTimeout(ItemTimeoutConfig{Timeout: timeout}).Execute(ctx, op)
}
