package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rivulet-go/rivulet/clock"
)

func TestRetryPolicy_Defaults(t *testing.T) {
	r := NewRetryPolicy(RetryConfig{})
	cfg := r.Config()

	if cfg.BaseDelay != 100*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 100ms", cfg.BaseDelay)
	}
	if cfg.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", cfg.MaxDelay)
	}
}

func TestRetryPolicy_NextDelay_Exponential(t *testing.T) {
	r := NewRetryPolicy(RetryConfig{BaseDelay: 10 * time.Millisecond, Strategy: BackoffExponential, MaxDelay: time.Hour})

	cases := []struct {
		k    uint32
		want time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
	}
	for _, c := range cases {
		if got := r.NextDelay(c.k, 0); got != c.want {
			t.Errorf("NextDelay(%d) = %v, want %v", c.k, got, c.want)
		}
	}
}

func TestRetryPolicy_NextDelay_Linear(t *testing.T) {
	r := NewRetryPolicy(RetryConfig{BaseDelay: 10 * time.Millisecond, Strategy: BackoffLinear, MaxDelay: time.Hour})

	if got := r.NextDelay(3, 0); got != 30*time.Millisecond {
		t.Errorf("NextDelay(3) = %v, want 30ms", got)
	}
}

func TestRetryPolicy_NextDelay_ExponentialJitter_Bounded(t *testing.T) {
	r := NewRetryPolicy(RetryConfig{
		BaseDelay: 10 * time.Millisecond,
		Strategy:  BackoffExponentialJitter,
		MaxDelay:  time.Hour,
	})

	for k := uint32(1); k <= 4; k++ {
		delay := r.NextDelay(k, 0)
		ceiling := 10 * time.Millisecond << (k - 1)
		if delay < 0 || delay > ceiling {
			t.Errorf("NextDelay(%d) = %v, want within [0, %v]", k, delay, ceiling)
		}
	}
}

func TestRetryPolicy_NextDelay_DecorrelatedJitter_Bounded(t *testing.T) {
	r := NewRetryPolicy(RetryConfig{
		BaseDelay: 10 * time.Millisecond,
		Strategy:  BackoffDecorrelatedJitter,
		MaxDelay:  time.Hour,
	})

	prev := time.Duration(0)
	for k := uint32(1); k <= 5; k++ {
		delay := r.NextDelay(k, prev)
		if delay < 10*time.Millisecond {
			t.Errorf("NextDelay(%d, prev=%v) = %v, want >= base_delay", k, prev, delay)
		}
		prev = delay
	}
}

func TestRetryPolicy_NextDelay_ClampedTo24h(t *testing.T) {
	r := NewRetryPolicy(RetryConfig{
		BaseDelay: time.Hour,
		Strategy:  BackoffExponential,
		MaxDelay:  1000 * time.Hour, // allow the formula to exceed 24h before the hard clamp
	})

	if got := r.NextDelay(10, 0); got != maxDelayClamp {
		t.Errorf("NextDelay(10) = %v, want clamped to %v", got, maxDelayClamp)
	}
}

func TestRetryPolicy_Execute_SucceedsWithoutRetry(t *testing.T) {
	r := NewRetryPolicy(RetryConfig{})
	calls := 0

	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryPolicy_Execute_RetriesTransientThenSucceeds(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	r := NewRetryPolicy(RetryConfig{
		MaxRetries: 3,
		BaseDelay:  10 * time.Millisecond,
		Strategy:   BackoffExponential,
		Clock:      mc,
	})

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Execute(context.Background(), func(ctx context.Context) error {
			calls++
			if calls <= 2 {
				return Tag(KindTimeout, errors.New("transient"))
			}
			return nil
		})
	}()

	// Drive the manual clock forward enough to satisfy both retry delays.
	for i := 0; i < 10; i++ {
		mc.Advance(10 * time.Millisecond)
	}

	if err := <-done; err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_Execute_PermanentErrorNoRetry(t *testing.T) {
	r := NewRetryPolicy(RetryConfig{MaxRetries: 5})
	calls := 0
	permErr := errors.New("permanent")

	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return permErr
	})

	if !errors.Is(err, permErr) {
		t.Fatalf("Execute() error = %v, want %v", err, permErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryPolicy_Execute_ExhaustsMaxRetries(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	r := NewRetryPolicy(RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, Clock: mc})
	calls := 0
	transientErr := Tag(KindConnectionReset, errors.New("down"))

	done := make(chan error, 1)
	go func() {
		done <- r.Execute(context.Background(), func(ctx context.Context) error {
			calls++
			return transientErr
		})
	}()

	for i := 0; i < 10; i++ {
		mc.Advance(time.Millisecond)
	}

	err := <-done
	if !errors.Is(err, transientErr) {
		t.Fatalf("Execute() error = %v, want wrapping %v", err, transientErr)
	}
	if calls != 3 { // first attempt + 2 retries
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_Execute_CancelledDuringDelay(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	r := NewRetryPolicy(RetryConfig{MaxRetries: 3, BaseDelay: time.Hour, Clock: mc})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- r.Execute(ctx, func(ctx context.Context) error {
			return Tag(KindTimeout, errors.New("transient"))
		})
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Execute() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute() did not observe cancellation")
	}
}

func TestRetryPolicy_OnRetryPanicDoesNotCorruptLoop(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	r := NewRetryPolicy(RetryConfig{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		Clock:      mc,
		OnRetry: func(attempt uint32, err error, delay time.Duration) {
			panic("boom")
		},
	})

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Execute(context.Background(), func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return Tag(KindTimeout, errors.New("transient"))
			}
			return nil
		})
	}()

	mc.Advance(time.Millisecond)

	if err := <-done; err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}
