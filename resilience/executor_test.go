package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rivulet-go/rivulet/clock"
)

func TestNewPipeline_Defaults(t *testing.T) {
	p := NewPipeline(PipelineConfig{})
	if p.config.TokensPerOperation != 1 {
		t.Errorf("TokensPerOperation = %f, want 1", p.config.TokensPerOperation)
	}
}

func TestPipeline_ExecuteNoStages(t *testing.T) {
	p := NewPipeline(PipelineConfig{})

	executed := false
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		executed = true
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if !executed {
		t.Error("operation was not executed")
	}
}

func TestPipeline_TimeoutWrapsEachRetryAttempt(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	p := NewPipeline(PipelineConfig{
		Timeout: NewItemTimeout(ItemTimeoutConfig{Timeout: 10 * time.Millisecond, Clock: mc}),
		// ErrTimeout is permanent under the default predicate, so the test
		// opts into retrying it.
		Retry: NewRetryPolicy(RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, Clock: mc,
			IsTransient: func(err error) bool { return errors.Is(err, ErrTimeout) }}),
	})

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Execute(context.Background(), func(ctx context.Context) error {
			attempts++
			<-ctx.Done() // every attempt blocks until its own timeout fires
			return ctx.Err()
		})
	}()

	for i := 0; i < 3; i++ {
		mc.Advance(10 * time.Millisecond) // fires this attempt's timeout
		mc.Advance(2 * time.Millisecond)  // fires the retry delay (1ms, then 2ms)
	}

	<-done
	if attempts != 3 { // first attempt + 2 retries
		t.Errorf("attempts = %d, want 3 (each gets its own timeout)", attempts)
	}
}

func TestPipeline_CircuitBreakerShortCircuitsRetries(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	p := NewPipeline(PipelineConfig{
		Breaker: cb,
		Retry:   NewRetryPolicy(RetryConfig{MaxRetries: 5}),
	})

	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return Tag(KindTimeout, errors.New("down"))
	})

	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() error = %v, want wrapping ErrCircuitOpen", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (breaker opens after the first failure, aborting further retries)", calls)
	}
}

func TestPipeline_RateLimiterAcquiresPerAttempt(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	tb := NewTokenBucket(TokenBucketConfig{Capacity: 1, FillRate: 1000, Clock: mc})
	p := NewPipeline(PipelineConfig{
		RateLimiter:        tb,
		Retry:              NewRetryPolicy(RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, Clock: mc}),
		TokensPerOperation: 1,
	})

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Execute(context.Background(), func(ctx context.Context) error {
			attempts++
			return Tag(KindTimeout, errors.New("transient"))
		})
	}()

	mc.Advance(time.Millisecond)
	mc.Advance(time.Millisecond)

	<-done
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (rate limiter re-acquired on the retry)", attempts)
	}
}

func TestPipeline_AdaptiveSlotHeldAcrossRetries(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	ac := NewAdaptiveController(AdaptiveConfig{MinConcurrency: 1, MaxConcurrency: 1, InitialConcurrency: 1, Clock: mc})
	p := NewPipeline(PipelineConfig{
		Adaptive: ac,
		Retry:    NewRetryPolicy(RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, Clock: mc}),
	})

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Execute(context.Background(), func(ctx context.Context) error {
			attempts++
			if attempts == 1 {
				return Tag(KindTimeout, errors.New("transient"))
			}
			return nil
		})
	}()

	mc.Advance(time.Millisecond)
	if err := <-done; err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}

	// The single slot must have been released exactly once; a second item
	// should be able to acquire it immediately.
	release, err := ac.Slot(context.Background())
	if err != nil {
		t.Fatalf("Slot() error = %v, want available after item resolved", err)
	}
	release()
}

func TestPipeline_ComposedStagesSucceedAfterRetries(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	ac := NewAdaptiveController(AdaptiveConfig{MinConcurrency: 2, MaxConcurrency: 2, InitialConcurrency: 2, Clock: mc})
	tb := NewTokenBucket(TokenBucketConfig{Capacity: 10, FillRate: 1000, Clock: mc})
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 10, Clock: mc})
	retry := NewRetryPolicy(RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, Clock: mc})
	it := NewItemTimeout(ItemTimeoutConfig{Timeout: time.Second, Clock: mc})

	p := NewPipeline(PipelineConfig{
		Adaptive:    ac,
		RateLimiter: tb,
		Breaker:     cb,
		Retry:       retry,
		Timeout:     it,
	})

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Execute(context.Background(), func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return Tag(KindConnectionReset, errors.New("down"))
			}
			return nil
		})
	}()

	mc.Advance(time.Millisecond)     // first retry delay: BaseDelay
	mc.Advance(2 * time.Millisecond) // second retry delay: BaseDelay*2

	if err := <-done; err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}
