package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rivulet-go/rivulet/clock"
)

// BackoffStrategy selects the delay formula between retry attempts
// (spec.md §4.3).
type BackoffStrategy int

const (
	// BackoffExponential computes base_delay * 2^(k-1).
	BackoffExponential BackoffStrategy = iota
	// BackoffExponentialJitter draws Uniform[0, base_delay * 2^(k-1)].
	BackoffExponentialJitter
	// BackoffDecorrelatedJitter draws Uniform[base_delay, max(base_delay, prev*3)].
	BackoffDecorrelatedJitter
	// BackoffLinear computes base_delay * k.
	BackoffLinear
	// BackoffLinearJitter draws Uniform[0, base_delay * k].
	BackoffLinearJitter
)

// maxDelayClamp is the 24-hour upper bound spec.md §4.3 places on any
// sampled retry delay, regardless of strategy or configured MaxDelay.
const maxDelayClamp = 24 * time.Hour

// RetryConfig configures a RetryPolicy.
type RetryConfig struct {
	// MaxRetries is the maximum number of ADDITIONAL attempts after the
	// first (spec.md §3). Default: 2.
	MaxRetries uint32

	// BaseDelay seeds the backoff formula. Default: 100ms.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay before the 24h hard clamp.
	// Default: 30s.
	MaxDelay time.Duration

	// Strategy selects the backoff formula. Default: BackoffExponential
	// (the zero value).
	Strategy BackoffStrategy

	// IsTransient classifies whether err is retry-eligible. Defaults to
	// DefaultIsTransient.
	IsTransient func(err error) bool

	// OnRetry is invoked before each retry wait. A panic inside it is
	// recovered and discarded; it never corrupts the retry loop.
	OnRetry func(attempt uint32, err error, delay time.Duration)

	// Clock is the time source for delays. Default: clock.Real.
	Clock clock.Clock

	// randFloat64, when set, replaces math/rand/v2.Float64 for
	// deterministic-replay tests (spec.md §8(b)).
	randFloat64 func() float64
}

// RetryPolicy decides whether an error is transient and computes the next
// backoff delay from the configured strategy and attempt index.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a RetryPolicy, applying documented defaults to any
// zero-valued fields.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.IsTransient == nil {
		cfg.IsTransient = DefaultIsTransient
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real
	}
	if cfg.randFloat64 == nil {
		cfg.randFloat64 = rand.Float64
	}
	return &RetryPolicy{config: cfg}
}

// Config returns the policy's (defaulted) configuration.
func (r *RetryPolicy) Config() RetryConfig { return r.config }

// MaxRetries returns the configured maximum number of additional attempts.
func (r *RetryPolicy) MaxRetries() uint32 { return r.config.MaxRetries }

// IsTransient reports whether err should trigger another attempt.
func (r *RetryPolicy) IsTransient(err error) bool {
	return err != nil && r.config.IsTransient(err)
}

// NextDelay computes the delay before retry attempt k (k >= 1), given the
// previous attempt's delay (used only by BackoffDecorrelatedJitter; pass 0
// for k == 1). The result is clamped to [0, 24h] and to MaxDelay.
func (r *RetryPolicy) NextDelay(k uint32, prevDelay time.Duration) time.Duration {
	base := r.config.BaseDelay
	var delay time.Duration

	switch r.config.Strategy {
	case BackoffExponential:
		delay = base << (k - 1) // base * 2^(k-1)

	case BackoffExponentialJitter:
		ceiling := base << (k - 1)
		delay = time.Duration(r.config.randFloat64() * float64(ceiling))

	case BackoffDecorrelatedJitter:
		lo := base
		hi := prevDelay * 3
		if hi < lo {
			hi = lo
		}
		delay = lo + time.Duration(r.config.randFloat64()*float64(hi-lo))

	case BackoffLinear:
		delay = base * time.Duration(k)

	case BackoffLinearJitter:
		ceiling := base * time.Duration(k)
		delay = time.Duration(r.config.randFloat64() * float64(ceiling))

	default:
		delay = base << (k - 1)
	}

	if delay < 0 {
		delay = 0
	}
	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	if delay > maxDelayClamp {
		delay = maxDelayClamp
	}
	return delay
}

// Execute runs op, retrying on transient errors per the configured policy.
// It honors ctx cancellation at every delay (spec.md §5 suspension point
// 6). The returned error is the last attempt's error, or nil on success.
func (r *RetryPolicy) Execute(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	var prevDelay time.Duration

	for attempt := uint32(0); ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.IsTransient(err) {
			return err
		}
		if attempt >= r.config.MaxRetries {
			return lastErr
		}

		k := attempt + 1
		delay := r.NextDelay(k, prevDelay)
		prevDelay = delay

		if r.config.OnRetry != nil {
			safeCallOnRetry(r.config.OnRetry, k, err, delay)
		}

		if err := r.config.Clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func safeCallOnRetry(fn func(uint32, error, time.Duration), attempt uint32, err error, delay time.Duration) {
	defer func() { _ = recover() }()
	fn(attempt, err, delay)
}
