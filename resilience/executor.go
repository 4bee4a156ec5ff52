package resilience

import (
	"context"
)

// PipelineConfig composes the resilience stages in the fixed outer-to-inner
// order mandated by spec.md §4.2:
//
//	AdaptiveController.slot -> RateLimiter.acquire -> CircuitBreaker.guard -> (RetryPolicy x per_item_timeout) -> user_op
//
// Each stage is optional; a nil field skips that stage entirely.
type PipelineConfig struct {
	Adaptive    *AdaptiveController
	RateLimiter *TokenBucket
	Breaker     *CircuitBreaker
	Retry       *RetryPolicy
	Timeout     *ItemTimeout

	// TokensPerOperation is the cost passed to RateLimiter.Acquire on
	// every attempt, including retries. Default: 1.
	TokensPerOperation float64
}

// Pipeline runs a single item's op through the configured resilience
// stages. One Pipeline instance is typically shared across all items
// processed by an engine, since its stages (other than per-item state)
// are themselves safe for concurrent use.
type Pipeline struct {
	config PipelineConfig
}

// NewPipeline creates a Pipeline from the given stage configuration.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.TokensPerOperation <= 0 {
		cfg.TokensPerOperation = 1
	}
	return &Pipeline{config: cfg}
}

// Execute runs op through every configured stage and returns its final
// error. The AdaptiveController slot, if configured, is held for the
// entire call — across every retry — and released exactly once when the
// item is terminally resolved; every other configured stage re-runs on
// each retry attempt.
func (p *Pipeline) Execute(ctx context.Context, op func(context.Context) error) error {
	attempt := p.attemptFunc(op)

	if p.config.Adaptive == nil {
		return p.runWithOutcome(ctx, attempt)
	}

	release, err := p.config.Adaptive.Slot(ctx)
	if err != nil {
		return err
	}
	defer release()

	return p.runWithOutcome(ctx, attempt)
}

// runWithOutcome times the full (possibly retried) call and, when an
// AdaptiveController is configured, reports the outcome for its sampling
// window.
func (p *Pipeline) runWithOutcome(ctx context.Context, attempt func(context.Context) error) error {
	if p.config.Adaptive == nil {
		return p.runRetried(ctx, attempt)
	}

	clk := p.config.Adaptive.config.Clock
	start := clk.Now()
	err := p.runRetried(ctx, attempt)
	p.config.Adaptive.ReportOutcome(clk.Now().Sub(start), err == nil)
	return err
}

func (p *Pipeline) runRetried(ctx context.Context, attempt func(context.Context) error) error {
	if p.config.Retry == nil {
		return attempt(ctx)
	}
	return p.config.Retry.Execute(ctx, attempt)
}

// attemptFunc builds the per-retry body: RateLimiter.acquire ->
// CircuitBreaker.guard -> per_item_timeout -> user_op.
func (p *Pipeline) attemptFunc(op func(context.Context) error) func(context.Context) error {
	inner := op
	if p.config.Timeout != nil {
		innerOp := inner
		inner = func(ctx context.Context) error { return p.config.Timeout.Execute(ctx, innerOp) }
	}

	withBreaker := inner
	if p.config.Breaker != nil {
		innerOp := inner
		withBreaker = func(ctx context.Context) error { return p.config.Breaker.Execute(ctx, innerOp) }
	}

	withLimiter := withBreaker
	if p.config.RateLimiter != nil {
		innerOp := withBreaker
		cost := p.config.TokensPerOperation
		withLimiter = func(ctx context.Context) error {
			if err := p.config.RateLimiter.Acquire(ctx, cost); err != nil {
				return err
			}
			return innerOp(ctx)
		}
	}

	return withLimiter
}
