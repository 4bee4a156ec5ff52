// Package resilience provides the per-item resilience pipeline that
// guards the user operation inside a parallel run: adaptive concurrency,
// rate limiting, circuit breaking, retry with backoff, and per-attempt
// timeouts. The stages compose through [Pipeline] in a fixed order.
//
// # Pipeline composition
//
// [Pipeline.Execute] runs a single item's operation through whichever
// stages are configured, outer to inner:
//
//	AdaptiveController.Slot -> RateLimiter.Acquire -> CircuitBreaker.Guard -> (RetryPolicy x ItemTimeout) -> op
//
// The adaptive slot is acquired once per item and held across every
// retry; the rate limiter and circuit breaker are re-checked on every
// attempt, including retries; the per-item timeout bounds each attempt
// individually rather than the item as a whole.
//
//	pipeline := resilience.NewPipeline(resilience.PipelineConfig{
//	    Adaptive:    adaptive,
//	    RateLimiter: bucket,
//	    Breaker:     breaker,
//	    Retry:       retry,
//	    Timeout:     itemTimeout,
//	})
//
//	err := pipeline.Execute(ctx, func(ctx context.Context) error {
//	    return callExternalService(ctx)
//	})
//
// # Components
//
//   - [AdaptiveController]: resizes a concurrency slot pool between a
//     configured min and max using AIMD, aggressive, or gradual
//     adjustment, driven by a rolling window of latency and success-rate
//     samples.
//   - [CircuitBreaker]: Closed/Open/HalfOpen state machine, tripped by
//     either consecutive failures or a failure count within a rolling
//     sampling window.
//   - [TokenBucket]: weighted-cost, FIFO-fair rate limiter.
//   - [RetryPolicy]: classifies transient errors and computes backoff
//     delays (exponential, jittered, linear, decorrelated), clamped to a
//     24-hour ceiling.
//   - [ItemTimeout]: bounds a single attempt's duration.
//
// # Error handling
//
// The circuit breaker refuses an attempt with [ErrCircuitOpen] and the
// per-item timeout reports [ErrTimeout] (use errors.Is). The rate limiter
// returns the context's error when a wait is cancelled, and the retry
// policy returns the last attempt's error unchanged; no stage returns
// [ErrRateLimitExceeded] or [ErrMaxRetriesExceeded]. Adapter errors are
// classified via [Tag] and
// [KindOf] rather than by inspecting concrete error types; an
// [EngineFault] marks an infrastructure failure inside the pipeline
// itself and is never treated as transient.
//
// # Thread safety
//
// All exported types are safe for concurrent use after construction.
// [CircuitBreaker], [TokenBucket], and [AdaptiveController] protect their
// internal state with a short-held mutex and never hold it across a wait
// or user callback.
package resilience
