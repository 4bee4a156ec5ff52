package rivulet

import (
	"runtime"
	"time"

	"github.com/rivulet-go/rivulet/counters"
	"github.com/rivulet-go/rivulet/engine"
	"github.com/rivulet-go/rivulet/observe"
	"github.com/rivulet-go/rivulet/resilience"
)

// Type aliases give callers the engine's vocabulary (Item, Outcome,
// Source, ...) without importing package engine directly — the public
// surface is this package and package resilience (for Kind/TaggedError).
type (
	Item[T any]      = engine.Item[T]
	Outcome[R any]   = engine.Outcome[R]
	OutcomeKind      = engine.OutcomeKind
	Source[T any]    = engine.Source[T]
	Op[T, R any]     = engine.Op[T, R]
	Hooks[T any]     = engine.Hooks[T]
	ErrorMode        = engine.ErrorMode
	BackoffStrategy  = resilience.BackoffStrategy
	AdaptiveStrategy = resilience.AdaptiveStrategy
	ProgressSnapshot = observe.ProgressSnapshot
)

const (
	ErrorModeCollectAndContinue = engine.ErrorModeCollectAndContinue
	ErrorModeFailFast           = engine.ErrorModeFailFast
	ErrorModeBestEffort         = engine.ErrorModeBestEffort
)

const (
	OutcomeSuccess   = engine.OutcomeSuccess
	OutcomeFailure   = engine.OutcomeFailure
	OutcomeCancelled = engine.OutcomeCancelled
	OutcomeSkipped   = engine.OutcomeSkipped
)

const (
	BackoffExponential        = resilience.BackoffExponential
	BackoffExponentialJitter  = resilience.BackoffExponentialJitter
	BackoffDecorrelatedJitter = resilience.BackoffDecorrelatedJitter
	BackoffLinear             = resilience.BackoffLinear
	BackoffLinearJitter       = resilience.BackoffLinearJitter
)

const (
	AdaptiveAIMD       = resilience.AdaptiveAIMD
	AdaptiveAggressive = resilience.AdaptiveAggressive
	AdaptiveGradual    = resilience.AdaptiveGradual
)

// FromSlice returns a Source that yields each element of items in order.
func FromSlice[T any](items []T) Source[T] { return engine.FromSlice(items) }

// FromChannel returns a Source that yields values received from ch until
// it is closed or the run's context is done.
func FromChannel[T any](ch <-chan T) Source[T] { return engine.FromChannel(ch) }

// CircuitBreakerOptions configures the optional circuit breaker stage
// (spec.md §4.4), passed to resilience.NewCircuitBreaker. Options takes the
// constructed breaker; a nil Options.CircuitBreaker disables the stage.
type CircuitBreakerOptions = resilience.CircuitBreakerConfig

// RateLimitOptions configures the optional token-bucket rate limiter
// (spec.md §4.5), passed to resilience.NewTokenBucket. Options takes the
// constructed bucket; a nil Options.RateLimit disables the stage.
type RateLimitOptions = resilience.TokenBucketConfig

// AdaptiveOptions configures the optional adaptive concurrency controller
// (spec.md §4.6), passed to resilience.NewAdaptiveController. Options takes
// the constructed controller; a nil Options.Adaptive disables the stage.
type AdaptiveOptions = resilience.AdaptiveConfig

// ProgressOptions configures the optional periodic progress callback
// (spec.md §4.7). A nil *ProgressOptions on Options disables it.
type ProgressOptions struct {
	// ReportInterval is the fixed period between snapshots. Default: 1s.
	ReportInterval time.Duration

	// Total, if set, is the known item count, enabling ETA and Percent on
	// every snapshot.
	Total *uint64

	// Callback receives each snapshot on a dedicated goroutine.
	Callback func(ProgressSnapshot)
}

// MetricsOptions configures the optional periodic full-counter-snapshot
// callback (spec.md §4.7). A nil *MetricsOptions on Options disables it.
type MetricsOptions struct {
	// ReportInterval is the fixed period between snapshots. Default: 1s.
	ReportInterval time.Duration

	// Callback receives each counter snapshot on a dedicated goroutine.
	Callback func(counters.Snapshot)
}

// Options is the sole configuration surface for every operator in this
// package (spec.md §3 "RivuletOptions"). The zero value is valid; every
// field left unset takes its documented default.
type Options[T any] struct {
	// MaxParallelism is the hard ceiling on concurrent attempts. Default:
	// runtime.NumCPU().
	MaxParallelism int

	// InputBuffer is the capacity of the bounded input channel. Default: 1.
	InputBuffer int

	// OrderedOutput, if true, emits results in input order instead of
	// completion order.
	OrderedOutput bool

	// PerItemTimeout, if positive, bounds a single attempt's wall-clock
	// duration (retry waits are not included).
	PerItemTimeout time.Duration

	// MaxRetries is the maximum number of additional attempts after the
	// first. Default: 2.
	MaxRetries uint32

	// BaseDelay seeds the backoff formula. Default: 100ms.
	BaseDelay time.Duration

	// MaxDelay caps the computed retry delay. Default: 30s.
	MaxDelay time.Duration

	// Backoff selects the retry delay formula. Default: BackoffExponential
	// (the zero value).
	Backoff BackoffStrategy

	// IsTransient classifies whether an op error is retry-eligible.
	// Default: resilience.DefaultIsTransient.
	IsTransient func(error) bool

	// ErrorMode governs how a failing item affects the rest of the run.
	// Default: ErrorModeCollectAndContinue.
	ErrorMode ErrorMode

	// CircuitBreaker, if set, is shared verbatim with the constructed
	// resilience.CircuitBreaker — pass an instance built once and reused
	// across calls to share its state (spec.md §3 "Lifecycles").
	CircuitBreaker *resilience.CircuitBreaker

	// RateLimit, if set, is shared the same way as CircuitBreaker.
	RateLimit *resilience.TokenBucket

	// Adaptive, if set, is shared the same way as CircuitBreaker.
	Adaptive *resilience.AdaptiveController

	// Progress, if non-nil, enables periodic progress reporting.
	Progress *ProgressOptions

	// Metrics, if non-nil, enables periodic full counter snapshots.
	Metrics *MetricsOptions

	// Counters, if set, is shared across calls instead of a fresh handle
	// being created per run (spec.md §3 "Lifecycles").
	Counters *counters.Counters

	// Logger receives structured diagnostic output. Default: a no-op
	// logger.
	Logger observe.Logger

	// Hooks are optional lifecycle callbacks.
	Hooks Hooks[T]

	// BatchTimeout, read only by Batch, BatchStream, and BatchForEach,
	// flushes a partial chunk once this much time has elapsed since its
	// first item arrived, for sources that produce items too slowly to
	// fill batch_size on their own. Zero (the default) disables the
	// timeout; chunks then only close at batch_size or end of input.
	// Ignored by Map, Stream, and ForEach.
	BatchTimeout time.Duration
}

// normalize returns a copy of o with every documented default applied.
func (o Options[T]) normalize() Options[T] {
	if o.MaxParallelism < 1 {
		o.MaxParallelism = runtime.NumCPU()
		if o.MaxParallelism < 1 {
			o.MaxParallelism = 1
		}
	}
	if o.InputBuffer < 1 {
		o.InputBuffer = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 2
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 100 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.IsTransient == nil {
		o.IsTransient = resilience.DefaultIsTransient
	}
	if o.Counters == nil {
		o.Counters = counters.New()
	}
	if o.Logger == nil {
		o.Logger = observe.NewNopLogger()
	}
	return o
}

// buildPipeline constructs the resilience.Pipeline described by o,
// wiring every configured optional stage in the fixed order spec.md §4.2
// mandates (the Pipeline itself enforces the order; this just supplies
// the stages).
func (o Options[T]) buildPipeline() *resilience.Pipeline {
	retry := resilience.NewRetryPolicy(resilience.RetryConfig{
		MaxRetries:  o.MaxRetries,
		BaseDelay:   o.BaseDelay,
		MaxDelay:    o.MaxDelay,
		Strategy:    o.Backoff,
		IsTransient: o.IsTransient,
		OnRetry: func(attempt uint32, err error, delay time.Duration) {
			o.Counters.Inc(counters.ItemsRetried)
		},
	})

	var timeout *resilience.ItemTimeout
	if o.PerItemTimeout > 0 {
		timeout = resilience.NewItemTimeout(resilience.ItemTimeoutConfig{Timeout: o.PerItemTimeout})
	}

	return resilience.NewPipeline(resilience.PipelineConfig{
		Adaptive:    o.Adaptive,
		RateLimiter: o.RateLimit,
		Breaker:     o.CircuitBreaker,
		Retry:       retry,
		Timeout:     timeout,
	})
}

// engineConfig builds the engine.Config this operator call will run,
// along with the started samplers the caller must Stop once the run ends.
func buildEngineConfig[T, R any](o Options[T], src Source[T], op Op[T, R]) (engine.Config[T, R], []*observe.ProgressSampler, []*observe.MetricsSampler) {
	o = o.normalize()

	var progressSamplers []*observe.ProgressSampler
	var metricsSamplers []*observe.MetricsSampler

	if o.Progress != nil {
		interval := o.Progress.ReportInterval
		if interval <= 0 {
			interval = time.Second
		}
		progressSamplers = append(progressSamplers, observe.NewProgressSampler(observe.ProgressSamplerConfig{
			Counters:       o.Counters,
			ReportInterval: interval,
			Total:          o.Progress.Total,
			Callback:       o.Progress.Callback,
		}))
	}

	if o.Metrics != nil {
		interval := o.Metrics.ReportInterval
		if interval <= 0 {
			interval = time.Second
		}
		metricsSamplers = append(metricsSamplers, observe.NewMetricsSampler(observe.MetricsSamplerConfig{
			Counters:       o.Counters,
			ReportInterval: interval,
			Callback:       o.Metrics.Callback,
		}))
	}

	cfg := engine.Config[T, R]{
		Source:         src,
		Op:             op,
		MaxParallelism: o.MaxParallelism,
		InputBuffer:    o.InputBuffer,
		OrderedOutput:  o.OrderedOutput,
		ErrorMode:      o.ErrorMode,
		Pipeline:       o.buildPipeline(),
		Counters:       o.Counters,
		Logger:         o.Logger,
		Hooks:          o.Hooks,
	}

	return cfg, progressSamplers, metricsSamplers
}
