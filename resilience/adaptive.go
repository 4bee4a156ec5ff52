package resilience

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rivulet-go/rivulet/clock"
)

// AdaptiveStrategy selects how aggressively the controller reacts to
// changes in observed latency and success rate (spec.md §4.6).
type AdaptiveStrategy int

const (
	// AdaptiveAIMD increases the target by 1 on a healthy sample window
	// and halves it on a degraded one (additive-increase,
	// multiplicative-decrease).
	AdaptiveAIMD AdaptiveStrategy = iota
	// AdaptiveAggressive grows the target by 10% (rounded up) on a
	// healthy window and halves it on a degraded one, favoring
	// throughput over stability.
	AdaptiveAggressive
	// AdaptiveGradual grows the target by 1 on a healthy window and
	// backs off only to 75% (rounded down) on a degraded one, favoring
	// stability over responsiveness.
	AdaptiveGradual
)

// AdaptiveConfig configures an AdaptiveController.
type AdaptiveConfig struct {
	// MinConcurrency is the floor the controller never shrinks below.
	// Default: 1.
	MinConcurrency int

	// MaxConcurrency is the ceiling the controller never grows beyond,
	// and the fixed capacity of the backing semaphore. Default: 256.
	MaxConcurrency int

	// InitialConcurrency seeds the starting limit. Default: MinConcurrency.
	InitialConcurrency int

	// Strategy selects the adjustment policy. Default: AdaptiveAIMD.
	Strategy AdaptiveStrategy

	// SampleInterval is how often, at most, accumulated outcomes are
	// evaluated for a possible resize. Evaluation happens lazily on the
	// next ReportOutcome call at or after the interval elapses — there
	// is no background ticking when the controller is idle. Default: 1s.
	SampleInterval time.Duration

	// TargetLatency, if nonzero, is compared against the window's
	// median (p50) latency; exceeding it counts the window as degraded
	// even when MinSuccessRate is met.
	TargetLatency time.Duration

	// MinSuccessRate is the minimum fraction of successes a window must
	// show to be considered healthy. Default: 0.95.
	MinSuccessRate float64

	// OnConcurrencyChange is invoked after every resize, old != new.
	OnConcurrencyChange func(oldLimit, newLimit int)

	// Clock is the time source. Default: clock.Real.
	Clock clock.Clock
}

type outcomeSample struct {
	latency time.Duration
	success bool
}

// AdaptiveController manages a resizable pool of concurrency slots, the
// outermost stage of the resilience pipeline (spec.md §4.2): it gates how
// many items may be in flight at once, growing the limit while the
// downstream stages look healthy and shrinking it when they don't.
type AdaptiveController struct {
	config AdaptiveConfig
	sem    *semaphore.Weighted

	mu       sync.Mutex
	limit    int64
	withheld int64 // permits currently withheld from the semaphore to cap effective concurrency
	samples  []outcomeSample
	lastEval time.Time
}

// NewAdaptiveController creates an AdaptiveController with documented
// defaults applied.
func NewAdaptiveController(cfg AdaptiveConfig) *AdaptiveController {
	if cfg.MinConcurrency <= 0 {
		cfg.MinConcurrency = 1
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 256
	}
	if cfg.MaxConcurrency < cfg.MinConcurrency {
		cfg.MaxConcurrency = cfg.MinConcurrency
	}
	if cfg.InitialConcurrency <= 0 {
		cfg.InitialConcurrency = cfg.MinConcurrency
	}
	if cfg.InitialConcurrency < cfg.MinConcurrency {
		cfg.InitialConcurrency = cfg.MinConcurrency
	}
	if cfg.InitialConcurrency > cfg.MaxConcurrency {
		cfg.InitialConcurrency = cfg.MaxConcurrency
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Second
	}
	if cfg.MinSuccessRate <= 0 {
		cfg.MinSuccessRate = 0.95
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real
	}

	ac := &AdaptiveController{
		config:   cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		limit:    int64(cfg.InitialConcurrency),
		lastEval: cfg.Clock.Now(),
	}
	ac.withheld = int64(cfg.MaxConcurrency) - ac.limit
	if ac.withheld > 0 {
		_ = ac.sem.Acquire(context.Background(), ac.withheld)
	}
	return ac
}

// Limit returns the current effective concurrency limit.
func (ac *AdaptiveController) Limit() int {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return int(ac.limit)
}

// Slot blocks until a concurrency slot is available or ctx is cancelled.
// The returned release function must be called exactly once, typically
// with the outcome of the item that used the slot recorded via
// ReportOutcome beforehand.
func (ac *AdaptiveController) Slot(ctx context.Context) (release func(), err error) {
	if err := ac.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(ac.releaseOne)
	}, nil
}

// releaseOne returns one permit either to the live pool, or — if a prior
// shrink could not withhold enough permits because they were all checked
// out — into withheld, so a shrink ordered while the controller was at
// full utilization still takes effect as items finish rather than being
// silently lost.
func (ac *AdaptiveController) releaseOne() {
	ac.mu.Lock()
	desiredWithhold := int64(ac.config.MaxConcurrency) - ac.limit
	if ac.withheld < desiredWithhold {
		ac.withheld++
		ac.mu.Unlock()
		return
	}
	ac.mu.Unlock()
	ac.sem.Release(1)
}

// ReportOutcome records one item's latency and success/failure. Once
// SampleInterval has elapsed since the last evaluation, the accumulated
// window is evaluated and the limit is possibly resized before the
// window resets (spec.md §4.6). There is no background timer: a fully
// idle controller simply never re-evaluates.
func (ac *AdaptiveController) ReportOutcome(latency time.Duration, success bool) {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	ac.samples = append(ac.samples, outcomeSample{latency: latency, success: success})

	now := ac.config.Clock.Now()
	if now.Sub(ac.lastEval) < ac.config.SampleInterval {
		return
	}

	healthy := ac.windowHealthyLocked()
	ac.samples = ac.samples[:0]
	ac.lastEval = now
	ac.resizeLocked(ac.nextLimitLocked(healthy))
}

func (ac *AdaptiveController) windowHealthyLocked() bool {
	successes := 0
	latencies := make([]time.Duration, 0, len(ac.samples))
	for _, s := range ac.samples {
		if s.success {
			successes++
		}
		latencies = append(latencies, s.latency)
	}

	rate := float64(successes) / float64(len(ac.samples))
	if rate < ac.config.MinSuccessRate {
		return false
	}
	if ac.config.TargetLatency <= 0 {
		return true
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p50 := latencies[len(latencies)/2]
	return p50 <= ac.config.TargetLatency
}

// nextLimitLocked applies the spec.md §4.6 per-strategy formulas:
//
//	healthy:   AIMD target+1, Aggressive ceil(target*1.10), Gradual target+1
//	unhealthy: AIMD/Aggressive floor(target*0.5), Gradual floor(target*0.75)
func (ac *AdaptiveController) nextLimitLocked(healthy bool) int64 {
	min64 := int64(ac.config.MinConcurrency)
	max64 := int64(ac.config.MaxConcurrency)

	var next int64
	switch ac.config.Strategy {
	case AdaptiveAggressive:
		if healthy {
			next = int64(math.Ceil(float64(ac.limit) * 1.10))
		} else {
			next = int64(math.Floor(float64(ac.limit) * 0.5))
		}
	case AdaptiveGradual:
		if healthy {
			next = ac.limit + 1
		} else {
			next = int64(math.Floor(float64(ac.limit) * 0.75))
		}
	default: // AdaptiveAIMD
		if healthy {
			next = ac.limit + 1
		} else {
			next = int64(math.Floor(float64(ac.limit) * 0.5))
		}
	}

	if next < min64 {
		next = min64
	}
	if next > max64 {
		next = max64
	}
	return next
}

// resizeLocked changes the effective limit, adjusting the number of
// permits the controller withholds from the semaphore. Growing always
// takes effect immediately. Shrinking takes effect immediately for any
// permits currently idle in the pool; the rest is reclaimed lazily by
// releaseOne as in-flight items finish, since releaseOne re-reads the
// live limit rather than a value captured at resize time.
func (ac *AdaptiveController) resizeLocked(newLimit int64) {
	oldLimit := ac.limit
	if newLimit == oldLimit {
		return
	}
	ac.limit = newLimit

	desiredWithhold := int64(ac.config.MaxConcurrency) - newLimit
	switch {
	case desiredWithhold < ac.withheld:
		ac.sem.Release(ac.withheld - desiredWithhold)
		ac.withheld = desiredWithhold
	case desiredWithhold > ac.withheld:
		need := desiredWithhold - ac.withheld
		if ac.sem.TryAcquire(need) {
			ac.withheld += need
		}
	}

	if ac.config.OnConcurrencyChange != nil {
		safeCallConcurrencyChange(ac.config.OnConcurrencyChange, int(oldLimit), int(newLimit))
	}
}

func safeCallConcurrencyChange(fn func(int, int), oldLimit, newLimit int) {
	defer func() { _ = recover() }()
	fn(oldLimit, newLimit)
}
