package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rivulet-go/rivulet/clock"
	"github.com/rivulet-go/rivulet/counters"
)

// State represents the circuit breaker state (spec.md §4.4).
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is probing for recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures before opening the
	// circuit: consecutive failures in the default mode, or failures
	// within SamplingDuration in windowed mode. Default: 5.
	FailureThreshold int

	// SamplingDuration, if set, switches the breaker to windowed mode:
	// failures are counted within a rolling window of this duration
	// instead of requiring consecutive failures (spec.md §4.4).
	SamplingDuration time.Duration

	// OpenTimeout is the minimum time the breaker stays Open before the
	// first post-timeout guard call transitions it to HalfOpen. Default:
	// 30s.
	OpenTimeout time.Duration

	// SuccessThreshold is both the number of consecutive HalfOpen
	// successes needed to close the circuit, and (absent an explicit
	// ProbeBudget) the HalfOpen probe budget. Default: 1.
	SuccessThreshold int

	// ProbeBudget overrides the number of concurrent HalfOpen probe
	// attempts allowed; defaults to SuccessThreshold.
	ProbeBudget int

	// IsFailure classifies whether an attempt's error counts as a
	// breaker failure. Default: all non-nil errors are failures.
	IsFailure func(err error) bool

	// OnStateChange is invoked on every transition. A panic inside it is
	// recovered (spec.md §4.4: "exceptions from the callback are
	// captured").
	OnStateChange func(from, to State, reason string)

	// Clock is the time source. Default: clock.Real.
	Clock clock.Clock

	// Events, if set, also receives "circuit.state_change" events,
	// mirroring OnStateChange onto the shared event stream.
	Events *counters.EventStream
}

// CircuitBreaker implements the three-state (Closed/Open/HalfOpen) guard
// from spec.md §4.4.
type CircuitBreaker struct {
	id     string
	config CircuitBreakerConfig

	mu               sync.Mutex
	state            State
	consecFailures   int
	window           []time.Time // failure timestamps, windowed mode only
	openUntil        time.Time
	halfOpenInFlight int
	halfOpenSuccess  int
}

// NewCircuitBreaker creates a CircuitBreaker with documented defaults
// applied.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = cfg.SuccessThreshold
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real
	}

	return &CircuitBreaker{
		id:     uuid.NewString(),
		config: cfg,
		state:  StateClosed,
	}
}

// ID returns the breaker's unique instance id, used to correlate events
// published onto a shared EventStream with the breaker that raised them.
func (cb *CircuitBreaker) ID() string { return cb.id }

// Execute runs op through the circuit breaker guard.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.Guard(); err != nil {
		return err
	}
	err := op(ctx)
	cb.AfterAttempt(err)
	return err
}

// Guard checks whether an attempt may proceed without running op, for
// callers composing the breaker manually inside a resilience pipeline
// (spec.md §4.2). It returns ErrCircuitOpen if the attempt should be
// skipped — no op call, no "started" counter increment.
func (cb *CircuitBreaker) Guard() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.config.ProbeBudget {
			return ErrCircuitOpen
		}
		cb.halfOpenInFlight++
	}
	return nil
}

// AfterAttempt records the outcome of an attempt that Guard previously
// admitted.
func (cb *CircuitBreaker) AfterAttempt(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	isFailure := cb.config.IsFailure(err)

	switch cb.state {
	case StateClosed:
		if isFailure {
			cb.recordFailureLocked()
			if cb.thresholdReachedLocked() {
				cb.transitionLocked(StateOpen, "failure_threshold_reached")
			}
		} else {
			cb.consecFailures = 0
			cb.window = nil
		}

	case StateHalfOpen:
		cb.halfOpenInFlight--
		if isFailure {
			cb.transitionLocked(StateOpen, "probe_failed")
		} else {
			cb.halfOpenSuccess++
			if cb.halfOpenSuccess >= cb.config.SuccessThreshold {
				cb.transitionLocked(StateClosed, "probe_succeeded")
			}
		}
	}
}

func (cb *CircuitBreaker) recordFailureLocked() {
	if cb.config.SamplingDuration > 0 {
		now := cb.config.Clock.Now()
		cb.window = append(cb.window, now)
		cutoff := now.Add(-cb.config.SamplingDuration)
		kept := cb.window[:0]
		for _, ts := range cb.window {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		cb.window = kept
		return
	}
	cb.consecFailures++
}

func (cb *CircuitBreaker) thresholdReachedLocked() bool {
	if cb.config.SamplingDuration > 0 {
		return len(cb.window) >= cb.config.FailureThreshold
	}
	return cb.consecFailures >= cb.config.FailureThreshold
}

// currentStateLocked performs the Open -> HalfOpen transition on the first
// guard call after OpenUntil, as required by spec.md §4.4.
func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && !cb.openUntil.After(cb.config.Clock.Now()) {
		cb.transitionLocked(StateHalfOpen, "open_timeout_elapsed")
	}
	return cb.state
}

func (cb *CircuitBreaker) transitionLocked(to State, reason string) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	switch to {
	case StateOpen:
		cb.openUntil = cb.config.Clock.Now().Add(cb.config.OpenTimeout)
		cb.halfOpenInFlight = 0
		cb.halfOpenSuccess = 0
	case StateHalfOpen:
		cb.halfOpenInFlight = 0
		cb.halfOpenSuccess = 0
	case StateClosed:
		cb.consecFailures = 0
		cb.window = nil
		cb.halfOpenSuccess = 0
	}

	if cb.config.OnStateChange != nil {
		safeCallStateChange(cb.config.OnStateChange, from, to, reason)
	}
	if cb.config.Events != nil {
		cb.config.Events.Publish(counters.Event{
			Kind:   "circuit.state_change",
			Source: cb.id,
			Fields: map[string]any{"from": from.String(), "to": to.String(), "reason": reason},
		})
	}
}

func safeCallStateChange(fn func(State, State, string), from, to State, reason string) {
	defer func() { _ = recover() }()
	fn(from, to, reason)
}

// State returns the current circuit state, resolving any pending
// Open->HalfOpen transition first.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// Reset forces the breaker back to Closed, clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from := cb.state
	cb.state = StateClosed
	cb.consecFailures = 0
	cb.window = nil
	cb.halfOpenSuccess = 0
	cb.halfOpenInFlight = 0

	if from == StateClosed {
		return
	}
	if cb.config.OnStateChange != nil {
		safeCallStateChange(cb.config.OnStateChange, from, StateClosed, "manual_reset")
	}
	if cb.config.Events != nil {
		cb.config.Events.Publish(counters.Event{
			Kind:   "circuit.state_change",
			Source: cb.id,
			Fields: map[string]any{"from": from.String(), "to": StateClosed.String(), "reason": "manual_reset"},
		})
	}
}

// Metrics contains circuit breaker statistics.
type Metrics struct {
	State            State
	ConsecFailures   int
	WindowedFailures int
}

// Metrics returns a snapshot of the breaker's internal counters.
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Metrics{
		State:            cb.currentStateLocked(),
		ConsecFailures:   cb.consecFailures,
		WindowedFailures: len(cb.window),
	}
}
