package resilience

import (
	"errors"
	"fmt"
)

// Sentinel errors for resilience-refusal outcomes (spec.md §7).
var (
	// ErrCircuitOpen is returned when the circuit breaker refuses an
	// attempt without calling the user operation.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRateLimitExceeded names a refused rate-limit acquire. TokenBucket
	// never returns it: Acquire blocks until tokens are available, and
	// TryAcquire reports false instead.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrTimeout is returned when a per-item attempt exceeds its deadline.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrMaxRetriesExceeded names an exhausted retry budget. RetryPolicy.Execute
	// does not wrap its result with it; it returns the last attempt's error
	// unchanged.
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")
)

// Kind is the adapter error-kind enumeration from spec.md §6: a closed set
// of transient-failure categories domain adapters (HTTP, SQL, object
// storage, ...) may tag their errors with, so the default transience
// predicate recognizes them without a bespoke per-adapter classifier. This
// replaces the "dynamic reflective error classification" pattern called out
// in spec.md §9 — the core classifies by tag, never by runtime type
// inspection.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindConnectionReset
	KindTemporaryUnavailable
	KindRateLimitedUpstream
	KindDeadlock
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionReset:
		return "connection_reset"
	case KindTemporaryUnavailable:
		return "temporary_unavailable"
	case KindRateLimitedUpstream:
		return "rate_limited_upstream"
	case KindDeadlock:
		return "deadlock"
	default:
		return "unknown"
	}
}

// TaggedError wraps an adapter error with a Kind so the default transience
// predicate can classify it without knowing the adapter's concrete type.
type TaggedError struct {
	Kind Kind
	Err  error
}

func (e *TaggedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TaggedError) Unwrap() error { return e.Err }

// Tag wraps err with kind. A nil err returns nil.
func Tag(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &TaggedError{Kind: kind, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *TaggedError, otherwise KindUnknown.
func KindOf(err error) Kind {
	var t *TaggedError
	if errors.As(err, &t) {
		return t.Kind
	}
	return KindUnknown
}

// DefaultIsTransient is the built-in transience predicate: aborted I/O and
// connection-like failures tagged via Kind. CircuitOpen, RateLimitExceeded,
// and ErrTimeout are all resilience-refusal errors and are NOT transient by
// default (spec.md §7 classifies them as permanent unless the caller
// overrides is_transient).
func DefaultIsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindTimeout, KindConnectionReset, KindTemporaryUnavailable, KindRateLimitedUpstream, KindDeadlock:
		return true
	default:
		return false
	}
}

// EngineFault marks a violated-invariant or infrastructure panic inside the
// engine itself (never inside the user operation). It is unconditionally
// fatal and is never classified as transient (spec.md §7).
type EngineFault struct {
	Reason string
	Cause  error
}

func (f *EngineFault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("rivulet: engine fault: %s: %v", f.Reason, f.Cause)
	}
	return fmt.Sprintf("rivulet: engine fault: %s", f.Reason)
}

func (f *EngineFault) Unwrap() error { return f.Cause }

// NewEngineFault constructs an EngineFault, typically from a recovered
// panic inside engine infrastructure.
func NewEngineFault(reason string, cause error) *EngineFault {
	return &EngineFault{Reason: reason, Cause: cause}
}
