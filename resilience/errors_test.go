package resilience

import (
	"errors"
	"testing"
)

func TestTag_WrapsWithKindAndNilPassesThrough(t *testing.T) {
	if got := Tag(KindTimeout, nil); got != nil {
		t.Errorf("Tag(_, nil) = %v, want nil", got)
	}

	base := errors.New("boom")
	tagged := Tag(KindConnectionReset, base)
	if !errors.Is(tagged, base) {
		t.Error("tagged error does not unwrap to the original error")
	}
	if KindOf(tagged) != KindConnectionReset {
		t.Errorf("KindOf(tagged) = %v, want KindConnectionReset", KindOf(tagged))
	}
}

func TestKindOf_UntaggedErrorIsUnknown(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %v, want KindUnknown", got)
	}
}

func TestDefaultIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"ErrTimeout", ErrTimeout, false},
		{"ErrCircuitOpen", ErrCircuitOpen, false},
		{"ErrRateLimitExceeded", ErrRateLimitExceeded, false},
		{"tagged timeout", Tag(KindTimeout, errors.New("x")), true},
		{"tagged connection reset", Tag(KindConnectionReset, errors.New("x")), true},
		{"tagged temporary unavailable", Tag(KindTemporaryUnavailable, errors.New("x")), true},
		{"tagged rate limited upstream", Tag(KindRateLimitedUpstream, errors.New("x")), true},
		{"tagged deadlock", Tag(KindDeadlock, errors.New("x")), true},
		{"untagged plain error", errors.New("x"), false},
	}
	for _, c := range cases {
		if got := DefaultIsTransient(c.err); got != c.want {
			t.Errorf("%s: DefaultIsTransient() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestEngineFault_NeverTransientAndUnwraps(t *testing.T) {
	cause := errors.New("panic: index out of range")
	fault := NewEngineFault("worker crashed", cause)

	if DefaultIsTransient(fault) {
		t.Error("EngineFault classified as transient, want always-fatal")
	}
	if !errors.Is(fault, cause) {
		t.Error("EngineFault does not unwrap to its cause")
	}
	if fault.Error() == "" {
		t.Error("Error() returned empty string")
	}
}

func TestEngineFault_ErrorWithoutCause(t *testing.T) {
	fault := NewEngineFault("no input source", nil)
	if fault.Unwrap() != nil {
		t.Error("Unwrap() should be nil when Cause is nil")
	}
	if fault.Error() == "" {
		t.Error("Error() returned empty string")
	}
}

func TestKind_String(t *testing.T) {
	cases := map[Kind]string{
		KindUnknown:              "unknown",
		KindTimeout:              "timeout",
		KindConnectionReset:      "connection_reset",
		KindTemporaryUnavailable: "temporary_unavailable",
		KindRateLimitedUpstream:  "rate_limited_upstream",
		KindDeadlock:             "deadlock",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
