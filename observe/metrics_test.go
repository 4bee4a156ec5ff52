package observe

import (
	"context"
	"testing"
	"time"

	"github.com/rivulet-go/rivulet/clock"
	"github.com/rivulet-go/rivulet/counters"
)

// advanceUntil repeatedly advances mc by step and polls recv (a
// non-blocking receive) until it returns true, to avoid a race between the
// sampler goroutine registering its timer and the test advancing the clock
// past it.
func advanceUntil(t *testing.T, mc *clock.Manual, step time.Duration, recv func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mc.Advance(step)
		if recv() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("value never received before deadline")
}

func TestProgressSampler_EmitsOnEachInterval(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	c := counters.New()
	c.Add(counters.ItemsStarted, 10)
	c.Add(counters.ItemsCompleted, 4)
	c.Add(counters.ItemsFailed, 1)

	done := make(chan ProgressSnapshot, 8)
	p := NewProgressSampler(ProgressSamplerConfig{
		Counters:       c,
		ReportInterval: time.Second,
		Clock:          mc,
		Callback:       func(s ProgressSnapshot) { done <- s },
	})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	var got ProgressSnapshot
	advanceUntil(t, mc, time.Second, func() bool {
		select {
		case got = <-done:
			return true
		default:
			return false
		}
	})

	cancel()
	p.Stop()

	if got.Started != 10 || got.Completed != 4 || got.Failed != 1 {
		t.Errorf("snapshot = %+v, want {Started:10 Completed:4 Failed:1}", got)
	}
	if got.Rate != 4 { // 4 completed / 1 elapsed second
		t.Errorf("Rate = %f, want 4", got.Rate)
	}
}

func TestProgressSampler_ComputesETAAndPercentWhenTotalKnown(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	c := counters.New()
	c.Add(counters.ItemsCompleted, 25)
	total := uint64(100)

	done := make(chan ProgressSnapshot, 8)
	p := NewProgressSampler(ProgressSamplerConfig{
		Counters:       c,
		ReportInterval: time.Second,
		Clock:          mc,
		Total:          &total,
		Callback:       func(s ProgressSnapshot) { done <- s },
	})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	var snap ProgressSnapshot
	advanceUntil(t, mc, time.Second, func() bool {
		select {
		case snap = <-done:
			return true
		default:
			return false
		}
	})
	cancel()
	p.Stop()

	if snap.Percent == nil || *snap.Percent != 25 {
		t.Errorf("Percent = %v, want 25", snap.Percent)
	}
	if snap.ETA == nil {
		t.Fatal("ETA not set despite known total and positive rate")
	}
	if *snap.ETA != 3*time.Second { // 75 remaining / 25 per second
		t.Errorf("ETA = %v, want 3s", *snap.ETA)
	}
}

func TestProgressSampler_NoTotalLeavesETAAndPercentNil(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	c := counters.New()
	c.Add(counters.ItemsCompleted, 5)

	done := make(chan ProgressSnapshot, 8)
	p := NewProgressSampler(ProgressSamplerConfig{
		Counters:       c,
		ReportInterval: time.Second,
		Clock:          mc,
		Callback:       func(s ProgressSnapshot) { done <- s },
	})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	var snap ProgressSnapshot
	advanceUntil(t, mc, time.Second, func() bool {
		select {
		case snap = <-done:
			return true
		default:
			return false
		}
	})
	cancel()
	p.Stop()

	if snap.Total != nil || snap.ETA != nil || snap.Percent != nil {
		t.Errorf("snapshot = %+v, want Total/ETA/Percent all nil", snap)
	}
}

func TestProgressSampler_CallbackPanicDoesNotStopSampling(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	c := counters.New()

	calls := make(chan struct{}, 8)
	p := NewProgressSampler(ProgressSamplerConfig{
		Counters:       c,
		ReportInterval: time.Second,
		Clock:          mc,
		Callback: func(s ProgressSnapshot) {
			calls <- struct{}{}
			panic("boom")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	drained := 0
	advanceUntil(t, mc, time.Second, func() bool {
		select {
		case <-calls:
			drained++
			return drained >= 1
		default:
			return false
		}
	})
	advanceUntil(t, mc, time.Second, func() bool {
		select {
		case <-calls:
			drained++
			return drained >= 2
		default:
			return false
		}
	})

	cancel()
	p.Stop()
}

func TestProgressSampler_StopIsIdempotent(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	c := counters.New()
	p := NewProgressSampler(ProgressSamplerConfig{Counters: c, ReportInterval: time.Second, Clock: mc})

	p.Start(context.Background())
	p.Stop()
	p.Stop() // must not panic or deadlock
}

func TestMetricsSampler_EmitsFullSnapshot(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	c := counters.New()
	c.Add(counters.ItemsCompleted, 7)
	c.Add(counters.ThrottleEvents, 2)

	done := make(chan counters.Snapshot, 8)
	m := NewMetricsSampler(MetricsSamplerConfig{
		Counters:       c,
		ReportInterval: time.Second,
		Clock:          mc,
		Callback:       func(s counters.Snapshot) { done <- s },
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	var snap counters.Snapshot
	advanceUntil(t, mc, time.Second, func() bool {
		select {
		case snap = <-done:
			return true
		default:
			return false
		}
	})
	cancel()
	m.Stop()

	if snap[counters.ItemsCompleted] != 7 {
		t.Errorf("ItemsCompleted = %d, want 7", snap[counters.ItemsCompleted])
	}
	if snap[counters.ThrottleEvents] != 2 {
		t.Errorf("ThrottleEvents = %d, want 2", snap[counters.ThrottleEvents])
	}
}

func TestMetricsSampler_StopIsIdempotent(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	c := counters.New()
	m := NewMetricsSampler(MetricsSamplerConfig{Counters: c, ReportInterval: time.Second, Clock: mc})

	m.Start(context.Background())
	m.Stop()
	m.Stop()
}
