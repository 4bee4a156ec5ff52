package observe

import (
	"context"
	"sync"
	"time"

	"github.com/rivulet-go/rivulet/clock"
	"github.com/rivulet-go/rivulet/counters"
)

// ProgressSnapshot is one periodic progress report (spec.md §4.7).
type ProgressSnapshot struct {
	Started   uint64
	Completed uint64
	Failed    uint64
	Elapsed   time.Duration

	// Rate is Completed / Elapsed, in items per second. Zero while Elapsed
	// is zero.
	Rate float64

	// Total, ETA, and Percent are nil when the total item count is
	// unknown (a Stream source with no declared length).
	Total   *uint64
	ETA     *time.Duration
	Percent *float64
}

// ProgressSamplerConfig configures a ProgressSampler.
type ProgressSamplerConfig struct {
	Counters *counters.Counters

	// ReportInterval is the fixed period between snapshots. Required.
	ReportInterval time.Duration

	// Total is the known item count, if any; nil leaves ETA and Percent
	// unset on every snapshot.
	Total *uint64

	// Callback receives each snapshot. It runs on a dedicated goroutine; a
	// panic inside it is recovered and does not affect the run.
	Callback func(ProgressSnapshot)

	Clock clock.Clock
}

// ProgressSampler periodically reports engine progress to a user callback
// until Stop is called or the run drains. One instance per Engine
// invocation (spec.md §3 "Lifecycles").
type ProgressSampler struct {
	config ProgressSamplerConfig
	start  time.Time
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewProgressSampler creates a ProgressSampler. ReportInterval must be
// positive; Clock defaults to clock.Real.
func NewProgressSampler(cfg ProgressSamplerConfig) *ProgressSampler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real
	}
	return &ProgressSampler{
		config: cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins periodic sampling on its own goroutine. Sampling stops when
// ctx is done or Stop is called, whichever comes first.
func (p *ProgressSampler) Start(ctx context.Context) {
	p.start = p.config.Clock.Now()
	first := p.config.Clock.After(p.config.ReportInterval)
	go p.run(ctx, first)
}

func (p *ProgressSampler) run(ctx context.Context, timer <-chan time.Time) {
	defer close(p.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-timer:
			p.emit()
		}
		timer = p.config.Clock.After(p.config.ReportInterval)
	}
}

func (p *ProgressSampler) emit() {
	snap := p.snapshot()
	defer func() { recover() }()
	if p.config.Callback != nil {
		p.config.Callback(snap)
	}
}

func (p *ProgressSampler) snapshot() ProgressSnapshot {
	c := p.config.Counters
	started := c.Get(counters.ItemsStarted)
	completed := c.Get(counters.ItemsCompleted)
	failed := c.Get(counters.ItemsFailed)
	elapsed := p.config.Clock.Now().Sub(p.start)

	snap := ProgressSnapshot{
		Started:   started,
		Completed: completed,
		Failed:    failed,
		Elapsed:   elapsed,
	}

	if elapsed > 0 {
		snap.Rate = float64(completed) / elapsed.Seconds()
	}

	if p.config.Total != nil {
		total := *p.config.Total
		snap.Total = &total

		pct := 0.0
		if total > 0 {
			pct = float64(completed) / float64(total) * 100
		}
		snap.Percent = &pct

		if snap.Rate > 0 && total > completed {
			eta := time.Duration(float64(total-completed)/snap.Rate) * time.Second
			snap.ETA = &eta
		}
	}

	return snap
}

// Stop ends periodic sampling and blocks until the sampling goroutine has
// exited. Safe to call more than once.
func (p *ProgressSampler) Stop() {
	p.once.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

// MetricsSamplerConfig configures a MetricsSampler.
type MetricsSamplerConfig struct {
	Counters *counters.Counters

	// ReportInterval is the fixed period between snapshots. Required.
	ReportInterval time.Duration

	// Callback receives each full counter snapshot, for forwarding to an
	// external system (Prometheus text, an OpenTelemetry meter, etc). It
	// runs on a dedicated goroutine; a panic inside it is recovered.
	Callback func(counters.Snapshot)

	Clock clock.Clock
}

// MetricsSampler periodically emits a full counter snapshot to a user
// callback, decoupled from the engine loop (spec.md §4.7).
type MetricsSampler struct {
	config MetricsSamplerConfig
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewMetricsSampler creates a MetricsSampler. ReportInterval must be
// positive; Clock defaults to clock.Real.
func NewMetricsSampler(cfg MetricsSamplerConfig) *MetricsSampler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real
	}
	return &MetricsSampler{
		config: cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins periodic sampling on its own goroutine.
func (m *MetricsSampler) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *MetricsSampler) run(ctx context.Context) {
	defer close(m.doneCh)

	for {
		timer := m.config.Clock.After(m.config.ReportInterval)
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-timer:
			m.emit()
		}
	}
}

func (m *MetricsSampler) emit() {
	snap := m.config.Counters.Snapshot()
	defer func() { recover() }()
	if m.config.Callback != nil {
		m.config.Callback(snap)
	}
}

// Stop ends periodic sampling and blocks until the sampling goroutine has
// exited. Safe to call more than once.
func (m *MetricsSampler) Stop() {
	m.once.Do(func() { close(m.stopCh) })
	<-m.doneCh
}
