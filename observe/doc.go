// Package observe provides the engine's internal diagnostics surface: a
// structured logger and the two periodic samplers — ProgressSampler and
// MetricsSampler — that turn a running [counters.Counters] handle into
// callbacks a caller can render, export, or forward to a metrics backend.
//
// It is deliberately not an OpenTelemetry integration; that lives in the
// optional telemetry subpackage. observe has no transport and no
// third-party exporter dependency — it exists so the engine can report on
// itself without forcing every caller to pull in OTel.
//
// # Core components
//
//   - [Logger]: structured JSON logging with automatic field redaction.
//   - [ProgressSampler]: periodic {started, completed, failed, rate, eta}
//     snapshots on a fixed interval.
//   - [MetricsSampler]: periodic full counter snapshots for export.
//
// Both samplers run their callback on a dedicated goroutine, decoupled from
// the engine's worker loop; a callback that panics is recovered and does
// not affect the run (spec.md §4.7).
//
// # Thread safety
//
// Logger is safe for concurrent use. ProgressSampler and MetricsSampler are
// each single-owner: Start once, Stop once, from any goroutine.
package observe
