// Package rivulet provides parallel-processing operators — Map, Stream,
// ForEach, and Batch — over a lazy source of items, with bounded
// concurrency, a configurable resilience pipeline (retry, per-item
// timeout, circuit breaking, rate limiting, adaptive concurrency), and an
// observability surface (counters, progress sampling, metrics sampling).
//
// The operators are thin, type-safe wrappers over package engine; they
// differ only in how results are delivered, not in how items flow through
// the worker pool or the resilience stages. Domain integrations (HTTP,
// SQL, object storage, ...), hosted-service wrappers, and diagnostics
// transports are adapters built on top of this package and the optional
// telemetry subpackage — they are not part of the core.
package rivulet
