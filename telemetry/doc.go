// Package telemetry is the optional OpenTelemetry adapter for Rivulet.
//
// Rivulet's engine never imports this package: spec.md §1 lists OTel
// integration as deliberately out of scope for the core, and counters,
// progress, and metrics snapshots (package observe) already give a caller
// everything needed to build their own exporter. telemetry exists for
// callers who want spans and OTel metric instruments instead, built on top
// of the same counters.EventStream and observe.Logger the engine already
// produces.
//
// # Core components
//
//   - [Observer]: facade over an OpenTelemetry TracerProvider and
//     MeterProvider, configured once per process or per long-lived Engine.
//   - [Tracer]: per-operation span creation with Rivulet-specific
//     attributes (stream name, operator, item index).
//   - [Metrics]: OTel counters and a duration histogram fed by per-item
//     RecordExecution calls.
//   - [CounterBridge]: counts [counters.EventStream] events by kind in an
//     OTel counter.
//   - [Middleware]: wraps a single item's processing function with
//     tracing, metrics, and structured logging in one call.
//
// # Quick start
//
//	obs, err := telemetry.NewObserver(ctx, telemetry.Config{
//	    ServiceName: "rivulet-batch-import",
//	    Tracing:     telemetry.TracingConfig{Enabled: true, Exporter: "otlp", SamplePct: 1.0},
//	    Metrics:     telemetry.MetricsConfig{Enabled: true, Exporter: "prometheus"},
//	})
//	defer obs.Shutdown(ctx)
//
//	mw, _ := telemetry.MiddlewareFromObserver(obs, logger)
//	result, err := mw.Wrap(process)(ctx, telemetry.OperationMeta{Stream: "import"}, item)
package telemetry
