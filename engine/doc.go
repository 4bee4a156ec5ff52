// Package engine runs a single pass of items through a bounded worker pool,
// pushing each one through a resilience.Pipeline and publishing a terminal
// Outcome for it. It is the orchestration core behind every operator in the
// root rivulet package (Map, Stream, ForEach, Batch) — they differ only in
// how they build the Source, Op and sink, not in how items flow.
package engine
