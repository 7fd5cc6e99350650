// Package otel provides OpenTelemetry metric exporter bindings for
// authsession counters.
//
// [NewOTelExporter] registers Int64ObservableCounter instruments for each
// authsession metric. A single callback reads
// [authsession.Manager.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider — callers supply the Meter.
//   - Mutate session state.
package otel
