// Package otel binds authfetch client metrics to OpenTelemetry instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per client counter and
// one cumulative bucket gauge per histogram, split by an "le" attribute. A
// single callback reads [authfetch.Client.MetricsSnapshot] on each collection
// cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate client state.
package otel
