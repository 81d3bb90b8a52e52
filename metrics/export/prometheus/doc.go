// Package prometheus exports authfetch client metrics to Prometheus.
//
// [PrometheusExporter] is a prometheus.Collector for hosts that run a
// registry, and its [PrometheusExporter.Handler] renders the text exposition
// format directly for hosts that do not. Counters are named
// authfetch_*_total; the latency histograms are
// authfetch_request_latency_seconds and authfetch_refresh_latency_seconds.
//
// # What this package must NOT do
//
//   - Register with the global Prometheus registry. Callers choose the registry.
//   - Mutate client state.
package prometheus
