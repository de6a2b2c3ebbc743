// Package prometheus exposes engine metrics to Prometheus.
//
// [NewExporter] wraps a [paradox.Engine] in a [Collector] that converts the
// engine snapshot to const metrics at scrape time. Counters are named
// paradox_*_total and the respond latency histogram is
// paradox_respond_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry. Callers mount Handler.
//   - Mutate engine state.
package prometheus
