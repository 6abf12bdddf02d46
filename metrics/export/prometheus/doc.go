// Package prometheus exposes engine counters and latency histograms as a
// client_golang Collector.
//
// Series are named authcore_*_total for counters and
// authcore_*_latency_seconds for histograms. The exporter never touches
// the global registry; callers either register the collector themselves
// or mount Handler, which serves a private registry.
package prometheus
