// Package otel publishes engine counters through an OpenTelemetry Meter.
//
// Each counter becomes an Int64ObservableCounter. Each latency histogram
// becomes one Int64ObservableGauge of cumulative bucket counts keyed by an
// "le" attribute, plus a _count gauge. One callback reads a single engine
// snapshot per collection. The caller owns the MeterProvider.
package otel
