// Package otel publishes engine counters and latency histograms as
// OpenTelemetry observable instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter and, per
// histogram, one Int64ObservableGauge per cumulative bucket plus count and sum
// gauges. The caller owns the MeterProvider; the exporter only reads
// [authkit.Engine.MetricsSnapshot] inside its callback.
package otel
