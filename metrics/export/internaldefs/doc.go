// Package internaldefs holds the metric names, help strings and bucket bounds
// shared by the Prometheus and OpenTelemetry exporters, so both expose
// identical series.
//
// It performs no I/O and does not import any exporter package.
package internaldefs
