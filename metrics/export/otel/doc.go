// Package otel bridges engine metrics snapshots into an OpenTelemetry
// meter using observable instruments. The shared export tables in
// internaldefs keep names aligned with the Prometheus exporter.
package otel
