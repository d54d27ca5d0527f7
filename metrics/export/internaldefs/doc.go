// Package internaldefs holds the shared metric export tables used by the
// Prometheus and OpenTelemetry exporters, so both backends expose the same
// names, help strings, and bucket layout.
package internaldefs
