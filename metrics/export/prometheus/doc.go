// Package prometheus renders engine metrics snapshots in Prometheus text
// exposition format, without taking a dependency on the Prometheus client
// library. Counters and histogram buckets come from the shared export
// tables in internaldefs.
package prometheus
