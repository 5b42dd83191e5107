// Package metrics implements the metrics aggregator: lock-free
// counters for cache and prefetch outcomes, periodic snapshots, and a
// Prometheus pull endpoint for the external collector.
package metrics
