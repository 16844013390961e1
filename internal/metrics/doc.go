// Package metrics collects latency samples and throughput counters.
//
// Key metrics:
//   - Order place/cancel/modify round-trip latency percentiles
//   - Market-data update counts per instrument
//   - JSON report generation for offline inspection
package metrics
