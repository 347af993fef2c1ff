// Package sinks implements progress consumers: structured logs, Prometheus
// collectors, and a job-store writer that persists the latest run counters.
package sinks
