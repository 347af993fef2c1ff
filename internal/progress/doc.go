// Package progress carries crawl-run milestones from the runner to pluggable
// sinks (structured logs, Prometheus, the job store) without ever blocking
// the crawl itself.
package progress
