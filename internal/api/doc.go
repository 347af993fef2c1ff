// Package api hosts the HTTP server, middleware, and REST handlers for the
// storefront and operators. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs and POST /v1/jobs/{job_id}/cancel for crawl requests.
//   - PUT|GET|DELETE /v1/vendors/{vendor_id}/schedule for recurring crawls.
//   - GET /v1/crawl-logs for run history.
package api
