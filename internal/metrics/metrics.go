// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerProductsTotal          *prometheus.CounterVec
	crawlerRobotsSkipsTotal       *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	crawlerJobsTotal              *prometheus.CounterVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	priceChangesTotal             *prometheus.CounterVec
	notificationJobsTotal         prometheus.Counter
	reconcilerActionsTotal        *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seedcrawler_pages_total",
				Help: "Total number of listing pages fetched, labeled by vendor and status.",
			},
			[]string{"vendor", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seedcrawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by vendor.",
			},
			[]string{"vendor"},
		)

		crawlerProductsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seedcrawler_products_total",
				Help: "Products handled per vendor, labeled by outcome (scraped, saved, updated, error).",
			},
			[]string{"vendor", "outcome"},
		)

		crawlerRobotsSkipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seedcrawler_robots_skips_total",
				Help: "Candidate URLs skipped because robots.txt disallows them.",
			},
			[]string{"vendor"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		crawlerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seedcrawler_jobs_total",
				Help: "Total number of crawl jobs finished, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "seedcrawler_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seedcrawler_rate_limit_delays_seconds",
				Help:    "Histogram of per-host gate wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		priceChangesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seedcrawler_price_changes_total",
				Help: "Price drops at or below the alert threshold, labeled by vendor.",
			},
			[]string{"vendor"},
		)

		notificationJobsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "seedcrawler_notification_jobs_total",
				Help: "Notification jobs published to the outbound topic.",
			},
		)

		reconcilerActionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seedcrawler_reconciler_actions_total",
				Help: "Job records rewritten by the reconciler, labeled by resulting status.",
			},
			[]string{"status"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one fetched listing page.
func ObservePage(vendor string, status string, bytesFetched int) {
	Init()
	crawlerPagesTotal.WithLabelValues(vendor, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(vendor).Add(float64(bytesFetched))
	}
}

// ObserveProducts adds n products with the given outcome.
func ObserveProducts(vendor, outcome string, n int) {
	if n <= 0 {
		return
	}
	Init()
	crawlerProductsTotal.WithLabelValues(vendor, outcome).Add(float64(n))
}

// ObserveRobotsSkip counts a URL the robots policy rejected.
func ObserveRobotsSkip(vendor string) {
	Init()
	crawlerRobotsSkipsTotal.WithLabelValues(vendor).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	crawlerJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a host gate wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObservePriceChanges adds detected price drops for a vendor.
func ObservePriceChanges(vendor string, n int) {
	if n <= 0 {
		return
	}
	Init()
	priceChangesTotal.WithLabelValues(vendor).Add(float64(n))
}

// ObserveNotificationJobs adds published notification jobs.
func ObserveNotificationJobs(n int) {
	if n <= 0 {
		return
	}
	Init()
	notificationJobsTotal.Add(float64(n))
}

// ObserveReconcile counts a reconciler rewrite.
func ObserveReconcile(status string) {
	Init()
	reconcilerActionsTotal.WithLabelValues(status).Inc()
}
