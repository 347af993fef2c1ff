package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/seedbank-crawler/internal/progress"
)

// PrometheusSink exports crawl-run progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	pages        *prometheus.CounterVec
	pageBytes    *prometheus.CounterVec
	pageDuration *prometheus.HistogramVec

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg (default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seedcrawler_runs_started_total",
			Help: "Crawl runs started per vendor.",
		}, []string{"vendor"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seedcrawler_runs_completed_total",
			Help: "Crawl runs finished per vendor and result.",
		}, []string{"vendor", "result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "seedcrawler_runs_active",
			Help: "Crawl runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seedcrawler_run_duration_seconds",
			Help:    "Wall time per finished crawl run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"vendor", "result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seedcrawler_run_pages_total",
			Help: "Listing pages handled per vendor, labeled by stage and status class.",
		}, []string{"vendor", "stage", "status_class"}),
		pageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seedcrawler_run_page_bytes_total",
			Help: "Listing bytes downloaded per vendor.",
		}, []string{"vendor"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seedcrawler_page_fetch_seconds",
			Help:    "Listing page fetch duration per vendor.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"vendor"}),
		running: make(map[string]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsActive, s.runDuration,
		s.pages, s.pageBytes, s.pageDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from a batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		vendor := evt.VendorID
		if vendor == "" {
			vendor = "unknown"
		}
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.WithLabelValues(vendor).Inc()
			if s.track(evt.JobID, true) {
				s.runsActive.Inc()
			}
		case progress.StageRunDone, progress.StageRunError:
			result := "success"
			if evt.Stage == progress.StageRunError {
				result = "error"
			}
			s.runsCompleted.WithLabelValues(vendor, result).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(vendor, result).Observe(evt.Dur.Seconds())
			}
			if s.track(evt.JobID, false) {
				s.runsActive.Dec()
			}
		case progress.StagePageDone, progress.StagePageSkipped:
			class := evt.StatusClass
			if class == "" {
				class = progress.StatusOther
			}
			s.pages.WithLabelValues(vendor, string(evt.Stage), string(class)).Inc()
			if evt.Bytes > 0 {
				s.pageBytes.WithLabelValues(vendor).Add(float64(evt.Bytes))
			}
			if evt.Dur > 0 {
				s.pageDuration.WithLabelValues(vendor).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// track records a run start (start=true) or finish and reports whether the
// set of running jobs changed.
func (s *PrometheusSink) track(jobID string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[jobID]
	if start {
		if ok {
			return false
		}
		s.running[jobID] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, jobID)
	return true
}
