// Package reconciler repairs job records whose status drifted from their
// work queue entry, for example after a worker crash.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seedbank-crawler/internal/clock/system"
	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/metrics"
)

// Defaults for Config.
const (
	DefaultInterval = 5 * time.Minute
	DefaultMinAge   = 2 * time.Minute
)

const missingEntryMessage = "queue entry missing"

// Config tunes reconciliation.
type Config struct {
	Interval time.Duration
	// MinAge skips jobs updated more recently than this, giving in-flight
	// submissions time to reach the queue.
	MinAge time.Duration
}

// Report summarises one pass.
type Report struct {
	Checked   int `json:"checked"`
	Updated   int `json:"updated"`
	Cancelled int `json:"cancelled"`
	TooYoung  int `json:"tooYoung"`
	Errors    int `json:"errors"`
}

// Reconciler compares JobStore records with WorkQueue entries.
type Reconciler struct {
	jobs   crawler.JobStore
	queue  crawler.WorkQueue
	cfg    Config
	clock  crawler.Clock
	logger *zap.Logger
}

// New builds a Reconciler.
func New(jobs crawler.JobStore, queue crawler.WorkQueue, cfg Config, clock crawler.Clock, logger *zap.Logger) (*Reconciler, error) {
	if jobs == nil || queue == nil {
		return nil, fmt.Errorf("job store and queue are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MinAge < 0 {
		cfg.MinAge = 0
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{jobs: jobs, queue: queue, cfg: cfg, clock: clock, logger: logger.Named("reconciler")}, nil
}

// Reconcile runs one pass over every non-terminal job. Running it twice in a
// row writes nothing the second time.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	var report Report
	active, err := r.jobs.ListActiveJobs(ctx, "")
	if err != nil {
		return report, fmt.Errorf("list active jobs: %w", err)
	}
	cutoff := r.clock.Now().Add(-r.cfg.MinAge)
	for _, job := range active {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		if job.UpdatedAt.After(cutoff) {
			report.TooYoung++
			continue
		}
		status, fields, ok, err := r.desired(ctx, job)
		if err != nil {
			report.Errors++
			r.logger.Warn("queue lookup failed", zap.String("job_id", job.JobID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if _, err := r.jobs.Transition(ctx, job.JobID, status, fields); err != nil {
			if errors.Is(err, crawler.ErrTransitionRejected) {
				// The worker moved it on in the meantime.
				continue
			}
			report.Errors++
			r.logger.Error("reconcile transition failed", zap.String("job_id", job.JobID), zap.Error(err))
			continue
		}
		report.Updated++
		if status == crawler.JobStatusCancelled {
			report.Cancelled++
		}
		metrics.ObserveReconcile(string(status))
		r.logger.Info("job reconciled",
			zap.String("job_id", job.JobID),
			zap.String("from", string(job.Status)),
			zap.String("to", string(status)),
		)
	}
	return report, nil
}

// desired maps the queue entry onto a target status. ok is false when the
// job already matches or the change would move it backwards.
func (r *Reconciler) desired(ctx context.Context, job crawler.CrawlJob) (crawler.JobStatus, crawler.TransitionFields, bool, error) {
	entry, err := r.queue.GetJob(ctx, job.JobID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			return crawler.JobStatusCancelled, crawler.TransitionFields{ErrorMessage: missingEntryMessage}, true, nil
		}
		return "", crawler.TransitionFields{}, false, err
	}

	var (
		status crawler.JobStatus
		fields crawler.TransitionFields
	)
	switch entry.State {
	case crawler.QueueActive:
		status = crawler.JobStatusActive
		fields.StartedAt = entry.ProcessedAt
	case crawler.QueueWaiting, crawler.QueueDelayed:
		status = crawler.JobStatusWaiting
	case crawler.QueueCompleted:
		status = crawler.JobStatusCompleted
		fields.CompletedAt = entry.FinishedAt
	case crawler.QueueFailed:
		status = crawler.JobStatusFailed
		fields.CompletedAt = entry.FinishedAt
		fields.ErrorMessage = entry.FailedReason
		if fields.ErrorMessage == "" {
			fields.ErrorMessage = "queue entry failed"
		}
	default:
		return "", crawler.TransitionFields{}, false, fmt.Errorf("unknown queue state %q", entry.State)
	}

	if status.Rank() < job.Status.Rank() {
		return "", crawler.TransitionFields{}, false, nil
	}
	if status == job.Status && !startedDiffers(job, fields) {
		return "", crawler.TransitionFields{}, false, nil
	}
	return status, fields, true, nil
}

func startedDiffers(job crawler.CrawlJob, fields crawler.TransitionFields) bool {
	if fields.StartedAt == nil {
		return false
	}
	return job.StartedAt == nil || !job.StartedAt.Equal(*fields.StartedAt)
}

// Run reconciles on every interval until ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	r.logger.Info("reconciler started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("min_age", r.cfg.MinAge),
	)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return nil
		case <-ticker.C:
			report, err := r.Reconcile(ctx)
			if err != nil && ctx.Err() == nil {
				r.logger.Error("reconcile pass failed", zap.Error(err))
				continue
			}
			if report.Updated > 0 || report.Errors > 0 {
				r.logger.Info("reconcile pass complete",
					zap.Int("checked", report.Checked),
					zap.Int("updated", report.Updated),
					zap.Int("cancelled", report.Cancelled),
					zap.Int("errors", report.Errors),
				)
			}
		}
	}
}
