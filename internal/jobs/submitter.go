// Package jobs creates crawl jobs and hands them to the work queue.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
)

var (
	// ErrInvalidRequest marks a request rejected before any record is written.
	ErrInvalidRequest = errors.New("invalid crawl request")
	// ErrVendorBusy is returned for scheduled triggers while the vendor
	// already has a job in flight.
	ErrVendorBusy = errors.New("vendor has a crawl in flight")
)

// Request asks for one crawl of a vendor.
type Request struct {
	VendorID string              `json:"vendorId"`
	Mode     crawler.JobMode     `json:"mode"`
	Config   crawler.CrawlConfig `json:"config"`
}

// AdapterChecker reports whether an adapter key is registered.
type AdapterChecker interface {
	Has(key string) bool
}

// Submitter validates requests, records jobs and enqueues them.
type Submitter struct {
	jobs     crawler.JobStore
	vendors  crawler.VendorStore
	queue    crawler.WorkQueue
	adapters AdapterChecker
	enqueue  crawler.EnqueueOptions
	logger   *zap.Logger
}

// NewSubmitter wires a Submitter. adapters may be nil to skip the check.
func NewSubmitter(
	jobs crawler.JobStore,
	vendors crawler.VendorStore,
	queue crawler.WorkQueue,
	adapters AdapterChecker,
	enqueue crawler.EnqueueOptions,
	logger *zap.Logger,
) (*Submitter, error) {
	if jobs == nil || vendors == nil || queue == nil {
		return nil, fmt.Errorf("job store, vendor store and queue are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		jobs:     jobs,
		vendors:  vendors,
		queue:    queue,
		adapters: adapters,
		enqueue:  enqueue,
		logger:   logger.Named("jobs"),
	}, nil
}

// Validate checks the parts of req that do not need a store.
func Validate(req Request) error {
	if req.VendorID == "" {
		return fmt.Errorf("%w: vendorId is required", ErrInvalidRequest)
	}
	if !req.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}
	cfg := req.Config
	if cfg.StartPage != nil && *cfg.StartPage < 1 {
		return fmt.Errorf("%w: startPage must be >= 1", ErrInvalidRequest)
	}
	if cfg.EndPage != nil {
		if *cfg.EndPage < 1 {
			return fmt.Errorf("%w: endPage must be >= 1", ErrInvalidRequest)
		}
		if *cfg.EndPage < cfg.FirstPage() {
			return fmt.Errorf("%w: endPage %d is before startPage %d", ErrInvalidRequest, *cfg.EndPage, cfg.FirstPage())
		}
	}
	return nil
}

// Submit records a job, enqueues it under its job id and moves it to
// WAITING. An enqueue failure leaves the job FAILED.
func (s *Submitter) Submit(ctx context.Context, req Request) (crawler.CrawlJob, error) {
	if err := Validate(req); err != nil {
		return crawler.CrawlJob{}, err
	}
	vendor, err := s.vendors.GetVendor(ctx, req.VendorID)
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("load vendor %s: %w", req.VendorID, err)
	}
	if !vendor.Active {
		return crawler.CrawlJob{}, fmt.Errorf("vendor %s: %w", vendor.ID, crawler.ErrVendorInactive)
	}
	if s.adapters != nil && !s.adapters.Has(vendor.Adapter) {
		return crawler.CrawlJob{}, fmt.Errorf("%w: vendor %s uses unknown adapter %q", ErrInvalidRequest, vendor.ID, vendor.Adapter)
	}
	if req.Mode == crawler.JobModeScheduled {
		active, err := s.jobs.ListActiveJobs(ctx, vendor.ID)
		if err != nil {
			return crawler.CrawlJob{}, fmt.Errorf("list active jobs: %w", err)
		}
		if len(active) > 0 {
			return crawler.CrawlJob{}, fmt.Errorf("%w: %s (job %s)", ErrVendorBusy, vendor.ID, active[0].JobID)
		}
	}

	job, err := s.jobs.Create(ctx, vendor.ID, req.Mode, req.Config)
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("create job: %w", err)
	}
	logger := s.logger.With(zap.String("job_id", job.JobID), zap.String("vendor_id", vendor.ID))

	opts := s.enqueue
	opts.JobID = job.JobID
	task := crawler.Task{
		Kind:     crawler.TaskCrawl,
		JobID:    job.JobID,
		VendorID: vendor.ID,
		Mode:     req.Mode,
		Config:   req.Config,
	}
	if _, err := s.queue.Enqueue(ctx, task, opts); err != nil {
		msg := fmt.Sprintf("enqueue failed: %v", err)
		if _, terr := s.jobs.Transition(ctx, job.JobID, crawler.JobStatusFailed, crawler.TransitionFields{
			ErrorMessage: msg,
			ErrorDetail:  &crawler.ErrorDetail{Kind: crawler.KindWorker, Severity: crawler.SeverityHigh},
		}); terr != nil {
			logger.Error("marking job failed after enqueue error", zap.Error(terr))
		}
		return crawler.CrawlJob{}, fmt.Errorf("enqueue job %s: %w", job.JobID, err)
	}

	waiting, err := s.jobs.Transition(ctx, job.JobID, crawler.JobStatusWaiting, crawler.TransitionFields{})
	if err != nil {
		// A fast worker may already have moved the job past WAITING.
		if errors.Is(err, crawler.ErrTransitionRejected) {
			current, gerr := s.jobs.GetJob(ctx, job.JobID)
			if gerr == nil {
				return current, nil
			}
		}
		logger.Warn("job enqueued but not marked waiting", zap.Error(err))
		return job, nil
	}
	logger.Info("crawl job submitted", zap.String("mode", string(req.Mode)))
	return waiting, nil
}

// Cancel moves a non-terminal job to CANCELLED and drops its pending queue
// entry. A run already in progress finishes its current pickup.
func (s *Submitter) Cancel(ctx context.Context, jobID, reason string) (crawler.CrawlJob, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	if job.Status.Terminal() {
		return crawler.CrawlJob{}, fmt.Errorf("%w: job %s is %s", crawler.ErrTransitionRejected, jobID, job.Status)
	}
	if reason == "" {
		reason = "cancelled by request"
	}
	if entry, err := s.queue.GetJob(ctx, jobID); err == nil && entry.State != crawler.QueueActive {
		if err := s.queue.Remove(ctx, jobID); err != nil && !errors.Is(err, crawler.ErrNotFound) {
			return crawler.CrawlJob{}, fmt.Errorf("remove queue entry: %w", err)
		}
	}
	return s.jobs.Transition(ctx, jobID, crawler.JobStatusCancelled, crawler.TransitionFields{ErrorMessage: reason})
}
