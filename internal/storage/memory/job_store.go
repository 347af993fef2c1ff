package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/seedbank-crawler/internal/clock/system"
	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/id/uuid"
)

// JobStore provides an in-memory crawler.JobStore.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]crawler.CrawlJob
	order []string
	ids   crawler.IDGenerator
	clock crawler.Clock
}

// NewJobStore constructs a JobStore. Nil collaborators get the uuid v7
// generator and the system clock.
func NewJobStore(ids crawler.IDGenerator, clock crawler.Clock) *JobStore {
	if ids == nil {
		ids = uuid.New()
	}
	if clock == nil {
		clock = system.New()
	}
	return &JobStore{
		jobs:  make(map[string]crawler.CrawlJob),
		ids:   ids,
		clock: clock,
	}
}

// Create stores a new job in CREATED status.
func (s *JobStore) Create(_ context.Context, vendorID string, mode crawler.JobMode, cfg crawler.CrawlConfig) (crawler.CrawlJob, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	now := s.clock.Now()
	jobID, err := crawler.NewJobID(mode, vendorID, now)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	job := crawler.CrawlJob{
		ID:        id,
		JobID:     jobID,
		VendorID:  vendorID,
		Status:    crawler.JobStatusCreated,
		Mode:      mode,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[jobID]; exists {
		return crawler.CrawlJob{}, fmt.Errorf("job %s already exists", jobID)
	}
	s.jobs[jobID] = job
	s.order = append(s.order, jobID)
	return job, nil
}

// Transition applies a monotonic status change.
func (s *JobStore) Transition(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	fields crawler.TransitionFields,
) (crawler.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.CrawlJob{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	if err := crawler.ApplyTransition(&job, status, fields, s.clock.Now()); err != nil {
		return job, err
	}
	s.jobs[jobID] = job
	return job, nil
}

// RecordProgress overwrites the counters of a non-terminal job.
func (s *JobStore) RecordProgress(_ context.Context, jobID string, counters crawler.JobCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job %s is %s", crawler.ErrTransitionRejected, jobID, job.Status)
	}
	job.Counters = counters
	job.UpdatedAt = s.clock.Now()
	s.jobs[jobID] = job
	return nil
}

// ListActiveJobs returns non-terminal jobs. An empty vendorID matches every
// vendor.
func (s *JobStore) ListActiveJobs(ctx context.Context, vendorID string) ([]crawler.CrawlJob, error) {
	return s.ListJobs(ctx, crawler.JobFilter{VendorID: vendorID, Statuses: crawler.NonTerminalStatuses})
}

// GetJob fetches a job by its external id.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.CrawlJob{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return job, nil
}

// ListJobs returns jobs matching filter, newest first.
func (s *JobStore) ListJobs(_ context.Context, filter crawler.JobFilter) ([]crawler.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.CrawlJob, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		job := s.jobs[s.order[i]]
		if filter.VendorID != "" && job.VendorID != filter.VendorID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, job.Status) {
			continue
		}
		out = append(out, job)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}
