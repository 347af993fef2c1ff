package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/progress"
)

// ProgressRecorder is the slice of crawler.JobStore this sink needs.
type ProgressRecorder interface {
	RecordProgress(ctx context.Context, jobID string, counters crawler.JobCounters) error
}

// JobStoreSink persists the latest counters of each running job. Events in a
// batch are collapsed so each job costs one write per flush.
type JobStoreSink struct {
	store  ProgressRecorder
	logger *zap.Logger
}

// NewJobStoreSink builds a sink writing through store.
func NewJobStoreSink(store ProgressRecorder, logger *zap.Logger) *JobStoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobStoreSink{store: store, logger: logger}
}

// Consume writes one counter snapshot per job. Terminal events are skipped
// because the worker writes final counters together with the status change.
func (s *JobStoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	latest := make(map[string]crawler.JobCounters)
	order := make([]string, 0)
	for _, evt := range batch {
		if evt.Terminal() {
			delete(latest, evt.JobID)
			continue
		}
		if _, seen := latest[evt.JobID]; !seen {
			order = append(order, evt.JobID)
		}
		latest[evt.JobID] = crawler.JobCounters{
			PagesVisited:    evt.PagesVisited,
			TotalPages:      evt.TotalPages,
			ProductsScraped: evt.ProductsScraped,
		}
	}

	var errs []error
	for _, jobID := range order {
		counters, ok := latest[jobID]
		if !ok {
			continue
		}
		delete(latest, jobID)
		err := s.store.RecordProgress(ctx, jobID, counters)
		switch {
		case err == nil:
		case errors.Is(err, crawler.ErrTransitionRejected), errors.Is(err, crawler.ErrNotFound):
			s.logger.Debug("progress for finished or unknown job ignored", zap.String("job_id", jobID))
		default:
			errs = append(errs, fmt.Errorf("record progress %s: %w", jobID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements progress.Sink.
func (s *JobStoreSink) Close(context.Context) error {
	return nil
}
