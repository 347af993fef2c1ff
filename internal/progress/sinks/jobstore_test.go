package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/progress"
)

type recorderStub struct {
	calls map[string]crawler.JobCounters
	fail  map[string]error
}

func (r *recorderStub) RecordProgress(_ context.Context, jobID string, counters crawler.JobCounters) error {
	if err := r.fail[jobID]; err != nil {
		return err
	}
	r.calls[jobID] = counters
	return nil
}

func TestJobStoreSinkCollapsesPerJob(t *testing.T) {
	t.Parallel()

	rec := &recorderStub{calls: map[string]crawler.JobCounters{}}
	sink := NewJobStoreSink(rec, nil)
	now := time.Now()

	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "a", TS: now, Stage: progress.StagePageDone, Page: 1, PagesVisited: 1, TotalPages: 3, ProductsScraped: 12},
		{JobID: "a", TS: now, Stage: progress.StagePageDone, Page: 2, PagesVisited: 2, TotalPages: 3, ProductsScraped: 24},
		{JobID: "b", TS: now, Stage: progress.StagePageDone, Page: 1, PagesVisited: 1},
		{JobID: "b", TS: now, Stage: progress.StageRunDone},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]crawler.JobCounters{
		"a": {PagesVisited: 2, TotalPages: 3, ProductsScraped: 24},
	}, rec.calls)
}

func TestJobStoreSinkIgnoresFinishedJobs(t *testing.T) {
	t.Parallel()

	rec := &recorderStub{
		calls: map[string]crawler.JobCounters{},
		fail: map[string]error{
			"done":   crawler.ErrTransitionRejected,
			"broken": errors.New("db down"),
		},
	}
	sink := NewJobStoreSink(rec, nil)
	now := time.Now()

	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "done", TS: now, Stage: progress.StagePageDone, Page: 1},
		{JobID: "broken", TS: now, Stage: progress.StagePageDone, Page: 1},
	})
	require.ErrorContains(t, err, "record progress broken")
	require.NotContains(t, err.Error(), "done")
}

func TestJobStoreSinkKeepsPageErrorsOutOfCounters(t *testing.T) {
	t.Parallel()

	rec := &recorderStub{calls: map[string]crawler.JobCounters{}}
	sink := NewJobStoreSink(rec, nil)

	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "a", TS: time.Now(), Stage: progress.StagePageDone, Page: 1, PagesVisited: 1, Errors: 1},
	})
	require.NoError(t, err)
	c := rec.calls["a"]
	require.Zero(t, c.Errors)
	require.LessOrEqual(t, c.ProductsSaved+c.ProductsUpdated+c.Errors, c.ProductsScraped)
}
