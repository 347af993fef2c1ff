// Package memory provides an in-process crawler.WorkQueue for local
// development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/seedbank-crawler/internal/clock/system"
	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/id/uuid"
)

const (
	// maxIdleWait bounds how long Dequeue sleeps without a wake-up signal.
	maxIdleWait      = time.Second
	defaultRetention = time.Hour
)

// Options configures a Queue.
type Options struct {
	Defaults  crawler.EnqueueOptions
	// Retention is how long completed and failed entries stay readable
	// through GetJob before they are dropped.
	Retention time.Duration
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
}

type entry struct {
	crawler.QueueEntry
	backoff crawler.Backoff
	seq     int64
}

// Queue keeps tasks in a map and hands them out by priority, then age.
type Queue struct {
	mu       sync.Mutex
	entries  map[string]*entry
	seq      int64
	wake     chan struct{}
	done     chan struct{}
	closed   bool
	defaults  crawler.EnqueueOptions
	retention time.Duration
	clock     crawler.Clock
	ids       crawler.IDGenerator
}

// NewQueue constructs an empty Queue.
func NewQueue(opts Options) *Queue {
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.IDs == nil {
		opts.IDs = uuid.New()
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	return &Queue{
		entries:   make(map[string]*entry),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		defaults:  opts.Defaults.WithDefaults(),
		retention: opts.Retention,
		clock:     opts.Clock,
		ids:       opts.IDs,
	}
}

// Enqueue stores task. Re-enqueueing an id that is still pending is a no-op
// returning the same id.
func (q *Queue) Enqueue(ctx context.Context, task crawler.Task, opts crawler.EnqueueOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("enqueue canceled: %w", err)
	}
	opts = q.merge(opts)
	id := opts.JobID
	if id == "" {
		generated, err := q.ids.NewID()
		if err != nil {
			return "", err
		}
		id = generated
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", crawler.ErrQueueClosed
	}
	if existing, ok := q.entries[id]; ok {
		switch existing.State {
		case crawler.QueueWaiting, crawler.QueueDelayed, crawler.QueueActive:
			return id, nil
		}
	}
	now := q.clock.Now()
	state := crawler.QueueWaiting
	if opts.Delay > 0 {
		state = crawler.QueueDelayed
	}
	q.seq++
	q.entries[id] = &entry{
		QueueEntry: crawler.QueueEntry{
			ID:          id,
			Task:        task,
			State:       state,
			MaxAttempts: opts.Attempts,
			Priority:    opts.Priority,
			CreatedAt:   now,
			RunAt:       now.Add(opts.Delay),
		},
		backoff: opts.Backoff,
		seq:     q.seq,
	}
	q.signal()
	return id, nil
}

// Dequeue blocks until a task is due, ctx ends or the queue closes.
func (q *Queue) Dequeue(ctx context.Context) (crawler.Delivery, error) {
	for {
		delivery, wait, err := q.claim()
		if err != nil || delivery != nil {
			if delivery == nil {
				return crawler.Delivery{}, err
			}
			return *delivery, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return crawler.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.done:
			timer.Stop()
			return crawler.Delivery{}, crawler.ErrQueueClosed
		case <-q.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// claim activates the best due entry, or reports how long to wait. Finished
// entries past the retention window are dropped on the way.
func (q *Queue) claim() (*crawler.Delivery, time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, 0, crawler.ErrQueueClosed
	}
	now := q.clock.Now()
	expired := now.Add(-q.retention)
	var best *entry
	wait := maxIdleWait
	for id, e := range q.entries {
		if e.FinishedAt != nil && e.FinishedAt.Before(expired) {
			delete(q.entries, id)
			continue
		}
		if e.State != crawler.QueueWaiting && e.State != crawler.QueueDelayed {
			continue
		}
		if e.RunAt.After(now) {
			wait = min(wait, e.RunAt.Sub(now))
			continue
		}
		if best == nil || e.Priority > best.Priority || (e.Priority == best.Priority && e.seq < best.seq) {
			best = e
		}
	}
	if best == nil {
		return nil, wait, nil
	}
	best.State = crawler.QueueActive
	best.AttemptsMade++
	processed := now
	best.ProcessedAt = &processed
	return &crawler.Delivery{
		ID:          best.ID,
		Task:        best.Task,
		Attempt:     best.AttemptsMade,
		MaxAttempts: best.MaxAttempts,
	}, 0, nil
}

// Ack marks an active task completed.
func (q *Queue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.active(id)
	if err != nil {
		return err
	}
	finished := q.clock.Now()
	e.State = crawler.QueueCompleted
	e.FinishedAt = &finished
	return nil
}

// Nack records a failed attempt. Retryable failures with attempts left are
// delayed by the task's backoff and willRetry is true; everything else is
// dead-lettered in the failed state.
func (q *Queue) Nack(_ context.Context, id string, cause error, retryable bool) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.active(id)
	if err != nil {
		return false, err
	}
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	now := q.clock.Now()
	e.FailedReason = cause.Error()
	if retryable && e.AttemptsMade < e.MaxAttempts {
		e.State = crawler.QueueDelayed
		e.RunAt = now.Add(e.backoff.Next(e.AttemptsMade))
		q.signal()
		return true, nil
	}
	e.State = crawler.QueueFailed
	e.FinishedAt = &now
	return false, nil
}

// GetJob returns a snapshot of the entry.
func (q *Queue) GetJob(_ context.Context, id string) (crawler.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return crawler.QueueEntry{}, fmt.Errorf("queue entry %s: %w", id, crawler.ErrNotFound)
	}
	return e.QueueEntry, nil
}

// Remove deletes the entry whatever its state.
func (q *Queue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[id]; !ok {
		return fmt.Errorf("queue entry %s: %w", id, crawler.ErrNotFound)
	}
	delete(q.entries, id)
	return nil
}

// Counts returns the number of entries per state.
func (q *Queue) Counts() map[crawler.QueueState]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[crawler.QueueState]int)
	for _, e := range q.entries {
		out[e.State]++
	}
	return out
}

// Close wakes blocked consumers with ErrQueueClosed. Closing twice is safe.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) active(id string) (*entry, error) {
	e, ok := q.entries[id]
	if !ok {
		return nil, fmt.Errorf("queue entry %s: %w", id, crawler.ErrNotFound)
	}
	if e.State != crawler.QueueActive {
		return nil, fmt.Errorf("queue entry %s is %s, not active", id, e.State)
	}
	return e, nil
}

func (q *Queue) merge(opts crawler.EnqueueOptions) crawler.EnqueueOptions {
	if opts.Attempts <= 0 {
		opts.Attempts = q.defaults.Attempts
	}
	if opts.Backoff.Kind == "" {
		opts.Backoff.Kind = q.defaults.Backoff.Kind
	}
	if opts.Backoff.Delay <= 0 {
		opts.Backoff.Delay = q.defaults.Backoff.Delay
	}
	return opts
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
