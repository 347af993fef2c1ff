// Package postgres implements crawler.WorkQueue on a Postgres table polled
// with FOR UPDATE SKIP LOCKED, so several processes can share one queue.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/seedbank-crawler/internal/clock/system"
	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/id/uuid"
)

const (
	defaultPollInterval = time.Second
	defaultStalledAfter = 30 * time.Minute
)

// stalledReason is recorded on entries whose last holder never settled them.
const stalledReason = "stalled: worker lost before settling"

// DB is the subset of *pgxpool.Pool the queue needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Options configures a Queue.
type Options struct {
	Defaults     crawler.EnqueueOptions
	PollInterval time.Duration
	// StalledAfter is how long an entry may stay active before another
	// consumer may reclaim it.
	StalledAfter time.Duration
	Clock        crawler.Clock
	IDs          crawler.IDGenerator
}

// Queue stores tasks in the queue_jobs table.
type Queue struct {
	db       DB
	defaults crawler.EnqueueOptions
	poll     time.Duration
	stalled  time.Duration
	clock    crawler.Clock
	ids      crawler.IDGenerator
}

// New builds a Queue on db.
func New(db DB, opts Options) (*Queue, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.StalledAfter <= 0 {
		opts.StalledAfter = defaultStalledAfter
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.IDs == nil {
		opts.IDs = uuid.New()
	}
	return &Queue{
		db:       db,
		defaults: opts.Defaults.WithDefaults(),
		poll:     opts.PollInterval,
		stalled:  opts.StalledAfter,
		clock:    opts.Clock,
		ids:      opts.IDs,
	}, nil
}

// Enqueue inserts task. A pending entry with the same id is left alone;
// a finished one is reset for a fresh run.
func (q *Queue) Enqueue(ctx context.Context, task crawler.Task, opts crawler.EnqueueOptions) (string, error) {
	opts = q.merge(opts)
	id := opts.JobID
	if id == "" {
		generated, err := q.ids.NewID()
		if err != nil {
			return "", err
		}
		id = generated
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}
	now := q.clock.Now()
	state := crawler.QueueWaiting
	if opts.Delay > 0 {
		state = crawler.QueueDelayed
	}
	_, err = q.db.Exec(ctx, `
INSERT INTO queue_jobs (id, payload, state, attempts_made, max_attempts, backoff_kind, backoff_ms, priority, run_at, created_at)
VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, state = EXCLUDED.state, attempts_made = 0,
	max_attempts = EXCLUDED.max_attempts, backoff_kind = EXCLUDED.backoff_kind, backoff_ms = EXCLUDED.backoff_ms,
	priority = EXCLUDED.priority, run_at = EXCLUDED.run_at, created_at = EXCLUDED.created_at,
	processed_at = NULL, finished_at = NULL, failed_reason = ''
WHERE queue_jobs.state IN ('completed', 'failed')`,
		id,
		payload,
		string(state),
		opts.Attempts,
		string(opts.Backoff.Kind),
		opts.Backoff.Delay.Milliseconds(),
		opts.Priority,
		now.Add(opts.Delay),
		now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return id, nil
}

// Dequeue polls until a due task is claimed or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (crawler.Delivery, error) {
	for {
		d, err := q.claim(ctx)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return crawler.Delivery{}, err
		}
		timer := time.NewTimer(q.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return crawler.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// claim takes the best due entry. Active entries whose processed_at is older
// than the stall window belong to a crashed consumer: the ones with attempts
// left are claimed again, the exhausted ones are dead-lettered.
func (q *Queue) claim(ctx context.Context) (crawler.Delivery, error) {
	var (
		d       crawler.Delivery
		payload []byte
	)
	now := q.clock.Now()
	err := q.db.QueryRow(ctx, `
WITH exhausted AS (
	UPDATE queue_jobs SET state = 'failed', finished_at = $1, failed_reason = $3
	WHERE state = 'active' AND processed_at < $2 AND attempts_made >= max_attempts
)
UPDATE queue_jobs SET state = 'active', attempts_made = attempts_made + 1, processed_at = $1
WHERE id = (
	SELECT id FROM queue_jobs
	WHERE (state IN ('waiting', 'delayed') AND run_at <= $1)
		OR (state = 'active' AND processed_at < $2 AND attempts_made < max_attempts)
	ORDER BY priority DESC, created_at, id
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING id, payload, attempts_made, max_attempts`,
		now,
		now.Add(-q.stalled),
		stalledReason,
	).Scan(&d.ID, &payload, &d.Attempt, &d.MaxAttempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Delivery{}, err
		}
		return crawler.Delivery{}, fmt.Errorf("claim task: %w", err)
	}
	if err := json.Unmarshal(payload, &d.Task); err != nil {
		return crawler.Delivery{}, fmt.Errorf("decode task %s: %w", d.ID, err)
	}
	return d, nil
}

// Ack marks an active task completed.
func (q *Queue) Ack(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, `
UPDATE queue_jobs SET state = 'completed', finished_at = $2 WHERE id = $1 AND state = 'active'`,
		id, q.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue entry %s is not active: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// Nack records a failed attempt; see crawler.WorkQueue.
func (q *Queue) Nack(ctx context.Context, id string, cause error, retryable bool) (bool, error) {
	var (
		attempts, maxAttempts int
		kind                  string
		backoffMs             int64
	)
	err := q.db.QueryRow(ctx, `
SELECT attempts_made, max_attempts, backoff_kind, backoff_ms FROM queue_jobs WHERE id = $1 AND state = 'active'`, id).
		Scan(&attempts, &maxAttempts, &kind, &backoffMs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("queue entry %s is not active: %w", id, crawler.ErrNotFound)
		}
		return false, fmt.Errorf("load task %s: %w", id, err)
	}
	reason := "unknown failure"
	if cause != nil {
		reason = cause.Error()
	}
	now := q.clock.Now()

	if retryable && attempts < maxAttempts {
		backoff := crawler.Backoff{Kind: crawler.BackoffKind(kind), Delay: time.Duration(backoffMs) * time.Millisecond}
		_, err := q.db.Exec(ctx, `
UPDATE queue_jobs SET state = 'delayed', run_at = $2, failed_reason = $3 WHERE id = $1 AND state = 'active'`,
			id, now.Add(backoff.Next(attempts)), reason,
		)
		if err != nil {
			return false, fmt.Errorf("delay task: %w", err)
		}
		return true, nil
	}
	_, err = q.db.Exec(ctx, `
UPDATE queue_jobs SET state = 'failed', finished_at = $2, failed_reason = $3 WHERE id = $1 AND state = 'active'`,
		id, now, reason,
	)
	if err != nil {
		return false, fmt.Errorf("fail task: %w", err)
	}
	return false, nil
}

// GetJob loads a snapshot of the entry.
func (q *Queue) GetJob(ctx context.Context, id string) (crawler.QueueEntry, error) {
	var (
		e       crawler.QueueEntry
		payload []byte
		state   string
	)
	err := q.db.QueryRow(ctx, `
SELECT id, payload, state, attempts_made, max_attempts, priority, created_at, run_at, processed_at, finished_at, failed_reason
FROM queue_jobs WHERE id = $1`, id).
		Scan(&e.ID, &payload, &state, &e.AttemptsMade, &e.MaxAttempts, &e.Priority, &e.CreatedAt, &e.RunAt,
			&e.ProcessedAt, &e.FinishedAt, &e.FailedReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.QueueEntry{}, fmt.Errorf("queue entry %s: %w", id, crawler.ErrNotFound)
		}
		return crawler.QueueEntry{}, fmt.Errorf("get queue entry: %w", err)
	}
	e.State = crawler.QueueState(state)
	if err := json.Unmarshal(payload, &e.Task); err != nil {
		return crawler.QueueEntry{}, fmt.Errorf("decode task %s: %w", id, err)
	}
	return e, nil
}

// Remove deletes the entry.
func (q *Queue) Remove(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM queue_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove queue entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue entry %s: %w", id, crawler.ErrNotFound)
	}
	return nil
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
