package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/seedbank-crawler/internal/clock/system"
	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/id/uuid"
)

const jobColumns = `id, job_id, vendor_id, status, mode, config, counters, created_at, updated_at, started_at, completed_at, duration_ms, error_message, error_detail`

// JobStore persists crawl jobs in the crawl_jobs table.
type JobStore struct {
	db    DB
	ids   crawler.IDGenerator
	clock crawler.Clock
}

// NewJobStore builds a JobStore on db. Nil collaborators get the uuid v7
// generator and the system clock.
func NewJobStore(db DB, ids crawler.IDGenerator, clock crawler.Clock) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		ids = uuid.New()
	}
	if clock == nil {
		clock = system.New()
	}
	return &JobStore{db: db, ids: ids, clock: clock}, nil
}

// Create inserts a CREATED job.
func (s *JobStore) Create(ctx context.Context, vendorID string, mode crawler.JobMode, cfg crawler.CrawlConfig) (crawler.CrawlJob, error) {
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
	cfgJSON, err := json.Marshal(job.Config)
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("marshal config: %w", err)
	}
	countersJSON, err := json.Marshal(job.Counters)
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("marshal counters: %w", err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO crawl_jobs (id, job_id, vendor_id, status, mode, config, counters, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.JobID, job.VendorID, string(job.Status), string(job.Mode), cfgJSON, countersJSON, now, now,
	)
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("insert crawl job: %w", err)
	}
	return job, nil
}

// Transition applies a status change guarded by the row's current status.
// The UPDATE only matches rows still in a status the change may leave, so
// concurrent writers cannot regress a job or revive a terminal one.
func (s *JobStore) Transition(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	fields crawler.TransitionFields,
) (crawler.CrawlJob, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	if err := crawler.ApplyTransition(&job, status, fields, s.clock.Now()); err != nil {
		return job, err
	}
	countersJSON, err := json.Marshal(job.Counters)
	if err != nil {
		return job, fmt.Errorf("marshal counters: %w", err)
	}
	var detailJSON []byte
	if job.ErrorDetail != nil {
		if detailJSON, err = json.Marshal(job.ErrorDetail); err != nil {
			return job, fmt.Errorf("marshal error detail: %w", err)
		}
	}
	tag, err := s.db.Exec(ctx, `
UPDATE crawl_jobs
SET status = $2, counters = $3, updated_at = $4, started_at = $5, completed_at = $6,
	duration_ms = $7, error_message = $8, error_detail = $9
WHERE job_id = $1 AND status = ANY($10)`,
		jobID,
		string(job.Status),
		countersJSON,
		job.UpdatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.DurationMs,
		job.ErrorMessage,
		detailJSON,
		statusStrings(sourcesFor(status)),
	)
	if err != nil {
		return job, fmt.Errorf("update crawl job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job, fmt.Errorf("%w: job %s changed concurrently", crawler.ErrTransitionRejected, jobID)
	}
	return job, nil
}

// RecordProgress overwrites counters while the job is non-terminal.
func (s *JobStore) RecordProgress(ctx context.Context, jobID string, counters crawler.JobCounters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
UPDATE crawl_jobs SET counters = $2, updated_at = $3
WHERE job_id = $1 AND status = ANY($4)`,
		jobID, countersJSON, s.clock.Now(), statusStrings(crawler.NonTerminalStatuses),
	)
	if err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s is missing or terminal", crawler.ErrTransitionRejected, jobID)
	}
	return nil
}

// ListActiveJobs returns non-terminal jobs for vendorID, or for every vendor
// when vendorID is empty.
func (s *JobStore) ListActiveJobs(ctx context.Context, vendorID string) ([]crawler.CrawlJob, error) {
	return s.ListJobs(ctx, crawler.JobFilter{VendorID: vendorID, Statuses: crawler.NonTerminalStatuses})
}

// GetJob loads a job by its external id.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.CrawlJob, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM crawl_jobs WHERE job_id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.CrawlJob{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
		}
		return crawler.CrawlJob{}, fmt.Errorf("get crawl job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs matching filter, newest first.
func (s *JobStore) ListJobs(ctx context.Context, filter crawler.JobFilter) ([]crawler.CrawlJob, error) {
	var (
		where []string
		args  []any
	)
	if filter.VendorID != "" {
		args = append(args, filter.VendorID)
		where = append(where, fmt.Sprintf("vendor_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, statusStrings(filter.Statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	query := `SELECT ` + jobColumns + ` FROM crawl_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list crawl jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]crawler.CrawlJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crawl job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl jobs: %w", err)
	}
	return jobs, nil
}

// sourcesFor lists the statuses a job may leave to reach to.
func sourcesFor(to crawler.JobStatus) []crawler.JobStatus {
	out := make([]crawler.JobStatus, 0, len(crawler.NonTerminalStatuses))
	for _, from := range crawler.NonTerminalStatuses {
		if crawler.CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

func scanJob(row pgx.Row) (crawler.CrawlJob, error) {
	var (
		job                  crawler.CrawlJob
		status, mode         string
		cfgJSON, countersRaw []byte
		detailJSON           []byte
		startedAt, completed *time.Time
		durationMs           *int64
	)
	err := row.Scan(
		&job.ID,
		&job.JobID,
		&job.VendorID,
		&status,
		&mode,
		&cfgJSON,
		&countersRaw,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completed,
		&durationMs,
		&job.ErrorMessage,
		&detailJSON,
	)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	job.Status = crawler.JobStatus(status)
	job.Mode = crawler.JobMode(mode)
	job.StartedAt = startedAt
	job.CompletedAt = completed
	job.DurationMs = durationMs
	if len(cfgJSON) > 0 {
		if err := json.Unmarshal(cfgJSON, &job.Config); err != nil {
			return crawler.CrawlJob{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if len(countersRaw) > 0 {
		if err := json.Unmarshal(countersRaw, &job.Counters); err != nil {
			return crawler.CrawlJob{}, fmt.Errorf("decode counters: %w", err)
		}
	}
	if len(detailJSON) > 0 {
		var detail crawler.ErrorDetail
		if err := json.Unmarshal(detailJSON, &detail); err != nil {
			return crawler.CrawlJob{}, fmt.Errorf("decode error detail: %w", err)
		}
		job.ErrorDetail = &detail
	}
	return job, nil
}
