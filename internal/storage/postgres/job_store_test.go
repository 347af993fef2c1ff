package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
)

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

var jobColumnNames = []string{
	"id", "job_id", "vendor_id", "status", "mode", "config", "counters", "created_at", "updated_at",
	"started_at", "completed_at", "duration_ms", "error_message", "error_detail",
}

func jobRows(status crawler.JobStatus, startedAt *time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(jobColumnNames).AddRow(
		"0190a1b2-0000-7000-8000-000000000001",
		"manual_v1_1717243200000_0a1b2c3d",
		"v1",
		string(status),
		"manual",
		[]byte(`{"fullSiteCrawl":true}`),
		[]byte(`{"pagesVisited":2,"productsScraped":24}`),
		testNow.Add(-time.Hour),
		testNow.Add(-time.Minute),
		startedAt,
		(*time.Time)(nil),
		(*int64)(nil),
		"",
		[]byte(nil),
	)
}

func newJobStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewJobStore(mock, fixedIDs{id: "0190a1b2-0000-7000-8000-000000000001"}, fixedClock{t: testNow})
	require.NoError(t, err)
	return store, mock
}

func TestJobStoreCreateInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs(
			"0190a1b2-0000-7000-8000-000000000001",
			pgxmock.AnyArg(),
			"v1",
			"CREATED",
			"manual",
			[]byte(`{"fullSiteCrawl":true}`),
			pgxmock.AnyArg(),
			testNow,
			testNow,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := store.Create(context.Background(), "v1", crawler.JobModeManual, crawler.CrawlConfig{FullSiteCrawl: true})
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCreated, job.Status)
	require.Regexp(t, `^manual_v1_\d+_[0-9a-f]{8}$`, job.JobID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreTransitionUsesConditionalUpdate(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	defer mock.Close()

	started := testNow.Add(-30 * time.Second)
	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs WHERE job_id = \\$1").
		WithArgs("manual_v1_1717243200000_0a1b2c3d").
		WillReturnRows(jobRows(crawler.JobStatusActive, &started))
	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs(
			"manual_v1_1717243200000_0a1b2c3d",
			"COMPLETED",
			pgxmock.AnyArg(),
			testNow,
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			"",
			[]byte(nil),
			[]string{"CREATED", "WAITING", "ACTIVE"},
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	job, err := store.Transition(context.Background(), "manual_v1_1717243200000_0a1b2c3d", crawler.JobStatusCompleted, crawler.TransitionFields{})
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.Equal(t, int64(30_000), *job.DurationMs)
	require.Equal(t, 24, job.Counters.ProductsScraped)
	require.True(t, job.Config.FullSiteCrawl)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreTransitionRejectsTerminalAndConcurrentChanges(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	defer mock.Close()
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs").
		WithArgs("manual_v1_1717243200000_0a1b2c3d").
		WillReturnRows(jobRows(crawler.JobStatusCompleted, nil))
	_, err := store.Transition(ctx, "manual_v1_1717243200000_0a1b2c3d", crawler.JobStatusActive, crawler.TransitionFields{})
	require.ErrorIs(t, err, crawler.ErrTransitionRejected)

	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs").
		WithArgs("manual_v1_1717243200000_0a1b2c3d").
		WillReturnRows(jobRows(crawler.JobStatusWaiting, nil))
	mock.ExpectExec("UPDATE crawl_jobs").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	_, err = store.Transition(ctx, "manual_v1_1717243200000_0a1b2c3d", crawler.JobStatusCancelled, crawler.TransitionFields{ErrorMessage: "queue entry missing"})
	require.ErrorIs(t, err, crawler.ErrTransitionRejected)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreRecordProgressOnlyWhileNonTerminal(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	defer mock.Close()
	ctx := context.Background()

	mock.ExpectExec("UPDATE crawl_jobs SET counters").
		WithArgs("job-1", pgxmock.AnyArg(), testNow, []string{"CREATED", "WAITING", "ACTIVE"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.RecordProgress(ctx, "job-1", crawler.JobCounters{PagesVisited: 1}))

	mock.ExpectExec("UPDATE crawl_jobs SET counters").
		WithArgs("job-2", pgxmock.AnyArg(), testNow, []string{"CREATED", "WAITING", "ACTIVE"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, store.RecordProgress(ctx, "job-2", crawler.JobCounters{}), crawler.ErrTransitionRejected)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreListJobsBuildsFilter(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	defer mock.Close()

	mock.ExpectQuery(`FROM crawl_jobs WHERE vendor_id = \$1 AND status = ANY\(\$2\) ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("v1", []string{"CREATED", "WAITING", "ACTIVE"}, 5).
		WillReturnRows(jobRows(crawler.JobStatusWaiting, nil))

	jobs, err := store.ListJobs(context.Background(), crawler.JobFilter{
		VendorID: "v1",
		Statuses: crawler.NonTerminalStatuses,
		Limit:    5,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, crawler.JobStatusWaiting, jobs[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreCompletionClearsAttemptError(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	defer mock.Close()

	started := testNow.Add(-time.Minute)
	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs WHERE job_id = \\$1").
		WithArgs("manual_v1_1717243200000_0a1b2c3d").
		WillReturnRows(pgxmock.NewRows(jobColumnNames).AddRow(
			"0190a1b2-0000-7000-8000-000000000001",
			"manual_v1_1717243200000_0a1b2c3d",
			"v1",
			"ACTIVE",
			"manual",
			[]byte(`{}`),
			[]byte(`{}`),
			testNow.Add(-time.Hour),
			testNow.Add(-time.Minute),
			&started,
			(*time.Time)(nil),
			(*int64)(nil),
			"network fetch (status 503)",
			[]byte(`{"errorType":"network","severity":"medium","statusCode":503,"attempt":1}`),
		))
	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs(
			"manual_v1_1717243200000_0a1b2c3d",
			"COMPLETED",
			pgxmock.AnyArg(),
			testNow,
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			"",
			[]byte(nil),
			[]string{"CREATED", "WAITING", "ACTIVE"},
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	job, err := store.Transition(context.Background(), "manual_v1_1717243200000_0a1b2c3d", crawler.JobStatusCompleted, crawler.TransitionFields{})
	require.NoError(t, err)
	require.Empty(t, job.ErrorMessage)
	require.Nil(t, job.ErrorDetail)
	require.NoError(t, mock.ExpectationsWereMet())
}
