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

func TestScheduleStoreRoundTrip(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewScheduleStore(mock)
	require.NoError(t, err)
	ctx := context.Background()

	sched := crawler.Schedule{
		VendorID:      "v1",
		IntervalHours: 12,
		StartAt:       testNow,
		NextFireAt:    testNow.Add(12 * time.Hour),
		CronSpec:      "0 */12 * * *",
		CreatedAt:     testNow,
	}
	mock.ExpectExec("INSERT INTO crawl_schedules").
		WithArgs("v1", 12, sched.StartAt, sched.NextFireAt, "0 */12 * * *", sched.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.PutSchedule(ctx, sched))

	mock.ExpectQuery("FROM crawl_schedules WHERE vendor_id").
		WithArgs("v1").
		WillReturnRows(pgxmock.NewRows([]string{"vendor_id", "interval_hours", "start_at", "next_fire_at", "cron_spec", "created_at"}).
			AddRow("v1", 12, sched.StartAt, sched.NextFireAt, sched.CronSpec, sched.CreatedAt))
	got, err := store.GetSchedule(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, sched, got)

	mock.ExpectExec("DELETE FROM crawl_schedules").
		WithArgs("v1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, store.DeleteSchedule(ctx, "v1"))

	mock.ExpectQuery("FROM crawl_schedules WHERE vendor_id").
		WithArgs("v1").
		WillReturnError(pgx.ErrNoRows)
	_, err = store.GetSchedule(ctx, "v1")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
