package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
)

// ScheduleStore persists recurring crawl schedules, one row per vendor.
type ScheduleStore struct {
	db DB
}

// NewScheduleStore builds a ScheduleStore on db.
func NewScheduleStore(db DB) (*ScheduleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ScheduleStore{db: db}, nil
}

// PutSchedule inserts or replaces the vendor's schedule.
func (s *ScheduleStore) PutSchedule(ctx context.Context, sched crawler.Schedule) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO crawl_schedules (vendor_id, interval_hours, start_at, next_fire_at, cron_spec, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (vendor_id) DO UPDATE SET interval_hours = EXCLUDED.interval_hours, start_at = EXCLUDED.start_at,
	next_fire_at = EXCLUDED.next_fire_at, cron_spec = EXCLUDED.cron_spec`,
		sched.VendorID, sched.IntervalHours, sched.StartAt, sched.NextFireAt, sched.CronSpec, sched.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put schedule: %w", err)
	}
	return nil
}

const scheduleColumns = `vendor_id, interval_hours, start_at, next_fire_at, cron_spec, created_at`

// GetSchedule loads the vendor's schedule.
func (s *ScheduleStore) GetSchedule(ctx context.Context, vendorID string) (crawler.Schedule, error) {
	var sched crawler.Schedule
	err := s.db.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM crawl_schedules WHERE vendor_id = $1`, vendorID).
		Scan(&sched.VendorID, &sched.IntervalHours, &sched.StartAt, &sched.NextFireAt, &sched.CronSpec, &sched.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Schedule{}, fmt.Errorf("schedule %s: %w", vendorID, crawler.ErrNotFound)
		}
		return crawler.Schedule{}, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

// DeleteSchedule removes the vendor's schedule if present.
func (s *ScheduleStore) DeleteSchedule(ctx context.Context, vendorID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM crawl_schedules WHERE vendor_id = $1`, vendorID); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

// ListSchedules returns every schedule ordered by vendor.
func (s *ScheduleStore) ListSchedules(ctx context.Context) ([]crawler.Schedule, error) {
	rows, err := s.db.Query(ctx, `SELECT `+scheduleColumns+` FROM crawl_schedules ORDER BY vendor_id`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	out := make([]crawler.Schedule, 0)
	for rows.Next() {
		var sched crawler.Schedule
		if err := rows.Scan(&sched.VendorID, &sched.IntervalHours, &sched.StartAt, &sched.NextFireAt, &sched.CronSpec, &sched.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}
