// Package scheduler fires recurring scheduled crawls for vendors with an
// auto-crawl interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/seedbank-crawler/internal/clock/system"
	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/jobs"
)

const defaultTick = time.Minute

// Store persists one schedule per vendor.
type Store interface {
	PutSchedule(ctx context.Context, sched crawler.Schedule) error
	GetSchedule(ctx context.Context, vendorID string) (crawler.Schedule, error)
	DeleteSchedule(ctx context.Context, vendorID string) error
	ListSchedules(ctx context.Context) ([]crawler.Schedule, error)
}

// Submitter starts a crawl job.
type Submitter interface {
	Submit(ctx context.Context, req jobs.Request) (crawler.CrawlJob, error)
}

// Config tunes the scheduler loop.
type Config struct {
	Tick time.Duration
}

// Scheduler owns recurring crawl schedules.
type Scheduler struct {
	store   Store
	vendors crawler.VendorStore
	submit  Submitter
	clock   crawler.Clock
	tick    time.Duration
	parser  cron.Parser
	logger  *zap.Logger
}

// New builds a Scheduler.
func New(store Store, vendors crawler.VendorStore, submit Submitter, cfg Config, clock crawler.Clock, logger *zap.Logger) (*Scheduler, error) {
	if store == nil || vendors == nil || submit == nil {
		return nil, fmt.Errorf("schedule store, vendor store and submitter are required")
	}
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:   store,
		vendors: vendors,
		submit:  submit,
		clock:   clock,
		tick:    cfg.Tick,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:  logger.Named("scheduler"),
	}, nil
}

// Every fires at Start and every Interval after it.
type Every struct {
	Start    time.Time
	Interval time.Duration
}

// Next returns the first firing strictly after t.
func (e Every) Next(t time.Time) time.Time {
	if t.Before(e.Start) {
		return e.Start
	}
	if e.Interval <= 0 {
		return time.Time{}
	}
	elapsed := t.Sub(e.Start)
	steps := elapsed/e.Interval + 1
	return e.Start.Add(steps * e.Interval)
}

// CronSpec renders a descriptive cron expression for an interval anchored
// at start's minute (and hour for daily runs).
func CronSpec(intervalHours int, start time.Time) string {
	start = start.UTC()
	if intervalHours == 24 {
		return fmt.Sprintf("%d %d * * *", start.Minute(), start.Hour())
	}
	return fmt.Sprintf("%d */%d * * *", start.Minute(), intervalHours)
}

// timing picks the cron.Schedule that computes sched's firings. Daily
// schedules are exactly their cron expression; shorter intervals stay
// anchored to StartAt, which an hour-step expression cannot express.
func (s *Scheduler) timing(sched crawler.Schedule) (cron.Schedule, error) {
	if sched.IntervalHours == 24 && sched.CronSpec != "" {
		return s.parser.Parse("CRON_TZ=UTC " + sched.CronSpec)
	}
	return Every{Start: sched.StartAt, Interval: time.Duration(sched.IntervalHours) * time.Hour}, nil
}

// ScheduleVendorRecurring replaces any existing schedule for vendorID with
// one firing every intervalHours from startTime. A zero startTime means now.
func (s *Scheduler) ScheduleVendorRecurring(ctx context.Context, vendorID string, intervalHours int, startTime time.Time) (crawler.Schedule, error) {
	if intervalHours <= 0 {
		return crawler.Schedule{}, fmt.Errorf("%w: intervalHours must be positive", jobs.ErrInvalidRequest)
	}
	if _, err := s.vendors.GetVendor(ctx, vendorID); err != nil {
		return crawler.Schedule{}, fmt.Errorf("load vendor %s: %w", vendorID, err)
	}
	now := s.clock.Now()
	if startTime.IsZero() {
		startTime = now
	}
	startTime = startTime.UTC()

	spec := CronSpec(intervalHours, startTime)
	sched := crawler.Schedule{
		VendorID:      vendorID,
		IntervalHours: intervalHours,
		StartAt:       startTime,
		CronSpec:      spec,
		CreatedAt:     now,
	}
	timing, err := s.timing(sched)
	if err != nil {
		return crawler.Schedule{}, fmt.Errorf("%w: cron spec %q: %v", jobs.ErrInvalidRequest, spec, err)
	}
	sched.NextFireAt = startTime
	if !startTime.After(now) {
		sched.NextFireAt = timing.Next(now)
	}

	if err := s.store.DeleteSchedule(ctx, vendorID); err != nil {
		return crawler.Schedule{}, fmt.Errorf("remove previous schedule: %w", err)
	}
	if err := s.store.PutSchedule(ctx, sched); err != nil {
		return crawler.Schedule{}, fmt.Errorf("store schedule: %w", err)
	}
	s.logger.Info("vendor scheduled",
		zap.String("vendor_id", vendorID),
		zap.Int("interval_hours", intervalHours),
		zap.Time("next_fire_at", sched.NextFireAt),
		zap.String("cron", spec),
	)
	return sched, nil
}

// Unschedule removes the vendor's schedule. Removing nothing is not an error.
func (s *Scheduler) Unschedule(ctx context.Context, vendorID string) error {
	if err := s.store.DeleteSchedule(ctx, vendorID); err != nil {
		return fmt.Errorf("remove schedule: %w", err)
	}
	s.logger.Info("vendor unscheduled", zap.String("vendor_id", vendorID))
	return nil
}

// Get returns the vendor's schedule.
func (s *Scheduler) Get(ctx context.Context, vendorID string) (crawler.Schedule, error) {
	return s.store.GetSchedule(ctx, vendorID)
}

// SyncVendors makes stored schedules match vendor configuration: active
// vendors with an interval get one, everyone else loses theirs. It returns
// the number of schedules written.
func (s *Scheduler) SyncVendors(ctx context.Context) (int, error) {
	vendors, err := s.vendors.ListVendors(ctx)
	if err != nil {
		return 0, fmt.Errorf("list vendors: %w", err)
	}
	written := 0
	for _, v := range vendors {
		wantHours := 0
		if v.Active && v.AutoCrawlIntervalHours != nil && *v.AutoCrawlIntervalHours > 0 {
			wantHours = *v.AutoCrawlIntervalHours
		}
		existing, err := s.store.GetSchedule(ctx, v.ID)
		switch {
		case err != nil && !errors.Is(err, crawler.ErrNotFound):
			return written, fmt.Errorf("load schedule %s: %w", v.ID, err)
		case wantHours == 0:
			if err == nil {
				if err := s.Unschedule(ctx, v.ID); err != nil {
					return written, err
				}
			}
		case err == nil && existing.IntervalHours == wantHours:
			// Already in place.
		default:
			if _, err := s.ScheduleVendorRecurring(ctx, v.ID, wantHours, time.Time{}); err != nil {
				return written, err
			}
			written++
		}
	}
	return written, nil
}

// RunDue fires every schedule whose next firing is due and advances it past
// now. Missed firings collapse into one. It returns the number of jobs
// submitted.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list schedules: %w", err)
	}
	sort.Slice(schedules, func(i, j int) bool { return schedules[i].NextFireAt.Before(schedules[j].NextFireAt) })

	now := s.clock.Now()
	fired := 0
	for _, sched := range schedules {
		if sched.NextFireAt.After(now) {
			continue
		}
		logger := s.logger.With(zap.String("vendor_id", sched.VendorID))
		job, err := s.submit.Submit(ctx, jobs.Request{VendorID: sched.VendorID, Mode: crawler.JobModeScheduled})
		switch {
		case err == nil:
			fired++
			logger.Info("scheduled crawl submitted", zap.String("job_id", job.JobID))
		case errors.Is(err, jobs.ErrVendorBusy):
			logger.Info("scheduled crawl skipped; vendor busy", zap.Error(err))
		default:
			logger.Error("scheduled crawl submit failed", zap.Error(err))
		}

		timing, err := s.timing(sched)
		if err != nil {
			logger.Warn("stored cron spec unparsable, using interval", zap.String("cron", sched.CronSpec), zap.Error(err))
			timing = Every{Start: sched.StartAt, Interval: time.Duration(sched.IntervalHours) * time.Hour}
		}
		sched.NextFireAt = timing.Next(now)
		if err := s.store.PutSchedule(ctx, sched); err != nil {
			return fired, fmt.Errorf("advance schedule %s: %w", sched.VendorID, err)
		}
	}
	return fired, nil
}

// Run calls RunDue once, then on every tick of a cron runner until ctx
// ends. A slow pass makes the next tick skip rather than overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("tick", s.tick))
	pass := func() {
		if _, err := s.RunDue(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler tick failed", zap.Error(err))
		}
	}
	pass()

	runner := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(zap.NewStdLog(s.logger)))),
	)
	runner.Schedule(cron.Every(s.tick), cron.FuncJob(pass))
	runner.Start()

	<-ctx.Done()
	<-runner.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}
