package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
)

// ScheduleStore keeps one recurring schedule per vendor.
type ScheduleStore struct {
	mu        sync.RWMutex
	schedules map[string]crawler.Schedule
}

// NewScheduleStore constructs an empty ScheduleStore.
func NewScheduleStore() *ScheduleStore {
	return &ScheduleStore{schedules: make(map[string]crawler.Schedule)}
}

// PutSchedule stores s, replacing any schedule for the same vendor.
func (s *ScheduleStore) PutSchedule(_ context.Context, sched crawler.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sched.VendorID] = sched
	return nil
}

// GetSchedule returns the vendor's schedule.
func (s *ScheduleStore) GetSchedule(_ context.Context, vendorID string) (crawler.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[vendorID]
	if !ok {
		return crawler.Schedule{}, fmt.Errorf("schedule %s: %w", vendorID, crawler.ErrNotFound)
	}
	return sched, nil
}

// DeleteSchedule removes the vendor's schedule. Missing schedules are not an
// error.
func (s *ScheduleStore) DeleteSchedule(_ context.Context, vendorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, vendorID)
	return nil
}

// ListSchedules returns every schedule ordered by vendor id.
func (s *ScheduleStore) ListSchedules(_ context.Context) ([]crawler.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, sched)
	}
	slices.SortFunc(out, func(a, b crawler.Schedule) int { return strings.Compare(a.VendorID, b.VendorID) })
	return out, nil
}
