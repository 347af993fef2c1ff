// Package system is the wall clock used outside tests: UTC timestamps and
// context-aware pauses between vendor requests.
package system

import (
	"context"
	"time"
)

// Clock implements crawler.Clock and runner.Pauser.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Pause blocks for delay or until ctx is done, whichever comes first.
func (Clock) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
