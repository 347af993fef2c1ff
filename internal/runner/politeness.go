package runner

import (
	"context"
	"sync"
	"time"
)

// visitTracker remembers product URLs already collected during a run.
type visitTracker interface {
	MarkIfNew(url string) bool
}

type concurrentVisitTracker struct {
	seen sync.Map
}

func newConcurrentVisitTracker() *concurrentVisitTracker {
	return &concurrentVisitTracker{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *concurrentVisitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	return !loaded
}

// Pauser sleeps between requests. Implementations must return early when ctx
// is done.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}
