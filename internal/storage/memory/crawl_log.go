package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
)

// CrawlLog is an append-only in-memory crawl log.
type CrawlLog struct {
	mu      sync.RWMutex
	entries []crawler.CrawlLogEntry
}

// NewCrawlLog constructs an empty CrawlLog.
func NewCrawlLog() *CrawlLog {
	return &CrawlLog{}
}

// AppendCrawlLog stores entry with the next sequential id.
func (l *CrawlLog) AppendCrawlLog(_ context.Context, entry crawler.CrawlLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.ID = int64(len(l.entries) + 1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	l.entries = append(l.entries, entry)
	return nil
}

// ListCrawlLogs returns the newest entries first, optionally for one vendor.
func (l *CrawlLog) ListCrawlLogs(_ context.Context, vendorID string, limit int) ([]crawler.CrawlLogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]crawler.CrawlLogEntry, 0)
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if vendorID != "" && e.VendorID != vendorID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
