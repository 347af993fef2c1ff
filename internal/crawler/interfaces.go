package crawler

import (
	"context"
	"time"
)

// JobStore persists crawl job records and enforces monotonic status changes.
type JobStore interface {
	Create(ctx context.Context, vendorID string, mode JobMode, cfg CrawlConfig) (CrawlJob, error)
	Transition(ctx context.Context, jobID string, status JobStatus, fields TransitionFields) (CrawlJob, error)
	RecordProgress(ctx context.Context, jobID string, counters JobCounters) error
	ListActiveJobs(ctx context.Context, vendorID string) ([]CrawlJob, error)
	GetJob(ctx context.Context, jobID string) (CrawlJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]CrawlJob, error)
}

// VendorStore reads vendor definitions.
type VendorStore interface {
	GetVendor(ctx context.Context, vendorID string) (Vendor, error)
	ListVendors(ctx context.Context) ([]Vendor, error)
}

// WorkQueue delivers tasks to workers at least once.
type WorkQueue interface {
	Enqueue(ctx context.Context, task Task, opts EnqueueOptions) (string, error)
	Dequeue(ctx context.Context) (Delivery, error)
	Ack(ctx context.Context, id string) error
	Nack(ctx context.Context, id string, cause error, retryable bool) (bool, error)
	GetJob(ctx context.Context, id string) (QueueEntry, error)
	Remove(ctx context.Context, id string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	PublishBatch(ctx context.Context, topic string, payloads []any) ([]string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Hasher computes digests for snapshot keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
