package crawler

import "time"

// TaskKind selects the handler a worker runs for a queued task.
type TaskKind string

// Supported task kinds.
const (
	TaskCrawl      TaskKind = "crawl"
	TaskPriceAlert TaskKind = "price-alert"
)

// Task is the payload stored on the WorkQueue.
type Task struct {
	Kind         TaskKind      `json:"kind"`
	JobID        string        `json:"jobId,omitempty"`
	VendorID     string        `json:"vendorId"`
	Mode         JobMode       `json:"mode,omitempty"`
	Config       CrawlConfig   `json:"config"`
	PriceChanges []PriceChange `json:"priceChanges,omitempty"`
}

// BackoffKind is the retry delay curve.
type BackoffKind string

// Backoff curves understood by the queues.
const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// Backoff describes how long a failed task waits before its next attempt.
type Backoff struct {
	Kind  BackoffKind   `json:"kind"`
	Delay time.Duration `json:"delay"`
}

// Next returns the wait before attempt+1 after attempt failed.
func (b Backoff) Next(attempt int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Kind != BackoffExponential || attempt <= 1 {
		return b.Delay
	}
	d := b.Delay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// EnqueueOptions tune delivery of a single task. Zero values fall back to
// the queue's defaults.
type EnqueueOptions struct {
	JobID    string
	Attempts int
	Backoff  Backoff
	Delay    time.Duration
	Priority int
}

// Default queue settings.
const (
	DefaultQueueAttempts = 3
	DefaultQueueBackoff  = 5 * time.Second
)

// WithDefaults fills unset options.
func (o EnqueueOptions) WithDefaults() EnqueueOptions {
	if o.Attempts <= 0 {
		o.Attempts = DefaultQueueAttempts
	}
	if o.Backoff.Kind == "" {
		o.Backoff.Kind = BackoffExponential
	}
	if o.Backoff.Delay <= 0 {
		o.Backoff.Delay = DefaultQueueBackoff
	}
	return o
}

// Delivery is a task handed to a worker. Attempt starts at 1.
type Delivery struct {
	ID          string
	Task        Task
	Attempt     int
	MaxAttempts int
}

// Final reports whether a failure of this delivery exhausts its retries.
func (d Delivery) Final() bool {
	return d.Attempt >= d.MaxAttempts
}

// QueueState is the lifecycle state of a queue entry.
type QueueState string

// Queue entry states.
const (
	QueueWaiting   QueueState = "waiting"
	QueueDelayed   QueueState = "delayed"
	QueueActive    QueueState = "active"
	QueueCompleted QueueState = "completed"
	QueueFailed    QueueState = "failed"
)

// QueueEntry is a point-in-time view of a queued task.
type QueueEntry struct {
	ID           string     `json:"id"`
	Task         Task       `json:"task"`
	State        QueueState `json:"state"`
	AttemptsMade int        `json:"attemptsMade"`
	MaxAttempts  int        `json:"maxAttempts"`
	Priority     int        `json:"priority"`
	CreatedAt    time.Time  `json:"createdAt"`
	RunAt        time.Time  `json:"runAt"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	FailedReason string     `json:"failedReason,omitempty"`
}
