package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/metrics"
)

// DefaultTopic is the outbound topic consumed by the email service.
const DefaultTopic = "price-alert-emails"

const unknownUserName = "Unknown"

// NotificationJob is the payload published for one user.
type NotificationJob struct {
	UserID       string                `json:"userId"`
	Email        string                `json:"email"`
	UserName     string                `json:"userName"`
	PriceChanges []crawler.PriceChange `json:"priceChanges"`
}

// Dispatcher publishes notification jobs.
type Dispatcher struct {
	publisher crawler.Publisher
	topic     string
	logger    *zap.Logger
}

// NewDispatcher builds a Dispatcher for topic.
func NewDispatcher(publisher crawler.Publisher, topic string, logger *zap.Logger) (*Dispatcher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{publisher: publisher, topic: topic, logger: logger.Named("notify")}, nil
}

// Jobs builds exactly one job per recipient.
func Jobs(recipients []Recipient) []NotificationJob {
	jobs := make([]NotificationJob, 0, len(recipients))
	for _, r := range recipients {
		name := r.Subscriber.Name
		if name == "" {
			name = unknownUserName
		}
		jobs = append(jobs, NotificationJob{
			UserID:       r.Subscriber.UserID,
			Email:        r.Subscriber.Email,
			UserName:     name,
			PriceChanges: r.Changes,
		})
	}
	return jobs
}

// Dispatch publishes one job per recipient in a single batched call and
// returns how many were sent.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []Recipient) (int, error) {
	jobs := Jobs(recipients)
	if len(jobs) == 0 {
		return 0, nil
	}
	payloads := make([]any, len(jobs))
	for i := range jobs {
		payloads[i] = jobs[i]
	}
	if _, err := d.publisher.PublishBatch(ctx, d.topic, payloads); err != nil {
		return 0, crawler.NewError(crawler.KindNetwork, "publish notification jobs", err)
	}
	metrics.ObserveNotificationJobs(len(jobs))
	d.logger.Info("notification jobs published",
		zap.String("topic", d.topic),
		zap.Int("jobs", len(jobs)),
	)
	return len(jobs), nil
}

// Notifier chains a Resolver and a Dispatcher.
type Notifier struct {
	Resolver   *Resolver
	Dispatcher *Dispatcher
}

// Notify resolves recipients for changes and dispatches their jobs.
func (n *Notifier) Notify(ctx context.Context, changes []crawler.PriceChange) (int, error) {
	recipients, err := n.Resolver.Resolve(ctx, changes)
	if err != nil {
		return 0, err
	}
	return n.Dispatcher.Dispatch(ctx, recipients)
}
