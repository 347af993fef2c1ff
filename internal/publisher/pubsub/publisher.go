// Package pubsub publishes notification jobs to Google Cloud Pub/Sub topics.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
)

// Publisher lazily creates one topic publisher per topic id.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Publisher
}

// New wraps client.
func New(client *pubsub.Client) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	return &Publisher{client: client, topics: make(map[string]*pubsub.Publisher)}, nil
}

func (p *Publisher) topic(name string) *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t
	}
	t := p.client.Publisher(name)
	p.topics[name] = t
	return t
}

func encode(payload any) (*pubsub.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content-type": "application/json"},
	}, nil
}

// Publish marshals payload to JSON and waits for the server id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	ids, err := p.PublishBatch(ctx, topic, []any{payload})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// PublishBatch hands every payload to the client's batcher before waiting on
// any result, so the messages leave in as few requests as the client allows.
func (p *Publisher) PublishBatch(ctx context.Context, topic string, payloads []any) ([]string, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	msgs := make([]*pubsub.Message, 0, len(payloads))
	for _, payload := range payloads {
		msg, err := encode(payload)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	t := p.topic(topic)
	results := make([]*pubsub.PublishResult, 0, len(msgs))
	for _, msg := range msgs {
		results = append(results, t.Publish(ctx, msg))
	}
	ids := make([]string, len(results))
	var errs []error
	for i, res := range results {
		id, err := res.Get(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("message %d: %w", i, err))
			continue
		}
		ids[i] = id
	}
	if len(errs) > 0 {
		return ids, fmt.Errorf("publish to %s: %w", topic, errors.Join(errs...))
	}
	return ids, nil
}

// Close flushes and stops every topic publisher.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
}
