// Package memory records published notification payloads in process.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	batches  int
	failWith error
}

// PublishedMessage captures one published payload.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later publish return err. Pass nil to clear it.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return "", p.failWith
	}
	return p.record(topic, payload), nil
}

// PublishBatch records every payload as one call. A configured failure
// rejects the whole batch.
func (p *Publisher) PublishBatch(_ context.Context, topic string, payloads []any) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return nil, p.failWith
	}
	p.batches++
	ids := make([]string, 0, len(payloads))
	for _, payload := range payloads {
		ids = append(ids, p.record(topic, payload))
	}
	return ids, nil
}

func (p *Publisher) record(topic string, payload any) string {
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	return id
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Batches reports how many PublishBatch calls succeeded.
func (p *Publisher) Batches() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.batches
}
