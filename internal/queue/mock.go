// Package queue holds queue helpers shared by the memory and Postgres
// backends, including a testify mock of crawler.WorkQueue.
package queue

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
)

// Mock is a testify mock implementing crawler.WorkQueue.
type Mock struct {
	mock.Mock
}

var _ crawler.WorkQueue = (*Mock)(nil)

// Enqueue is the mock implementation of Enqueue.
func (m *Mock) Enqueue(ctx context.Context, task crawler.Task, opts crawler.EnqueueOptions) (string, error) {
	args := m.Called(ctx, task, opts)
	return args.String(0), args.Error(1)
}

// Dequeue is the mock implementation of Dequeue.
func (m *Mock) Dequeue(ctx context.Context) (crawler.Delivery, error) {
	args := m.Called(ctx)
	d, _ := args.Get(0).(crawler.Delivery)
	return d, args.Error(1)
}

// Ack is the mock implementation of Ack.
func (m *Mock) Ack(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// Nack is the mock implementation of Nack.
func (m *Mock) Nack(ctx context.Context, id string, cause error, retryable bool) (bool, error) {
	args := m.Called(ctx, id, cause, retryable)
	return args.Bool(0), args.Error(1)
}

// GetJob is the mock implementation of GetJob.
func (m *Mock) GetJob(ctx context.Context, id string) (crawler.QueueEntry, error) {
	args := m.Called(ctx, id)
	e, _ := args.Get(0).(crawler.QueueEntry)
	return e, args.Error(1)
}

// Remove is the mock implementation of Remove.
func (m *Mock) Remove(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
