// Package dispatcher fans queue consumption out over a pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Worker consumes the queue until ctx ends.
type Worker interface {
	Run(ctx context.Context)
}

// Dispatcher runs a fixed pool of workers.
type Dispatcher struct {
	workers []Worker
	logger  *zap.Logger
}

// New creates a Dispatcher over workers. The pool size is len(workers).
func New(workers []Worker, logger *zap.Logger) (*Dispatcher, error) {
	if len(workers) == 0 {
		return nil, errors.New("dispatcher needs at least one worker")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{workers: workers, logger: logger.Named("dispatcher")}, nil
}

// Size reports the pool size.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until ctx finishes and every worker has
// returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("starting worker pool", zap.Int("workers", len(d.workers)))
	var wg sync.WaitGroup
	for i, w := range d.workers {
		wg.Add(1)
		go func(idx int, wk Worker) {
			defer wg.Done()
			wk.Run(ctx)
			d.logger.Debug("worker exited", zap.Int("worker", idx))
		}(i, w)
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("worker pool stopped")
	return nil
}
