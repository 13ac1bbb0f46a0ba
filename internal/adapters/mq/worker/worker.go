// Package worker runs deferred work items pulled off the work queue.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/faultline/internal/adapters/mq/queue"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/pkg/logger"
	"github.com/okian/faultline/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	workerShutdownTimeout   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Handler executes one kind of work item.
type Handler interface {
	Handle(ctx context.Context, item queue.Item) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, item queue.Item) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, item queue.Item) error { //nolint:gocritic // hugeParam
	return f(ctx, item)
}

// Handlers routes work items to handlers by type.
type Handlers map[model.WorkItemType]Handler

// Queue defines how workers receive items.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Item
}

// Worker processes work items.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for items of an in-process queue.
type InMemoryWorker struct {
	queue    Queue
	handlers Handlers
	name     string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, handlers Handlers, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		handlers: handlers,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	items := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			if err := w.processItem(ctx, item); err != nil {
				w.logger.Error(ctx, "error processing work item",
					logger.String("item_id", item.ID),
					logger.String("type", string(item.Type)),
					logger.Error(err))
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processItem runs the handler registered for the item type. Panics inside a
// handler are contained to the item.
func (w *InMemoryWorker) processItem(ctx context.Context, item queue.Item) (err error) { //nolint:gocritic // hugeParam
	start := time.Now()
	defer func() {
		metrics.RecordWorkerLatency(metrics.SinceMillis(start))
	}()

	h, ok := w.handlers[item.Type]
	if !ok {
		metrics.RecordWorkerItem(string(item.Type), "unknown")
		return fmt.Errorf("%w: %q", ErrUnknownItemType, item.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.RecordWorkerItem(string(item.Type), "panic")
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	if err := h.Handle(ctx, item); err != nil {
		metrics.RecordWorkerItem(string(item.Type), "error")
		return fmt.Errorf("handle %s: %w", item.Type, err)
	}
	metrics.RecordWorkerItem(string(item.Type), "ok")
	return nil
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	logger logger.Logger
}

// NewPool creates a new worker pool.
func NewPool(workerCount int, q Queue, handlers Handlers) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewInMemoryWorker(
			q,
			handlers,
			WithName("worker-"+strconv.Itoa(i)),
		)
	}

	metrics.UpdateWorkerActiveCount(0)

	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}
	metrics.UpdateWorkerActiveCount(len(p.workers))
}

// Stop signals every worker and waits briefly for each to finish.
func (p *Pool) Stop() {
	for _, worker := range p.workers {
		close(worker.shutdown)
		select {
		case <-worker.done:
		case <-time.After(workerShutdownTimeout):
		}
	}
	metrics.UpdateWorkerActiveCount(0)
}

// Shutdown gracefully shuts down the entire worker pool.
func (p *Pool) Shutdown(ctx context.Context) error {
	// Close the queue first so workers drain what is left and stop.
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, worker := range p.workers {
		select {
		case <-worker.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return nil
}
