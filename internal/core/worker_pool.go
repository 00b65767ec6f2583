package core

// worker_pool.go runs import jobs in the background.
//
// A fixed number of workers drain a bounded queue. Submit never blocks: when
// the queue is full it fails with ErrQueueFull so the caller can report the
// job as failed and retryable. Shutdown stops accepting work and waits for
// queued and running jobs to finish.

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/laptiming/internal/metrics"
)

// ErrQueueFull is returned when every queue slot is taken. Clients should
// retry after a short delay.
var ErrQueueFull = errors.New("import queue is full, please try again later")

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Default pool sizing.
const (
	DefaultWorkers    = 4
	DefaultQueueDepth = 64
)

// Task is one unit of background work.
type Task func(ctx context.Context)

// WorkerPool runs tasks on a fixed number of goroutines.
type WorkerPool struct {
	workers int
	queue   chan Task
	metrics *metrics.Manager

	mu      sync.RWMutex
	active  int
	closed  bool
	started bool
	group   *errgroup.Group
}

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithPoolMetrics reports queue occupancy to m.
func WithPoolMetrics(m *metrics.Manager) PoolOption {
	return func(p *WorkerPool) { p.metrics = m }
}

// NewWorkerPool creates a pool with the given worker count and queue depth.
// Non-positive values fall back to the defaults.
func NewWorkerPool(workers, queueDepth int, opts ...PoolOption) *WorkerPool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	p := &WorkerPool{
		workers: workers,
		queue:   make(chan Task, queueDepth),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts the workers. Tasks receive ctx, so it should outlive request
// contexts; it is normally the process's root context. Run is idempotent.
func (p *WorkerPool) Run(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	p.group = &errgroup.Group{}
	for i := 0; i < p.workers; i++ {
		p.group.Go(func() error {
			for task := range p.queue {
				p.run(ctx, task)
			}
			return nil
		})
	}
	slog.Info("worker pool started", "workers", p.workers, "queue_depth", cap(p.queue))
}

func (p *WorkerPool) run(ctx context.Context, task Task) {
	p.setActive(1)
	defer p.setActive(-1)

	// A panicking task must not take the worker down with it.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker task panicked", "panic", r)
		}
	}()
	task(ctx)
}

func (p *WorkerPool) setActive(delta int) {
	p.mu.Lock()
	p.active += delta
	active := p.active
	p.mu.Unlock()
	p.metrics.SetQueue(len(p.queue), cap(p.queue), active)
}

// Submit enqueues task without blocking.
func (p *WorkerPool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- task:
		p.metrics.SetQueue(len(p.queue), cap(p.queue), p.active)
		return nil
	default:
		p.metrics.QueueRejected()
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for the queue to drain or ctx to
// end, whichever comes first.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	group := p.group
	p.mu.Unlock()

	if group == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("worker pool drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WorkerPoolStatus is a snapshot of the pool for monitoring.
type WorkerPoolStatus struct {
	Workers       int `json:"workers"`
	Active        int `json:"active"`
	Queued        int `json:"queued"`
	QueueCapacity int `json:"queue_capacity"`
}

// Status returns the current pool state.
func (p *WorkerPool) Status() WorkerPoolStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return WorkerPoolStatus{
		Workers:       p.workers,
		Active:        p.active,
		Queued:        len(p.queue),
		QueueCapacity: cap(p.queue),
	}
}
