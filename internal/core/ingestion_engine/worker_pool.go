package ingestion_engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/markdave123-py/uwia/internal/logger"
)

var ErrQueueClosed = errors.New("queue is shutting down")

var _ Queue = (*WorkerPool)(nil)

// WorkerPool runs jobs on a fixed set of in-process goroutines fed by a bounded channel.
type WorkerPool struct {
	handler Handler
	logger  *slog.Logger
	workers int
	timeout time.Duration

	jobs chan Job
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	// sends counts Enqueue calls that may still write to jobs.
	mu     sync.Mutex
	closed bool
	sends  sync.WaitGroup
}

type PoolOption func(*WorkerPool)

func WithWorkers(n int) PoolOption {
	return func(p *WorkerPool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) PoolOption {
	return func(p *WorkerPool) {
		if n > 0 {
			p.jobs = make(chan Job, n)
		}
	}
}

func WithJobTimeout(d time.Duration) PoolOption {
	return func(p *WorkerPool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewWorkerPool builds the pool; call Start to launch the workers.
func NewWorkerPool(h Handler, log *slog.Logger, opts ...PoolOption) *WorkerPool {
	p := &WorkerPool{
		handler: h,
		logger:  logger.OrDefault(log).With("component", "worker_pool"),
		workers: 2,
		timeout: 30 * time.Minute,
		jobs:    make(chan Job, 64),
		quit:    make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start launches the workers once. Jobs run on their own timeout, detached from the
// request that enqueued them.
func (p *WorkerPool) Start() {
	p.once.Do(func() {
		for w := 1; w <= p.workers; w++ {
			p.wg.Add(1)
			go func(w int) {
				defer p.wg.Done()
				for job := range p.jobs {
					p.run(w, job)
				}
				p.logger.Debug("worker stopped", "worker_id", w)
			}(w)
		}
	})
}

func (p *WorkerPool) run(w int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker panic", "worker_id", w, "session_id", job.SessionID, "panic", r)
		}
	}()

	p.logger.Info("processing session", "worker_id", w, "session_id", job.SessionID)
	if err := p.handler.Handle(ctx, job); err != nil {
		p.logger.Error("session processing failed", "worker_id", w, "session_id", job.SessionID, "error", err)
	}
}

// Enqueue schedules a job. If the queue is full it blocks until space frees up, ctx is
// done or the pool shuts down.
func (p *WorkerPool) Enqueue(ctx context.Context, job Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrQueueClosed
	}
	p.sends.Add(1)
	p.mu.Unlock()
	defer p.sends.Done()

	select {
	case p.jobs <- job:
		return nil
	default:
	}
	p.logger.Warn("queue full, applying backpressure", "session_id", job.SessionID)
	select {
	case p.jobs <- job:
		return nil
	case <-p.quit:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs, releases blocked producers and waits for queued jobs
// to drain or ctx to end.
func (p *WorkerPool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	p.mu.Unlock()

	p.sends.Wait()
	close(p.jobs)

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn("shutdown interrupted by context")
	case <-done:
		p.logger.Info("queue drained")
	}
}
