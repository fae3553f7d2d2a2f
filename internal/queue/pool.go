package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediaverse/hub/internal/bus"
)

// HandlerFunc processes one job. The returned value becomes the job's
// result; a non-nil error counts as a failed attempt.
type HandlerFunc func(ctx context.Context, job *Job) (any, error)

// Pool runs N workers that repeatedly dequeue jobs and invoke the
// handler registered for each job's type. A job with no registered
// handler is a job failure, not a pool error.
type Pool struct {
	queue   *Queue
	workers int

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	completed atomic.Int64
	failed    atomic.Int64

	bus    *bus.Bus
	logger *slog.Logger
}

// NewPool creates a pool over q with the given worker count (minimum 1).
func NewPool(q *Queue, workers int, b *bus.Bus, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:    q,
		workers:  workers,
		handlers: make(map[string]HandlerFunc),
		bus:      b,
		logger:   logger,
	}
}

// RegisterHandler binds a handler to a job type. At most one handler
// per type; a second registration is an error.
func (p *Pool) RegisterHandler(jobType string, h HandlerFunc) error {
	if jobType == "" {
		return fmt.Errorf("empty job type")
	}
	if h == nil {
		return fmt.Errorf("nil handler")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.handlers[jobType]; exists {
		return fmt.Errorf("handler already registered for type %q", jobType)
	}
	p.handlers[jobType] = h
	return nil
}

// Start launches the workers. Calling Start on a running pool is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.Info("worker pool started", "workers", p.workers)
}

// Stop cancels the workers and waits up to five seconds for in-flight
// handlers, then publishes terminal stats on queue/stats. Safe to call
// more than once.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		p.logger.Warn("worker pool stop timed out with handlers in flight")
	}

	stats := p.Stats()
	if p.bus != nil {
		_ = p.bus.Publish("queue/stats", stats, "queue")
	}
	p.logger.Info("worker pool stopped",
		"completed", stats["completed"],
		"failed", stats["failed"],
		"dead", stats["dead"])
}

// Stats returns cumulative pool counters plus the dead-letter size.
func (p *Pool) Stats() map[string]any {
	return map[string]any{
		"completed": p.completed.Load(),
		"failed":    p.failed.Load(),
		"dead":      int64(len(p.queue.DeadLetter())),
		"pending":   int64(p.queue.Len()),
	}
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job := p.queue.Dequeue(200 * time.Millisecond)
		if job == nil {
			continue
		}

		p.mu.Lock()
		handler := p.handlers[job.Type]
		p.mu.Unlock()

		if handler == nil {
			p.failed.Add(1)
			_ = p.queue.Fail(job.ID, fmt.Sprintf("no handler for type %q", job.Type))
			continue
		}

		result, err := p.invoke(ctx, handler, job)
		if err != nil {
			p.failed.Add(1)
			_ = p.queue.Fail(job.ID, err.Error())
			continue
		}
		p.completed.Add(1)
		_ = p.queue.Complete(job.ID, result)
	}
}

// invoke runs the handler with panic containment; a panicking handler
// fails the attempt instead of killing the worker.
func (p *Pool) invoke(ctx context.Context, h HandlerFunc, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}
