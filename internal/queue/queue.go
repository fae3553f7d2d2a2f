// Package queue implements the background job queue: priority-ordered
// dispatch, bounded retry with recorded backoff, a dead-letter bucket,
// and a worker pool with a typed handler registry.
package queue

import (
	"container/heap"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediaverse/hub/internal/bus"
)

// Priority orders jobs; smaller values are more urgent.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 5
	PriorityLow    Priority = 10
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDead       Status = "dead"
)

// Job is one unit of background work. Payload is opaque to the queue;
// the handler registered for Type interprets it.
type Job struct {
	ID           string
	Type         string
	Payload      map[string]any
	Priority     Priority
	CreatedAt    time.Time
	Status       Status
	AttemptCount int
	MaxAttempts  int
	Err          string
	Result       any
}

// jobHeap orders by (priority, insertion sequence). The sequence breaks
// ties FIFO within a priority class.
type jobHeap []*heapEntry

type heapEntry struct {
	job *Job
	seq int64
}

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority < h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)        { *h = append(*h, x.(*heapEntry)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is a thread-safe priority job queue. Failed jobs re-enter the
// queue while attempts remain; exhausted jobs land in the dead-letter
// bucket. Neither the queue nor the bucket survives a restart.
type Queue struct {
	mu       sync.Mutex
	heap     jobHeap
	seq      int64
	inFlight map[string]*Job
	dead     []*Job
	closed   bool
	signal   chan struct{}

	bus    *bus.Bus
	logger *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithBus attaches an event bus for queue/job/* announcements.
func WithBus(b *bus.Bus) Option {
	return func(q *Queue) { q.bus = b }
}

// WithLogger sets the queue logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		inFlight: make(map[string]*Job),
		signal:   make(chan struct{}, 1),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue creates a pending job and adds it to the queue.
// maxAttempts <= 0 defaults to 3.
func (q *Queue) Enqueue(jobType string, payload map[string]any, priority Priority, maxAttempts int) (*Job, error) {
	if jobType == "" {
		return nil, fmt.Errorf("empty job type")
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	job := &Job{
		ID:          "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Type:        jobType,
		Payload:     payload,
		Priority:    priority,
		CreatedAt:   time.Now(),
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, fmt.Errorf("queue closed")
	}
	q.pushLocked(job)
	q.mu.Unlock()

	q.publish("queue/job/enqueued", job)
	return job, nil
}

// Dequeue returns the most urgent pending job, blocking up to timeout.
// The returned job is marked processing with its attempt count already
// incremented. Returns nil on timeout or after Close.
func (q *Queue) Dequeue(timeout time.Duration) *Job {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if job := q.tryDequeue(); job != nil {
			q.publish("queue/job/started", job)
			return job
		}

		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil
		}
		if timeout <= 0 {
			return nil
		}

		select {
		case <-q.signal:
		case <-deadline:
			return nil
		}
	}
}

func (q *Queue) tryDequeue() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.heap.Len() == 0 {
		return nil
	}
	entry := heap.Pop(&q.heap).(*heapEntry)
	job := entry.job
	job.Status = StatusProcessing
	job.AttemptCount++
	q.inFlight[job.ID] = job
	return job
}

// Complete marks an in-flight job completed with its result.
func (q *Queue) Complete(jobID string, result any) error {
	q.mu.Lock()
	job, ok := q.inFlight[jobID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("job %s not in flight", jobID)
	}
	delete(q.inFlight, jobID)
	job.Status = StatusCompleted
	job.Result = result
	q.mu.Unlock()

	q.publish("queue/job/completed", job)
	return nil
}

// Fail records a failed attempt. While attempts remain the job is
// re-enqueued immediately and the intended 2^attempts backoff is
// logged; otherwise the job moves to the dead-letter bucket.
func (q *Queue) Fail(jobID string, errMsg string) error {
	q.mu.Lock()
	job, ok := q.inFlight[jobID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("job %s not in flight", jobID)
	}
	delete(q.inFlight, jobID)
	job.Err = errMsg

	if job.AttemptCount < job.MaxAttempts {
		backoff := 1 << job.AttemptCount
		job.Status = StatusPending
		q.pushLocked(job)
		q.mu.Unlock()

		q.logger.Warn("job retry",
			"job_id", job.ID,
			"type", job.Type,
			"attempt", job.AttemptCount,
			"backoff_seconds", backoff,
			"err", errMsg)
		q.publish("queue/job/failed", job)
		return nil
	}

	job.Status = StatusDead
	q.dead = append(q.dead, job)
	q.mu.Unlock()

	q.logger.Error("job dead-lettered",
		"job_id", job.ID,
		"type", job.Type,
		"attempts", job.AttemptCount,
		"err", errMsg)
	q.publish("queue/job/dead", job)
	return nil
}

// DeadLetter returns a snapshot of the dead-letter bucket.
func (q *Queue) DeadLetter() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Job(nil), q.dead...)
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Close stops the queue; pending jobs are discarded and blocked
// Dequeue calls return nil. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

func (q *Queue) pushLocked(job *Job) {
	q.seq++
	heap.Push(&q.heap, &heapEntry{job: job, seq: q.seq})
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue) publish(topic string, job *Job) {
	if q.bus == nil {
		return
	}
	_ = q.bus.Publish(topic, map[string]any{
		"job_id":   job.ID,
		"type":     job.Type,
		"priority": int(job.Priority),
		"attempt":  job.AttemptCount,
		"status":   string(job.Status),
	}, "queue")
}
