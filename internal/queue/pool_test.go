package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaverse/hub/internal/bus"
)

func quietPool(t *testing.T, q *Queue, workers int) *Pool {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPool(q, workers, nil, logger)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPool_RegisterHandler(t *testing.T) {
	p := quietPool(t, quietQueue(t), 1)

	h := func(context.Context, *Job) (any, error) { return nil, nil }
	require.NoError(t, p.RegisterHandler("import", h))
	assert.Error(t, p.RegisterHandler("import", h), "one handler per type")
	assert.Error(t, p.RegisterHandler("", h))
	assert.Error(t, p.RegisterHandler("x", nil))
}

func TestPool_ProcessesJobs(t *testing.T) {
	q := quietQueue(t)
	p := quietPool(t, q, 2)

	var handled atomic.Int64
	require.NoError(t, p.RegisterHandler("work", func(_ context.Context, job *Job) (any, error) {
		handled.Add(1)
		return "ok", nil
	}))

	p.Start(context.Background())
	defer p.Stop()

	jobs := make([]*Job, 5)
	for i := range jobs {
		job, err := q.Enqueue("work", nil, PriorityNormal, 1)
		require.NoError(t, err)
		jobs[i] = job
	}

	waitFor(t, 2*time.Second, func() bool { return handled.Load() == 5 })
	waitFor(t, 2*time.Second, func() bool {
		for _, j := range jobs {
			if j.Status != StatusCompleted {
				return false
			}
		}
		return true
	})
}

func TestPool_DeadLetterAfterMaxAttempts(t *testing.T) {
	q := quietQueue(t)
	p := quietPool(t, q, 1)

	var invocations atomic.Int64
	require.NoError(t, p.RegisterHandler("doomed", func(context.Context, *Job) (any, error) {
		invocations.Add(1)
		return nil, errors.New("always fails")
	}))

	p.Start(context.Background())
	defer p.Stop()

	job, err := q.Enqueue("doomed", nil, PriorityNormal, 3)
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool { return len(q.DeadLetter()) == 1 })

	// Give a misbehaving pool a chance to over-invoke.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(3), invocations.Load(), "handler sees exactly max_attempts invocations")

	dead := q.DeadLetter()
	require.Len(t, dead, 1)
	assert.Equal(t, job.ID, dead[0].ID)
	assert.Equal(t, StatusDead, job.Status)
}

func TestPool_MissingHandlerFailsJob(t *testing.T) {
	q := quietQueue(t)
	p := quietPool(t, q, 1)

	p.Start(context.Background())
	defer p.Stop()

	_, err := q.Enqueue("unregistered", nil, PriorityNormal, 1)
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool { return len(q.DeadLetter()) == 1 })
	assert.Contains(t, q.DeadLetter()[0].Err, "no handler")
}

func TestPool_HandlerPanicContained(t *testing.T) {
	q := quietQueue(t)
	p := quietPool(t, q, 1)

	require.NoError(t, p.RegisterHandler("panicky", func(context.Context, *Job) (any, error) {
		panic("boom")
	}))

	p.Start(context.Background())
	defer p.Stop()

	_, err := q.Enqueue("panicky", nil, PriorityNormal, 1)
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool { return len(q.DeadLetter()) == 1 })
	assert.Contains(t, q.DeadLetter()[0].Err, "handler panic")
}

func TestPool_StopPublishesStats(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(bus.WithLogger(logger))
	q := New(WithLogger(logger))
	p := NewPool(q, 1, b, logger)

	statsCh := make(chan bus.Message, 1)
	require.NoError(t, b.Subscribe("queue/stats", bus.HandlerFunc(func(m bus.Message) {
		statsCh <- m
	})))

	require.NoError(t, p.RegisterHandler("work", func(context.Context, *Job) (any, error) {
		return nil, nil
	}))

	p.Start(context.Background())
	_, err := q.Enqueue("work", nil, PriorityNormal, 1)
	require.NoError(t, err)
	waitFor(t, 2*time.Second, func() bool { return p.completed.Load() == 1 })

	p.Stop()
	p.Stop() // idempotent

	select {
	case m := <-statsCh:
		assert.Equal(t, int64(1), m.Payload["completed"])
	default:
		t.Fatal("no stats published on stop")
	}
}
