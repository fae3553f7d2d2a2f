package queue

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaverse/hub/internal/bus"
)

func quietQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	opts = append(opts, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return New(opts...)
}

func TestQueue_PriorityThenFIFO(t *testing.T) {
	q := quietQueue(t)

	priorities := []Priority{PriorityNormal, PriorityHigh, PriorityNormal, PriorityLow, PriorityHigh}
	ids := make([]string, len(priorities))
	for i, p := range priorities {
		job, err := q.Enqueue("work", nil, p, 1)
		require.NoError(t, err)
		ids[i] = job.ID
	}

	var got []Priority
	var gotIDs []string
	for i := 0; i < len(priorities); i++ {
		job := q.Dequeue(0)
		require.NotNil(t, job)
		got = append(got, job.Priority)
		gotIDs = append(gotIDs, job.ID)
	}

	assert.Equal(t, []Priority{1, 1, 5, 5, 10}, got)
	// Ties break FIFO: the first HIGH enqueued dequeues first.
	assert.Equal(t, ids[1], gotIDs[0])
	assert.Equal(t, ids[4], gotIDs[1])
	assert.Equal(t, ids[0], gotIDs[2])
	assert.Equal(t, ids[2], gotIDs[3])
}

func TestQueue_DequeueMarksProcessing(t *testing.T) {
	q := quietQueue(t)

	job, err := q.Enqueue("work", map[string]any{"k": 1}, PriorityNormal, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 0, job.AttemptCount)

	got := q.Dequeue(0)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
}

func TestQueue_DequeueTimeout(t *testing.T) {
	q := quietQueue(t)

	start := time.Now()
	job := q.Dequeue(50 * time.Millisecond)
	assert.Nil(t, job)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestQueue_DequeueUnblocksOnEnqueue(t *testing.T) {
	q := quietQueue(t)

	done := make(chan *Job)
	go func() {
		done <- q.Dequeue(2 * time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	_, err := q.Enqueue("work", nil, PriorityNormal, 1)
	require.NoError(t, err)

	select {
	case job := <-done:
		require.NotNil(t, job)
		assert.Equal(t, "work", job.Type)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock")
	}
}

func TestQueue_Complete(t *testing.T) {
	q := quietQueue(t)

	job, err := q.Enqueue("work", nil, PriorityNormal, 1)
	require.NoError(t, err)
	got := q.Dequeue(0)
	require.NotNil(t, got)

	require.NoError(t, q.Complete(got.ID, "result"))
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, "result", job.Result)

	assert.Error(t, q.Complete(got.ID, nil), "not in flight twice")
	assert.Error(t, q.Complete("job_missing", nil))
}

func TestQueue_FailReenqueuesUntilExhausted(t *testing.T) {
	q := quietQueue(t)

	job, err := q.Enqueue("work", nil, PriorityNormal, 3)
	require.NoError(t, err)

	for attempt := 1; attempt < 3; attempt++ {
		got := q.Dequeue(0)
		require.NotNil(t, got)
		assert.Equal(t, attempt, got.AttemptCount)
		require.NoError(t, q.Fail(got.ID, "transient"))
		assert.Equal(t, StatusPending, job.Status)
		assert.Empty(t, q.DeadLetter())
	}

	got := q.Dequeue(0)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.AttemptCount)
	require.NoError(t, q.Fail(got.ID, "permanent"))

	assert.Equal(t, StatusDead, job.Status)
	dead := q.DeadLetter()
	require.Len(t, dead, 1)
	assert.Equal(t, job.ID, dead[0].ID)
	assert.Equal(t, "permanent", dead[0].Err)

	assert.Nil(t, q.Dequeue(0), "dead jobs are not re-enqueued")
}

func TestQueue_PublishesLifecycleTopics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(bus.WithLogger(logger))
	q := New(WithBus(b), WithLogger(logger))

	var topics []string
	require.NoError(t, b.Subscribe("queue/job/#", bus.HandlerFunc(func(m bus.Message) {
		topics = append(topics, m.Topic)
	})))

	job, err := q.Enqueue("work", nil, PriorityNormal, 1)
	require.NoError(t, err)
	got := q.Dequeue(0)
	require.NotNil(t, got)
	require.NoError(t, q.Fail(job.ID, "boom"))

	assert.Equal(t, []string{
		"queue/job/enqueued",
		"queue/job/started",
		"queue/job/dead",
	}, topics)
}

func TestQueue_Close(t *testing.T) {
	q := quietQueue(t)
	_, err := q.Enqueue("work", nil, PriorityNormal, 1)
	require.NoError(t, err)

	q.Close()
	q.Close() // idempotent

	assert.Nil(t, q.Dequeue(0), "pending work discarded after close")

	_, err = q.Enqueue("work", nil, PriorityNormal, 1)
	assert.Error(t, err)
}

func TestQueue_EnqueueValidation(t *testing.T) {
	q := quietQueue(t)

	_, err := q.Enqueue("", nil, PriorityNormal, 1)
	assert.Error(t, err)

	job, err := q.Enqueue("work", nil, PriorityNormal, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, job.MaxAttempts, "default max attempts")
	assert.Regexp(t, `^job_[0-9a-f]{8}$`, job.ID)
}
