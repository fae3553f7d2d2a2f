package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageQueue_FIFO(t *testing.T) {
	q := newMessageQueue()

	for i := 0; i < 3; i++ {
		ok := q.Enqueue(asyncPublish{topic: fmt.Sprintf("t/%d", i)})
		require.True(t, ok)
	}

	for i := 0; i < 3; i++ {
		item, ok := q.tryDequeue()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("t/%d", i), item.topic)
	}

	_, ok := q.tryDequeue()
	assert.False(t, ok, "empty queue")
}

func TestMessageQueue_DequeueBlocksUntilAvailable(t *testing.T) {
	q := newMessageQueue()

	done := make(chan asyncPublish)
	go func() {
		item, ok := q.Dequeue()
		if ok {
			done <- item
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(asyncPublish{topic: "late"})

	select {
	case item := <-done:
		assert.Equal(t, "late", item.topic)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock")
	}
}

func TestMessageQueue_CloseUnblocksAndRejects(t *testing.T) {
	q := newMessageQueue()

	done := make(chan bool)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close() // idempotent

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after close")
	}

	assert.False(t, q.Enqueue(asyncPublish{topic: "x"}))
}

func TestMessageQueue_DrainsAfterClose(t *testing.T) {
	q := newMessageQueue()
	q.Enqueue(asyncPublish{topic: "a"})
	q.Enqueue(asyncPublish{topic: "b"})
	q.Close()

	item, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "a", item.topic)

	item, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "b", item.topic)

	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestMessageQueue_ConcurrentProducers(t *testing.T) {
	q := newMessageQueue()

	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(asyncPublish{topic: "c"})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Len())
}
