package bus

import "sync"

// asyncPublish is a pending PublishAsync call.
type asyncPublish struct {
	topic   string
	payload map[string]any
	source  string
}

// messageQueue is a thread-safe FIFO for the async worker.
//
// The queue is unbounded so publishers never block on a slow worker.
// A buffered signal channel (size 1) coalesces wake-ups so the worker
// can wait without spinning.
type messageQueue struct {
	mu     sync.Mutex
	items  []asyncPublish
	closed bool
	signal chan struct{}
}

func newMessageQueue() *messageQueue {
	return &messageQueue{
		items:  make([]asyncPublish, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends an item. Returns false if the queue is closed.
func (q *messageQueue) Enqueue(item asyncPublish) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, item)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Dequeue blocks until an item is available or the queue is closed and
// drained. Returns false only in the closed-and-empty case.
func (q *messageQueue) Dequeue() (asyncPublish, bool) {
	for {
		if item, ok := q.tryDequeue(); ok {
			return item, true
		}

		q.mu.Lock()
		if q.closed && len(q.items) == 0 {
			q.mu.Unlock()
			return asyncPublish{}, false
		}
		q.mu.Unlock()

		<-q.signal
	}
}

func (q *messageQueue) tryDequeue() (asyncPublish, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return asyncPublish{}, false
	}

	item := q.items[0]
	// Nil the slot so the payload map is collectable before the backing
	// array is reallocated.
	q.items[0] = asyncPublish{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return item, true
}

// Len returns the number of pending items.
func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed and wakes all waiters.
func (q *messageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
