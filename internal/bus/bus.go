// Package bus implements the in-process publish/subscribe event bus.
//
// Topics are slash-delimited. Subscription patterns may use two wildcards:
// "*" matches exactly one segment, "#" matches zero or more trailing
// segments and is only legal as the final segment. Published topics must
// be concrete (no wildcards).
package bus

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"
)

// Message is a single bus delivery.
type Message struct {
	Topic     string
	Payload   map[string]any
	Timestamp time.Time
	Source    string
}

// Handler receives messages for a matching subscription.
type Handler interface {
	HandleMessage(Message)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(Message)

// HandleMessage calls f(m).
func (f HandlerFunc) HandleMessage(m Message) { f(m) }

// DefaultHistorySize bounds the rolling message history.
const DefaultHistorySize = 1000

// Bus routes messages published on a concrete topic to every subscriber
// whose pattern matches. Fan-out for Publish runs on the caller's
// goroutine; PublishAsync hands off to a single worker goroutine so that
// deliveries to any one subscriber are serialised.
type Bus struct {
	mu       sync.Mutex
	subs     map[string][]subscription
	patterns []string // insertion order of first subscription per pattern

	history     []Message
	historySize int

	queue      *messageQueue
	workerDone chan struct{}
	workerOn   bool

	logger *slog.Logger
}

type subscription struct {
	key handlerKey
	h   Handler
}

// handlerKey identifies a subscriber for idempotent subscribe/unsubscribe.
// Func and pointer handlers are keyed by identity; comparable value
// handlers are keyed by their value.
type handlerKey struct {
	kind reflect.Kind
	ptr  uintptr
	val  any
}

func keyOf(h Handler) handlerKey {
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Func, reflect.Pointer, reflect.UnsafePointer:
		return handlerKey{kind: v.Kind(), ptr: v.Pointer()}
	default:
		if v.Comparable() {
			return handlerKey{kind: v.Kind(), val: h}
		}
		return handlerKey{kind: v.Kind(), ptr: v.Pointer()}
	}
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistorySize overrides the rolling history capacity.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historySize = n
		}
	}
}

// WithLogger sets the logger used for subscriber panics and worker state.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates a Bus with no subscribers and an empty history.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:        make(map[string][]subscription),
		historySize: DefaultHistorySize,
		queue:       newMessageQueue(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ValidatePattern reports whether a subscription pattern is well formed.
// "#" is only legal as the final segment.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty pattern")
	}
	segs := strings.Split(pattern, "/")
	for i, s := range segs {
		if s == "#" && i != len(segs)-1 {
			return fmt.Errorf("pattern %q: # must be the final segment", pattern)
		}
	}
	return nil
}

// MatchTopic reports whether a concrete topic matches a subscription
// pattern. Matching is segment-wise: "*" consumes exactly one segment,
// a trailing "#" consumes the (possibly empty) rest.
func MatchTopic(pattern, topic string) bool {
	ps := strings.Split(pattern, "/")
	ts := strings.Split(topic, "/")

	for i, p := range ps {
		if p == "#" {
			// Trailing rest, including zero remaining segments.
			return i == len(ps)-1
		}
		if i >= len(ts) {
			return false
		}
		if p != "*" && p != ts[i] {
			return false
		}
	}
	return len(ps) == len(ts)
}

// Subscribe registers a handler for a pattern. Registering the same
// (pattern, handler) pair twice is a no-op.
func (b *Bus) Subscribe(pattern string, h Handler) error {
	if err := ValidatePattern(pattern); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	key := keyOf(h)

	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.subs[pattern]
	if !ok {
		b.patterns = append(b.patterns, pattern)
	}
	for _, s := range existing {
		if s.key == key {
			return nil
		}
	}
	b.subs[pattern] = append(existing, subscription{key: key, h: h})
	return nil
}

// Unsubscribe removes a handler from a pattern. Absent pairs are a no-op.
func (b *Bus) Unsubscribe(pattern string, h Handler) {
	if h == nil {
		return
	}
	key := keyOf(h)

	b.mu.Lock()
	defer b.mu.Unlock()

	existing := b.subs[pattern]
	for i, s := range existing {
		if s.key == key {
			b.subs[pattern] = append(existing[:i:i], existing[i+1:]...)
			return
		}
	}
}

// Publish fans a message out synchronously to every matching subscriber,
// in subscription order. Subscriber panics are recovered and logged,
// never propagated to the publisher. Wildcards are not permitted in a
// published topic.
func (b *Bus) Publish(topic string, payload map[string]any, source string) error {
	if strings.Contains(topic, "*") || strings.Contains(topic, "#") {
		return fmt.Errorf("publish topic %q contains wildcard", topic)
	}
	if topic == "" {
		return fmt.Errorf("empty topic")
	}

	msg := Message{
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
		Source:    source,
	}

	// Subscriber-table reads and history mutation are exclusive with
	// other table mutations for the duration of the fan-out.
	b.mu.Lock()
	b.appendHistoryLocked(msg)
	var targets []Handler
	for _, p := range b.patterns {
		if !MatchTopic(p, topic) {
			continue
		}
		for _, s := range b.subs[p] {
			targets = append(targets, s.h)
		}
	}
	b.mu.Unlock()

	for _, h := range targets {
		b.deliver(h, msg)
	}
	return nil
}

func (b *Bus) deliver(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panic",
				"topic", msg.Topic,
				"panic", fmt.Sprint(r))
		}
	}()
	h.HandleMessage(msg)
}

// PublishAsync enqueues a message for delivery by the async worker.
// Returns an error for wildcard topics or when the bus has been stopped.
func (b *Bus) PublishAsync(topic string, payload map[string]any, source string) error {
	if strings.Contains(topic, "*") || strings.Contains(topic, "#") {
		return fmt.Errorf("publish topic %q contains wildcard", topic)
	}
	if topic == "" {
		return fmt.Errorf("empty topic")
	}
	if !b.queue.Enqueue(asyncPublish{topic: topic, payload: payload, source: source}) {
		return fmt.Errorf("async queue closed")
	}
	return nil
}

// StartAsyncWorker launches the single delivery goroutine. Calling it
// while the worker is running is a no-op.
func (b *Bus) StartAsyncWorker() {
	b.mu.Lock()
	if b.workerOn {
		b.mu.Unlock()
		return
	}
	b.workerOn = true
	b.workerDone = make(chan struct{})
	done := b.workerDone
	b.mu.Unlock()

	go func() {
		defer close(done)
		for {
			item, ok := b.queue.Dequeue()
			if !ok {
				return
			}
			_ = b.Publish(item.topic, item.payload, item.source)
		}
	}()
	b.logger.Debug("async worker started")
}

// StopAsyncWorker closes the async queue and waits up to two seconds
// for the worker to drain. Safe to call more than once.
func (b *Bus) StopAsyncWorker() {
	b.mu.Lock()
	if !b.workerOn {
		b.mu.Unlock()
		return
	}
	b.workerOn = false
	done := b.workerDone
	b.mu.Unlock()

	b.queue.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		b.logger.Warn("async worker did not drain before timeout")
	}
}

// History returns up to limit recent messages whose topic matches
// filter. An empty filter matches everything; limit <= 0 means no cap.
// Messages are returned oldest first.
func (b *Bus) History(filter string, limit int) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Message, 0, len(b.history))
	for _, m := range b.history {
		if filter == "" || MatchTopic(filter, m.Topic) {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// SubscriberCount returns the number of handlers registered for a pattern.
func (b *Bus) SubscriberCount(pattern string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[pattern])
}

func (b *Bus) appendHistoryLocked(m Message) {
	b.history = append(b.history, m)
	if len(b.history) > b.historySize {
		// Drop the oldest entries; copy keeps the backing array from
		// pinning evicted payloads.
		n := copy(b.history, b.history[len(b.history)-b.historySize:])
		b.history = b.history[:n]
	}
}
