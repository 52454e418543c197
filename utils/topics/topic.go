package topics

import (
	"context"
	"sync"
)

// DefaultBuffer is the channel size used when Subscribe is called with a
// size below 1.
const DefaultBuffer = 16

// New returns a new Topic
func New[T any]() *Topic[T] {
	return &Topic[T]{
		subscribers: make(map[subscriptionID]*Subscription[T]),
	}
}

// Topic is a single topic that subscribers can Subscribe() to.
// Publishing never blocks: a subscriber that does not keep up loses the
// values that do not fit in its buffer.
type Topic[T any] struct {
	mu          sync.Mutex
	subscribers map[subscriptionID]*Subscription[T]
	lastID      subscriptionID
	last        T
	hasLast     bool
}

// Publish publishes a new value to all subscribers. It returns the number
// of subscribers that had to drop the value.
func (t *Topic[T]) Publish(v T) (dropped int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = v
	t.hasLast = true
	for _, sub := range t.subscribers {
		select {
		case sub.ch <- v:
		default:
			sub.dropped.Add(1)
			dropped++
		}
	}
	return dropped
}

// Last returns the last published value, if available
func (t *Topic[T]) Last() (value T, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasLast {
		var zero T
		return zero, false
	}
	return t.last, true
}

// Len returns the number of active subscriptions
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// Subscribe creates a new Subscription with a channel buffer of size
// values. If sendLast is set, the last value, if any, is queued right away.
func (t *Topic[T]) Subscribe(size int, sendLast bool) *Subscription[T] {
	t.mu.Lock()
	defer t.mu.Unlock()

	if size < 1 {
		size = DefaultBuffer
	}
	ch := make(chan T, size)

	t.lastID++
	sub := &Subscription[T]{
		id:    t.lastID,
		topic: t,
		ch:    ch,
	}
	t.subscribers[sub.id] = sub

	if sendLast && t.hasLast {
		ch <- t.last // buffered and empty
	}
	return sub
}

// Handle consumes a topic with a simple handler func.
// This function only returns when the callback returns an error or
// the context is canceled.
func (t *Topic[T]) Handle(ctx context.Context, size int, cb func(T) error) error {
	sub := t.Subscribe(size, false)
	defer sub.Close()
	for {
		v, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if err := cb(v); err != nil {
			return err
		}
	}
}

func (t *Topic[T]) unsubscribe(id subscriptionID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub, exists := t.subscribers[id]
	if !exists {
		return
	}
	close(sub.ch)
	delete(t.subscribers, id)
}
