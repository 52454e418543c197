package topics

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ErrClosed is returned by Next once the Subscription is closed
var ErrClosed = errors.New("subscription closed")

type subscriptionID uint64

// Subscription receives the values published on a Topic. Always Close it
// when done, or the Topic keeps a reference to it.
type Subscription[T any] struct {
	id    subscriptionID
	topic *Topic[T]
	ch    chan T // closed by the Topic on unsubscribe

	closed  atomic.Bool
	once    sync.Once
	dropped atomic.Uint64
}

// Channel returns the receive side. Values buffered before Close can still
// be drained after it; the channel is closed then.
func (s *Subscription[T]) Channel() <-chan T {
	return s.ch
}

// Dropped returns the number of values lost because the buffer was full
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Next blocks for the next value. It fails with the context error, or with
// ErrClosed after Close.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if s.closed.Load() {
		return zero, ErrClosed
	}
	select {
	case v, ok := <-s.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close unsubscribes. Safe to call repeatedly and concurrently.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.topic.unsubscribe(s.id)
	})
}
