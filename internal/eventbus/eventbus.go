// Package eventbus provides a small fan-out publish/subscribe bus used to
// decouple the coordinators from observers such as the status log.
package eventbus

import "sync"

// Bus is a type-safe publish/subscribe bus for events of type T. Delivery is
// non-blocking: a subscriber that falls behind loses events rather than
// stalling publishers.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   []chan T
	closed bool
}

// New creates an empty Bus.
func New[T any]() *Bus[T] { return &Bus[T]{} }

// Publish delivers e to every subscriber whose buffer has room.
func (b *Bus[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a subscriber and returns its channel. The channel is
// closed when the subscriber is removed or the bus closes.
func (b *Bus[T]) Subscribe() <-chan T {
	ch := make(chan T, 16)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes sub and closes its channel.
func (b *Bus[T]) Unsubscribe(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(ch)
			}
			return
		}
	}
}

// Close closes every subscriber channel and rejects further publishes.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
