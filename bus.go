package mediagraph

import (
	"context"
	"sync"
)

// Poster accepts lifecycle events.
type Poster interface {
	Post(ev Event) bool
}

// Bus is the unbounded, order-preserving event queue of a graph. Posting
// never blocks; each event is delivered to at most one Next call.
type Bus struct {
	mu     sync.Mutex
	queue  []Event
	closed bool
	notify chan struct{}
	done   chan struct{}
}

// NewBus creates an open bus.
func NewBus() *Bus {
	return &Bus{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post appends an event. It returns false if the bus is closed.
func (b *Bus) Post(ev Event) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// Next blocks until an event is available. Events posted before Close are
// still delivered; after that Next returns ErrBusClosed.
func (b *Bus) Next(ctx context.Context) (Event, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			ev := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return ev, nil
		}
		closed := b.closed
		b.mu.Unlock()

		if closed {
			return nil, ErrBusClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.notify:
		case <-b.done:
		}
	}
}

// Pending returns the number of queued events.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close stops accepting events. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}
