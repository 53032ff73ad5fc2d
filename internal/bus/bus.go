// Package bus implements the bounded broadcast channel connecting the export
// services. Every publish fans out to all live subscriptions; publishers
// never block, and a subscription that falls more than the buffer capacity
// behind skips ahead and is told how much it missed.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BJSummerfield/zendesk-export-v2/internal/event"
)

// DefaultCapacity is the ring size used when New is given a non-positive one.
const DefaultCapacity = 128

// ErrClosed is returned by Receive once the bus is closed and the
// subscription has drained every retained event.
var ErrClosed = errors.New("bus closed")

// LagError reports that a subscription fell behind the write head and its
// cursor was advanced to the oldest retained event. Receiving again resumes
// from there; the skipped events are gone.
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("subscription lagged, skipped %d events", e.Skipped)
}

// Bus is a multi-publisher, multi-subscriber broadcast ring. The zero value
// is not usable; construct with New.
type Bus struct {
	mu     sync.Mutex
	buf    []event.Event
	head   uint64 // sequence of the next write
	subs   int
	closed bool
	notify chan struct{} // closed and replaced on every publish or Close
}

// New builds a Bus retaining the last capacity events per subscription.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		buf:    make([]event.Event, capacity),
		notify: make(chan struct{}),
	}
}

// Publish appends evt for every live subscription and returns the number of
// subscriptions at publish time. Publishing with zero subscribers discards
// the event; publishing on a closed bus is a no-op. Publish never blocks.
func (b *Bus) Publish(evt event.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	b.buf[b.head%uint64(len(b.buf))] = evt
	b.head++
	close(b.notify)
	b.notify = make(chan struct{})
	return b.subs
}

// Subscribe registers a new receive cursor positioned at the current write
// head, so only events published afterwards are observed.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs++
	return &Subscription{bus: b, next: b.head}
}

// Close wakes all blocked receivers. Subscriptions drain any retained
// events and then observe ErrClosed. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
	b.notify = make(chan struct{})
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs
}

// Subscription is one independent receive cursor over the bus. It is not
// safe for concurrent use by multiple goroutines; each service owns its own.
type Subscription struct {
	bus  *Bus
	next uint64
	done bool
}

// Receive blocks until an event is available, the bus closes, or ctx ends.
// A *LagError return is recoverable: the cursor has been repositioned and
// the next call resumes from the oldest retained event.
func (s *Subscription) Receive(ctx context.Context) (event.Event, error) {
	if s.done {
		return nil, ErrClosed
	}
	b := s.bus
	for {
		b.mu.Lock()
		if s.next < b.head {
			capacity := uint64(len(b.buf))
			oldest := uint64(0)
			if b.head > capacity {
				oldest = b.head - capacity
			}
			if s.next < oldest {
				skipped := oldest - s.next
				s.next = oldest
				b.mu.Unlock()
				return nil, &LagError{Skipped: skipped}
			}
			evt := b.buf[s.next%capacity]
			s.next++
			b.mu.Unlock()
			return evt, nil
		}
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		wake := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("bus receive: %w", ctx.Err())
		case <-wake:
		}
	}
}

// Unsubscribe removes the cursor from the bus. Subsequent Receive calls
// return ErrClosed. Unsubscribe is idempotent.
func (s *Subscription) Unsubscribe() {
	if s.done {
		return
	}
	s.done = true
	s.bus.mu.Lock()
	s.bus.subs--
	s.bus.mu.Unlock()
}
