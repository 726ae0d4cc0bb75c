// Package bus implements the fan-out event bus used by the feed and the
// skill hub: a bounded FIFO ring for late-join replay plus per-subscriber
// channels with a drop-oldest policy for slow consumers.
package bus

import (
	"sync"
	"sync/atomic"
)

// subscriberBuffer is the per-connection outbound buffer. When a consumer
// falls this far behind, the oldest undelivered events are dropped for that
// connection; the ring makes lossless delivery unnecessary.
const subscriberBuffer = 64

// Bus fans events out to subscribers and retains the newest capacity events
// for replay. idFn extracts the sortable event ID used by since-ID replay.
type Bus[T any] struct {
	capacity int
	idFn     func(T) string

	mu   sync.Mutex
	ring []T
	subs map[*Subscriber[T]]struct{}
}

// Subscriber is one registered consumer.
type Subscriber[T any] struct {
	bus     *Bus[T]
	ch      chan T
	filter  func(T) bool
	once    sync.Once
	dropped atomic.Int64
}

// New creates a bus retaining up to capacity events for replay.
func New[T any](capacity int, idFn func(T) string) *Bus[T] {
	return &Bus[T]{
		capacity: capacity,
		idFn:     idFn,
		subs:     make(map[*Subscriber[T]]struct{}),
	}
}

// Publish appends ev to the ring and delivers it to every current
// subscriber whose filter accepts it. Ring mutation and subscriber
// iteration share one lock so a concurrent Subscribe sees ev exactly once:
// either in its replay slice or on its channel, never both.
func (b *Bus[T]) Publish(ev T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.capacity > 0 && len(b.ring) >= b.capacity {
		b.ring = append(b.ring[:0], b.ring[1:]...)
	}
	b.ring = append(b.ring, ev)

	for s := range b.subs {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		s.push(ev)
	}
}

// Subscribe registers a consumer. When sinceID is non-empty, the returned
// replay slice holds all retained events with ID > sinceID in publish
// order; live events follow on the subscriber channel. The replay snapshot
// and subscriber installation happen under one lock, so no event is missed
// or duplicated across the replay-to-live transition.
func (b *Bus[T]) Subscribe(filter func(T) bool, sinceID string) (replay []T, sub *Subscriber[T]) {
	sub = &Subscriber[T]{
		bus:    b,
		ch:     make(chan T, subscriberBuffer),
		filter: filter,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if sinceID != "" {
		for _, ev := range b.ring {
			if b.idFn(ev) <= sinceID {
				continue
			}
			if filter != nil && !filter(ev) {
				continue
			}
			replay = append(replay, ev)
		}
	}
	b.subs[sub] = struct{}{}
	return replay, sub
}

// Ring returns a copy of the retained events, oldest first.
func (b *Bus[T]) Ring() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]T, len(b.ring))
	copy(out, b.ring)
	return out
}

// Subscribers returns the current subscriber count.
func (b *Bus[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// push delivers without blocking, evicting the subscriber's oldest buffered
// event on overflow.
func (s *Subscriber[T]) push(ev T) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// C is the live event channel.
func (s *Subscriber[T]) C() <-chan T { return s.ch }

// Dropped reports how many events were discarded for this subscriber.
func (s *Subscriber[T]) Dropped() int64 { return s.dropped.Load() }

// Cancel removes the subscriber. Idempotent; the subscriber is out of the
// set before Cancel returns, so no further events are delivered.
func (s *Subscriber[T]) Cancel() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
}
