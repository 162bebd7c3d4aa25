package transport

import (
	"context"
	"sync/atomic"
)

// EventQueue is a bounded, closeable queue of connection events. The
// bridge reader publishes into it and the session supervisor consumes
// from it; closing wakes both sides.
type EventQueue struct {
	events chan Event
	done   chan struct{}
	closed atomic.Bool
}

func NewEventQueue(size int) *EventQueue {
	if size <= 0 {
		size = 100
	}
	return &EventQueue{
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

func (q *EventQueue) Publish(ctx context.Context, ev Event) error {
	if q.closed.Load() {
		return ErrClosed
	}
	select {
	case q.events <- ev:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events exposes the receive side. The channel is never closed; callers
// select against Done() to observe shutdown.
func (q *EventQueue) Events() <-chan Event { return q.events }

func (q *EventQueue) Done() <-chan struct{} { return q.done }

func (q *EventQueue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.done)
	}
}
