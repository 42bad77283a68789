// Package ingest carries worker output to the single consumer that owns the
// line buffer, the exchange registry state and the file log batcher.
package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/epalmerini/burrow/internal/rabbitmq"
)

// ErrClosed is returned by Next once the queue is closed and drained.
var ErrClosed = errors.New("ingest queue closed")

// Event is either a delivery or a worker exit notice.
type Event struct {
	Delivery *rabbitmq.Delivery
	Stop     *rabbitmq.Stop
}

// Queue is an unbounded multi-producer, single-consumer hand-off. Producers
// never block; the consumer waits on a wakeup channel.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	wake   chan struct{}
}

func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Deliver implements rabbitmq.Sink.
func (q *Queue) Deliver(d rabbitmq.Delivery) { q.push(Event{Delivery: &d}) }

// Stopped implements rabbitmq.Sink.
func (q *Queue) Stopped(s rabbitmq.Stop) { q.push(Event{Stop: &s}) }

func (q *Queue) push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Next blocks until at least one event is queued and returns up to max of
// them in arrival order. max <= 0 returns everything queued.
func (q *Queue) Next(ctx context.Context, max int) ([]Event, error) {
	for {
		q.mu.Lock()
		if n := len(q.items); n > 0 {
			if max <= 0 || max > n {
				max = n
			}
			batch := make([]Event, max)
			copy(batch, q.items)
			clear(q.items[:max])
			q.items = q.items[max:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return batch, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-q.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close stops accepting events and wakes a waiting consumer. Events already
// queued can still be read.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
