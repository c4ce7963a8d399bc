package aggregation

import (
	"sync"

	"github.com/edwingeng/deque/v2"

	"ledger-payment-stats/internal/domain"
)

// queue is the unbounded ingestion buffer. push never blocks; drain swaps
// the whole backlog out in one step so a cycle works on a fixed snapshot.
type queue struct {
	mu     sync.Mutex
	items  *deque.Deque[domain.PaymentEvent]
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{
		items:  deque.NewDeque[domain.PaymentEvent](),
		notify: make(chan struct{}, 1),
	}
}

// push appends ev and returns the new depth.
func (q *queue) push(ev domain.PaymentEvent) int {
	q.mu.Lock()
	q.items.PushBack(ev)
	n := q.items.Len()
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return n
}

// drain removes and returns everything queued, in insertion order.
func (q *queue) drain() []domain.PaymentEvent {
	q.mu.Lock()
	snapshot := q.items
	q.items = deque.NewDeque[domain.PaymentEvent]()
	q.mu.Unlock()

	batch := make([]domain.PaymentEvent, 0, snapshot.Len())
	for snapshot.Len() > 0 {
		batch = append(batch, snapshot.PopFront())
	}
	return batch
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
