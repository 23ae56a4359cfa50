// Package notify provides the FIFO of order lifecycle notifications that a
// strategy drains between bars.
package notify

import (
	"sync"

	"brokerhub/internal/domain"
)

// Kind tells what a Notification carries.
type Kind uint8

const (
	KindOrder   Kind = iota + 1 // Order holds a snapshot of the order
	KindMessage                 // Message holds free text
	KindTick                    // end of the notifications for this bar
)

// Notification is one queue entry.
type Notification struct {
	Kind    Kind
	Order   domain.Order
	Message string
}

// Queue is an unbounded FIFO. Producers and the consumer may run on
// different goroutines.
type Queue struct {
	mu    sync.Mutex
	items []Notification
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// PushOrder appends a snapshot of o.
func (q *Queue) PushOrder(o *domain.Order) {
	q.push(Notification{Kind: KindOrder, Order: o.Clone()})
}

// PushMessage appends a plain text entry.
func (q *Queue) PushMessage(msg string) {
	q.push(Notification{Kind: KindMessage, Message: msg})
}

// Tick appends the end-of-bar sentinel.
func (q *Queue) Tick() {
	q.push(Notification{Kind: KindTick})
}

func (q *Queue) push(n Notification) {
	q.mu.Lock()
	q.items = append(q.items, n)
	q.mu.Unlock()
}

// Pop removes and returns the oldest entry. The second result is false when
// the queue is empty.
func (q *Queue) Pop() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Notification{}, false
	}
	n := q.items[0]
	q.items[0] = Notification{}
	q.items = q.items[1:]
	return n, true
}

// Drain pops entries up to and including the next tick sentinel and returns
// the ones before it. caughtUp is true when a sentinel was reached, false
// when the queue ran dry first.
func (q *Queue) Drain() (out []Notification, caughtUp bool) {
	for {
		n, ok := q.Pop()
		if !ok {
			return out, false
		}
		if n.Kind == KindTick {
			return out, true
		}
		out = append(out, n)
	}
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
