// Package events provides typed observer lists for session events.
package events

import (
	"sort"
	"sync"
)

// Topic is a list of handlers for one kind of event. Publish calls handlers
// synchronously, in subscription order, on the publishing goroutine.
type Topic[T any] struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func(T)
}

// Subscribe registers fn and returns an id for Unsubscribe.
func (t *Topic[T]) Subscribe(fn func(T)) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handlers == nil {
		t.handlers = make(map[int]func(T))
	}
	id := t.nextID
	t.nextID++
	t.handlers[id] = fn
	return id
}

// Unsubscribe removes a handler. Unknown ids are ignored.
func (t *Topic[T]) Unsubscribe(id int) {
	t.mu.Lock()
	delete(t.handlers, id)
	t.mu.Unlock()
}

// Publish delivers v to every handler. Handlers may subscribe or unsubscribe
// while being called; changes apply from the next Publish.
func (t *Topic[T]) Publish(v T) {
	for _, fn := range t.snapshot() {
		fn(v)
	}
}

// Len returns the number of handlers.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers)
}

func (t *Topic[T]) snapshot() []func(T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int, 0, len(t.handlers))
	for id := range t.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(T), len(ids))
	for i, id := range ids {
		out[i] = t.handlers[id]
	}
	return out
}
