package engine

import (
	"context"
	"errors"
)

// ErrClosed is returned by Session methods called after Close.
var ErrClosed = errors.New("session closed")

// post appends fn to the loop queue. It never blocks; work posted after
// Close is dropped.
func (s *Session) post(fn func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// do runs fn on the loop and waits for it. It must not be called from the
// loop itself.
func (s *Session) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !s.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes queued work in order until Close, draining what was queued
// before it.
func (s *Session) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()
	}
}

// Flush waits until every event queued so far, and everything those events
// queue in turn, has been processed.
func (s *Session) Flush(ctx context.Context) error {
	for {
		if err := s.do(ctx, func() {}); err != nil {
			return err
		}
		s.mu.Lock()
		empty := len(s.queue) == 0
		s.mu.Unlock()
		if empty {
			return nil
		}
	}
}
