package notify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerhub/internal/domain"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	o := &domain.Order{Ref: 1, Status: domain.OrderStatusCreated}
	q.PushOrder(o)
	o.Status = domain.OrderStatusAccepted
	q.PushOrder(o)
	q.PushMessage("hello")

	n, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, KindOrder, n.Kind)
	assert.Equal(t, domain.OrderStatusCreated, n.Order.Status, "entries are snapshots")

	n, _ = q.Pop()
	assert.Equal(t, domain.OrderStatusAccepted, n.Order.Status)

	n, _ = q.Pop()
	assert.Equal(t, KindMessage, n.Kind)
	assert.Equal(t, "hello", n.Message)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestDrainStopsAtTick(t *testing.T) {
	q := NewQueue()
	q.PushMessage("a")
	q.PushMessage("b")
	q.Tick()
	q.PushMessage("c")

	got, caughtUp := q.Drain()
	assert.True(t, caughtUp)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].Message)
	assert.Equal(t, 1, q.Len())

	got, caughtUp = q.Drain()
	assert.False(t, caughtUp, "no sentinel yet means nothing more is known")
	assert.Len(t, got, 1)
}

func TestDrainEmptyTick(t *testing.T) {
	q := NewQueue()
	q.Tick()
	got, caughtUp := q.Drain()
	assert.True(t, caughtUp)
	assert.Empty(t, got)
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.PushMessage("x")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, q.Len())
}
