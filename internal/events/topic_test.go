package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicDeliversInOrder(t *testing.T) {
	var topic Topic[int]
	var got []string
	topic.Subscribe(func(v int) { got = append(got, "a") })
	topic.Subscribe(func(v int) { got = append(got, "b") })
	topic.Subscribe(func(v int) { got = append(got, "c") })

	topic.Publish(1)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestTopicUnsubscribe(t *testing.T) {
	var topic Topic[string]
	calls := 0
	id := topic.Subscribe(func(string) { calls++ })
	topic.Publish("x")
	topic.Unsubscribe(id)
	topic.Unsubscribe(id)
	topic.Publish("y")

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, topic.Len())
}

func TestTopicUnsubscribeDuringPublish(t *testing.T) {
	var topic Topic[int]
	calls := 0
	var id int
	id = topic.Subscribe(func(int) {
		calls++
		topic.Unsubscribe(id)
	})
	topic.Publish(1)
	topic.Publish(2)
	assert.Equal(t, 1, calls)
}
