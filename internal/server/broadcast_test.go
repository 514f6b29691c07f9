package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishFansOut(t *testing.T) {
	h := NewHub()
	_, ch1 := h.Subscribe()
	_, ch2 := h.Subscribe()
	require.Equal(t, 2, h.SubscriberCount())

	h.Publish(map[string]string{"hello": "world"})

	for _, ch := range []<-chan []byte{ch1, ch2} {
		var got map[string]string
		require.NoError(t, json.Unmarshal(<-ch, &got))
		assert.Equal(t, "world", got["hello"])
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := NewHub()
	_, slow := h.Subscribe()

	// Fill the buffer, then one more: the subscriber is evicted and its
	// channel closed rather than stalling the publisher.
	for i := 0; i <= subscriberBuffer; i++ {
		h.Publish(i)
	}
	assert.Zero(t, h.SubscriberCount())

	drained := 0
	for range slow {
		drained++
	}
	assert.Equal(t, subscriberBuffer, drained)
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub()
	id, _ := h.Subscribe()

	h.Unsubscribe(id)
	h.Unsubscribe(id) // second call must not panic on the closed channel
	assert.Zero(t, h.SubscriberCount())

	// Publishing with no subscribers is a no-op.
	h.Publish("nobody listening")
}
