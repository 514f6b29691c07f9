package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 16

// Hub fans accepted events out to live stream subscribers. Each subscriber
// owns a buffered channel; a subscriber whose buffer is full when a message
// arrives is dropped rather than allowed to stall the others.
type Hub struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

// NewHub constructs an empty broadcast hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan []byte)}
}

// Subscribe registers a new stream consumer and returns its id and channel.
func (h *Hub) Subscribe() (string, <-chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a consumer. Safe to call after a Publish drop.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish marshals v once and delivers it to every subscriber without
// blocking. Slow consumers are evicted so ingestion latency stays flat.
func (h *Hub) Publish(v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Default().Warn("broadcast marshal failed", "error", err)
		return
	}

	h.mu.Lock()
	for id, ch := range h.subs {
		select {
		case ch <- body:
		default:
			delete(h.subs, id)
			close(ch)
			slog.Default().Warn("dropped slow stream subscriber", "subscriber", id)
		}
	}
	h.mu.Unlock()
}

// SubscriberCount reports the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
