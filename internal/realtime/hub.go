package realtime

import (
	"context"
	"sync"
)

// Hub is the in-process broadcaster used when redis is not configured.
// Slow subscribers drop events rather than block publishers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Envelope
	nextID int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Envelope)}
}

func (h *Hub) Publish(_ context.Context, group, eventType string, payload any) error {
	env, err := newEnvelope(group, eventType, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- env:
		default:
		}
	}
	return nil
}

func (h *Hub) Listen(ctx context.Context, handler func(Envelope)) error {
	ch := make(chan Envelope, 64)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-ch:
			handler(env)
		}
	}
}

// Subscribers reports the number of active listeners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
