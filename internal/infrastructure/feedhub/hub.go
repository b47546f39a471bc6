package feedhub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chatsim/joinsync/internal/domain/feed"
)

// Hub fans record changes out to live stream subscribers. A subscriber
// whose buffer is full is disconnected instead of silently skipping the
// message; the stream ends and the client resubscribes for fresh snapshots.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*feed.Subscriber
	logger      zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]*feed.Subscriber),
		logger:      logger.With().Str("component", "feedhub").Logger(),
	}
}

func (h *Hub) Register(sub *feed.Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[sub.ID] = sub
}

func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		sub.Close()
		delete(h.subscribers, id)
	}
}

// Count returns the number of subscribers attached to a session.
func (h *Hub) Count(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sub := range h.subscribers {
		if sub.SessionID == sessionID {
			n++
		}
	}
	return n
}

func (h *Hub) Publish(msg *feed.Message) {
	if msg == nil {
		return
	}
	var slow []string
	h.mu.RLock()
	for id, sub := range h.subscribers {
		if !sub.Wants(msg) {
			continue
		}
		if !trySend(sub, msg) {
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range slow {
		h.logger.Warn().
			Str("subscriber_id", id).
			Str("session_id", msg.SessionID.String()).
			Str("topic", string(msg.Topic)).
			Msg("disconnecting slow subscriber")
		h.Unregister(id)
	}
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subscribers {
		sub.Close()
		delete(h.subscribers, id)
	}
}

func trySend(sub *feed.Subscriber, msg *feed.Message) bool {
	select {
	case sub.C <- msg:
		return true
	default:
		return false
	}
}
