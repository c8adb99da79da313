// Package events implements per-tenant change notification rooms. Writes
// publish best-effort events; slow subscribers lose events rather than
// block the write path, so consumers must treat the stream as a hint and
// re-read through the API.
package events

import (
	"log/slog"
	"sync"

	"github.com/storekit/storesync/pkg/api"
)

// subscriber buffer: события сверх буфера молча отбрасываются
const subscriberBuffer = 16

// Hub fans events out to tenant-scoped subscriber rooms.
type Hub struct {
	rooms  map[string]map[chan api.Event]struct{}
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[chan api.Event]struct{}),
		logger: logger,
	}
}

// Subscribe joins the tenant's room. The returned cancel function leaves
// the room and closes the channel.
func (h *Hub) Subscribe(tenantID string) (<-chan api.Event, func()) {
	ch := make(chan api.Event, subscriberBuffer)

	h.mu.Lock()
	room, ok := h.rooms[tenantID]
	if !ok {
		room = make(map[chan api.Event]struct{})
		h.rooms[tenantID] = room
	}
	room[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		room, ok := h.rooms[tenantID]
		if !ok {
			return
		}
		if _, member := room[ch]; !member {
			return
		}
		delete(room, ch)
		close(ch)
		if len(room) == 0 {
			delete(h.rooms, tenantID)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber of the tenant's room.
// Delivery is non-blocking: a full subscriber buffer drops the event.
func (h *Hub) Publish(tenantID string, event api.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room, ok := h.rooms[tenantID]
	if !ok {
		return
	}

	for ch := range room {
		select {
		case ch <- event:
		default:
			// Медленный подписчик теряет событие, запись не ждет
			h.logger.Debug("Event dropped for slow subscriber",
				"tenant_id", tenantID,
				"resource", event.Resource,
				"action", event.Action,
			)
		}
	}
}

// Subscribers returns the tenant's room size, for tests.
func (h *Hub) Subscribers(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[tenantID])
}
