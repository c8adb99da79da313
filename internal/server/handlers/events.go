package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/storekit/storesync/internal/server/events"
	"github.com/storekit/storesync/internal/server/middleware"
)

// EventsHandler streams the tenant's change events over SSE.
type EventsHandler struct {
	logger *slog.Logger
	hub    *events.Hub
}

// NewEventsHandler creates the events handler.
func NewEventsHandler(logger *slog.Logger, hub *events.Hub) *EventsHandler {
	return &EventsHandler{
		logger: logger,
		hub:    hub,
	}
}

// Stream обрабатывает GET /api/v1/events.
// События best-effort: клиент обязан трактовать их как подсказку для
// инвалидации кэша и перечитывать данные через API.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, h.logger, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := h.hub.Subscribe(tenantID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Info("Event stream opened", "tenant_id", tenantID)
	defer h.logger.Info("Event stream closed", "tenant_id", tenantID)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			body, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("Failed to encode event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
