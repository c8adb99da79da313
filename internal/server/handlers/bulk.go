package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/storekit/storesync/internal/models"
	"github.com/storekit/storesync/internal/resolve"
	"github.com/storekit/storesync/internal/server/cache"
	"github.com/storekit/storesync/internal/server/events"
	"github.com/storekit/storesync/internal/server/middleware"
	"github.com/storekit/storesync/internal/server/storage"
	"github.com/storekit/storesync/internal/validation"
	"github.com/storekit/storesync/pkg/api"
)

// maxBulkItems ограничивает размер одного bulk-запроса
const maxBulkItems = 100

// BulkHandler serves POST /api/v1/{resource}/bulk: a vector of creates
// and updates applied item by item. Partial success is the contract —
// each item carries its own outcome and one bad item never aborts the
// rest.
type BulkHandler struct {
	logger *slog.Logger
	store  storage.Store
	cache  *cache.TenantCache
	hub    *events.Hub
}

// NewBulkHandler creates the bulk handler.
func NewBulkHandler(logger *slog.Logger, store storage.Store, c *cache.TenantCache, hub *events.Hub) *BulkHandler {
	return &BulkHandler{
		logger: logger,
		store:  store,
		cache:  c,
		hub:    hub,
	}
}

// Handle обрабатывает POST /api/v1/{resource}/bulk
func (h *BulkHandler) Handle(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r.Context())
	entity, ok := entityFromRequest(r)
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "unknown resource")
		return
	}

	if entity == models.EntitySale {
		writeError(w, h.logger, http.StatusBadRequest, "sales must be created via POST /api/v1/sales")
		return
	}

	var req api.BulkRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, h.logger, http.StatusBadRequest, "items must not be empty")
		return
	}
	if len(req.Items) > maxBulkItems {
		writeError(w, h.logger, http.StatusBadRequest, fmt.Sprintf("too many items: limit is %d", maxBulkItems))
		return
	}

	results := make([]api.BulkResult, 0, len(req.Items))
	changed := false
	for _, item := range req.Items {
		result := h.applyItem(r.Context(), tenantID, entity, item)
		if result.OK {
			changed = true
		}
		results = append(results, result)
	}

	if changed {
		h.cache.Invalidate(tenantID, r.PathValue("resource"))
		h.hub.Publish(tenantID, api.Event{
			At:       time.Now(),
			Resource: r.PathValue("resource"),
			Action:   api.EventUpdated,
		})
	}

	writeJSON(w, h.logger, http.StatusOK, api.BulkResponse{Results: results})
}

// applyItem applies one bulk element and folds its outcome into a result.
func (h *BulkHandler) applyItem(ctx context.Context, tenantID, entity string, item api.BulkItem) api.BulkResult {
	if fields := validation.Payload(entity, item.Data); len(fields) > 0 {
		return api.BulkResult{
			Error:      fmt.Sprintf("validation failed: %s", fields[0].Message),
			StatusCode: http.StatusBadRequest,
		}
	}

	switch item.Action {
	case api.BulkActionCreate:
		record, err := h.store.CreateRecord(ctx, tenantID, entity, item.Data, "")
		if err != nil {
			return bulkError(err)
		}
		apiRecord := toAPIRecord(record)
		return api.BulkResult{OK: true, StatusCode: http.StatusCreated, Record: &apiRecord}

	case api.BulkActionUpdate:
		if item.ID == "" {
			return api.BulkResult{Error: "update requires id", StatusCode: http.StatusBadRequest}
		}
		// Тот же запрет, что и на PUT: quantity товара меняет только
		// stock-mutation протокол
		if entity == models.EntityProduct {
			if payload, err := preserveServerQuantity(ctx, h.store, tenantID, item.ID, item.Data); err == nil {
				item.Data = payload
			}
		}
		proposal := resolve.Proposal{Payload: item.Data, SyncVersion: item.SyncVersion}
		record, err := h.store.UpdateRecord(ctx, tenantID, entity, item.ID, proposal, "")
		if err != nil {
			return bulkError(err)
		}
		apiRecord := toAPIRecord(record)
		return api.BulkResult{OK: true, StatusCode: http.StatusOK, Record: &apiRecord}

	default:
		return api.BulkResult{
			Error:      fmt.Sprintf("unknown action %q", item.Action),
			StatusCode: http.StatusBadRequest,
		}
	}
}

// bulkError maps a store error onto one item's outcome.
func bulkError(err error) api.BulkResult {
	if conflictErr, ok := storage.AsConflict(err); ok {
		return api.BulkResult{
			Error:      conflictErr.Report.Message,
			StatusCode: http.StatusConflict,
		}
	}
	if errors.Is(err, storage.ErrRecordNotFound) {
		return api.BulkResult{Error: "record not found", StatusCode: http.StatusNotFound}
	}
	return api.BulkResult{Error: "internal server error", StatusCode: http.StatusInternalServerError}
}
