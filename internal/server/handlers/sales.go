package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/storekit/storesync/internal/models"
	"github.com/storekit/storesync/internal/server/cache"
	"github.com/storekit/storesync/internal/server/events"
	"github.com/storekit/storesync/internal/server/middleware"
	"github.com/storekit/storesync/internal/server/storage"
	"github.com/storekit/storesync/internal/validation"
	"github.com/storekit/storesync/pkg/api"
)

// SalesHandler serves sale creation and voiding. Both operations are
// single logical writes: the sale row and its stock deltas land together
// or not at all.
type SalesHandler struct {
	logger *slog.Logger
	store  storage.Store
	cache  *cache.TenantCache
	hub    *events.Hub
}

// NewSalesHandler creates the sales handler.
func NewSalesHandler(logger *slog.Logger, store storage.Store, c *cache.TenantCache, hub *events.Hub) *SalesHandler {
	return &SalesHandler{
		logger: logger,
		store:  store,
		cache:  c,
		hub:    hub,
	}
}

// Create обрабатывает POST /api/v1/sales.
// Позиции обязаны ссылаться на товары по server id: продажа с local-id
// ссылками отклоняется с указанием конкретной позиции.
func (h *SalesHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r.Context())

	payload, err := readPayload(r)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	if fields := validation.Payload(models.EntitySale, payload); len(fields) > 0 {
		writeFieldErrors(w, h.logger, fields)
		return
	}
	if fields := validation.SaleItemsPromoted(payload); len(fields) > 0 {
		writeFieldErrors(w, h.logger, fields)
		return
	}

	idemKey := r.Header.Get(api.IdempotencyKeyHeader)
	record, err := h.store.CreateSale(r.Context(), tenantID, payload, idemKey)
	if err != nil {
		writeStorageError(w, h.logger, err)
		return
	}

	h.logger.Info("Sale created",
		"tenant_id", tenantID,
		"server_id", record.ServerID,
		"idempotency_key", idemKey,
	)

	h.invalidateSale(tenantID, record, api.EventCreated)

	writeJSON(w, h.logger, http.StatusCreated, toAPIRecord(record))
}

// Void обрабатывает POST /api/v1/sales/{id}/void.
// Остатки позиций возвращаются на склад; повторный void отклоняется.
func (h *SalesHandler) Void(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r.Context())

	record, err := h.store.VoidSale(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		writeStorageError(w, h.logger, err)
		return
	}

	h.logger.Info("Sale voided", "tenant_id", tenantID, "server_id", record.ServerID)

	h.invalidateSale(tenantID, record, api.EventUpdated)

	writeJSON(w, h.logger, http.StatusOK, toAPIRecord(record))
}

// invalidateSale drops the tenant's sale listings; registered derived
// resources (products, stock movements, stats) fall with them.
func (h *SalesHandler) invalidateSale(tenantID string, record *models.Record, action string) {
	h.cache.Invalidate(tenantID, "sales")

	h.hub.Publish(tenantID, api.Event{
		At:       time.Now(),
		Resource: "sales",
		Action:   action,
		Record:   toAPIRecord(record),
	})
}
