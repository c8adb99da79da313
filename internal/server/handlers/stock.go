package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/storekit/storesync/internal/models"
	"github.com/storekit/storesync/internal/server/cache"
	"github.com/storekit/storesync/internal/server/events"
	"github.com/storekit/storesync/internal/server/middleware"
	"github.com/storekit/storesync/internal/server/storage"
	"github.com/storekit/storesync/pkg/api"
)

// StockHandler serves the stock-mutation sub-protocol: the only write
// path that may change a product's quantity.
type StockHandler struct {
	logger *slog.Logger
	store  storage.Store
	cache  *cache.TenantCache
	hub    *events.Hub
}

// NewStockHandler creates the stock handler.
func NewStockHandler(logger *slog.Logger, store storage.Store, c *cache.TenantCache, hub *events.Hub) *StockHandler {
	return &StockHandler{
		logger: logger,
		store:  store,
		cache:  c,
		hub:    hub,
	}
}

// Patch обрабатывает PATCH /api/v1/products/{id}/stock.
// Тело несет либо quantity (абсолютное значение), либо adjustment
// (знаковую дельту) — ровно одно из двух. Абсолютное значение сервер
// превращает в дельту от текущего количества, так что обе формы идут
// через один применяющий путь.
func (h *StockHandler) Patch(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r.Context())
	productID := r.PathValue("id")

	var req api.StockPatchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	if (req.Quantity == nil) == (req.Adjustment == nil) {
		writeFieldErrors(w, h.logger, []api.FieldError{{
			Field:   "quantity",
			Message: "exactly one of quantity or adjustment must be set",
		}})
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = models.StockReasonAdjustment
	}

	var delta int64
	if req.Adjustment != nil {
		delta = *req.Adjustment
	} else {
		// Абсолютное значение: дельта от текущего количества
		product, err := h.store.GetRecord(r.Context(), tenantID, models.EntityProduct, productID)
		if err != nil {
			writeStorageError(w, h.logger, err)
			return
		}
		var payload models.Product
		if err := json.Unmarshal(product.Payload, &payload); err != nil {
			writeError(w, h.logger, http.StatusInternalServerError, "internal server error")
			return
		}
		if *req.Quantity < 0 {
			writeFieldErrors(w, h.logger, []api.FieldError{{
				Field:   "quantity",
				Message: "quantity must not be negative",
			}})
			return
		}
		delta = *req.Quantity - payload.Quantity
	}

	idemKey := r.Header.Get(api.IdempotencyKeyHeader)
	mutation, err := h.store.ApplyStockDelta(r.Context(), tenantID, productID, delta, reason, idemKey)
	if err != nil {
		writeStorageError(w, h.logger, err)
		return
	}

	h.logger.Info("Stock mutated",
		"tenant_id", tenantID,
		"product_id", productID,
		"delta", delta,
		"reason", reason,
		"idempotency_key", idemKey,
	)

	h.cache.Invalidate(tenantID, "products")
	h.cache.Invalidate(tenantID, "stock-movements")
	h.hub.Publish(tenantID, api.Event{
		At:       time.Now(),
		Resource: "products",
		Action:   api.EventStockUpdated,
		Record:   toAPIRecord(mutation.Product),
	})

	writeJSON(w, h.logger, http.StatusOK, api.StockResponse{
		Product:  toAPIRecord(mutation.Product),
		Movement: toAPIRecord(mutation.Movement),
	})
}

// Transfer обрабатывает POST /api/v1/transfer: перемещение количества
// между магазинами. Аутентифицированный tenant обязан быть стороной
// перемещения.
func (h *StockHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r.Context())

	var req api.TransferRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	var fields []api.FieldError
	if req.FromTenant == "" || req.ToTenant == "" {
		fields = append(fields, api.FieldError{Field: "from_tenant", Message: "both tenants are required"})
	}
	if req.FromProductID == "" || req.ToProductID == "" {
		fields = append(fields, api.FieldError{Field: "from_product_id", Message: "both product ids are required"})
	}
	if req.Quantity <= 0 {
		fields = append(fields, api.FieldError{Field: "quantity", Message: "quantity must be positive"})
	}
	if len(fields) > 0 {
		writeFieldErrors(w, h.logger, fields)
		return
	}

	if tenantID != req.FromTenant && tenantID != req.ToTenant {
		writeError(w, h.logger, http.StatusForbidden, "tenant is not a party to this transfer")
		return
	}

	key := req.Key
	if key == "" {
		key = uuid.NewString()
	}

	result, err := h.store.Transfer(r.Context(), req.FromTenant, req.ToTenant, req.FromProductID, req.ToProductID, req.Quantity, key)
	if err != nil {
		writeStorageError(w, h.logger, err)
		return
	}

	h.logger.Info("Transfer completed",
		"from_tenant", req.FromTenant,
		"to_tenant", req.ToTenant,
		"quantity", req.Quantity,
		"key", key,
	)

	for _, side := range []struct {
		tenant   string
		mutation *storage.StockMutation
	}{{req.FromTenant, result.From}, {req.ToTenant, result.To}} {
		h.cache.Invalidate(side.tenant, "products")
		h.cache.Invalidate(side.tenant, "stock-movements")
		h.hub.Publish(side.tenant, api.Event{
			At:       time.Now(),
			Resource: "products",
			Action:   api.EventStockUpdated,
			Record:   toAPIRecord(side.mutation.Product),
		})
	}

	writeJSON(w, h.logger, http.StatusOK, api.TransferResponse{
		Key:          result.Key,
		FromProduct:  toAPIRecord(result.From.Product),
		ToProduct:    toAPIRecord(result.To.Product),
		FromMovement: toAPIRecord(result.From.Movement),
		ToMovement:   toAPIRecord(result.To.Movement),
	})
}
