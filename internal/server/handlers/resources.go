package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
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

// maxBodySize ограничивает размер тела запроса
const maxBodySize = 1 << 20 // 1 MB

// ResourceHandler serves the generic per-entity CRUD surface under
// /api/v1/{resource}. Sale creation and stock mutation have their own
// handlers; everything else goes through here.
type ResourceHandler struct {
	logger *slog.Logger
	store  storage.Store
	cache  *cache.TenantCache
	hub    *events.Hub
}

// NewResourceHandler creates the generic CRUD handler.
func NewResourceHandler(logger *slog.Logger, store storage.Store, c *cache.TenantCache, hub *events.Hub) *ResourceHandler {
	return &ResourceHandler{
		logger: logger,
		store:  store,
		cache:  c,
		hub:    hub,
	}
}

// entityFromRequest resolves the {resource} path segment to an entity name.
func entityFromRequest(r *http.Request) (string, bool) {
	return api.EntityForResource(r.PathValue("resource"))
}

// readPayload reads and size-limits the request body.
func readPayload(r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// List обрабатывает GET /api/v1/{resource}
func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r.Context())
	entity, ok := entityFromRequest(r)
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "unknown resource")
		return
	}

	filter := listFilterFromQuery(r)

	key := cache.Key(tenantID, r.PathValue("resource"), filterHash(filter))
	value, err := h.cache.GetOrLoad(r.Context(), key, cache.TTLCatalog, func(ctx context.Context) (any, error) {
		records, err := h.store.ListRecords(ctx, tenantID, entity, filter)
		if err != nil {
			return nil, err
		}
		apiRecords := make([]api.Record, 0, len(records))
		for _, record := range records {
			apiRecords = append(apiRecords, toAPIRecord(record))
		}
		return api.ListResponse{Records: apiRecords, Total: len(apiRecords)}, nil
	})
	if err != nil {
		writeStorageError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, value)
}

// Get обрабатывает GET /api/v1/{resource}/{id}
func (h *ResourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r.Context())
	entity, ok := entityFromRequest(r)
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "unknown resource")
		return
	}

	record, err := h.store.GetRecord(r.Context(), tenantID, entity, r.PathValue("id"))
	if err != nil {
		writeStorageError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, toAPIRecord(record))
}

// Create обрабатывает POST /api/v1/{resource}
func (h *ResourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r.Context())
	entity, ok := entityFromRequest(r)
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "unknown resource")
		return
	}

	// Продажи идут через свой обработчик: создание атомарно со списанием
	if entity == models.EntitySale {
		writeError(w, h.logger, http.StatusBadRequest, "sales must be created via POST /api/v1/sales")
		return
	}

	payload, err := readPayload(r)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	if fields := validation.Payload(entity, payload); len(fields) > 0 {
		writeFieldErrors(w, h.logger, fields)
		return
	}

	idemKey := r.Header.Get(api.IdempotencyKeyHeader)
	record, err := h.store.CreateRecord(r.Context(), tenantID, entity, payload, idemKey)
	if err != nil {
		writeStorageError(w, h.logger, err)
		return
	}

	h.invalidateAndPublish(tenantID, r.PathValue("resource"), api.EventCreated, record)

	writeJSON(w, h.logger, http.StatusCreated, toAPIRecord(record))
}

// Update обрабатывает PUT /api/v1/{resource}/{id}.
// Тело несет payload и sync_version — версию, от которой клиент делал
// правку. Расхождение версий возвращает 409 с полным conflict report.
func (h *ResourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r.Context())
	entity, ok := entityFromRequest(r)
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "unknown resource")
		return
	}

	var req api.UpdateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	if fields := validation.Payload(entity, req.Payload); len(fields) > 0 {
		writeFieldErrors(w, h.logger, fields)
		return
	}

	// Generic update никогда не пишет quantity товара напрямую: для этого
	// есть stock-mutation протокол. Сохраняем серверное значение.
	if entity == models.EntityProduct {
		payload, err := preserveServerQuantity(r.Context(), h.store, tenantID, r.PathValue("id"), req.Payload)
		if err == nil {
			req.Payload = payload
		}
	}

	resolution := r.Header.Get(api.ConflictResolutionHeader)
	if resolution != "" && resolution != api.ResolutionAcceptServer &&
		resolution != api.ResolutionAcceptClient && resolution != api.ResolutionMerge {
		writeError(w, h.logger, http.StatusBadRequest, "unknown conflict resolution strategy")
		return
	}

	if resolution == api.ResolutionAcceptServer {
		// acceptServer: правка клиента отбрасывается, возвращаем текущее
		record, err := h.store.GetRecord(r.Context(), tenantID, entity, r.PathValue("id"))
		if err != nil {
			writeStorageError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, toAPIRecord(record))
		return
	}

	proposal := resolve.Proposal{Payload: req.Payload, SyncVersion: req.SyncVersion}
	record, err := h.store.UpdateRecord(r.Context(), tenantID, entity, r.PathValue("id"), proposal, resolution)
	if err != nil {
		writeStorageError(w, h.logger, err)
		return
	}

	h.invalidateAndPublish(tenantID, r.PathValue("resource"), api.EventUpdated, record)

	writeJSON(w, h.logger, http.StatusOK, toAPIRecord(record))
}

// Delete обрабатывает DELETE /api/v1/{resource}/{id}
func (h *ResourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r.Context())
	entity, ok := entityFromRequest(r)
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "unknown resource")
		return
	}

	serverID := r.PathValue("id")
	if err := h.store.DeleteRecord(r.Context(), tenantID, entity, serverID); err != nil {
		writeStorageError(w, h.logger, err)
		return
	}

	h.cache.Invalidate(tenantID, r.PathValue("resource"))
	h.hub.Publish(tenantID, api.Event{
		At:       time.Now(),
		Resource: r.PathValue("resource"),
		Action:   api.EventDeleted,
		Record:   api.Record{ServerID: serverID, Entity: entity},
	})

	w.WriteHeader(http.StatusNoContent)
}

// preserveServerQuantity copies the server's current quantity into the
// incoming product payload. Every generic update path — single PUT or a
// bulk item — must pass product payloads through here.
func preserveServerQuantity(ctx context.Context, store storage.Store, tenantID, serverID string, payload json.RawMessage) (json.RawMessage, error) {
	current, err := store.GetRecord(ctx, tenantID, models.EntityProduct, serverID)
	if err != nil {
		return nil, err
	}

	var currentProduct models.Product
	if err := json.Unmarshal(current.Payload, &currentProduct); err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	doc["quantity"] = currentProduct.Quantity

	return json.Marshal(doc)
}

// invalidateAndPublish drops the tenant's cached listings for the resource
// and broadcasts the change event.
func (h *ResourceHandler) invalidateAndPublish(tenantID, resource, action string, record *models.Record) {
	h.cache.Invalidate(tenantID, resource)
	h.hub.Publish(tenantID, api.Event{
		At:       time.Now(),
		Resource: resource,
		Action:   action,
		Record:   toAPIRecord(record),
	})
}

// listFilterFromQuery parses the supported listing query parameters.
func listFilterFromQuery(r *http.Request) storage.ListFilter {
	q := r.URL.Query()
	filter := storage.ListFilter{
		Category: q.Get("category"),
		Search:   q.Get("search"),
		Sort:     q.Get("sort"),
	}
	if v := q.Get("active"); v != "" {
		active := v == "true" || v == "1"
		filter.Active = &active
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Offset = n
		}
	}
	return filter
}

// filterHash derives a stable cache key fragment from the filter.
func filterHash(f storage.ListFilter) string {
	raw, _ := json.Marshal(struct {
		Category string
		Search   string
		Sort     string
		Active   *bool
		Limit    int
		Offset   int
	}{f.Category, f.Search, f.Sort, f.Active, f.Limit, f.Offset})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}
