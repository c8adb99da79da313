// Package sync implements the client-side mediator between the local
// record store and the server: the dual-write pipeline, promotion of
// local rows to server identities, the stock-mutation sub-protocol and
// the drain sweep that replays the offline queue.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	httpclient "github.com/storekit/storesync/internal/client/api"
	"github.com/storekit/storesync/internal/client/storage"
	"github.com/storekit/storesync/internal/models"
	"github.com/storekit/storesync/internal/validation"
	"github.com/storekit/storesync/pkg/api"
)

// Engine is the sync engine for one tenant. Every externally visible
// operation commits locally first, then attempts the server write;
// rows left behind by failures are replayed by Drain.
type Engine struct {
	api      httpclient.ClientAPI
	store    storage.RecordStore
	logger   *slog.Logger
	now      func() time.Time
	rows     map[rowKey]*gosync.Mutex
	tenantID string
	backoff  time.Duration
	mu       gosync.Mutex
}

type rowKey struct {
	entity  string
	localID uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithBackoff overrides the base retry backoff, for tests.
func WithBackoff(d time.Duration) Option {
	return func(e *Engine) { e.backoff = d }
}

// NewEngine creates a sync engine bound to one tenant.
func NewEngine(apiClient httpclient.ClientAPI, store storage.RecordStore, tenantID string, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		api:      apiClient,
		store:    store,
		logger:   logger,
		tenantID: tenantID,
		now:      time.Now,
		rows:     make(map[rowKey]*gosync.Mutex),
		backoff:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lockRow serializes operations on one local row. The second of two
// concurrent submissions waits for the first to finish.
func (e *Engine) lockRow(entity string, localID uint64) func() {
	key := rowKey{entity: entity, localID: localID}

	e.mu.Lock()
	m, ok := e.rows[key]
	if !ok {
		m = &gosync.Mutex{}
		e.rows[key] = m
	}
	e.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// idemKey builds the idempotency key for a local row: pre-promotion it is
// the tenant plus the client-assigned identity of the originating record.
func (e *Engine) idemKey(entity string, localID uint64) string {
	return fmt.Sprintf("%s:%s:%d", e.tenantID, entity, localID)
}

// CreateResult is the outcome of Create.
type CreateResult struct {
	LocalID uint64
	Synced  bool
}

// Create commits the record locally first (durable, queued), then attempts
// the server create. On network failure the row stays queued and the call
// still succeeds with Synced=false.
func (e *Engine) Create(ctx context.Context, entity string, payload json.RawMessage) (*CreateResult, error) {
	if errs := validation.Payload(entity, payload); len(errs) > 0 {
		return nil, &httpclient.Error{Kind: httpclient.KindValidation, Message: errs[0].Message, Fields: errs}
	}

	now := e.now()
	record := &models.Record{
		TenantID:  e.tenantID,
		Entity:    entity,
		Payload:   payload,
		NeedsSync: true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Сначала локальный durable commit
	if err := e.store.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("local commit failed: %w", err)
	}

	unlock := e.lockRow(entity, record.LocalID)
	defer unlock()

	if err := e.pushCreate(ctx, record); err != nil {
		if apiErr, ok := httpclient.AsError(err); ok && apiErr.Retryable() {
			// Офлайн: строка остается в очереди до следующего drain
			e.logger.Debug("create queued for drain", "entity", entity, "local_id", record.LocalID, "error", err)
			return &CreateResult{LocalID: record.LocalID, Synced: false}, nil
		}
		return &CreateResult{LocalID: record.LocalID, Synced: false}, err
	}

	return &CreateResult{LocalID: record.LocalID, Synced: true}, nil
}

// pushCreate promotes one queued row. References still pointing at
// unpromoted rows keep the record queued without error; Drain flushes the
// prerequisites first.
func (e *Engine) pushCreate(ctx context.Context, record *models.Record) error {
	payload, resolved, err := models.RewriteRefs(record.Entity, record.Payload, e.resolveRef(ctx))
	if err != nil {
		return err
	}
	if !resolved {
		e.logger.Debug("create waits for referenced rows", "entity", record.Entity, "local_id", record.LocalID)
		return &httpclient.Error{Kind: httpclient.KindTransport, Message: "referenced records not promoted yet"}
	}

	// Stock-движения не проходят через generic create: у них свой протокол
	if record.Entity == models.EntityStockMovement {
		return e.pushStockMovement(ctx, record, payload)
	}

	serverRecord, err := e.api.CreateRecord(ctx, record.Entity, payload, e.idemKey(record.Entity, record.LocalID))
	if err != nil {
		return err
	}

	// Промоция: переносим серверную идентичность в локальную строку
	record.ServerID = serverRecord.ServerID
	record.SyncVersion = serverRecord.SyncVersion
	record.LastSyncedAt = serverRecord.LastSyncedAt
	record.UpdatedAt = serverRecord.UpdatedAt
	record.Payload = serverRecord.Payload
	record.NeedsSync = false
	record.Conflicted = false

	if err := e.store.Put(ctx, record); err != nil {
		return fmt.Errorf("failed to reconcile server identity: %w", err)
	}

	if record.Entity == models.EntitySale {
		e.applySaleDeltas(ctx, serverRecord.Payload, -1)
	}

	return nil
}

// resolveRef looks a referenced row up and returns its server id.
func (e *Engine) resolveRef(ctx context.Context) models.ResolveFunc {
	return func(entity string, localID uint64) (string, bool) {
		ref, err := e.store.GetByLocalID(ctx, e.tenantID, entity, localID)
		if err != nil || !ref.Promoted() {
			return "", false
		}
		return ref.ServerID, true
	}
}

// applySaleDeltas adjusts the local quantity of every product a confirmed
// sale touched. sign is -1 for a completed sale, +1 for a void. This runs
// only after the server accepted the sale; the server remains the
// authority and the next pull corrects any drift.
func (e *Engine) applySaleDeltas(ctx context.Context, salePayload json.RawMessage, sign int64) {
	var sale models.Sale
	if err := json.Unmarshal(salePayload, &sale); err != nil {
		return
	}

	for _, item := range sale.Items {
		if item.ProductID == "" {
			continue
		}
		product, err := e.store.GetByServerID(ctx, e.tenantID, models.EntityProduct, item.ProductID)
		if err != nil {
			continue
		}

		var p models.Product
		if err := json.Unmarshal(product.Payload, &p); err != nil {
			continue
		}
		p.Quantity += sign * item.Quantity
		if p.Quantity < 0 {
			p.Quantity = 0
		}

		payload, err := json.Marshal(&p)
		if err != nil {
			continue
		}
		product.Payload = payload
		product.UpdatedAt = e.now()
		if err := e.store.Put(ctx, product); err != nil {
			e.logger.Warn("failed to apply sale delta locally", "product", item.ProductID, "error", err)
		}
	}
}

// UpdateResult is the outcome of Update.
type UpdateResult struct {
	// Conflict carries the server's report when the update hit a version
	// mismatch; the row is marked conflicted until a strategy is chosen.
	Conflict *api.ConflictResponse
	Synced   bool
}

// Update commits the patch locally first, then PUTs it with the row's
// current sync version. A 409 marks the row conflicted and surfaces the
// report; a network failure leaves the row queued.
func (e *Engine) Update(ctx context.Context, entity string, localID uint64, patch json.RawMessage) (*UpdateResult, error) {
	if errs := validation.Payload(entity, patch); len(errs) > 0 {
		return nil, &httpclient.Error{Kind: httpclient.KindValidation, Message: errs[0].Message, Fields: errs}
	}

	unlock := e.lockRow(entity, localID)
	defer unlock()

	record, err := e.store.GetByLocalID(ctx, e.tenantID, entity, localID)
	if err != nil {
		return nil, err
	}
	if record.Tombstone {
		return nil, fmt.Errorf("record %s/%d is deleted", entity, localID)
	}

	record.Payload = patch
	record.UpdatedAt = e.now()
	record.NeedsSync = true

	if err := e.store.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("local commit failed: %w", err)
	}

	if !record.Promoted() {
		// Создание еще в очереди: очередь унесет свежий payload
		return &UpdateResult{Synced: false}, nil
	}

	if err := e.pushUpdate(ctx, record); err != nil {
		apiErr, ok := httpclient.AsError(err)
		if ok && apiErr.Kind == httpclient.KindConflict {
			return &UpdateResult{Synced: false, Conflict: apiErr.Conflict}, nil
		}
		if ok && apiErr.Retryable() {
			return &UpdateResult{Synced: false}, nil
		}
		return nil, err
	}
	return &UpdateResult{Synced: true}, nil
}

// pushUpdate sends one promoted row's pending payload to the server.
// A version mismatch marks the row conflicted and returns the classified
// conflict error with the server's report attached.
func (e *Engine) pushUpdate(ctx context.Context, record *models.Record) error {
	payload, resolved, err := models.RewriteRefs(record.Entity, record.Payload, e.resolveRef(ctx))
	if err != nil {
		return err
	}
	if !resolved {
		return &httpclient.Error{Kind: httpclient.KindTransport, Message: "referenced records not promoted yet"}
	}

	serverRecord, err := e.api.UpdateRecord(ctx, record.Entity, record.ServerID, api.UpdateRequest{
		Payload:     payload,
		SyncVersion: record.SyncVersion,
	}, "")
	if err != nil {
		if apiErr, ok := httpclient.AsError(err); ok && apiErr.Kind == httpclient.KindConflict {
			// Фиксируем конфликт на строке; report уходит вызывающему
			record.Conflicted = true
			if putErr := e.store.Put(ctx, record); putErr != nil {
				return putErr
			}
		}
		return err
	}

	record.SyncVersion = serverRecord.SyncVersion
	record.LastSyncedAt = serverRecord.LastSyncedAt
	record.UpdatedAt = serverRecord.UpdatedAt
	record.Payload = serverRecord.Payload
	record.NeedsSync = false
	record.Conflicted = false

	if err := e.store.Put(ctx, record); err != nil {
		return fmt.Errorf("failed to reconcile server response: %w", err)
	}

	return nil
}

// Resolve applies a conflict-resolution strategy to a conflicted row.
// For acceptServer the server record overwrites the local row; for
// acceptClient and merge the payload is forced onto the server under the
// next version. merged is required for the merge strategy and ignored
// otherwise.
func (e *Engine) Resolve(ctx context.Context, entity string, localID uint64, strategy string, merged json.RawMessage) error {
	unlock := e.lockRow(entity, localID)
	defer unlock()

	record, err := e.store.GetByLocalID(ctx, e.tenantID, entity, localID)
	if err != nil {
		return err
	}
	if !record.Promoted() {
		return fmt.Errorf("record %s/%d has no server identity to resolve against", entity, localID)
	}

	switch strategy {
	case api.ResolutionAcceptServer:
		serverRecord, err := e.api.GetRecord(ctx, entity, record.ServerID)
		if err != nil {
			return err
		}
		record.Payload = serverRecord.Payload
		record.SyncVersion = serverRecord.SyncVersion
		record.LastSyncedAt = serverRecord.LastSyncedAt
		record.UpdatedAt = serverRecord.UpdatedAt
		record.NeedsSync = false
		record.Conflicted = false
		return e.store.Put(ctx, record)

	case api.ResolutionAcceptClient, api.ResolutionMerge:
		payload := record.Payload
		if strategy == api.ResolutionMerge {
			if len(merged) == 0 {
				return errors.New("merge strategy requires a merged payload")
			}
			payload = merged
		}
		serverRecord, err := e.api.UpdateRecord(ctx, entity, record.ServerID, api.UpdateRequest{
			Payload:     payload,
			SyncVersion: record.SyncVersion,
		}, strategy)
		if err != nil {
			return err
		}
		record.Payload = serverRecord.Payload
		record.SyncVersion = serverRecord.SyncVersion
		record.LastSyncedAt = serverRecord.LastSyncedAt
		record.UpdatedAt = serverRecord.UpdatedAt
		record.NeedsSync = false
		record.Conflicted = false
		return e.store.Put(ctx, record)

	default:
		return fmt.Errorf("unknown resolution strategy %q", strategy)
	}
}

// DeleteResult is the outcome of Delete.
type DeleteResult struct {
	Synced bool
}

// Delete removes a record per the deletion rule: a row the server never
// saw is hard-deleted locally; a promoted row is tombstoned, deleted on
// the server, and only then removed locally.
func (e *Engine) Delete(ctx context.Context, entity string, localID uint64) (*DeleteResult, error) {
	unlock := e.lockRow(entity, localID)
	defer unlock()

	record, err := e.store.GetByLocalID(ctx, e.tenantID, entity, localID)
	if err != nil {
		return nil, err
	}

	if !record.Promoted() {
		// Сервер об этой записи не знает: обычный hard delete
		if err := e.store.DeleteByLocalID(ctx, e.tenantID, entity, localID); err != nil {
			return nil, err
		}
		return &DeleteResult{Synced: true}, nil
	}

	// Tombstone сначала, чтобы pull не воскресил строку
	record.Tombstone = true
	record.NeedsSync = true
	record.UpdatedAt = e.now()
	if err := e.store.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("local commit failed: %w", err)
	}

	if err := e.pushDelete(ctx, record); err != nil {
		if apiErr, ok := httpclient.AsError(err); ok && apiErr.Retryable() {
			return &DeleteResult{Synced: false}, nil
		}
		return &DeleteResult{Synced: false}, err
	}

	return &DeleteResult{Synced: true}, nil
}

// pushDelete confirms one tombstone with the server and hard-deletes the
// local row. A 404 counts as confirmed: the server already forgot it.
func (e *Engine) pushDelete(ctx context.Context, record *models.Record) error {
	err := e.api.DeleteRecord(ctx, record.Entity, record.ServerID)
	if err != nil {
		if apiErr, ok := httpclient.AsError(err); !ok || apiErr.Kind != httpclient.KindNotFound {
			return err
		}
	}
	return e.store.DeleteByLocalID(ctx, e.tenantID, record.Entity, record.LocalID)
}

// StockResult is the outcome of UpdateStock.
type StockResult struct {
	MovementLocalID uint64
	Quantity        int64
	Synced          bool
}

// UpdateStock submits a signed stock delta for a product. It does not go
// through the generic update path: the delta is recorded locally as a
// stock_movement row, and the authoritative product quantity is patched
// only from the server's confirmation. Offline, the movement stays queued
// and the old quantity remains authoritative until the drain confirms it.
func (e *Engine) UpdateStock(ctx context.Context, productLocalID uint64, delta int64, reason string) (*StockResult, error) {
	if delta == 0 {
		return nil, &httpclient.Error{Kind: httpclient.KindValidation, Message: "delta must not be zero"}
	}

	product, err := e.store.GetByLocalID(ctx, e.tenantID, models.EntityProduct, productLocalID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	movementPayload, err := json.Marshal(&models.StockMovement{
		ProductID:      product.ServerID,
		ProductLocalID: nonPromotedLocalID(product),
		Delta:          delta,
		Reason:         reason,
	})
	if err != nil {
		return nil, err
	}

	movement := &models.Record{
		TenantID:  e.tenantID,
		Entity:    models.EntityStockMovement,
		Payload:   movementPayload,
		NeedsSync: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Put(ctx, movement); err != nil {
		return nil, fmt.Errorf("local commit failed: %w", err)
	}

	// Ключ идемпотентности - локальная идентичность породившей записи
	refKey := e.idemKey(models.EntityStockMovement, movement.LocalID)
	if err := e.stampRefKey(ctx, movement, refKey); err != nil {
		return nil, err
	}

	unlock := e.lockRow(models.EntityStockMovement, movement.LocalID)
	defer unlock()

	if !product.Promoted() {
		return &StockResult{MovementLocalID: movement.LocalID, Synced: false}, nil
	}

	if err := e.pushStockMovement(ctx, movement, movement.Payload); err != nil {
		if apiErr, ok := httpclient.AsError(err); ok && apiErr.Retryable() {
			return &StockResult{MovementLocalID: movement.LocalID, Synced: false}, nil
		}
		return nil, err
	}

	updated, err := e.store.GetByLocalID(ctx, e.tenantID, models.EntityProduct, productLocalID)
	if err != nil {
		return nil, err
	}
	var p models.Product
	if err := json.Unmarshal(updated.Payload, &p); err != nil {
		return nil, err
	}
	return &StockResult{MovementLocalID: movement.LocalID, Synced: true, Quantity: p.Quantity}, nil
}

func nonPromotedLocalID(record *models.Record) uint64 {
	if record.Promoted() {
		return 0
	}
	return record.LocalID
}

// stampRefKey persists the idempotency key inside the movement payload so
// a replay after a crash reuses the same key.
func (e *Engine) stampRefKey(ctx context.Context, movement *models.Record, refKey string) error {
	var m models.StockMovement
	if err := json.Unmarshal(movement.Payload, &m); err != nil {
		return err
	}
	if m.RefKey == refKey {
		return nil
	}
	m.RefKey = refKey

	payload, err := json.Marshal(&m)
	if err != nil {
		return err
	}
	movement.Payload = payload
	return e.store.Put(ctx, movement)
}

// pushStockMovement submits one queued movement through the stock
// endpoint and reconciles both the movement and the product row from the
// server response.
func (e *Engine) pushStockMovement(ctx context.Context, movement *models.Record, payload json.RawMessage) error {
	var m models.StockMovement
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	if m.ProductID == "" {
		return &httpclient.Error{Kind: httpclient.KindTransport, Message: "referenced product not promoted yet"}
	}
	if m.RefKey == "" {
		m.RefKey = e.idemKey(models.EntityStockMovement, movement.LocalID)
	}

	adjustment := m.Delta
	resp, err := e.api.PatchStock(ctx, m.ProductID, api.StockPatchRequest{
		Adjustment: &adjustment,
		Reason:     m.Reason,
	}, m.RefKey)
	if err != nil {
		return err
	}

	// Сервер подтвердил: его movement и product становятся авторитетными
	movement.ServerID = resp.Movement.ServerID
	movement.SyncVersion = resp.Movement.SyncVersion
	movement.LastSyncedAt = resp.Movement.LastSyncedAt
	movement.UpdatedAt = resp.Movement.UpdatedAt
	movement.Payload = resp.Movement.Payload
	movement.NeedsSync = false
	if err := e.store.Put(ctx, movement); err != nil {
		return fmt.Errorf("failed to reconcile movement: %w", err)
	}

	product, err := e.store.GetByServerID(ctx, e.tenantID, models.EntityProduct, resp.Product.ServerID)
	if err != nil {
		return fmt.Errorf("failed to load product for reconcile: %w", err)
	}
	product.Payload = resp.Product.Payload
	product.SyncVersion = resp.Product.SyncVersion
	product.LastSyncedAt = resp.Product.LastSyncedAt
	product.UpdatedAt = resp.Product.UpdatedAt
	if err := e.store.Put(ctx, product); err != nil {
		return fmt.Errorf("failed to reconcile product quantity: %w", err)
	}

	return nil
}

// VoidSale voids a promoted sale on the server and restores the local
// product quantities from the confirmed response.
func (e *Engine) VoidSale(ctx context.Context, localID uint64) error {
	unlock := e.lockRow(models.EntitySale, localID)
	defer unlock()

	record, err := e.store.GetByLocalID(ctx, e.tenantID, models.EntitySale, localID)
	if err != nil {
		return err
	}
	if !record.Promoted() {
		return fmt.Errorf("sale %d is not synced yet; delete it instead", localID)
	}

	serverRecord, err := e.api.VoidSale(ctx, record.ServerID)
	if err != nil {
		return err
	}

	record.Payload = serverRecord.Payload
	record.SyncVersion = serverRecord.SyncVersion
	record.LastSyncedAt = serverRecord.LastSyncedAt
	record.UpdatedAt = serverRecord.UpdatedAt
	record.NeedsSync = false
	if err := e.store.Put(ctx, record); err != nil {
		return err
	}

	e.applySaleDeltas(ctx, serverRecord.Payload, 1)
	return nil
}
