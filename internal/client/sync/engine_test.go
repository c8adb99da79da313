package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpclient "github.com/storekit/storesync/internal/client/api"
	"github.com/storekit/storesync/internal/client/storage/boltdb"
	"github.com/storekit/storesync/internal/models"
	"github.com/storekit/storesync/pkg/api"
)

// fakeServer - in-memory реализация ClientAPI с управляемыми отказами.
type fakeServer struct {
	mu          gosync.Mutex
	records     map[string]*api.Record
	idem        map[string]string
	createOrder []string
	patchKeys   []string
	nextID      int
	updates     int           // принятые UpdateRecord
	failAll     bool          // каждый вызов падает транспортной ошибкой
	conflicts   int           // столько UpdateRecord без resolution вернут 409
	throttle    int           // столько вызовов подряд вернут 429
	retryAfter  time.Duration // подсказка Retry-After для 429
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		records: make(map[string]*api.Record),
		idem:    make(map[string]string),
	}
}

func (f *fakeServer) gate() error {
	if f.failAll {
		return &httpclient.Error{Kind: httpclient.KindTransport, Message: "connection refused"}
	}
	if f.throttle > 0 {
		f.throttle--
		return &httpclient.Error{
			Kind:       httpclient.KindRateLimit,
			StatusCode: 429,
			Message:    "too many requests",
			RetryAfter: f.retryAfter,
		}
	}
	return nil
}

func cloneRecord(r *api.Record) *api.Record {
	clone := *r
	clone.Payload = append(json.RawMessage(nil), r.Payload...)
	return &clone
}

func (f *fakeServer) CreateRecord(ctx context.Context, entity string, payload json.RawMessage, idemKey string) (*api.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.gate(); err != nil {
		return nil, err
	}

	if idemKey != "" {
		if id, ok := f.idem[idemKey]; ok {
			return cloneRecord(f.records[id]), nil
		}
	}

	f.nextID++
	now := time.Now().UTC()
	rec := &api.Record{
		ServerID:     fmt.Sprintf("srv-%d", f.nextID),
		Entity:       entity,
		Payload:      append(json.RawMessage(nil), payload...),
		SyncVersion:  1,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastSyncedAt: now,
	}
	f.records[rec.ServerID] = rec
	if idemKey != "" {
		f.idem[idemKey] = rec.ServerID
	}
	f.createOrder = append(f.createOrder, entity)
	return cloneRecord(rec), nil
}

func (f *fakeServer) UpdateRecord(ctx context.Context, entity, serverID string, req api.UpdateRequest, resolution string) (*api.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.gate(); err != nil {
		return nil, err
	}

	rec, ok := f.records[serverID]
	if !ok {
		return nil, &httpclient.Error{Kind: httpclient.KindNotFound, StatusCode: 404, Message: "record not found"}
	}

	if resolution == "" && f.conflicts > 0 {
		f.conflicts--
		return nil, &httpclient.Error{
			Kind:       httpclient.KindConflict,
			StatusCode: 409,
			Message:    "record changed on server",
			Conflict: &api.ConflictResponse{
				Conflict:      true,
				Message:       "record changed on server",
				ServerVersion: *cloneRecord(rec),
				ClientVersion: api.ClientVersion{Payload: req.Payload, SyncVersion: req.SyncVersion},
			},
		}
	}

	f.updates++
	rec.Payload = append(json.RawMessage(nil), req.Payload...)
	rec.SyncVersion++
	rec.UpdatedAt = time.Now().UTC()
	rec.LastSyncedAt = rec.UpdatedAt
	return cloneRecord(rec), nil
}

func (f *fakeServer) DeleteRecord(ctx context.Context, entity, serverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.gate(); err != nil {
		return err
	}
	delete(f.records, serverID)
	return nil
}

func (f *fakeServer) GetRecord(ctx context.Context, entity, serverID string) (*api.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.gate(); err != nil {
		return nil, err
	}
	rec, ok := f.records[serverID]
	if !ok {
		return nil, &httpclient.Error{Kind: httpclient.KindNotFound, StatusCode: 404, Message: "record not found"}
	}
	return cloneRecord(rec), nil
}

func (f *fakeServer) ListRecords(ctx context.Context, entity string, query url.Values) (*api.ListResponse, error) {
	return &api.ListResponse{}, nil
}

func (f *fakeServer) PatchStock(ctx context.Context, productID string, req api.StockPatchRequest, idemKey string) (*api.StockResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.gate(); err != nil {
		return nil, err
	}

	product, ok := f.records[productID]
	if !ok {
		return nil, &httpclient.Error{Kind: httpclient.KindNotFound, StatusCode: 404, Message: "product not found"}
	}

	var p models.Product
	if err := json.Unmarshal(product.Payload, &p); err != nil {
		return nil, err
	}
	before := p.Quantity
	p.Quantity += *req.Adjustment
	if p.Quantity < 0 {
		p.Quantity = 0
	}
	payload, err := json.Marshal(&p)
	if err != nil {
		return nil, err
	}
	product.Payload = payload
	product.SyncVersion++
	product.UpdatedAt = time.Now().UTC()
	product.LastSyncedAt = product.UpdatedAt

	movementPayload, err := json.Marshal(&models.StockMovement{
		ProductID:      productID,
		Reason:         req.Reason,
		RefKey:         idemKey,
		Delta:          *req.Adjustment,
		QuantityBefore: before,
		QuantityAfter:  p.Quantity,
	})
	if err != nil {
		return nil, err
	}
	movement, err := f.createLocked(models.EntityStockMovement, movementPayload)
	if err != nil {
		return nil, err
	}

	f.patchKeys = append(f.patchKeys, idemKey)
	return &api.StockResponse{Product: *cloneRecord(product), Movement: *movement}, nil
}

func (f *fakeServer) createLocked(entity string, payload json.RawMessage) (*api.Record, error) {
	f.nextID++
	now := time.Now().UTC()
	rec := &api.Record{
		ServerID:     fmt.Sprintf("srv-%d", f.nextID),
		Entity:       entity,
		Payload:      payload,
		SyncVersion:  1,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastSyncedAt: now,
	}
	f.records[rec.ServerID] = rec
	return cloneRecord(rec), nil
}

func (f *fakeServer) VoidSale(ctx context.Context, serverID string) (*api.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.gate(); err != nil {
		return nil, err
	}

	rec, ok := f.records[serverID]
	if !ok {
		return nil, &httpclient.Error{Kind: httpclient.KindNotFound, StatusCode: 404, Message: "sale not found"}
	}

	var sale models.Sale
	if err := json.Unmarshal(rec.Payload, &sale); err != nil {
		return nil, err
	}
	sale.Status = models.SaleStatusVoided
	payload, err := json.Marshal(&sale)
	if err != nil {
		return nil, err
	}
	rec.Payload = payload
	rec.SyncVersion++
	return cloneRecord(rec), nil
}

func (f *fakeServer) Transfer(ctx context.Context, req api.TransferRequest) (*api.TransferResponse, error) {
	return nil, &httpclient.Error{Kind: httpclient.KindValidation, Message: "not supported by fake"}
}

func (f *fakeServer) Bulk(ctx context.Context, entity string, req api.BulkRequest) (*api.BulkResponse, error) {
	return nil, &httpclient.Error{Kind: httpclient.KindValidation, Message: "not supported by fake"}
}

func newTestEngine(t *testing.T, server *fakeServer, opts ...Option) *Engine {
	t.Helper()
	store, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithBackoff(time.Millisecond)}, opts...)
	return NewEngine(server, store, "store-1", logger, opts...)
}

func productJSON(t *testing.T, name string, quantity int64) json.RawMessage {
	t.Helper()
	body, err := json.Marshal(&models.Product{Name: name, Price: 10.0, Quantity: quantity, Active: true})
	require.NoError(t, err)
	return body
}

func TestCreate_Online(t *testing.T) {
	server := newFakeServer()
	engine := newTestEngine(t, server)
	ctx := context.Background()

	result, err := engine.Create(ctx, models.EntityProduct, productJSON(t, "Rice", 10))
	require.NoError(t, err)
	assert.True(t, result.Synced)

	record, err := engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, result.LocalID)
	require.NoError(t, err)
	assert.True(t, record.Promoted())
	assert.False(t, record.NeedsSync)
	assert.Equal(t, int64(1), record.SyncVersion)
}

func TestCreate_OfflineQueuesThenDrains(t *testing.T) {
	server := newFakeServer()
	server.failAll = true
	engine := newTestEngine(t, server)
	ctx := context.Background()

	// Офлайн: операция успешна, строка остается в очереди
	result, err := engine.Create(ctx, models.EntityProduct, productJSON(t, "Rice", 10))
	require.NoError(t, err)
	assert.False(t, result.Synced)

	record, err := engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, result.LocalID)
	require.NoError(t, err)
	assert.True(t, record.NeedsSync)
	assert.False(t, record.Promoted())

	// Связь восстановлена: drain промоутит строку
	server.failAll = false
	stats, err := engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pushed)

	record, err = engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, result.LocalID)
	require.NoError(t, err)
	assert.True(t, record.Promoted())
	assert.False(t, record.NeedsSync)
}

func TestCreate_ValidationRejected(t *testing.T) {
	server := newFakeServer()
	engine := newTestEngine(t, server)

	_, err := engine.Create(context.Background(), models.EntityProduct, json.RawMessage(`{"name":""}`))
	require.Error(t, err)

	apiErr, ok := httpclient.AsError(err)
	require.True(t, ok)
	assert.Equal(t, httpclient.KindValidation, apiErr.Kind)

	// Невалидный payload не попадает даже в локальную очередь
	queued, err := engine.store.AllNeedingSync(context.Background(), "store-1")
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestDrain_CausalOrder(t *testing.T) {
	server := newFakeServer()
	server.failAll = true

	// Часы идут назад: продажа получает более ранний UpdatedAt, чем товар,
	// и попадает в начало очереди
	calls := 0
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, server, WithClock(func() time.Time {
		calls++
		return base.Add(-time.Duration(calls) * time.Minute)
	}))
	ctx := context.Background()

	product, err := engine.Create(ctx, models.EntityProduct, productJSON(t, "Rice", 10))
	require.NoError(t, err)

	salePayload, err := json.Marshal(&models.Sale{
		Items:   []models.SaleItem{{ProductLocalID: product.LocalID, Quantity: 2, UnitPrice: 10.0}},
		Payment: "cash",
		Status:  models.SaleStatusCompleted,
		Total:   20.0,
	})
	require.NoError(t, err)
	_, err = engine.Create(ctx, models.EntitySale, salePayload)
	require.NoError(t, err)

	server.failAll = false
	stats, err := engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pushed)

	// Ссылки уходят раньше ссылающихся строк
	require.Equal(t, []string{models.EntityProduct, models.EntitySale}, server.createOrder)

	// Локальная ссылка переписана на server id
	var saleRecord *api.Record
	for _, rec := range server.records {
		if rec.Entity == models.EntitySale {
			saleRecord = rec
		}
	}
	require.NotNil(t, saleRecord)
	assert.Contains(t, string(saleRecord.Payload), `"product_id":"srv-1"`)
	assert.NotContains(t, string(saleRecord.Payload), "product_local_id")
}

func TestDrain_SecondRunIsNoop(t *testing.T) {
	server := newFakeServer()
	server.failAll = true
	engine := newTestEngine(t, server)
	ctx := context.Background()

	_, err := engine.Create(ctx, models.EntityProduct, productJSON(t, "Rice", 10))
	require.NoError(t, err)

	server.failAll = false
	stats, err := engine.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Pushed)

	stats, err = engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pushed)
	assert.Equal(t, 0, stats.Skipped)
}

func TestDrain_RetriesExhaustedLeaveRowQueued(t *testing.T) {
	server := newFakeServer()
	server.failAll = true
	engine := newTestEngine(t, server)
	ctx := context.Background()

	result, err := engine.Create(ctx, models.EntityProduct, productJSON(t, "Rice", 10))
	require.NoError(t, err)

	// Сервер так и не поднялся: строка остается в очереди, drain не падает
	stats, err := engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pushed)
	assert.Equal(t, 1, stats.Skipped)

	record, err := engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, result.LocalID)
	require.NoError(t, err)
	assert.True(t, record.NeedsSync)
}

func TestDrain_RateLimitWaitsForRetryAfterHint(t *testing.T) {
	server := newFakeServer()
	server.failAll = true
	engine := newTestEngine(t, server)
	ctx := context.Background()

	_, err := engine.Create(ctx, models.EntityProduct, productJSON(t, "Rice", 10))
	require.NoError(t, err)

	// Первый вызов получает 429 с подсказкой, заметно большей базового
	// бэкоффа в 1мс
	server.failAll = false
	server.throttle = 1
	server.retryAfter = 75 * time.Millisecond

	start := time.Now()
	stats, err := engine.Drain(ctx)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pushed)
	// Ретрай ждал серверную подсказку, а не экспоненту
	assert.GreaterOrEqual(t, elapsed, server.retryAfter)
}

func TestDrain_ConflictedRowWaitsForResolution(t *testing.T) {
	server := newFakeServer()
	engine := newTestEngine(t, server)
	ctx := context.Background()

	created, err := engine.Create(ctx, models.EntityProduct, productJSON(t, "Rice", 10))
	require.NoError(t, err)

	server.conflicts = 1
	result, err := engine.Update(ctx, models.EntityProduct, created.LocalID, productJSON(t, "Rice Premium", 10))
	require.NoError(t, err)
	require.NotNil(t, result.Conflict)

	// Drain не перепосылает конфликтную строку: она ждет выбора стратегии
	updatesBefore := server.updates
	stats, err := engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Conflicts)
	assert.Equal(t, 0, stats.Pushed)
	assert.Equal(t, updatesBefore, server.updates)

	record, err := engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, created.LocalID)
	require.NoError(t, err)
	assert.True(t, record.Conflicted)

	// После выбора стратегии строка уходит и очередь пустеет
	require.NoError(t, engine.Resolve(ctx, models.EntityProduct, created.LocalID, api.ResolutionAcceptClient, nil))
	stats, err = engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Conflicts)
}

func TestDrain_ReferenceCycleIsHardError(t *testing.T) {
	server := newFakeServer()
	engine := newTestEngine(t, server)

	// Схема ссылок ациклична, цикл означает испорченные данные: строка,
	// повторно встреченная на пути обхода, прерывает drain целиком
	row := &models.Record{
		TenantID:  "store-1",
		Entity:    models.EntitySale,
		LocalID:   1,
		Payload:   json.RawMessage(`{"items":[{"product_local_id":2,"quantity":1,"unit_price":5}],"total":5}`),
		NeedsSync: true,
	}
	key := rowKey{entity: models.EntitySale, localID: row.LocalID}
	state := &drainState{
		index:    map[rowKey]*models.Record{key: row},
		visiting: map[rowKey]bool{key: true},
		done:     map[rowKey]bool{},
		stats:    &DrainStats{},
	}

	err := engine.flushRow(context.Background(), state, row)
	assert.ErrorIs(t, err, ErrReferenceCycle)
}

func TestUpdate_ConflictMarksRow(t *testing.T) {
	server := newFakeServer()
	engine := newTestEngine(t, server)
	ctx := context.Background()

	created, err := engine.Create(ctx, models.EntityProduct, productJSON(t, "Rice", 10))
	require.NoError(t, err)

	server.conflicts = 1
	result, err := engine.Update(ctx, models.EntityProduct, created.LocalID, productJSON(t, "Rice Premium", 10))
	require.NoError(t, err)
	assert.False(t, result.Synced)
	require.NotNil(t, result.Conflict)
	assert.True(t, result.Conflict.Conflict)

	record, err := engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, created.LocalID)
	require.NoError(t, err)
	assert.True(t, record.Conflicted)
	assert.True(t, record.NeedsSync)
}

func TestResolve_AcceptServer(t *testing.T) {
	server := newFakeServer()
	engine := newTestEngine(t, server)
	ctx := context.Background()

	created, err := engine.Create(ctx, models.EntityProduct, productJSON(t, "Rice", 10))
	require.NoError(t, err)

	server.conflicts = 1
	_, err = engine.Update(ctx, models.EntityProduct, created.LocalID, productJSON(t, "Rice Local", 10))
	require.NoError(t, err)

	require.NoError(t, engine.Resolve(ctx, models.EntityProduct, created.LocalID, api.ResolutionAcceptServer, nil))

	// Локальная правка отброшена в пользу серверной версии
	record, err := engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, created.LocalID)
	require.NoError(t, err)
	assert.False(t, record.Conflicted)
	assert.False(t, record.NeedsSync)
	assert.Contains(t, string(record.Payload), `"name":"Rice"`)
}

func TestResolve_AcceptClient(t *testing.T) {
	server := newFakeServer()
	engine := newTestEngine(t, server)
	ctx := context.Background()

	created, err := engine.Create(ctx, models.EntityProduct, productJSON(t, "Rice", 10))
	require.NoError(t, err)

	server.conflicts = 1
	_, err = engine.Update(ctx, models.EntityProduct, created.LocalID, productJSON(t, "Rice Local", 10))
	require.NoError(t, err)

	require.NoError(t, engine.Resolve(ctx, models.EntityProduct, created.LocalID, api.ResolutionAcceptClient, nil))

	record, err := engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, created.LocalID)
	require.NoError(t, err)
	assert.False(t, record.Conflicted)
	assert.Contains(t, string(record.Payload), `"name":"Rice Local"`)
	assert.Equal(t, int64(2), record.SyncVersion)

	// Сервер получил клиентский payload под следующей версией
	serverRecord := server.records[record.ServerID]
	assert.Contains(t, string(serverRecord.Payload), `"name":"Rice Local"`)
}

func TestResolve_MergeRequiresPayload(t *testing.T) {
	server := newFakeServer()
	engine := newTestEngine(t, server)
	ctx := context.Background()

	created, err := engine.Create(ctx, models.EntityProduct, productJSON(t, "Rice", 10))
	require.NoError(t, err)

	err = engine.Resolve(ctx, models.EntityProduct, created.LocalID, api.ResolutionMerge, nil)
	assert.Error(t, err)
}

func TestUpdateStock_Online(t *testing.T) {
	server := newFakeServer()
	engine := newTestEngine(t, server)
	ctx := context.Background()

	created, err := engine.Create(ctx, models.EntityProduct, productJSON(t, "Rice", 10))
	require.NoError(t, err)

	result, err := engine.UpdateStock(ctx, created.LocalID, -4, models.StockReasonAdjustment)
	require.NoError(t, err)
	assert.True(t, result.Synced)
	assert.Equal(t, int64(6), result.Quantity)

	// Локальный товар согласован с подтвержденным серверным количеством
	product, err := engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, created.LocalID)
	require.NoError(t, err)
	var p models.Product
	require.NoError(t, json.Unmarshal(product.Payload, &p))
	assert.Equal(t, int64(6), p.Quantity)
}

func TestUpdateStock_OfflineQueuesMovement(t *testing.T) {
	server := newFakeServer()
	engine := newTestEngine(t, server)
	ctx := context.Background()

	created, err := engine.Create(ctx, models.EntityProduct, productJSON(t, "Rice", 10))
	require.NoError(t, err)

	server.failAll = true
	result, err := engine.UpdateStock(ctx, created.LocalID, -4, models.StockReasonAdjustment)
	require.NoError(t, err)
	assert.False(t, result.Synced)

	// Движение в очереди с проштампованным ключом идемпотентности
	movement, err := engine.store.GetByLocalID(ctx, "store-1", models.EntityStockMovement, result.MovementLocalID)
	require.NoError(t, err)
	assert.True(t, movement.NeedsSync)
	var m models.StockMovement
	require.NoError(t, json.Unmarshal(movement.Payload, &m))
	expectedKey := fmt.Sprintf("store-1:%s:%d", models.EntityStockMovement, result.MovementLocalID)
	assert.Equal(t, expectedKey, m.RefKey)

	// Серверное количество локально не изменено, пока drain не подтвердил
	product, err := engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, created.LocalID)
	require.NoError(t, err)
	var p models.Product
	require.NoError(t, json.Unmarshal(product.Payload, &p))
	assert.Equal(t, int64(10), p.Quantity)

	// Drain проигрывает движение с тем же ключом
	server.failAll = false
	stats, err := engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pushed)
	require.Len(t, server.patchKeys, 1)
	assert.Equal(t, expectedKey, server.patchKeys[0])

	product, err = engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, created.LocalID)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(product.Payload, &p))
	assert.Equal(t, int64(6), p.Quantity)
}

func TestVoidSale_RestoresLocalQuantity(t *testing.T) {
	server := newFakeServer()
	engine := newTestEngine(t, server)
	ctx := context.Background()

	product, err := engine.Create(ctx, models.EntityProduct, productJSON(t, "Rice", 10))
	require.NoError(t, err)
	promoted, err := engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, product.LocalID)
	require.NoError(t, err)

	salePayload, err := json.Marshal(&models.Sale{
		Items:   []models.SaleItem{{ProductID: promoted.ServerID, Quantity: 3, UnitPrice: 10.0}},
		Payment: "cash",
		Status:  models.SaleStatusCompleted,
		Total:   30.0,
	})
	require.NoError(t, err)
	sale, err := engine.Create(ctx, models.EntitySale, salePayload)
	require.NoError(t, err)
	require.True(t, sale.Synced)

	// Подтвержденная продажа уменьшила локальный остаток
	current, err := engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, product.LocalID)
	require.NoError(t, err)
	var p models.Product
	require.NoError(t, json.Unmarshal(current.Payload, &p))
	require.Equal(t, int64(7), p.Quantity)

	require.NoError(t, engine.VoidSale(ctx, sale.LocalID))

	current, err = engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, product.LocalID)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(current.Payload, &p))
	assert.Equal(t, int64(10), p.Quantity)

	saleRecord, err := engine.store.GetByLocalID(ctx, "store-1", models.EntitySale, sale.LocalID)
	require.NoError(t, err)
	var v models.Sale
	require.NoError(t, json.Unmarshal(saleRecord.Payload, &v))
	assert.Equal(t, models.SaleStatusVoided, v.Status)
}

func TestDelete_UnpromotedRowIsHardDeleted(t *testing.T) {
	server := newFakeServer()
	server.failAll = true
	engine := newTestEngine(t, server)
	ctx := context.Background()

	created, err := engine.Create(ctx, models.EntityProduct, productJSON(t, "Rice", 10))
	require.NoError(t, err)

	result, err := engine.Delete(ctx, models.EntityProduct, created.LocalID)
	require.NoError(t, err)
	assert.True(t, result.Synced)

	_, err = engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, created.LocalID)
	assert.Error(t, err)
}

func TestDelete_PromotedRowTombstonedOffline(t *testing.T) {
	server := newFakeServer()
	engine := newTestEngine(t, server)
	ctx := context.Background()

	created, err := engine.Create(ctx, models.EntityProduct, productJSON(t, "Rice", 10))
	require.NoError(t, err)

	server.failAll = true
	result, err := engine.Delete(ctx, models.EntityProduct, created.LocalID)
	require.NoError(t, err)
	assert.False(t, result.Synced)

	// Tombstone держит строку до подтверждения сервером
	record, err := engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, created.LocalID)
	require.NoError(t, err)
	assert.True(t, record.Tombstone)
	assert.True(t, record.NeedsSync)

	server.failAll = false
	stats, err := engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pushed)

	_, err = engine.store.GetByLocalID(ctx, "store-1", models.EntityProduct, created.LocalID)
	assert.Error(t, err)
	assert.Empty(t, server.records)
}
