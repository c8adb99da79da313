// Package api contains the wire types shared between the POS client and
// the server. The JSON shapes here are the protocol contract.
package api

import (
	"encoding/json"
	"time"
)

// Record is the server-side view of a synchronized record.
// LocalID and NeedsSync never cross the wire: they belong to the client.
type Record struct {
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	LastSyncedAt time.Time       `json:"last_synced_at"`
	ServerID     string          `json:"server_id"`
	Entity       string          `json:"entity"`
	Payload      json.RawMessage `json:"payload"`
	SyncVersion  int64           `json:"sync_version"`
	Active       bool            `json:"active"`
}

// UpdateRequest представляет тело PUT /{resource}/{serverId}.
// SyncVersion равен версии, от которой клиент делал правку; ноль означает
// legacy-запись без заявленной базовой версии (принимается без проверки).
type UpdateRequest struct {
	Payload     json.RawMessage `json:"payload"`
	SyncVersion int64           `json:"sync_version"`
}

// ListResponse представляет ответ GET /{resource}.
type ListResponse struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
}

// ClientVersion is the client proposal echoed back inside a conflict report.
type ClientVersion struct {
	Payload     json.RawMessage `json:"payload"`
	SyncVersion int64           `json:"sync_version"`
}

// ResolutionHints names the strategies available after a conflict.
type ResolutionHints struct {
	AcceptServer string `json:"acceptServer"`
	AcceptClient string `json:"acceptClient"`
	Merge        string `json:"merge"`
}

// ConflictResponse is the body of every 409 response.
// Field names follow the protocol contract, not the record convention.
type ConflictResponse struct {
	Conflict      bool            `json:"conflict"`
	Message       string          `json:"message"`
	ServerVersion Record          `json:"serverVersion"`
	ClientVersion ClientVersion   `json:"clientVersion"`
	Resolution    ResolutionHints `json:"resolution"`
}

// Resolution strategy names accepted by PUT with the X-Conflict-Resolution
// header after a conflict was reported.
const (
	ResolutionAcceptServer = "acceptServer"
	ResolutionAcceptClient = "acceptClient"
	ResolutionMerge        = "merge"
)

// FieldError описывает одну ошибку валидации поля.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse is the common error envelope.
type ErrorResponse struct {
	Error      string       `json:"error"`
	StatusCode int          `json:"statusCode"`
	Errors     []FieldError `json:"errors,omitempty"`
	RetryAfter int          `json:"retryAfter,omitempty"`
}

// StockPatchRequest представляет тело PATCH /products/{serverId}/stock.
// Quantity задает абсолютное значение, Adjustment — знаковую дельту;
// ровно одно из двух должно быть установлено.
type StockPatchRequest struct {
	Quantity   *int64 `json:"quantity,omitempty"`
	Adjustment *int64 `json:"adjustment,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// StockResponse returns the product after a stock mutation together with
// the movement record written for the audit trail.
type StockResponse struct {
	Product  Record `json:"product"`
	Movement Record `json:"movement"`
}

// TransferRequest представляет тело POST /transfer: перемещение товара
// между магазинами. Обе стороны пишут movement-запись с общим ключом.
type TransferRequest struct {
	FromTenant    string `json:"from_tenant"`
	ToTenant      string `json:"to_tenant"`
	FromProductID string `json:"from_product_id"`
	ToProductID   string `json:"to_product_id"`
	Quantity      int64  `json:"quantity"`
	Key           string `json:"key,omitempty"` // Key общий idempotency key; сервер генерирует, если пуст
}

// TransferResponse returns both sides of a completed transfer.
type TransferResponse struct {
	Key          string `json:"key"`
	FromProduct  Record `json:"from_product"`
	ToProduct    Record `json:"to_product"`
	FromMovement Record `json:"from_movement"`
	ToMovement   Record `json:"to_movement"`
}

// Bulk actions.
const (
	BulkActionCreate = "create"
	BulkActionUpdate = "update"
)

// BulkItem is one element of a POST /{resource}/bulk vector.
type BulkItem struct {
	Action      string          `json:"action"`
	ID          string          `json:"id,omitempty"`
	SyncVersion int64           `json:"sync_version,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// BulkRequest представляет тело POST /{resource}/bulk.
type BulkRequest struct {
	Items []BulkItem `json:"items"`
}

// BulkResult is the per-item outcome of a bulk request.
// Partial success is allowed: each item succeeds or fails on its own.
type BulkResult struct {
	Record     *Record `json:"record,omitempty"`
	Error      string  `json:"error,omitempty"`
	StatusCode int     `json:"statusCode"`
	OK         bool    `json:"ok"`
}

// BulkResponse представляет ответ POST /{resource}/bulk.
type BulkResponse struct {
	Results []BulkResult `json:"results"`
}

// Event actions broadcast to tenant rooms.
const (
	EventCreated      = "created"
	EventUpdated      = "updated"
	EventDeleted      = "deleted"
	EventStockUpdated = "stock-updated"
)

// Event is a best-effort change notification. Consumers must treat it as
// a cache-invalidation hint, never as primary data.
type Event struct {
	At       time.Time `json:"at"`
	Resource string    `json:"resource"`
	Action   string    `json:"action"`
	Record   Record    `json:"record"`
}

// IdempotencyKeyHeader carries the client-generated key that lets the
// server recognise retries of the same logical operation.
const IdempotencyKeyHeader = "Idempotency-Key"

// ConflictResolutionHeader selects a resolution strategy on a retried PUT.
const ConflictResolutionHeader = "X-Conflict-Resolution"
