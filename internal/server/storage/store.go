package storage

import (
	"context"
	"encoding/json"

	"github.com/storekit/storesync/internal/models"
	"github.com/storekit/storesync/internal/resolve"
)

// ListFilter narrows a record listing. Zero values mean "no filter".
type ListFilter struct {
	Category string
	Search   string
	Sort     string
	Active   *bool
	Limit    int
	Offset   int
}

// StockMutation is the result of one applied stock delta: the product
// after the change plus the movement record written for the audit trail.
type StockMutation struct {
	Product  *models.Record `json:"product"`
	Movement *models.Record `json:"movement"`
}

// TransferResult pairs the two sides of a cross-store transfer.
type TransferResult struct {
	Key  string         `json:"key"`
	From *StockMutation `json:"from"`
	To   *StockMutation `json:"to"`
}

// Store defines the authoritative server-side record store. It owns
// server identities, monotonic version stamps and per-tenant indexes;
// every query predicate is tenant-scoped.
type Store interface {
	// CreateRecord assigns a server id and sync_version=1. A non-empty
	// idemKey makes retried creates return the original record instead of
	// inserting a duplicate.
	CreateRecord(ctx context.Context, tenantID, entity string, payload json.RawMessage, idemKey string) (*models.Record, error)

	// GetRecord returns one active record.
	// Returns ErrRecordNotFound if absent or soft-deleted.
	GetRecord(ctx context.Context, tenantID, entity, serverID string) (*models.Record, error)

	// ListRecords returns filtered records of one entity.
	ListRecords(ctx context.Context, tenantID, entity string, filter ListFilter) ([]*models.Record, error)

	// UpdateRecord applies the version guard: an omitted (zero) proposal
	// version or a matching one is accepted and bumps sync_version
	// atomically with the patch; a mismatch returns *ConflictError.
	// resolution may name a conflict strategy to force past the guard.
	UpdateRecord(ctx context.Context, tenantID, entity, serverID string, proposal resolve.Proposal, resolution string) (*models.Record, error)

	// DeleteRecord deletes per the entity's fixed policy: hard for
	// products and purchase orders, soft otherwise.
	DeleteRecord(ctx context.Context, tenantID, entity, serverID string) error

	// ApplyStockDelta atomically applies quantity <- max(0, quantity+delta)
	// and writes the paired movement record. Replays of the same idemKey
	// return the prior result without re-applying.
	ApplyStockDelta(ctx context.Context, tenantID, productID string, delta int64, reason, idemKey string) (*StockMutation, error)

	// CreateSale inserts the sale and applies every item's stock decrement
	// in the same logical write, idempotent on idemKey.
	CreateSale(ctx context.Context, tenantID string, payload json.RawMessage, idemKey string) (*models.Record, error)

	// VoidSale marks a sale voided and restores its stock deltas.
	VoidSale(ctx context.Context, tenantID, serverID string) (*models.Record, error)

	// Transfer moves quantity between two stores: decrement at the source,
	// increment at the destination, one movement on each side sharing key.
	Transfer(ctx context.Context, fromTenant, toTenant, fromProduct, toProduct string, quantity int64, key string) (*TransferResult, error)

	// Close closes the store.
	Close() error
}
