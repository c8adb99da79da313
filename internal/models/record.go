package models

import (
	"encoding/json"
	"time"
)

// Record представляет синхронизируемую запись: фиксированный sync-конверт
// плюс непрозрачный payload конкретной сущности.
// Клиент владеет полями LocalID и NeedsSync, сервер владеет ServerID,
// SyncVersion и LastSyncedAt. Payload и UpdatedAt пишут обе стороны.
type Record struct {
	CreatedAt    time.Time       `json:"created_at"`     // CreatedAt время создания записи
	UpdatedAt    time.Time       `json:"updated_at"`     // UpdatedAt время последнего изменения (локального или серверного)
	LastSyncedAt time.Time       `json:"last_synced_at"` // LastSyncedAt время последней принятой сервером записи
	ServerID     string          `json:"server_id,omitempty"`
	TenantID     string          `json:"tenant_id"`
	Entity       string          `json:"entity"`
	Payload      json.RawMessage `json:"payload"`
	LocalID      uint64          `json:"local_id,omitempty"`
	SyncVersion  int64           `json:"sync_version"` // SyncVersion монотонная версия, начинается с 1 после первой промоции
	NeedsSync    bool            `json:"needs_sync"`   // NeedsSync локальное состояние опережает сервер
	Tombstone    bool            `json:"tombstone"`    // Tombstone помечена к удалению на сервере
	Conflicted   bool            `json:"conflicted"`   // Conflicted последний push завершился конфликтом версий
	Active       bool            `json:"active"`       // Active false после server-side soft delete
}

// Entity constants recognised by the sync core.
const (
	EntityProduct       = "product"
	EntitySale          = "sale"
	EntityCustomer      = "customer"
	EntityEmployee      = "employee"
	EntityCredit        = "credit"
	EntityPurchaseOrder = "purchase_order"
	EntityClockEvent    = "clock_event"
	EntityStockMovement = "stock_movement"
)

// Entities lists every entity variant in a stable order.
var Entities = []string{
	EntityProduct,
	EntitySale,
	EntityCustomer,
	EntityEmployee,
	EntityCredit,
	EntityPurchaseOrder,
	EntityClockEvent,
	EntityStockMovement,
}

// KnownEntity reports whether entity is one of the recognised variants.
func KnownEntity(entity string) bool {
	for _, e := range Entities {
		if e == entity {
			return true
		}
	}
	return false
}

// Promoted reports whether the record has received its authoritative
// server identity.
func (r *Record) Promoted() bool {
	return r.ServerID != ""
}

// Clone создает глубокую копию записи
func (r *Record) Clone() *Record {
	payload := make(json.RawMessage, len(r.Payload))
	copy(payload, r.Payload)

	clone := *r
	clone.Payload = payload
	return &clone
}

// DeletePolicy describes how an entity is deleted on the server.
type DeletePolicy int

const (
	// DeleteSoft marks the record inactive but keeps the row.
	DeleteSoft DeletePolicy = iota
	// DeleteHard removes the row entirely.
	DeleteHard
)

// DeletePolicyFor returns the fixed per-entity deletion policy.
// Hard delete is reserved for products and purchase orders; everything
// else is soft-deleted so history stays queryable.
func DeletePolicyFor(entity string) DeletePolicy {
	switch entity {
	case EntityProduct, EntityPurchaseOrder:
		return DeleteHard
	default:
		return DeleteSoft
	}
}
