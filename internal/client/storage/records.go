package storage

import (
	"context"

	"github.com/storekit/storesync/internal/models"
)

// RecordStore defines the durable per-tenant, per-entity record table on
// the client. Every write must be durable before it is acknowledged;
// readers never observe a torn record.
type RecordStore interface {
	// Put stores or updates a record. A zero LocalID is assigned from the
	// per-(tenant, entity) sequence inside the same transaction.
	Put(ctx context.Context, record *models.Record) error

	// GetByLocalID retrieves a record by its client-assigned id.
	// Returns ErrRecordNotFound if no record exists.
	GetByLocalID(ctx context.Context, tenantID, entity string, localID uint64) (*models.Record, error)

	// GetByServerID retrieves a record by its server-assigned id.
	// Returns ErrRecordNotFound if no record exists.
	GetByServerID(ctx context.Context, tenantID, entity, serverID string) (*models.Record, error)

	// FindByTenant returns every record of one entity matching the
	// predicate. A nil predicate matches everything.
	FindByTenant(ctx context.Context, tenantID, entity string, pred func(*models.Record) bool) ([]*models.Record, error)

	// AllNeedingSync returns every queued record of the tenant across all
	// entities, in no particular order. Drain ordering is the engine's job.
	AllNeedingSync(ctx context.Context, tenantID string) ([]*models.Record, error)

	// DeleteByLocalID hard-deletes a record. Tombstone bookkeeping is the
	// engine's job; the store only removes the row and its index entry.
	DeleteByLocalID(ctx context.Context, tenantID, entity string, localID uint64) error

	// Close closes the underlying store.
	Close() error
}
