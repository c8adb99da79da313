package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/storekit/storesync/internal/models"
	"github.com/storekit/storesync/internal/server/storage"
)

// getRecordTx loads one active record inside an open transaction.
func (s *Storage) getRecordTx(ctx context.Context, tx *sql.Tx, tenantID, entity, serverID string) (*models.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE server_id = ? AND tenant_id = ? AND entity = ?
	`
	record, err := scanRecord(tx.QueryRowContext(ctx, query, serverID, tenantID, entity))
	if err != nil {
		return nil, err
	}
	if !record.Active {
		return nil, storage.ErrRecordNotFound
	}
	return record, nil
}

// updateRowTx writes back a mutated record inside an open transaction.
func (s *Storage) updateRowTx(ctx context.Context, tx *sql.Tx, record *models.Record) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE records
		SET payload = ?, sync_version = ?, updated_at = ?, last_synced_at = ?
		WHERE server_id = ? AND tenant_id = ?
	`,
		string(record.Payload),
		record.SyncVersion,
		record.UpdatedAt.UnixNano(),
		record.LastSyncedAt.UnixNano(),
		record.ServerID,
		record.TenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to write record row: %w", err)
	}
	return nil
}

// applyDeltaTx применяет знаковую дельту к количеству товара внутри
// открытой транзакции: quantity <- max(0, quantity+delta), версия товара
// растет на единицу, и парная movement-запись фиксирует до/после.
func (s *Storage) applyDeltaTx(ctx context.Context, tx *sql.Tx, tenantID, productID string, delta int64, reason, refKey string) (*storage.StockMutation, error) {
	product, err := s.getRecordTx(ctx, tx, tenantID, models.EntityProduct, productID)
	if err != nil {
		return nil, err
	}

	var payload models.Product
	if err := json.Unmarshal(product.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode product payload: %w", err)
	}

	before := payload.Quantity
	after := before + delta
	if after < 0 {
		// Количество не уходит в минус: дельта обрезается по нулю
		after = 0
	}
	payload.Quantity = after

	newPayload, err := json.Marshal(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode product payload: %w", err)
	}

	now := s.now()
	product.Payload = newPayload
	product.SyncVersion++
	product.UpdatedAt = now
	product.LastSyncedAt = now
	if err := s.updateRowTx(ctx, tx, product); err != nil {
		return nil, err
	}

	movementPayload, err := json.Marshal(&models.StockMovement{
		ProductID:      productID,
		Reason:         reason,
		RefKey:         refKey,
		Delta:          delta,
		QuantityBefore: before,
		QuantityAfter:  after,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode movement payload: %w", err)
	}

	movement, err := s.insertRecordTx(ctx, tx, tenantID, models.EntityStockMovement, movementPayload)
	if err != nil {
		return nil, err
	}

	return &storage.StockMutation{Product: product, Movement: movement}, nil
}

// ApplyStockDelta applies one signed quantity delta. A replay of the same
// idemKey returns the mutation recorded for the first application without
// touching the product again.
func (s *Storage) ApplyStockDelta(ctx context.Context, tenantID, productID string, delta int64, reason, idemKey string) (*storage.StockMutation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if idemKey != "" {
		if prior, err := s.priorResponse(ctx, tx, tenantID, idemKey); err != nil {
			return nil, err
		} else if prior != nil {
			var mutation storage.StockMutation
			if err := json.Unmarshal(prior, &mutation); err != nil {
				return nil, fmt.Errorf("failed to decode stored response: %w", err)
			}
			return &mutation, nil
		}
	}

	mutation, err := s.applyDeltaTx(ctx, tx, tenantID, productID, delta, reason, idemKey)
	if err != nil {
		return nil, err
	}

	if idemKey != "" {
		if err := s.saveResponse(ctx, tx, tenantID, idemKey, "stock", mutation); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return mutation, nil
}

// Transfer moves quantity between two stores in one transaction: the
// source side is decremented, the destination incremented, and both
// movement records carry the same key so the two halves stay traceable.
func (s *Storage) Transfer(ctx context.Context, fromTenant, toTenant, fromProduct, toProduct string, quantity int64, key string) (*storage.TransferResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("transfer quantity must be positive, got %d", quantity)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if key != "" {
		if prior, err := s.priorResponse(ctx, tx, fromTenant, key); err != nil {
			return nil, err
		} else if prior != nil {
			var result storage.TransferResult
			if err := json.Unmarshal(prior, &result); err != nil {
				return nil, fmt.Errorf("failed to decode stored response: %w", err)
			}
			return &result, nil
		}
	}

	from, err := s.applyDeltaTx(ctx, tx, fromTenant, fromProduct, -quantity, models.StockReasonTransfer, key)
	if err != nil {
		return nil, fmt.Errorf("transfer source: %w", err)
	}
	to, err := s.applyDeltaTx(ctx, tx, toTenant, toProduct, quantity, models.StockReasonTransfer, key)
	if err != nil {
		return nil, fmt.Errorf("transfer destination: %w", err)
	}

	result := &storage.TransferResult{Key: key, From: from, To: to}

	if key != "" {
		if err := s.saveResponse(ctx, tx, fromTenant, key, "transfer", result); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return result, nil
}
