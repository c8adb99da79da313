package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/storekit/storesync/internal/models"
	"github.com/storekit/storesync/internal/server/storage"
)

// CreateSale inserts the sale and applies every item's stock decrement in
// one transaction. A crash between the two halves is impossible: either the
// whole logical write lands or none of it does. Replays of the same idemKey
// return the first sale without touching stock again.
func (s *Storage) CreateSale(ctx context.Context, tenantID string, payload json.RawMessage, idemKey string) (*models.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if idemKey != "" {
		if prior, err := s.priorResponse(ctx, tx, tenantID, idemKey); err != nil {
			return nil, err
		} else if prior != nil {
			var record models.Record
			if err := json.Unmarshal(prior, &record); err != nil {
				return nil, fmt.Errorf("failed to decode stored response: %w", err)
			}
			return &record, nil
		}
	}

	var sale models.Sale
	if err := json.Unmarshal(payload, &sale); err != nil {
		return nil, fmt.Errorf("failed to decode sale payload: %w", err)
	}

	// Все позиции должны ссылаться на существующие товары тенанта
	for i, item := range sale.Items {
		if item.ProductID == "" {
			return nil, fmt.Errorf("sale item %d has no product id: %w", i, storage.ErrInvalidReference)
		}
		if _, err := s.getRecordTx(ctx, tx, tenantID, models.EntityProduct, item.ProductID); err != nil {
			if errors.Is(err, storage.ErrRecordNotFound) {
				return nil, fmt.Errorf("sale item %d references unknown product %s: %w", i, item.ProductID, storage.ErrInvalidReference)
			}
			return nil, err
		}
	}

	record, err := s.insertRecordTx(ctx, tx, tenantID, models.EntitySale, payload)
	if err != nil {
		return nil, err
	}

	refKey := idemKey
	if refKey == "" {
		refKey = record.ServerID
	}
	for _, item := range sale.Items {
		if _, err := s.applyDeltaTx(ctx, tx, tenantID, item.ProductID, -item.Quantity, models.StockReasonSale, refKey); err != nil {
			return nil, fmt.Errorf("failed to apply sale delta for product %s: %w", item.ProductID, err)
		}
	}

	if idemKey != "" {
		if err := s.saveResponse(ctx, tx, tenantID, idemKey, "sale", record); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return record, nil
}

// VoidSale marks a sale voided and re-adds each item's quantity, all in one
// transaction. Voiding an already voided sale is rejected so the stock is
// never restored twice.
func (s *Storage) VoidSale(ctx context.Context, tenantID, serverID string) (*models.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	record, err := s.getRecordTx(ctx, tx, tenantID, models.EntitySale, serverID)
	if err != nil {
		return nil, err
	}

	var sale models.Sale
	if err := json.Unmarshal(record.Payload, &sale); err != nil {
		return nil, fmt.Errorf("failed to decode sale payload: %w", err)
	}
	if sale.Status == models.SaleStatusVoided {
		return nil, storage.ErrSaleVoided
	}

	sale.Status = models.SaleStatusVoided
	newPayload, err := json.Marshal(&sale)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sale payload: %w", err)
	}

	now := s.now()
	record.Payload = newPayload
	record.SyncVersion++
	record.UpdatedAt = now
	record.LastSyncedAt = now
	if err := s.updateRowTx(ctx, tx, record); err != nil {
		return nil, err
	}

	// Возврат остатков: позиции войденной продажи снова на складе
	for _, item := range sale.Items {
		if _, err := s.applyDeltaTx(ctx, tx, tenantID, item.ProductID, item.Quantity, models.StockReasonVoid, serverID); err != nil {
			return nil, fmt.Errorf("failed to restore stock for product %s: %w", item.ProductID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return record, nil
}
