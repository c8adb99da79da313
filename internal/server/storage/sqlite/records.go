package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/storekit/storesync/internal/models"
	"github.com/storekit/storesync/internal/resolve"
	"github.com/storekit/storesync/internal/server/storage"
)

const recordColumns = `server_id, tenant_id, entity, payload, sync_version, active, created_at, updated_at, last_synced_at`

// CreateRecord inserts a new record with a fresh server id and
// sync_version=1. When idemKey is set, a replayed create returns the
// record stored for the original attempt instead of inserting twice.
func (s *Storage) CreateRecord(ctx context.Context, tenantID, entity string, payload json.RawMessage, idemKey string) (*models.Record, error) {
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

	record, err := s.insertRecordTx(ctx, tx, tenantID, entity, payload)
	if err != nil {
		return nil, err
	}

	if idemKey != "" {
		if err := s.saveResponse(ctx, tx, tenantID, idemKey, "create", record); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return record, nil
}

// insertRecordTx inserts one record inside an open transaction.
func (s *Storage) insertRecordTx(ctx context.Context, tx *sql.Tx, tenantID, entity string, payload json.RawMessage) (*models.Record, error) {
	now := s.now()
	record := &models.Record{
		ServerID:     uuid.NewString(),
		TenantID:     tenantID,
		Entity:       entity,
		Payload:      payload,
		SyncVersion:  1,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastSyncedAt: now,
	}

	query := `
		INSERT INTO records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		record.ServerID,
		record.TenantID,
		record.Entity,
		string(record.Payload),
		record.SyncVersion,
		1,
		record.CreatedAt.UnixNano(),
		record.UpdatedAt.UnixNano(),
		record.LastSyncedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert record: %w", err)
	}
	return record, nil
}

// GetRecord returns one active record, tenant-scoped.
func (s *Storage) GetRecord(ctx context.Context, tenantID, entity, serverID string) (*models.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE server_id = ? AND tenant_id = ? AND entity = ?
	`
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, serverID, tenantID, entity))
	if err != nil {
		return nil, err
	}
	if !record.Active {
		// Soft-deleted записи для внешнего API не существуют
		return nil, storage.ErrRecordNotFound
	}
	return record, nil
}

// ListRecords returns filtered active records of one entity.
func (s *Storage) ListRecords(ctx context.Context, tenantID, entity string, filter storage.ListFilter) ([]*models.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE tenant_id = ? AND entity = ?
	`
	args := []any{tenantID, entity}

	if filter.Active == nil {
		query += ` AND active = 1`
	} else if *filter.Active {
		query += ` AND active = 1`
	} else {
		query += ` AND active = 0`
	}
	if filter.Category != "" {
		// payload хранится как JSON-текст: используем json_extract
		query += ` AND json_extract(payload, '$.category') = ?`
		args = append(args, filter.Category)
	}
	if filter.Search != "" {
		query += ` AND json_extract(payload, '$.name') LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(filter.Search)+"%")
	}

	switch filter.Sort {
	case "updated_at":
		query += ` ORDER BY updated_at DESC`
	case "name":
		query += ` ORDER BY json_extract(payload, '$.name') ASC`
	default:
		query += ` ORDER BY created_at DESC`
	}

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// UpdateRecord applies the optimistic-concurrency guard. The version bump
// is atomic with the patch: the UPDATE carries the expected sync_version
// in its predicate, so of two concurrent writers exactly one wins and the
// loser re-reads and reports a conflict.
func (s *Storage) UpdateRecord(ctx context.Context, tenantID, entity, serverID string, proposal resolve.Proposal, resolution string) (*models.Record, error) {
	for {
		current, err := s.GetRecord(ctx, tenantID, entity, serverID)
		if err != nil {
			return nil, err
		}

		if resolution == "" {
			if resolve.Check(current, proposal) == resolve.Conflict {
				return nil, &storage.ConflictError{Report: resolve.NewReport(current, proposal)}
			}
		}

		next := resolve.Advance(current, proposal.Payload, s.now())

		query := `
			UPDATE records
			SET payload = ?, sync_version = ?, updated_at = ?, last_synced_at = ?
			WHERE server_id = ? AND tenant_id = ? AND sync_version = ?
		`
		res, err := s.db.ExecContext(ctx, query,
			string(next.Payload),
			next.SyncVersion,
			next.UpdatedAt.UnixNano(),
			next.LastSyncedAt.UnixNano(),
			serverID,
			tenantID,
			current.SyncVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update record: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 1 {
			return next, nil
		}

		// Проигравший гонку: версия уже ушла вперед
		if resolution == "" && proposal.SyncVersion != 0 {
			reloaded, err := s.GetRecord(ctx, tenantID, entity, serverID)
			if err != nil {
				return nil, err
			}
			return nil, &storage.ConflictError{Report: resolve.NewReport(reloaded, proposal)}
		}
		// Legacy или форсированная запись: перечитываем и повторяем
	}
}

// DeleteRecord deletes per the entity's fixed policy.
func (s *Storage) DeleteRecord(ctx context.Context, tenantID, entity, serverID string) error {
	if models.DeletePolicyFor(entity) == models.DeleteHard {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM records WHERE server_id = ? AND tenant_id = ? AND entity = ?`,
			serverID, tenantID, entity)
		if err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return storage.ErrRecordNotFound
		}
		return nil
	}

	// Soft delete: active=0 плюс пометка в payload
	current, err := s.GetRecord(ctx, tenantID, entity, serverID)
	if err != nil {
		return err
	}

	payload := deactivatePayload(current.Payload)
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE records
		SET active = 0, payload = ?, sync_version = sync_version + 1, updated_at = ?, last_synced_at = ?
		WHERE server_id = ? AND tenant_id = ?
	`, string(payload), now.UnixNano(), now.UnixNano(), serverID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to soft-delete record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrRecordNotFound
	}
	return nil
}

// deactivatePayload marks a JSON object payload inactive. Non-object
// payloads are returned unchanged.
func deactivatePayload(payload json.RawMessage) json.RawMessage {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return payload
	}
	doc["active"] = false
	doc["status"] = "inactive"
	out, err := json.Marshal(doc)
	if err != nil {
		return payload
	}
	return out
}

// priorResponse returns the stored response for an idempotency key, or nil.
func (s *Storage) priorResponse(ctx context.Context, tx *sql.Tx, tenantID, key string) (json.RawMessage, error) {
	var response string
	err := tx.QueryRowContext(ctx,
		`SELECT response FROM idempotency WHERE tenant_id = ? AND key = ?`,
		tenantID, key).Scan(&response)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return json.RawMessage(response), nil
}

// saveResponse stores the response body for an idempotency key.
func (s *Storage) saveResponse(ctx context.Context, tx *sql.Tx, tenantID, key, kind string, response any) error {
	body, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal stored response: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO idempotency (tenant_id, key, kind, response, created_at) VALUES (?, ?, ?, ?, ?)`,
		tenantID, key, kind, string(body), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save idempotency key: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one record row.
func scanRecord(row rowScanner) (*models.Record, error) {
	record := &models.Record{}
	var payload string
	var active int
	var createdAt, updatedAt, lastSyncedAt int64

	err := row.Scan(
		&record.ServerID,
		&record.TenantID,
		&record.Entity,
		&payload,
		&record.SyncVersion,
		&active,
		&createdAt,
		&updatedAt,
		&lastSyncedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	record.Payload = json.RawMessage(payload)
	record.Active = active != 0
	record.CreatedAt = nanoToTime(createdAt)
	record.UpdatedAt = nanoToTime(updatedAt)
	record.LastSyncedAt = nanoToTime(lastSyncedAt)
	return record, nil
}

// scanRecords reads every record row.
func scanRecords(rows *sql.Rows) ([]*models.Record, error) {
	var records []*models.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return records, nil
}

// escapeLike is kept close to the LIKE query it guards.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
