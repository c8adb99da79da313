package boltdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/storekit/storesync/internal/client/storage"
	"github.com/storekit/storesync/internal/models"
)

// Bucket name layout:
//   records|<tenant>|<entity>  localID (8-byte BE) -> record JSON
//   index|<tenant>|<entity>    serverID -> localID (8-byte BE)
// The localID sequence comes from the records bucket's own sequence, so
// assignment and insert commit in one transaction.

func recordsBucketName(tenantID, entity string) []byte {
	return []byte("records|" + tenantID + "|" + entity)
}

func indexBucketName(tenantID, entity string) []byte {
	return []byte("index|" + tenantID + "|" + entity)
}

// Put stores or updates a record. A zero LocalID is assigned from the
// bucket sequence inside the same transaction, so the write is durable
// together with its identity.
func (s *Storage) Put(ctx context.Context, record *models.Record) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(recordsBucketName(record.TenantID, record.Entity))
		if err != nil {
			return fmt.Errorf("failed to create records bucket: %w", err)
		}

		if record.LocalID == 0 {
			// Выдаем следующий localId из последовательности bucket
			seq, err := bucket.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to allocate local id: %w", err)
			}
			record.LocalID = seq
		}

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		if err := bucket.Put(encodeUint64(record.LocalID), data); err != nil {
			return fmt.Errorf("failed to save record: %w", err)
		}

		// Поддерживаем индекс serverId -> localId
		if record.ServerID != "" {
			index, err := tx.CreateBucketIfNotExists(indexBucketName(record.TenantID, record.Entity))
			if err != nil {
				return fmt.Errorf("failed to create index bucket: %w", err)
			}
			if err := index.Put([]byte(record.ServerID), encodeUint64(record.LocalID)); err != nil {
				return fmt.Errorf("failed to update server index: %w", err)
			}
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetByLocalID retrieves a record by its client-assigned id.
func (s *Storage) GetByLocalID(ctx context.Context, tenantID, entity string, localID uint64) (*models.Record, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var record *models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(recordsBucketName(tenantID, entity))
		if bucket == nil {
			return storage.ErrRecordNotFound
		}

		data := bucket.Get(encodeUint64(localID))
		if data == nil {
			return storage.ErrRecordNotFound
		}

		record = &models.Record{}
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return record, nil
}

// GetByServerID retrieves a record via the server-id index.
func (s *Storage) GetByServerID(ctx context.Context, tenantID, entity, serverID string) (*models.Record, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var record *models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		index := tx.Bucket(indexBucketName(tenantID, entity))
		if index == nil {
			return storage.ErrRecordNotFound
		}

		localKey := index.Get([]byte(serverID))
		if localKey == nil {
			return storage.ErrRecordNotFound
		}

		bucket := tx.Bucket(recordsBucketName(tenantID, entity))
		if bucket == nil {
			return storage.ErrRecordNotFound
		}

		data := bucket.Get(localKey)
		if data == nil {
			// Индекс указывает на несуществующую запись
			return storage.ErrRecordNotFound
		}

		record = &models.Record{}
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return record, nil
}

// FindByTenant returns every record of one entity matching the predicate.
// A nil predicate matches everything.
func (s *Storage) FindByTenant(ctx context.Context, tenantID, entity string, pred func(*models.Record) bool) ([]*models.Record, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var records []*models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(recordsBucketName(tenantID, entity))
		if bucket == nil {
			// Нет bucket - возвращаем пустой результат
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var record models.Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			if pred == nil || pred(&record) {
				records = append(records, &record)
			}
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to find records: %w", err)
	}

	return records, nil
}

// AllNeedingSync returns every queued record of the tenant across all
// entity buckets. Drain ordering is the sync engine's job.
func (s *Storage) AllNeedingSync(ctx context.Context, tenantID string) ([]*models.Record, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	prefix := []byte("records|" + tenantID + "|")
	var records []*models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, bucket *bbolt.Bucket) error {
			if !bytes.HasPrefix(name, prefix) {
				return nil
			}
			return bucket.ForEach(func(k, v []byte) error {
				var record models.Record
				if err := json.Unmarshal(v, &record); err != nil {
					return fmt.Errorf("failed to unmarshal record: %w", err)
				}
				if record.NeedsSync {
					records = append(records, &record)
				}
				return nil
			})
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to collect queued records: %w", err)
	}

	return records, nil
}

// DeleteByLocalID hard-deletes a record and its index entry.
func (s *Storage) DeleteByLocalID(ctx context.Context, tenantID, entity string, localID uint64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(recordsBucketName(tenantID, entity))
		if bucket == nil {
			return storage.ErrRecordNotFound
		}

		key := encodeUint64(localID)
		data := bucket.Get(key)
		if data == nil {
			return storage.ErrRecordNotFound
		}

		var record models.Record
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}

		if err := bucket.Delete(key); err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}

		// Убираем запись из индекса serverId
		if record.ServerID != "" {
			if index := tx.Bucket(indexBucketName(tenantID, entity)); index != nil {
				if err := index.Delete([]byte(record.ServerID)); err != nil {
					return fmt.Errorf("failed to delete index entry: %w", err)
				}
			}
		}

		return nil
	})

	if err != nil {
		return err
	}

	return nil
}
