package boltdb

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/storekit/storesync/internal/client/storage"
)

// SchemaVersion is the store-level schema version this build writes.
// Upgrades are non-destructive and offline-safe: an older store is bumped
// in place, a newer one is rejected as fatal.
const SchemaVersion = 1

var (
	// BoltDB bucket names
	bucketMeta = []byte("meta")

	keySchemaVersion = []byte("schema_version")
)

// Storage represents BoltDB storage implementation for the client.
// One file holds every tenant's records; each (tenant, entity) pair gets
// its own bucket plus a server-id index bucket.
type Storage struct {
	db *bbolt.DB
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{db: db}

	// Инициализируем meta bucket и проверяем версию схемы
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// initSchema создает meta bucket и сверяет версию схемы на диске
func (s *Storage) initSchema() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return fmt.Errorf("failed to create meta bucket: %w", err)
		}

		raw := bucket.Get(keySchemaVersion)
		if raw == nil {
			// Новый store: записываем текущую версию
			return bucket.Put(keySchemaVersion, encodeUint64(SchemaVersion))
		}

		stored := binary.BigEndian.Uint64(raw)
		if stored > SchemaVersion {
			// Файл создан более новой сборкой - фатальная ошибка
			return fmt.Errorf("store schema version %d, build supports %d: %w",
				stored, SchemaVersion, storage.ErrSchemaVersion)
		}
		if stored < SchemaVersion {
			// Неразрушающий апгрейд: данные старых версий остаются на месте
			return bucket.Put(keySchemaVersion, encodeUint64(SchemaVersion))
		}
		return nil
	})
}

// StoredSchemaVersion returns the schema version recorded in the store.
func (s *Storage) StoredSchemaVersion(ctx context.Context) (uint64, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var version uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if bucket == nil {
			return nil
		}
		if raw := bucket.Get(keySchemaVersion); raw != nil {
			version = binary.BigEndian.Uint64(raw)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// encodeUint64 конвертирует uint64 в big-endian bytes (сортируемый ключ)
func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
