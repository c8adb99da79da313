package storage

import "errors"

// Common client storage errors
var (
	// ErrRecordNotFound indicates that no record exists for the given id
	ErrRecordNotFound = errors.New("record not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")

	// ErrQuotaExceeded indicates that the store ran out of space.
	// Fatal: surfaced to the UI, never retried.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrSchemaVersion indicates that the on-disk schema is newer than this
	// build understands. Fatal: surfaced to the UI, never retried.
	ErrSchemaVersion = errors.New("unsupported storage schema version")
)

// IsFatal reports whether an error must surface to the UI instead of being
// retried by the sync engine.
func IsFatal(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrSchemaVersion)
}
