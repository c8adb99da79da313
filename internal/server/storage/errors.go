package storage

import (
	"errors"
	"fmt"

	"github.com/storekit/storesync/internal/resolve"
)

// Common storage errors
var (
	// ErrRecordNotFound indicates that no record exists for the given id
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordInactive indicates that the record was soft-deleted
	ErrRecordInactive = errors.New("record is inactive")

	// ErrInvalidReference indicates that a write references a record that
	// does not exist in the tenant
	ErrInvalidReference = errors.New("invalid record reference")

	// ErrSaleVoided indicates an operation on an already voided sale
	ErrSaleVoided = errors.New("sale is already voided")
)

// ConflictError carries the conflict report for a rejected write.
// Handlers turn it into the 409 response body.
type ConflictError struct {
	Report *resolve.Report
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: %s", e.Report.Message)
}

// AsConflict extracts a ConflictError from an error chain.
func AsConflict(err error) (*ConflictError, bool) {
	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		return conflictErr, true
	}
	return nil, false
}
