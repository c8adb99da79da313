package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/storekit/storesync/pkg/api"
)

// Kind classifies a request failure by what the caller should do about it,
// not by its Go type.
type Kind string

const (
	// KindValidation - input failed schema, never retried
	KindValidation Kind = "validation"
	// KindAuthentication - missing/invalid credentials, needs user action
	KindAuthentication Kind = "authentication"
	// KindAuthorization - cross-tenant or insufficient role, never retried
	KindAuthorization Kind = "authorization"
	// KindNotFound - no record for the id, not retried
	KindNotFound Kind = "not-found"
	// KindConflict - version mismatch, retried only after a resolution
	KindConflict Kind = "conflict"
	// KindRateLimit - transient throttle, retried after the hint
	KindRateLimit Kind = "rate-limit"
	// KindTransport - network failure, timeout or 5xx, retried with backoff
	KindTransport Kind = "transport"
)

// Error is a classified request failure with enough context to act:
// field errors for validation, the conflict report for 409, the retry
// hint for 429.
type Error struct {
	Kind       Kind
	Message    string
	Fields     []api.FieldError
	Conflict   *api.ConflictResponse
	RetryAfter time.Duration
	StatusCode int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether the sync engine may retry the request without
// application-level intervention.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindRateLimit
}

// AsError extracts a classified *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// kindFromStatus maps an HTTP status to the error taxonomy.
func kindFromStatus(code int) Kind {
	switch {
	case code == 400 || code == 422:
		return KindValidation
	case code == 401:
		return KindAuthentication
	case code == 403:
		return KindAuthorization
	case code == 404:
		return KindNotFound
	case code == 409:
		return KindConflict
	case code == 429:
		return KindRateLimit
	default:
		// 5xx и все прочее - транспортный уровень, ретраится
		return KindTransport
	}
}
