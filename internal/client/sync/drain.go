package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sethvargo/go-retry"

	httpclient "github.com/storekit/storesync/internal/client/api"
	"github.com/storekit/storesync/internal/client/storage"
	"github.com/storekit/storesync/internal/models"
)

// ErrReferenceCycle is returned when the offline queue contains rows whose
// references form a cycle. The reference schema is acyclic by construction,
// so a cycle means corrupted data; the drain refuses to guess an order.
var ErrReferenceCycle = errors.New("reference cycle in offline queue")

// maxAttempts is the per-row attempt cap within a single drain.
const maxAttempts = 5

// RowFailure is the permanent failure report for one row that the drain
// could not push.
type RowFailure struct {
	Entity  string
	Message string
	LocalID uint64
	Kind    httpclient.Kind
}

// DrainStats summarizes one drain sweep.
type DrainStats struct {
	Failures  []RowFailure
	Pushed    int // rows successfully confirmed by the server
	Conflicts int // rows left conflicted, waiting for a resolution
	Skipped   int // rows left queued after transport retries ran out
}

// drainState tracks the depth-first flush over the queued rows.
type drainState struct {
	index    map[rowKey]*models.Record
	visiting map[rowKey]bool
	done     map[rowKey]bool
	stats    *DrainStats
}

// Drain replays every queued row in causally consistent order: referenced
// rows are flushed before the rows that point at them (depth-first, cycles
// rejected), and within a reference-resolved set rows go out in UpdatedAt
// order. Re-running a drain over an already-drained queue is a no-op.
func (e *Engine) Drain(ctx context.Context) (*DrainStats, error) {
	rows, err := e.store.AllNeedingSync(ctx, e.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to read offline queue: %w", err)
	}

	// Стабильный порядок: старые правки уходят первыми
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].UpdatedAt.Equal(rows[j].UpdatedAt) {
			return rows[i].LocalID < rows[j].LocalID
		}
		return rows[i].UpdatedAt.Before(rows[j].UpdatedAt)
	})

	state := &drainState{
		index:    make(map[rowKey]*models.Record, len(rows)),
		visiting: make(map[rowKey]bool),
		done:     make(map[rowKey]bool),
		stats:    &DrainStats{},
	}
	// Конфликтные строки не ретраятся, пока не выбрана стратегия
	queue := make([]*models.Record, 0, len(rows))
	for _, row := range rows {
		if row.Conflicted {
			state.stats.Conflicts++
			continue
		}
		state.index[rowKey{entity: row.Entity, localID: row.LocalID}] = row
		queue = append(queue, row)
	}

	e.logger.Info("drain started", "tenant", e.tenantID, "queued", len(queue))

	for _, row := range queue {
		if err := ctx.Err(); err != nil {
			// Отмена: бросаем остаток очереди, следующий drain начнет заново
			return state.stats, err
		}
		if err := e.flushRow(ctx, state, row); err != nil {
			return state.stats, err
		}
	}

	e.logger.Info("drain completed",
		"tenant", e.tenantID,
		"pushed", state.stats.Pushed,
		"conflicts", state.stats.Conflicts,
		"failures", len(state.stats.Failures),
		"skipped", state.stats.Skipped)

	return state.stats, nil
}

// flushRow pushes one queued row, flushing its unresolved references first.
// Non-fatal outcomes (conflict, permanent failure, retries exhausted) are
// recorded in the stats; the returned error aborts the whole drain.
func (e *Engine) flushRow(ctx context.Context, state *drainState, row *models.Record) error {
	key := rowKey{entity: row.Entity, localID: row.LocalID}
	if state.done[key] {
		return nil
	}
	if state.visiting[key] {
		return fmt.Errorf("%w: %s/%d", ErrReferenceCycle, row.Entity, row.LocalID)
	}
	state.visiting[key] = true
	defer func() {
		delete(state.visiting, key)
		state.done[key] = true
	}()

	// Сначала пропихиваем все незарезолвленные ссылки
	refs, err := models.LocalRefs(row.Entity, row.Payload)
	if err != nil {
		state.stats.Failures = append(state.stats.Failures, RowFailure{
			Entity: row.Entity, LocalID: row.LocalID,
			Kind: httpclient.KindValidation, Message: err.Error(),
		})
		return nil
	}
	for _, ref := range refs {
		refKey := rowKey{entity: ref.Entity, localID: ref.LocalID}
		if dep, ok := state.index[refKey]; ok {
			if err := e.flushRow(ctx, state, dep); err != nil {
				return err
			}
			continue
		}
		// Ссылка на строку вне очереди: она обязана быть уже промоушена
		dep, err := e.store.GetByLocalID(ctx, e.tenantID, ref.Entity, ref.LocalID)
		if err != nil || !dep.Promoted() {
			state.stats.Failures = append(state.stats.Failures, RowFailure{
				Entity: row.Entity, LocalID: row.LocalID,
				Kind:    httpclient.KindValidation,
				Message: fmt.Sprintf("references missing or unsynced %s/%d", ref.Entity, ref.LocalID),
			})
			return nil
		}
	}

	return e.pushWithRetry(ctx, state, key)
}

// pushWithRetry attempts one row with exponential backoff, capped at
// maxAttempts within this drain. Transport errors are retried; a row that
// keeps failing stays queued for the next trigger. Application errors stop
// immediately and produce a permanent failure report.
func (e *Engine) pushWithRetry(ctx context.Context, state *drainState, key rowKey) error {
	unlock := e.lockRow(key.entity, key.localID)
	defer unlock()

	exponential := retry.WithMaxRetries(maxAttempts-1, retry.NewExponential(e.backoff))

	// 429 ждет столько, сколько сказал сервер, вместо экспоненты
	var rateLimitHint time.Duration
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := exponential.Next()
		if stop {
			return 0, true
		}
		if rateLimitHint > 0 {
			next, rateLimitHint = rateLimitHint, 0
		}
		return next, false
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		pushErr := e.pushRow(ctx, key)
		if pushErr == nil {
			return nil
		}
		if apiErr, ok := httpclient.AsError(pushErr); ok && apiErr.Retryable() {
			if apiErr.Kind == httpclient.KindRateLimit {
				rateLimitHint = apiErr.RetryAfter
			}
			return retry.RetryableError(pushErr)
		}
		return pushErr
	})

	if err == nil {
		state.stats.Pushed++
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if storage.IsFatal(err) {
		// Ошибки локального store фатальны и прерывают drain целиком
		return err
	}

	apiErr, ok := httpclient.AsError(err)
	switch {
	case ok && apiErr.Kind == httpclient.KindConflict:
		state.stats.Conflicts++
	case ok && apiErr.Retryable():
		// Попытки исчерпаны: строка остается в очереди
		e.logger.Warn("row left queued after retries",
			"entity", key.entity, "local_id", key.localID, "error", err)
		state.stats.Skipped++
	case ok:
		state.stats.Failures = append(state.stats.Failures, RowFailure{
			Entity: key.entity, LocalID: key.localID,
			Kind: apiErr.Kind, Message: apiErr.Message,
		})
	default:
		return err
	}
	return nil
}

// pushRow re-reads the row and dispatches on its state. Rows that became
// clean since the queue snapshot are skipped, which is what makes a
// repeated drain a no-op.
func (e *Engine) pushRow(ctx context.Context, key rowKey) error {
	record, err := e.store.GetByLocalID(ctx, e.tenantID, key.entity, key.localID)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if !record.NeedsSync {
		return nil
	}

	switch {
	case record.Tombstone:
		return e.pushDelete(ctx, record)
	case !record.Promoted():
		return e.pushCreate(ctx, record)
	default:
		return e.pushUpdate(ctx, record)
	}
}
