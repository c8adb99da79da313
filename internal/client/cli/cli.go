// Package cli implements the POS terminal commands. Every command works
// against the local store first; the server is best-effort and a missing
// connection never fails a register operation.
package cli

import (
	"fmt"
	"strconv"

	"github.com/storekit/storesync/internal/client/storage"
	"github.com/storekit/storesync/internal/client/sync"
)

// Cli bundles the dependencies the commands share.
type Cli struct {
	engine   *sync.Engine
	store    storage.RecordStore
	tenantID string
}

// New creates the command surface.
func New(engine *sync.Engine, store storage.RecordStore, tenantID string) *Cli {
	return &Cli{
		engine:   engine,
		store:    store,
		tenantID: tenantID,
	}
}

// parseLocalID parses a positional local-id argument.
func parseLocalID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid local id %q", arg)
	}
	return id, nil
}

// syncedMark renders the sync outcome of an operation.
func syncedMark(synced bool) string {
	if synced {
		return "synced"
	}
	return "queued (offline)"
}
