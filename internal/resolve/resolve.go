// Package resolve implements the optimistic-concurrency protocol shared by
// the client and the server. It is a pure module: it compares version
// stamps, builds conflict reports and manages version progression for the
// three resolution strategies. It never combines payload fields — field
// level merging is the caller's responsibility, the contract here is only
// that version skipping is never silent.
package resolve

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/storekit/storesync/internal/models"
)

// Decision is the outcome of checking a proposal against the current record.
type Decision int

const (
	// Accepted означает, что запись может быть применена.
	Accepted Decision = iota
	// Conflict означает расхождение версий: нужен conflict report.
	Conflict
)

// Proposal is a client-submitted write: the new payload plus the version
// the client based its edit on. A zero SyncVersion means the client did not
// claim a base version (legacy import); such writes are accepted as-is.
type Proposal struct {
	Payload     json.RawMessage
	SyncVersion int64
}

// Check сравнивает версию предложения с текущей серверной версией.
func Check(current *models.Record, p Proposal) Decision {
	if p.SyncVersion == 0 {
		// Legacy-запись без базовой версии: принимаем без проверки
		return Accepted
	}
	if p.SyncVersion == current.SyncVersion {
		return Accepted
	}
	return Conflict
}

// ReportKind is the only conflict kind the protocol emits.
const ReportKind = "version-mismatch"

// Report is emitted when a proposal's version does not match the server's.
// It carries both versions so the application can surface and merge them.
type Report struct {
	ServerRecord   *models.Record
	ClientProposal Proposal
	Kind           string
	Message        string
}

// NewReport строит conflict report для расхождения версий.
func NewReport(current *models.Record, p Proposal) *Report {
	return &Report{
		Kind:           ReportKind,
		Message:        fmt.Sprintf("record %s changed on server: server version %d, client version %d", current.ServerID, current.SyncVersion, p.SyncVersion),
		ServerRecord:   current.Clone(),
		ClientProposal: p,
	}
}

// Advance applies an accepted proposal to the current record: the payload
// is replaced, SyncVersion is bumped by one and LastSyncedAt is stamped.
// Every accepted write goes through here, which is what keeps the version
// strictly monotonic.
func Advance(current *models.Record, payload json.RawMessage, now time.Time) *models.Record {
	next := current.Clone()
	next.Payload = payload
	next.SyncVersion = current.SyncVersion + 1
	next.UpdatedAt = now
	next.LastSyncedAt = now
	return next
}

// AcceptServer resolves a conflict by discarding the client edit: the
// result is the server record unchanged, ready to overwrite the client row.
func AcceptServer(current *models.Record) *models.Record {
	return current.Clone()
}

// AcceptClient resolves a conflict by force-overwriting the server with the
// client payload under the next server version. Intended for an explicit
// user "keep mine".
func AcceptClient(current *models.Record, p Proposal, now time.Time) *models.Record {
	return Advance(current, p.Payload, now)
}

// Merge resolves a conflict with a payload the caller merged beforehand.
// Version progression is identical to AcceptClient; the resolver does not
// combine fields itself.
func Merge(current *models.Record, merged json.RawMessage, now time.Time) *models.Record {
	return Advance(current, merged, now)
}
