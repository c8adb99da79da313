package resolve

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storekit/storesync/internal/models"
)

func serverRecord(version int64) *models.Record {
	return &models.Record{
		ServerID:    "srv-1",
		TenantID:    "store-1",
		Entity:      models.EntityProduct,
		Payload:     json.RawMessage(`{"name":"Rice 5kg","price":12.5}`),
		SyncVersion: version,
		Active:      true,
	}
}

func TestCheck_MatchingVersionAccepted(t *testing.T) {
	current := serverRecord(3)
	p := Proposal{
		Payload:     json.RawMessage(`{"name":"Rice 5kg","price":13.0}`),
		SyncVersion: 3,
	}

	assert.Equal(t, Accepted, Check(current, p))
}

func TestCheck_StaleVersionConflicts(t *testing.T) {
	current := serverRecord(5)
	p := Proposal{
		Payload:     json.RawMessage(`{"price":13.0}`),
		SyncVersion: 3, // клиент редактировал устаревшую версию
	}

	assert.Equal(t, Conflict, Check(current, p))
}

func TestCheck_AheadVersionConflicts(t *testing.T) {
	// Версия "из будущего" тоже расхождение, не молчаливый accept
	current := serverRecord(2)
	p := Proposal{SyncVersion: 7}

	assert.Equal(t, Conflict, Check(current, p))
}

func TestCheck_ZeroVersionIsLegacyAccept(t *testing.T) {
	// Записи без заявленной базовой версии принимаются без проверки
	current := serverRecord(9)
	p := Proposal{Payload: json.RawMessage(`{}`)}

	assert.Equal(t, Accepted, Check(current, p))
}

func TestNewReport(t *testing.T) {
	current := serverRecord(5)
	p := Proposal{
		Payload:     json.RawMessage(`{"price":13.0}`),
		SyncVersion: 3,
	}

	report := NewReport(current, p)

	require.NotNil(t, report)
	assert.Equal(t, ReportKind, report.Kind)
	assert.Contains(t, report.Message, "server version 5")
	assert.Contains(t, report.Message, "client version 3")
	assert.Equal(t, p, report.ClientProposal)

	// Report несет копию серверной записи, не алиас
	report.ServerRecord.SyncVersion = 99
	assert.Equal(t, int64(5), current.SyncVersion)
}

func TestAdvance(t *testing.T) {
	current := serverRecord(4)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := json.RawMessage(`{"name":"Rice 5kg","price":14.0}`)

	next := Advance(current, payload, now)

	assert.Equal(t, int64(5), next.SyncVersion)
	assert.Equal(t, payload, next.Payload)
	assert.Equal(t, now, next.UpdatedAt)
	assert.Equal(t, now, next.LastSyncedAt)

	// Исходная запись не изменилась
	assert.Equal(t, int64(4), current.SyncVersion)
}

func TestAcceptServer_KeepsServerStateAndVersion(t *testing.T) {
	current := serverRecord(6)

	result := AcceptServer(current)

	assert.Equal(t, current.Payload, result.Payload)
	assert.Equal(t, int64(6), result.SyncVersion)
	assert.NotSame(t, current, result)
}

func TestAcceptClient_BumpsVersionWithClientPayload(t *testing.T) {
	current := serverRecord(6)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := Proposal{
		Payload:     json.RawMessage(`{"name":"Rice 5kg","price":11.0}`),
		SyncVersion: 4,
	}

	result := AcceptClient(current, p, now)

	assert.Equal(t, p.Payload, result.Payload)
	assert.Equal(t, int64(7), result.SyncVersion)
	assert.Equal(t, now, result.LastSyncedAt)
}

func TestMerge_BumpsVersionWithMergedPayload(t *testing.T) {
	current := serverRecord(2)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	merged := json.RawMessage(`{"name":"Rice 5kg Premium","price":13.0}`)

	result := Merge(current, merged, now)

	assert.Equal(t, merged, result.Payload)
	assert.Equal(t, int64(3), result.SyncVersion)
}

func TestVersionProgression_NeverSkips(t *testing.T) {
	// Любая цепочка accepted-записей двигает версию строго на единицу
	record := serverRecord(1)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := int64(2); i <= 10; i++ {
		record = Advance(record, record.Payload, now)
		assert.Equal(t, i, record.SyncVersion)
	}
}
