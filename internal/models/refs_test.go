package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRefs_SaleItems(t *testing.T) {
	payload := json.RawMessage(`{
		"items": [
			{"product_local_id": 3, "quantity": 2},
			{"product_id": "srv-9", "quantity": 1}
		],
		"customer_local_id": 7
	}`)

	refs, err := LocalRefs(EntitySale, payload)
	require.NoError(t, err)
	assert.ElementsMatch(t, []LocalRef{
		{Entity: EntityProduct, LocalID: 3},
		{Entity: EntityCustomer, LocalID: 7},
	}, refs)
}

func TestLocalRefs_ResolvedPayloadHasNone(t *testing.T) {
	payload := json.RawMessage(`{
		"items": [{"product_id": "srv-1", "quantity": 2}],
		"customer_id": "srv-2"
	}`)

	refs, err := LocalRefs(EntitySale, payload)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestLocalRefs_EntityWithoutSchema(t *testing.T) {
	refs, err := LocalRefs(EntityProduct, json.RawMessage(`{"name":"Rice"}`))
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestRewriteRefs(t *testing.T) {
	payload := json.RawMessage(`{
		"items": [{"product_local_id": 3, "quantity": 2}],
		"customer_local_id": 7,
		"total": 10
	}`)

	resolve := func(entity string, localID uint64) (string, bool) {
		switch {
		case entity == EntityProduct && localID == 3:
			return "srv-p3", true
		case entity == EntityCustomer && localID == 7:
			return "srv-c7", true
		}
		return "", false
	}

	out, resolved, err := RewriteRefs(EntitySale, payload, resolve)
	require.NoError(t, err)
	require.True(t, resolved)

	var sale Sale
	require.NoError(t, json.Unmarshal(out, &sale))
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "srv-p3", sale.Items[0].ProductID)
	assert.Zero(t, sale.Items[0].ProductLocalID)
	assert.Equal(t, "srv-c7", sale.CustomerID)
	assert.Zero(t, sale.CustomerLocalID)
}

func TestRewriteRefs_UnresolvedKeepsPayload(t *testing.T) {
	payload := json.RawMessage(`{"items": [{"product_local_id": 3, "quantity": 2}]}`)

	out, resolved, err := RewriteRefs(EntitySale, payload, func(string, uint64) (string, bool) {
		return "", false
	})
	require.NoError(t, err)
	// Нерезолвленная ссылка: payload возвращается без изменений
	assert.False(t, resolved)
	assert.JSONEq(t, string(payload), string(out))
}

func TestRewriteRefs_NoRefsIsPassthrough(t *testing.T) {
	payload := json.RawMessage(`{"name":"Rice","price":10}`)

	out, resolved, err := RewriteRefs(EntityProduct, payload, func(string, uint64) (string, bool) {
		t.Fatal("resolver must not be called")
		return "", false
	})
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, payload, out)
}

func TestDeletePolicyFor(t *testing.T) {
	assert.Equal(t, DeleteHard, DeletePolicyFor(EntityProduct))
	assert.Equal(t, DeleteHard, DeletePolicyFor(EntityPurchaseOrder))
	for _, entity := range []string{EntitySale, EntityCustomer, EntityEmployee, EntityCredit, EntityClockEvent, EntityStockMovement} {
		assert.Equal(t, DeleteSoft, DeletePolicyFor(entity), entity)
	}
}

func TestRecordClone(t *testing.T) {
	record := &Record{
		ServerID:    "srv-1",
		Payload:     json.RawMessage(`{"name":"Rice"}`),
		SyncVersion: 3,
	}

	clone := record.Clone()
	clone.Payload[2] = 'x'
	clone.SyncVersion = 9

	assert.Equal(t, json.RawMessage(`{"name":"Rice"}`), record.Payload)
	assert.Equal(t, int64(3), record.SyncVersion)
}
