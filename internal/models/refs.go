package models

import (
	"encoding/json"
	"fmt"
)

// LocalRef является ссылкой из payload на другую запись по её LocalID.
// Такие ссылки существуют только в офлайн-очереди клиента: перед push
// они переписываются на server id через RewriteRefs.
type LocalRef struct {
	Entity  string
	LocalID uint64
}

// refField describes one foreign-reference slot inside an entity payload:
// a localKey holding the client-side id and an idKey holding the server id.
// An empty arrayKey means the slot lives at the top level of the payload.
type refField struct {
	arrayKey string
	localKey string
	idKey    string
	entity   string
}

// refSchema is the fixed reference schema per entity. The drain dependency
// graph over these edges must stay acyclic: sales, credits, purchase orders
// and events reference catalog entities, never the other way around.
var refSchema = map[string][]refField{
	EntitySale: {
		{arrayKey: "items", localKey: "product_local_id", idKey: "product_id", entity: EntityProduct},
		{localKey: "customer_local_id", idKey: "customer_id", entity: EntityCustomer},
	},
	EntityCredit: {
		{localKey: "customer_local_id", idKey: "customer_id", entity: EntityCustomer},
	},
	EntityPurchaseOrder: {
		{arrayKey: "items", localKey: "product_local_id", idKey: "product_id", entity: EntityProduct},
	},
	EntityClockEvent: {
		{localKey: "employee_local_id", idKey: "employee_id", entity: EntityEmployee},
	},
	EntityStockMovement: {
		{localKey: "product_local_id", idKey: "product_id", entity: EntityProduct},
	},
}

// LocalRefs extracts every still-unresolved local reference from payload.
// A reference is unresolved while its localKey carries a non-zero id and
// its idKey is empty.
func LocalRefs(entity string, payload json.RawMessage) ([]LocalRef, error) {
	fields, ok := refSchema[entity]
	if ok && len(payload) == 0 {
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s payload: %w", entity, err)
	}

	var refs []LocalRef
	for _, f := range fields {
		for _, obj := range refObjects(doc, f) {
			if ref, ok := pendingRef(obj, f); ok {
				refs = append(refs, ref)
			}
		}
	}
	return refs, nil
}

// ResolveFunc maps a (entity, localID) pair to its server id.
// The second result is false while the referenced row is not promoted yet.
type ResolveFunc func(entity string, localID uint64) (string, bool)

// RewriteRefs returns a copy of payload with every local reference replaced
// by its server id. The boolean result is false when at least one reference
// could not be resolved; the payload is returned unchanged in that case.
func RewriteRefs(entity string, payload json.RawMessage, resolve ResolveFunc) (json.RawMessage, bool, error) {
	fields, ok := refSchema[entity]
	if !ok || len(payload) == 0 {
		return payload, true, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, false, fmt.Errorf("failed to parse %s payload: %w", entity, err)
	}

	changed := false
	for _, f := range fields {
		for _, obj := range refObjects(doc, f) {
			ref, pending := pendingRef(obj, f)
			if !pending {
				continue
			}
			serverID, resolved := resolve(f.entity, ref.LocalID)
			if !resolved {
				return payload, false, nil
			}
			// Заменяем локальную ссылку на серверную
			obj[f.idKey] = serverID
			delete(obj, f.localKey)
			changed = true
		}
	}

	if !changed {
		return payload, true, nil
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal rewritten %s payload: %w", entity, err)
	}
	return out, true, nil
}

// refObjects returns the JSON objects a refField applies to: either the
// payload itself or every element of the named array.
func refObjects(doc map[string]any, f refField) []map[string]any {
	if f.arrayKey == "" {
		return []map[string]any{doc}
	}

	arr, ok := doc[f.arrayKey].([]any)
	if !ok {
		return nil
	}

	objs := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if obj, ok := item.(map[string]any); ok {
			objs = append(objs, obj)
		}
	}
	return objs
}

// pendingRef reads an unresolved local reference out of one object.
func pendingRef(obj map[string]any, f refField) (LocalRef, bool) {
	if id, ok := obj[f.idKey].(string); ok && id != "" {
		return LocalRef{}, false
	}

	// JSON числа приходят как float64
	localID, ok := obj[f.localKey].(float64)
	if !ok || localID == 0 {
		return LocalRef{}, false
	}
	return LocalRef{Entity: f.entity, LocalID: uint64(localID)}, true
}
