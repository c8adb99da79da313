package api

// Resource path segments as they appear in /api/v1/{resource} routes.
var entityToResource = map[string]string{
	"product":        "products",
	"sale":           "sales",
	"customer":       "customers",
	"employee":       "employees",
	"credit":         "credits",
	"purchase_order": "purchase-orders",
	"clock_event":    "clock-events",
	"stock_movement": "stock-movements",
}

var resourceToEntity = func() map[string]string {
	m := make(map[string]string, len(entityToResource))
	for entity, resource := range entityToResource {
		m[resource] = entity
	}
	return m
}()

// ResourceForEntity returns the URL path segment for an entity name.
func ResourceForEntity(entity string) (string, bool) {
	r, ok := entityToResource[entity]
	return r, ok
}

// EntityForResource returns the entity name for a URL path segment.
func EntityForResource(resource string) (string, bool) {
	e, ok := resourceToEntity[resource]
	return e, ok
}
