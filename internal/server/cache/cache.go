// Package cache implements the server-side read cache for hot listing
// endpoints. Entries are partitioned by tenant: a key always embeds the
// tenant id, so one store can never observe another store's cached rows,
// and invalidation never crosses tenant boundaries.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TTL classes per resource family. Catalog listings tolerate short
// staleness; sales aggregates are recomputed more eagerly.
const (
	TTLCatalog = 30 * time.Second
	TTLStats   = 10 * time.Second
)

// LoadFunc computes the value on a cache miss.
type LoadFunc func(ctx context.Context) (any, error)

type entry struct {
	expiresAt time.Time
	value     any
}

// TenantCache is an in-memory TTL cache with request coalescing: under a
// stampede of identical misses only one loader runs, the rest share its
// result.
type TenantCache struct {
	entries map[string]entry
	derived map[string][]string
	now     func() time.Time
	group   singleflight.Group
	mu      sync.RWMutex
}

// New creates an empty cache.
func New() *TenantCache {
	return &TenantCache{
		entries: make(map[string]entry),
		derived: make(map[string][]string),
		now:     time.Now,
	}
}

// SetClock overrides the wall clock, for tests.
func (c *TenantCache) SetClock(now func() time.Time) {
	c.now = now
}

// Key builds a cache key scoped to one tenant and resource. paramHash
// distinguishes filter variants of the same listing.
func Key(tenantID, resource, paramHash string) string {
	return tenantID + "|" + resource + "|" + paramHash
}

// GetOrLoad returns the cached value for key, or runs load once for all
// concurrent callers and caches the result with the given TTL.
func (c *TenantCache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load LoadFunc) (any, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.value, nil
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		// Повторная проверка: пока мы ждали group, кто-то мог загрузить
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && c.now().Before(e.expiresAt) {
			return e.value, nil
		}

		value, err := load(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
		c.mu.Unlock()
		return value, nil
	})
	return value, err
}

// RegisterDerived declares that keys derived from a resource — listings a
// write touches as a side effect, aggregates built over its rows — must be
// dropped whenever that resource is invalidated, in the same tenant.
// Registration is done once at wiring time and applies to every tenant.
func (c *TenantCache) RegisterDerived(resource string, derivedResources ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.derived[resource] = append(c.derived[resource], derivedResources...)
}

// Invalidate drops every cached variant of the tenant's resource: the
// collection listings, the single-record entries and every registered
// derived key.
func (c *TenantCache) Invalidate(tenantID, resource string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropPrefixLocked(tenantID + "|" + resource)

	for _, derived := range c.derived[resource] {
		c.dropPrefixLocked(tenantID + "|" + derived)
	}
}

// InvalidateTenant drops everything cached for one tenant.
func (c *TenantCache) InvalidateTenant(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropPrefixLocked(tenantID + "|")
}

func (c *TenantCache) dropPrefixLocked(prefix string) {
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of live entries, for tests.
func (c *TenantCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
