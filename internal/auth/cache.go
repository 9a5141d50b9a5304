package auth

import (
	"sync"
	"sync/atomic"
	"time"
)

// AuthCache keeps verified tenant contexts keyed by API key so the gateway
// hot path skips the Postgres lookup and the bcrypt compare on repeat
// requests. Entries past their TTL are served anyway: one caller gets told
// to revalidate in the background while everyone else keeps reading the
// stale value, so after cold start no request ever waits on the database.
type AuthCache struct {
	store sync.Map // map[string]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	tenant     *TenantContext
	expiresAt  time.Time
	refreshing atomic.Bool
}

// NewAuthCache creates a cache whose entries go stale after ttl.
func NewAuthCache(ttl time.Duration) *AuthCache {
	return &AuthCache{ttl: ttl}
}

// GetResult holds the result of a cache lookup. Hit is true whenever a value
// was found, fresh or stale; NeedsRefresh is true for exactly one caller per
// expired entry.
type GetResult struct {
	Tenant       *TenantContext
	Hit          bool
	NeedsRefresh bool
}

// Get looks up apiKey. A fresh entry is returned as-is. An expired entry is
// still returned, and the refreshing flag's CompareAndSwap elects a single
// caller to revalidate it; concurrent readers of the same expired entry get
// NeedsRefresh false.
func (c *AuthCache) Get(apiKey string) GetResult {
	val, ok := c.store.Load(apiKey)
	if !ok {
		return GetResult{}
	}

	entry := val.(*cacheEntry)

	if time.Now().Before(entry.expiresAt) {
		return GetResult{Tenant: entry.tenant, Hit: true}
	}

	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return GetResult{
		Tenant:       entry.tenant,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// Set stores tenant under apiKey with a fresh TTL, clearing any previous
// refreshing state along with the old entry.
func (c *AuthCache) Set(apiKey string, tenant *TenantContext) {
	c.store.Store(apiKey, &cacheEntry{
		tenant:    tenant,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes an entry so the next Get misses and revalidates inline.
func (c *AuthCache) Delete(apiKey string) {
	c.store.Delete(apiKey)
}
