package auth

import (
	"crypto/sha256"
	"sync"
	"sync/atomic"
	"time"
)

// AuthCache is a TTL-based in-memory cache for authenticated principals.
// Uses sync.Map for lock-free reads on the hot path.
//
// Stale-while-revalidate: when an entry expires, Get() still returns the stale
// value and signals that a refresh is needed, so callers can serve it while a
// single background refresh runs.
//
// Entries are keyed by a SHA-256 digest of the API key, so plaintext keys are
// never held in memory past the request that presented them.
type AuthCache struct {
	store sync.Map      // map[[sha256.Size]byte]*cacheEntry
	ttl   time.Duration // Default: 30s
}

func digest(apiKey string) [sha256.Size]byte {
	return sha256.Sum256([]byte(apiKey))
}

type cacheEntry struct {
	principal  *Principal
	expiresAt  time.Time
	refreshing atomic.Bool // prevents duplicate background refreshes
}

// NewAuthCache creates a cache with the given TTL.
func NewAuthCache(ttl time.Duration) *AuthCache {
	return &AuthCache{ttl: ttl}
}

// GetResult holds the result of a cache lookup.
type GetResult struct {
	Principal    *Principal
	Hit          bool // a value was found, fresh or stale
	NeedsRefresh bool // the entry is expired and this caller should refresh it
}

// Get looks up the API key in the cache.
//
// Returns:
//   - Fresh hit:  {Principal, Hit=true,  NeedsRefresh=false}
//   - Stale hit:  {Principal, Hit=true,  NeedsRefresh=true}  (first stale reader only)
//   - Miss:       {nil,       Hit=false, NeedsRefresh=false}
func (c *AuthCache) Get(apiKey string) GetResult {
	val, ok := c.store.Load(digest(apiKey))
	if !ok {
		return GetResult{}
	}

	entry := val.(*cacheEntry)

	if time.Now().Before(entry.expiresAt) {
		return GetResult{Principal: entry.principal, Hit: true}
	}

	// CompareAndSwap ensures only one goroutine triggers the refresh.
	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return GetResult{
		Principal:    entry.principal,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// Set stores a principal in the cache with the configured TTL.
func (c *AuthCache) Set(apiKey string, p *Principal) {
	c.store.Store(digest(apiKey), &cacheEntry{
		principal: p,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes an entry from the cache.
func (c *AuthCache) Delete(apiKey string) {
	c.store.Delete(digest(apiKey))
}
