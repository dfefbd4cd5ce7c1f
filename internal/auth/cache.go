package auth

import (
	"crypto/sha256"
	"sync"
	"sync/atomic"
	"time"
)

// AuthCache is a TTL cache of authenticated projects keyed by a SHA-256 of
// the API key, so plaintext keys are not retained in memory.
//
// Stale-while-revalidate: an expired entry is still returned, and exactly one
// caller is told to refresh it in the background.
type AuthCache struct {
	store sync.Map // map[[32]byte]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	project    *ProjectContext
	expiresAt  time.Time
	refreshing atomic.Bool
}

// NewAuthCache creates a cache with the given TTL.
func NewAuthCache(ttl time.Duration) *AuthCache {
	return &AuthCache{ttl: ttl}
}

// GetResult holds the result of a cache lookup.
type GetResult struct {
	Project      *ProjectContext
	Hit          bool // a value was found, fresh or stale
	NeedsRefresh bool // the caller won the right to refresh a stale entry
}

// Get looks up an API key.
func (c *AuthCache) Get(apiKey string) GetResult {
	val, ok := c.store.Load(sha256.Sum256([]byte(apiKey)))
	if !ok {
		return GetResult{}
	}
	entry := val.(*cacheEntry)
	if time.Now().Before(entry.expiresAt) {
		return GetResult{Project: entry.project, Hit: true}
	}
	return GetResult{
		Project:      entry.project,
		Hit:          true,
		NeedsRefresh: entry.refreshing.CompareAndSwap(false, true),
	}
}

// Set stores a project for the key with the configured TTL.
func (c *AuthCache) Set(apiKey string, project *ProjectContext) {
	c.store.Store(sha256.Sum256([]byte(apiKey)), &cacheEntry{
		project:   project,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// ReleaseRefresh lets the next stale read retry a failed refresh while the
// stale value keeps being served.
func (c *AuthCache) ReleaseRefresh(apiKey string) {
	if val, ok := c.store.Load(sha256.Sum256([]byte(apiKey))); ok {
		val.(*cacheEntry).refreshing.Store(false)
	}
}

// Delete removes an entry.
func (c *AuthCache) Delete(apiKey string) {
	c.store.Delete(sha256.Sum256([]byte(apiKey)))
}
