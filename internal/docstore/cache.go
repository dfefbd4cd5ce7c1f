package docstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/triage-ai/reftriage/internal/engine"
)

// refreshTimeout bounds a background refresh of a stale entry.
const refreshTimeout = 5 * time.Second

// CachedStore is a TTL cache in front of another Store.
//
// Stale-while-revalidate: an expired entry is still served immediately and
// one background refresh is started for it. Concurrent misses for the same
// ref share a single fetch. Not-found results are not cached.
type CachedStore struct {
	next    Store
	ttl     time.Duration
	logger  *zap.Logger
	entries sync.Map // map[engine.DocumentRef]*docEntry
	group   singleflight.Group
	wg      sync.WaitGroup
}

type docEntry struct {
	doc        *Document
	expiresAt  time.Time
	refreshing atomic.Bool
}

// NewCachedStore wraps next with a cache of the given TTL.
func NewCachedStore(next Store, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{next: next, ttl: ttl, logger: logger}
}

// Fetch returns the cached document, refreshing it as needed.
func (c *CachedStore) Fetch(ctx context.Context, ref engine.DocumentRef) (*Document, error) {
	if val, ok := c.entries.Load(ref); ok {
		entry := val.(*docEntry)
		if time.Now().Before(entry.expiresAt) {
			return entry.doc, nil
		}
		if entry.refreshing.CompareAndSwap(false, true) {
			c.wg.Add(1)
			go c.refresh(context.WithoutCancel(ctx), ref, entry)
		}
		return entry.doc, nil
	}
	return c.load(ctx, ref)
}

func (c *CachedStore) load(ctx context.Context, ref engine.DocumentRef) (*Document, error) {
	v, err, _ := c.group.Do(ref.String(), func() (any, error) {
		doc, err := c.next.Fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		c.entries.Store(ref, &docEntry{doc: doc, expiresAt: time.Now().Add(c.ttl)})
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Document), nil
}

func (c *CachedStore) refresh(ctx context.Context, ref engine.DocumentRef, stale *docEntry) {
	defer c.wg.Done()
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	_, err := c.load(ctx, ref)
	switch {
	case errors.Is(err, ErrNotFound):
		c.entries.Delete(ref)
	case err != nil:
		c.logger.Warn("background document refresh failed, serving stale entry",
			zap.String("document", ref.String()),
			zap.Error(err),
		)
		// Let the next stale read try again.
		stale.refreshing.Store(false)
	}
}

// Invalidate drops a cached document.
func (c *CachedStore) Invalidate(ref engine.DocumentRef) {
	c.entries.Delete(ref)
}

// Wait blocks until in-flight background refreshes finish.
func (c *CachedStore) Wait() {
	c.wg.Wait()
}
