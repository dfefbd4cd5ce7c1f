package docstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/triage-ai/reftriage/internal/engine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingStore is a Store fake that counts fetches.
type countingStore struct {
	calls atomic.Int32
	delay time.Duration
	fail  atomic.Bool
	mu    sync.Mutex
	docs  map[engine.DocumentRef]string
}

func newCountingStore() *countingStore {
	return &countingStore{docs: map[engine.DocumentRef]string{
		{ID: "a", Category: "c"}: "alpha",
		{ID: "b", Category: "c"}: "beta",
	}}
}

func (s *countingStore) Fetch(ctx context.Context, ref engine.DocumentRef) (*Document, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.fail.Load() {
		return nil, errors.New("backend down")
	}
	s.mu.Lock()
	content, ok := s.docs[ref]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &Document{Ref: ref, Content: content}, nil
}

func (s *countingStore) set(ref engine.DocumentRef, content string) {
	s.mu.Lock()
	s.docs[ref] = content
	s.mu.Unlock()
}

func (s *countingStore) remove(ref engine.DocumentRef) {
	s.mu.Lock()
	delete(s.docs, ref)
	s.mu.Unlock()
}

var refA = engine.DocumentRef{ID: "a", Category: "c"}

func TestFileStore_Fetch(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sendable"), 0o755); err != nil {
		t.Fatal(err)
	}
	body := "intro\n# Crossing isolation boundaries\n\nbody text\n"
	if err := os.WriteFile(filepath.Join(dir, "sendable", "type-safety-crossing.md"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(dir)
	ctx := context.Background()

	doc, err := s.Fetch(ctx, engine.DocumentRef{ID: "type-safety-crossing", Category: "sendable"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.Title != "Crossing isolation boundaries" {
		t.Errorf("title = %q", doc.Title)
	}
	if doc.Content != body {
		t.Errorf("content mismatch: %q", doc.Content)
	}

	for _, ref := range []engine.DocumentRef{
		{ID: "missing", Category: "sendable"},
		{ID: "../sendable/type-safety-crossing", Category: "sendable"},
		{ID: "type-safety-crossing", Category: ".."},
		{ID: "", Category: "sendable"},
	} {
		if _, err := s.Fetch(ctx, ref); !errors.Is(err, ErrNotFound) {
			t.Errorf("Fetch(%s) = %v, want ErrNotFound", ref, err)
		}
	}
}

func TestFileStore_TitleFallsBackToID(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "root"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "root", "root-index.md"), []byte("no heading"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := NewFileStore(dir).Fetch(context.Background(), engine.DocumentRef{ID: "root-index", Category: "root"})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "root-index" {
		t.Errorf("title = %q", doc.Title)
	}
}

func TestCachedStore_FreshHit(t *testing.T) {
	backend := newCountingStore()
	c := NewCachedStore(backend, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		doc, err := c.Fetch(ctx, refA)
		if err != nil {
			t.Fatal(err)
		}
		if doc.Content != "alpha" {
			t.Errorf("content = %q", doc.Content)
		}
	}
	if n := backend.calls.Load(); n != 1 {
		t.Errorf("expected 1 backend call, got %d", n)
	}
}

func TestCachedStore_NotFoundIsNotCached(t *testing.T) {
	backend := newCountingStore()
	c := NewCachedStore(backend, time.Minute, nil)
	ref := engine.DocumentRef{ID: "late", Category: "c"}

	if _, err := c.Fetch(context.Background(), ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	backend.set(ref, "arrived")
	doc, err := c.Fetch(context.Background(), ref)
	if err != nil || doc.Content != "arrived" {
		t.Fatalf("expected fetched doc after miss, got %v %v", doc, err)
	}
}

func TestCachedStore_StaleWhileRevalidate(t *testing.T) {
	backend := newCountingStore()
	c := NewCachedStore(backend, time.Millisecond, nil)
	ctx := context.Background()

	if _, err := c.Fetch(ctx, refA); err != nil {
		t.Fatal(err)
	}
	backend.set(refA, "alpha v2")
	time.Sleep(5 * time.Millisecond)

	doc, err := c.Fetch(ctx, refA)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Content != "alpha" {
		t.Errorf("stale read should serve the old content, got %q", doc.Content)
	}
	c.Wait()

	if n := backend.calls.Load(); n != 2 {
		t.Errorf("expected one background refresh, got %d backend calls", n)
	}
	val, ok := c.entries.Load(refA)
	if !ok {
		t.Fatal("entry missing after refresh")
	}
	if got := val.(*docEntry).doc.Content; got != "alpha v2" {
		t.Errorf("expected refreshed content, got %q", got)
	}
}

func TestCachedStore_FailedRefreshKeepsStale(t *testing.T) {
	backend := newCountingStore()
	c := NewCachedStore(backend, time.Millisecond, nil)
	ctx := context.Background()

	if _, err := c.Fetch(ctx, refA); err != nil {
		t.Fatal(err)
	}
	backend.fail.Store(true)
	time.Sleep(5 * time.Millisecond)

	doc, err := c.Fetch(ctx, refA)
	if err != nil || doc.Content != "alpha" {
		t.Fatalf("expected stale doc, got %v %v", doc, err)
	}
	c.Wait()

	doc, err = c.Fetch(ctx, refA)
	if err != nil || doc.Content != "alpha" {
		t.Fatalf("expected stale doc after failed refresh, got %v %v", doc, err)
	}
	c.Wait()
}

func TestCachedStore_RefreshEvictsDeletedDocument(t *testing.T) {
	backend := newCountingStore()
	c := NewCachedStore(backend, time.Millisecond, nil)
	ctx := context.Background()

	if _, err := c.Fetch(ctx, refA); err != nil {
		t.Fatal(err)
	}
	backend.remove(refA)
	time.Sleep(5 * time.Millisecond)

	if _, err := c.Fetch(ctx, refA); err != nil {
		t.Fatalf("stale read should still succeed: %v", err)
	}
	c.Wait()

	if _, err := c.Fetch(ctx, refA); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted document should be evicted after refresh, got %v", err)
	}
}

func TestCachedStore_ConcurrentMissesCoalesce(t *testing.T) {
	backend := newCountingStore()
	backend.delay = 20 * time.Millisecond
	c := NewCachedStore(backend, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Fetch(context.Background(), refA); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if n := backend.calls.Load(); n != 1 {
		t.Errorf("expected concurrent misses to share one fetch, got %d", n)
	}
}

func TestFetchAll(t *testing.T) {
	backend := newCountingStore()
	refs := []engine.DocumentRef{
		{ID: "b", Category: "c"},
		{ID: "missing", Category: "c"},
		refA,
	}
	docs, err := FetchAll(context.Background(), backend, refs, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 || docs[0].Content != "beta" || docs[1] != nil || docs[2].Content != "alpha" {
		t.Errorf("unexpected documents: %+v", docs)
	}

	backend.fail.Store(true)
	if _, err := FetchAll(context.Background(), backend, refs, 0); err == nil {
		t.Error("expected backend error")
	}
}
