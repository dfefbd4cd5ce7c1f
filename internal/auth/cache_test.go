package auth

import (
	"sync"
	"testing"
	"time"
)

func TestCache_FreshHit(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	cache.Set(testAPIKey, &ProjectContext{ProjectID: "proj_1"})

	result := cache.Get(testAPIKey)
	if !result.Hit {
		t.Fatal("expected cache hit")
	}
	if result.NeedsRefresh {
		t.Error("fresh entry should not need refresh")
	}
	if result.Project.ProjectID != "proj_1" {
		t.Errorf("expected proj_1, got %s", result.Project.ProjectID)
	}
}

func TestCache_Miss(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	result := cache.Get("rtk_nonexistent")
	if result.Hit || result.Project != nil || result.NeedsRefresh {
		t.Errorf("expected empty miss, got %+v", result)
	}
}

func TestCache_StaleHit_OnlyOneRefresher(t *testing.T) {
	cache := NewAuthCache(1 * time.Millisecond)
	cache.Set(testAPIKey, &ProjectContext{ProjectID: "proj_1"})
	time.Sleep(5 * time.Millisecond)

	var mu sync.Mutex
	refreshers := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := cache.Get(testAPIKey)
			if !r.Hit || r.Project.ProjectID != "proj_1" {
				t.Error("stale hit should still return the project")
			}
			if r.NeedsRefresh {
				mu.Lock()
				refreshers++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if refreshers != 1 {
		t.Errorf("expected exactly one refresher, got %d", refreshers)
	}
}

func TestCache_ReleaseRefresh(t *testing.T) {
	cache := NewAuthCache(1 * time.Millisecond)
	cache.Set(testAPIKey, &ProjectContext{ProjectID: "proj_1"})
	time.Sleep(5 * time.Millisecond)

	if !cache.Get(testAPIKey).NeedsRefresh {
		t.Fatal("first stale read should refresh")
	}
	if cache.Get(testAPIKey).NeedsRefresh {
		t.Fatal("second stale read should not refresh while one is in flight")
	}
	cache.ReleaseRefresh(testAPIKey)
	if !cache.Get(testAPIKey).NeedsRefresh {
		t.Error("released entry should be refreshable again")
	}
}

func TestCache_Delete(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	cache.Set(testAPIKey, &ProjectContext{ProjectID: "proj_1"})
	cache.Delete(testAPIKey)
	if cache.Get(testAPIKey).Hit {
		t.Error("expected miss after delete")
	}
}
