package cache

import (
	"testing"
	"time"

	"contas/internal/core"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache[T any](maxSize int, ttl time.Duration) (*LRUCache[T], *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[T](maxSize, ttl)
	c.now = clock.Now
	return c, clock
}

func TestLRUCache_Eviction(t *testing.T) {
	c, _ := newTestCache[string](3, time.Hour)

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Set("key3", "value3")
	c.Get("key1") // key2 becomes least recently used
	c.Set("key4", "value4")

	if _, found := c.Get("key2"); found {
		t.Error("key2 should have been evicted")
	}
	for _, key := range []string{"key1", "key3", "key4"} {
		if _, found := c.Get(key); !found {
			t.Errorf("%s should still exist", key)
		}
	}
	if c.Size() != 3 {
		t.Errorf("Size() = %d, want 3", c.Size())
	}
}

func TestLRUCache_TTL(t *testing.T) {
	c, clock := newTestCache[core.InstallmentReport](10, time.Minute)

	c.Set("alice", core.InstallmentReport{})
	if _, found := c.Get("alice"); !found {
		t.Fatal("alice should exist immediately")
	}

	clock.Advance(2 * time.Minute)
	if _, found := c.Get("alice"); found {
		t.Error("alice should have expired")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestLRUCache_SetRefreshesExpiry(t *testing.T) {
	c, clock := newTestCache[int](10, time.Minute)

	c.Set("k", 1)
	clock.Advance(50 * time.Second)
	c.Set("k", 2)
	clock.Advance(50 * time.Second)

	v, found := c.Get("k")
	if !found || v != 2 {
		t.Errorf("Get() = %d, %v; want 2, true", v, found)
	}
}

func TestLRUCache_Delete(t *testing.T) {
	c, _ := newTestCache[int](10, time.Minute)
	c.Set("k", 1)
	c.Delete("k")
	c.Delete("missing")

	if _, found := c.Get("k"); found {
		t.Error("deleted key still present")
	}
}

func TestManager_CleanNow(t *testing.T) {
	c, clock := newTestCache[string](100, time.Minute)
	c.Set("key1", "value1")
	c.Set("key2", "value2")
	clock.Advance(30 * time.Second)
	c.Set("key3", "value3")
	clock.Advance(45 * time.Second)

	m := NewManager()
	m.Register(c)

	if removed := m.CleanNow(); removed != 2 {
		t.Errorf("CleanNow() = %d, want 2", removed)
	}
	if _, found := c.Get("key3"); !found {
		t.Error("key3 should survive cleanup")
	}
}

func TestManager_StopWithoutStart(t *testing.T) {
	m := NewManager()
	m.Stop()

	m.StartCleanup(time.Hour)
	m.Stop()
}

func BenchmarkLRUCache(b *testing.B) {
	c := NewLRUCache[core.InstallmentReport](1000, time.Hour)
	report := core.InstallmentReport{}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if i%10 == 0 {
			c.Set("bench-key", report)
		} else {
			c.Get("bench-key")
		}
	}
}
