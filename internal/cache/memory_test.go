package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/img-warp/img-warp/internal/variant"
)

func testKey(origin string) Key {
	return Key{Variant: variant.Thumbnail, Origin: origin}
}

func testEntry(origin string, size int) Entry {
	return Entry{
		Key:         testKey(origin),
		Body:        make([]byte, size),
		ContentType: "image/png",
		FetchedAt:   time.Now().UTC(),
	}
}

func TestMemoryStorePutAndGet(t *testing.T) {
	store := NewMemoryStore(MemoryOptions{})
	entry := testEntry("https://origin/a.png", 16)
	store.Put(entry)

	got, ok := store.Get(entry.Key)
	if !ok {
		t.Fatalf("expected hit")
	}
	if got.ContentType != "image/png" {
		t.Fatalf("content-type mismatch: %s", got.ContentType)
	}
	if got.SizeBytes() != 16 {
		t.Fatalf("size mismatch: %d", got.SizeBytes())
	}
}

func TestMemoryStoreReplaceKeepsSingleEntry(t *testing.T) {
	store := NewMemoryStore(MemoryOptions{})
	store.Put(testEntry("https://origin/a.png", 10))
	store.Put(testEntry("https://origin/a.png", 30))

	if store.Len() != 1 {
		t.Fatalf("expected 1 entry after replace, got %d", store.Len())
	}
	if store.TotalBytes() != 30 {
		t.Fatalf("expected 30 bytes after replace, got %d", store.TotalBytes())
	}
}

func TestMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	// 插入 A/B/C 后访问 A，再插入 D 触发淘汰：最久未访问的 B 出局，A/C 存活。
	store := NewMemoryStore(MemoryOptions{MaxEntries: 3})

	a := testEntry("https://origin/a.png", 1)
	b := testEntry("https://origin/b.png", 1)
	c := testEntry("https://origin/c.png", 1)
	store.Put(a)
	store.Put(b)
	store.Put(c)

	if _, ok := store.Get(a.Key); !ok {
		t.Fatalf("expected A present before eviction")
	}

	d := testEntry("https://origin/d.png", 1)
	store.Put(d)

	if _, ok := store.Get(b.Key); ok {
		t.Fatalf("expected B evicted")
	}
	if _, ok := store.Get(a.Key); !ok {
		t.Fatalf("expected A to survive")
	}
	if _, ok := store.Get(c.Key); !ok {
		t.Fatalf("expected C to survive")
	}
	if _, ok := store.Get(d.Key); !ok {
		t.Fatalf("expected D to survive")
	}
}

func TestMemoryStoreByteBudget(t *testing.T) {
	store := NewMemoryStore(MemoryOptions{MaxBytes: 100})
	store.Put(testEntry("https://origin/a.png", 60))
	store.Put(testEntry("https://origin/b.png", 60))

	if store.Len() != 1 {
		t.Fatalf("expected 1 entry under 100-byte budget, got %d", store.Len())
	}
	if _, ok := store.Get(testKey("https://origin/b.png")); !ok {
		t.Fatalf("expected newest entry to survive")
	}
	if store.TotalBytes() > 100 {
		t.Fatalf("budget exceeded: %d", store.TotalBytes())
	}
}

func TestMemoryStoreRejectsOversizedEntry(t *testing.T) {
	store := NewMemoryStore(MemoryOptions{MaxBytes: 10})
	store.Put(testEntry("https://origin/small.png", 5))
	store.Put(testEntry("https://origin/huge.png", 50))

	if _, ok := store.Get(testKey("https://origin/huge.png")); ok {
		t.Fatalf("oversized entry should not be stored")
	}
	if _, ok := store.Get(testKey("https://origin/small.png")); !ok {
		t.Fatalf("existing entries should not be evicted for an oversized put")
	}
}

func TestMemoryStoreMaxAgeTreatsExpiredAsAbsent(t *testing.T) {
	store := NewMemoryStore(MemoryOptions{MaxAge: time.Minute})
	now := time.Now()
	store.now = func() time.Time { return now }

	entry := testEntry("https://origin/a.png", 8)
	entry.FetchedAt = now
	store.Put(entry)

	if _, ok := store.Get(entry.Key); !ok {
		t.Fatalf("fresh entry should hit")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := store.Get(entry.Key); ok {
		t.Fatalf("expired entry should read as absent")
	}
	if store.Len() != 0 {
		t.Fatalf("expired entry should be lazily purged, len=%d", store.Len())
	}
}

func TestMemoryStoreDistinctVariantsDistinctSlots(t *testing.T) {
	store := NewMemoryStore(MemoryOptions{})
	origin := "https://origin/a.png"
	store.Put(Entry{Key: Key{Variant: variant.Thumbnail, Origin: origin}, Body: []byte("t"), ContentType: "image/png", FetchedAt: time.Now()})
	store.Put(Entry{Key: Key{Variant: variant.Large, Origin: origin}, Body: []byte("lg"), ContentType: "image/png", FetchedAt: time.Now()})

	if store.Len() != 2 {
		t.Fatalf("expected 2 slots for 2 variants, got %d", store.Len())
	}
}

func TestMemoryStoreConcurrentPutSingleEntryPerKey(t *testing.T) {
	store := NewMemoryStore(MemoryOptions{})
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				store.Put(testEntry("https://origin/contended.png", i+1))
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	if store.Len() != 1 {
		t.Fatalf("expected exactly one entry per key, got %d", store.Len())
	}
}

func TestMemoryStoreRemove(t *testing.T) {
	store := NewMemoryStore(MemoryOptions{})
	entry := testEntry("https://origin/a.png", 4)
	store.Put(entry)
	store.Remove(entry.Key)

	if _, ok := store.Get(entry.Key); ok {
		t.Fatalf("expected miss after remove")
	}
	if store.TotalBytes() != 0 {
		t.Fatalf("byte accounting leaked: %d", store.TotalBytes())
	}
}

func TestMemoryStoreUnboundedWhenZeroBudgets(t *testing.T) {
	store := NewMemoryStore(MemoryOptions{})
	for i := 0; i < 100; i++ {
		store.Put(testEntry(fmt.Sprintf("https://origin/%d.png", i), 10))
	}
	if store.Len() != 100 {
		t.Fatalf("zero budgets should disable eviction, len=%d", store.Len())
	}
}
