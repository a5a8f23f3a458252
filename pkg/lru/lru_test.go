package lru

import (
	"strconv"
	"sync"
	"testing"
)

func Test_LRU(t *testing.T) {
	q := NewLRU[string, int](8, nil)
	for i := 0; i < 8; i++ {
		q.Add(strconv.Itoa(i), i)
	}
	if q.Len() != 8 {
		t.Fatalf("want len 8, got %d", q.Len())
	}

	// 0 becomes the most recently used entry.
	if v, ok := q.Get("0"); !ok || v != 0 {
		t.Fatalf("want 0, got %d, %v", v, ok)
	}

	// Adding one more evicts the oldest entry, which is now 1.
	q.Add("8", 8)
	if q.Len() != 8 {
		t.Fatalf("want len 8, got %d", q.Len())
	}
	if _, ok := q.Get("1"); ok {
		t.Fatal("1 should have been evicted")
	}
	if _, ok := q.Get("0"); !ok {
		t.Fatal("0 should have survived")
	}

	q.Del("0")
	if _, ok := q.Get("0"); ok {
		t.Fatal("0 should have been deleted")
	}
}

func Test_LRU_onEvict(t *testing.T) {
	evicted := make(map[string]int)
	q := NewLRU[string, int](4, func(key string, v int) {
		evicted[key] = v
	})
	for i := 0; i < 8; i++ {
		q.Add(strconv.Itoa(i), i)
	}
	for i := 0; i < 4; i++ {
		if v, ok := evicted[strconv.Itoa(i)]; !ok || v != i {
			t.Fatalf("entry %d was not evicted", i)
		}
	}
	if len(evicted) != 4 {
		t.Fatalf("want 4 evictions, got %d", len(evicted))
	}
}

func Test_LRU_Clean(t *testing.T) {
	q := NewLRU[string, int](64, nil)
	for i := 0; i < 64; i++ {
		q.Add(strconv.Itoa(i), i)
	}
	removed := q.Clean(func(_ string, v int) bool {
		return v%2 == 0
	})
	if removed != 32 {
		t.Fatalf("want 32 removed, got %d", removed)
	}
	if q.Len() != 32 {
		t.Fatalf("want len 32, got %d", q.Len())
	}
	if _, ok := q.Get("2"); ok {
		t.Fatal("2 should have been cleaned")
	}
	if _, ok := q.Get("3"); !ok {
		t.Fatal("3 should have survived")
	}
}

func Test_ShardedLRU_race(t *testing.T) {
	q := NewShardedLRU[int](4, 16, nil)

	wg := sync.WaitGroup{}
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 256; i++ {
				key := strconv.Itoa(i % 32)
				q.Add(key, i)
				q.Get(key)
				if i%16 == 0 {
					q.Del(key)
				}
			}
		}(g)
	}
	wg.Wait()

	q.Clean(func(_ string, _ int) bool { return true })
	if n := q.Len(); n != 0 {
		t.Fatalf("want empty after clean, got %d", n)
	}
}
