package lru

import (
	"hash/maphash"
	"sync"
)

// ShardedLRU spreads string keys over multiple mutex-guarded LRU shards to
// reduce lock contention.
type ShardedLRU[V any] struct {
	seed   maphash.Seed
	shards []*ConcurrentLRU[string, V]
	mask   uint64 // shardNum - 1, shardNum must be a power of 2
}

func NewShardedLRU[V any](shardNum, maxSizePerShard int, onEvict func(key string, v V)) *ShardedLRU[V] {
	if shardNum <= 0 || shardNum&(shardNum-1) != 0 {
		panic("lru: shardNum must be a power of 2 and > 0")
	}

	s := &ShardedLRU[V]{
		seed:   maphash.MakeSeed(),
		shards: make([]*ConcurrentLRU[string, V], shardNum),
		mask:   uint64(shardNum - 1),
	}
	for i := range s.shards {
		s.shards[i] = NewConcurrentLRU[string, V](maxSizePerShard, onEvict)
	}
	return s
}

func (s *ShardedLRU[V]) getShard(key string) *ConcurrentLRU[string, V] {
	h := maphash.String(s.seed, key)
	return s.shards[int(h&s.mask)]
}

func (s *ShardedLRU[V]) Add(key string, v V) {
	s.getShard(key).Add(key, v)
}

func (s *ShardedLRU[V]) Del(key string) {
	s.getShard(key).Del(key)
}

func (s *ShardedLRU[V]) Get(key string) (v V, ok bool) {
	return s.getShard(key).Get(key)
}

func (s *ShardedLRU[V]) Clean(f func(key string, v V) bool) (removed int) {
	for _, shard := range s.shards {
		removed += shard.Clean(f)
	}
	return removed
}

func (s *ShardedLRU[V]) Range(f func(key string, v V)) {
	for _, shard := range s.shards {
		shard.Range(f)
	}
}

func (s *ShardedLRU[V]) Len() int {
	sum := 0
	for _, shard := range s.shards {
		sum += shard.Len()
	}
	return sum
}

// ConcurrentLRU is an LRU guarded by a mutex.
type ConcurrentLRU[K comparable, V any] struct {
	mu  sync.Mutex
	lru *LRU[K, V]
}

func NewConcurrentLRU[K comparable, V any](maxSize int, onEvict func(key K, v V)) *ConcurrentLRU[K, V] {
	return &ConcurrentLRU[K, V]{
		lru: NewLRU[K, V](maxSize, onEvict),
	}
}

func (c *ConcurrentLRU[K, V]) Add(key K, v V) {
	c.mu.Lock()
	c.lru.Add(key, v)
	c.mu.Unlock()
}

func (c *ConcurrentLRU[K, V]) Del(key K) {
	c.mu.Lock()
	c.lru.Del(key)
	c.mu.Unlock()
}

func (c *ConcurrentLRU[K, V]) Get(key K) (v V, ok bool) {
	c.mu.Lock()
	v, ok = c.lru.Get(key)
	c.mu.Unlock()
	return
}

func (c *ConcurrentLRU[K, V]) Clean(f func(key K, v V) bool) (removed int) {
	c.mu.Lock()
	removed = c.lru.Clean(f)
	c.mu.Unlock()
	return
}

func (c *ConcurrentLRU[K, V]) Range(f func(key K, v V)) {
	c.mu.Lock()
	c.lru.Range(f)
	c.mu.Unlock()
}

func (c *ConcurrentLRU[K, V]) Len() int {
	c.mu.Lock()
	n := c.lru.Len()
	c.mu.Unlock()
	return n
}
