// Package memstore is the in-memory cachestore backend. Each partition is a
// sharded LRU; a background cleaner evicts entries past a configurable max
// age so an idle gateway does not hold stale snapshots forever.
package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stefanjohn16/edgecache/pkg/cachestore"
	"github.com/stefanjohn16/edgecache/pkg/lru"
)

const (
	shardSize              = 64
	defaultCleanerInterval = time.Minute
)

type Opts struct {
	// Size is the max entry count per partition. Default is 1024.
	Size int

	// MaxEntryAge caps how long any entry may live regardless of access.
	// Zero disables age-based cleaning.
	MaxEntryAge time.Duration

	// CleanerInterval is how often the cleaner runs. Default is one
	// minute. Negative disables the cleaner.
	CleanerInterval time.Duration
}

func (opts *Opts) init() {
	if opts.Size <= 0 {
		opts.Size = 1024
	}
	if opts.CleanerInterval == 0 {
		opts.CleanerInterval = defaultCleanerInterval
	}
}

type MemStore struct {
	opts Opts

	closed           uint32
	closeCleanerChan chan struct{}

	mu         sync.Mutex
	partitions map[string]*memPartition
}

func NewMemStore(opts Opts) *MemStore {
	opts.init()
	s := &MemStore{
		opts:             opts,
		closeCleanerChan: make(chan struct{}),
		partitions:       make(map[string]*memPartition),
	}

	if opts.CleanerInterval > 0 {
		go s.startCleaner(opts.CleanerInterval)
	}
	return s
}

func (s *MemStore) isClosed() bool {
	return atomic.LoadUint32(&s.closed) != 0
}

func (s *MemStore) Close() error {
	if atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		close(s.closeCleanerChan)
	}
	return nil
}

func (s *MemStore) OpenPartition(name string) (cachestore.Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.partitions[name]; ok {
		return p, nil
	}

	sizePerShard := s.opts.Size / shardSize
	if sizePerShard < 16 {
		sizePerShard = 16
	}
	p := &memPartition{
		store: s,
		lru:   lru.NewShardedLRU[*cachestore.Entry](shardSize, sizePerShard, nil),
	}
	s.partitions[name] = p
	return p, nil
}

func (s *MemStore) Partitions(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	return names, nil
}

func (s *MemStore) DropPartition(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, name)
	return nil
}

func (s *MemStore) startCleaner(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeCleanerChan:
			return
		case <-ticker.C:
			if s.opts.MaxEntryAge <= 0 {
				continue
			}
			deadline := time.Now().Add(-s.opts.MaxEntryAge)
			s.mu.Lock()
			parts := make([]*memPartition, 0, len(s.partitions))
			for _, p := range s.partitions {
				parts = append(parts, p)
			}
			s.mu.Unlock()
			for _, p := range parts {
				p.lru.Clean(func(_ string, e *cachestore.Entry) bool {
					return e.StoredAt.Before(deadline)
				})
			}
		}
	}
}

type memPartition struct {
	store *MemStore
	lru   *lru.ShardedLRU[*cachestore.Entry]
}

func (p *memPartition) Get(_ context.Context, key string) (*cachestore.Entry, bool, error) {
	if p.store.isClosed() {
		return nil, false, nil
	}
	e, ok := p.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return e, true, nil
}

func (p *memPartition) Put(_ context.Context, key string, e *cachestore.Entry) error {
	if p.store.isClosed() {
		return nil
	}
	// Copy so the partition owns the entry; callers may keep mutating
	// their response after Put returns.
	p.lru.Add(key, e.Clone())
	return nil
}

func (p *memPartition) Delete(_ context.Context, key string) error {
	if p.store.isClosed() {
		return nil
	}
	p.lru.Del(key)
	return nil
}

func (p *memPartition) Keys(_ context.Context) ([]string, error) {
	keys := make([]string, 0, p.lru.Len())
	p.lru.Range(func(key string, _ *cachestore.Entry) {
		keys = append(keys, key)
	})
	return keys, nil
}

func (p *memPartition) Len() int {
	return p.lru.Len()
}
