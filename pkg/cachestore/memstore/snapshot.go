package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"

	"github.com/stefanjohn16/edgecache/pkg/cachestore"
)

// snapshotRecord is one line of the snapshot stream.
type snapshotRecord struct {
	Partition string            `json:"partition"`
	Key       string            `json:"key"`
	Entry     *cachestore.Entry `json:"entry"`
}

// SaveSnapshot writes all partitions to path as a snappy-compressed JSON
// stream so a restarted gateway can start warm.
func (s *MemStore) SaveSnapshot(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer f.Close()

	w := snappy.NewBufferedWriter(f)
	enc := json.NewEncoder(w)

	s.mu.Lock()
	parts := make(map[string]*memPartition, len(s.partitions))
	for name, p := range s.partitions {
		parts[name] = p
	}
	s.mu.Unlock()

	var encErr error
	for name, p := range parts {
		p.lru.Range(func(key string, e *cachestore.Entry) {
			if encErr != nil {
				return
			}
			encErr = enc.Encode(snapshotRecord{Partition: name, Key: key, Entry: e})
		})
		if encErr != nil {
			return fmt.Errorf("encode snapshot record: %w", encErr)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	return f.Sync()
}

// LoadSnapshot restores partitions from a snapshot file. A missing file is
// not an error. A corrupted tail stops loading but keeps what was read.
func (s *MemStore) LoadSnapshot(path string) (loaded int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(snappy.NewReader(f))
	for {
		var rec snapshotRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return loaded, nil
			}
			return loaded, fmt.Errorf("decode snapshot record: %w", err)
		}
		if rec.Entry == nil || rec.Key == "" || rec.Partition == "" {
			continue
		}
		p, err := s.OpenPartition(rec.Partition)
		if err != nil {
			return loaded, err
		}
		if err := p.Put(context.Background(), rec.Key, rec.Entry); err != nil {
			return loaded, err
		}
		loaded++
	}
}
