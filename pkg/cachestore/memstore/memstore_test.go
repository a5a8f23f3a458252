package memstore

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanjohn16/edgecache/pkg/cachestore"
)

func newEntry(body string) *cachestore.Entry {
	return &cachestore.Entry{
		Status:   200,
		Header:   http.Header{"Content-Type": []string{"text/html"}},
		Body:     []byte(body),
		StoredAt: time.Now(),
	}
}

func TestMemStore_basicOps(t *testing.T) {
	s := NewMemStore(Opts{CleanerInterval: -1})
	defer s.Close()
	ctx := context.Background()

	p, err := s.OpenPartition("edgecache-static-v1")
	require.NoError(t, err)

	_, ok, err := p.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Put(ctx, "k1", newEntry("one")))
	e, ok, err := p.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), e.Body)
	assert.Equal(t, 1, p.Len())

	keys, err := p.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, keys)

	require.NoError(t, p.Delete(ctx, "k1"))
	_, ok, err = p.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemStore_putCopies(t *testing.T) {
	s := NewMemStore(Opts{CleanerInterval: -1})
	defer s.Close()
	ctx := context.Background()

	p, err := s.OpenPartition("p")
	require.NoError(t, err)

	e := newEntry("body")
	require.NoError(t, p.Put(ctx, "k", e))

	// Mutating the caller's entry must not leak into the partition.
	e.Body[0] = 'X'
	got, ok, err := p.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("body"), got.Body)
}

func TestMemStore_dropPartition(t *testing.T) {
	s := NewMemStore(Opts{CleanerInterval: -1})
	defer s.Close()
	ctx := context.Background()

	_, err := s.OpenPartition("a")
	require.NoError(t, err)
	_, err = s.OpenPartition("b")
	require.NoError(t, err)

	require.NoError(t, s.DropPartition(ctx, "a"))
	names, err := s.Partitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)
}

func TestMemStore_cleanerEvictsOldEntries(t *testing.T) {
	s := NewMemStore(Opts{
		MaxEntryAge:     50 * time.Millisecond,
		CleanerInterval: 10 * time.Millisecond,
	})
	defer s.Close()
	ctx := context.Background()

	p, err := s.OpenPartition("edgecache-ai-v1")
	require.NoError(t, err)

	old := newEntry("stale")
	old.StoredAt = time.Now().Add(-time.Minute)
	require.NoError(t, p.Put(ctx, "old", old))
	require.NoError(t, p.Put(ctx, "fresh", newEntry("fresh")))

	assert.Eventually(t, func() bool {
		_, ok, _ := p.Get(ctx, "old")
		return !ok
	}, time.Second, 10*time.Millisecond, "entry past max age must be cleaned")

	_, ok, err := p.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok, "entry within max age must survive the cleaner")
}

func TestMemStore_snapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.snapshot")
	ctx := context.Background()

	s1 := NewMemStore(Opts{CleanerInterval: -1})
	p, err := s1.OpenPartition("edgecache-static-v1")
	require.NoError(t, err)
	require.NoError(t, p.Put(ctx, "GET https://example.com/", newEntry("home")))
	require.NoError(t, p.Put(ctx, "GET https://example.com/offline.html", newEntry("offline")))
	require.NoError(t, s1.SaveSnapshot(path))
	require.NoError(t, s1.Close())

	s2 := NewMemStore(Opts{CleanerInterval: -1})
	defer s2.Close()
	n, err := s2.LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p2, err := s2.OpenPartition("edgecache-static-v1")
	require.NoError(t, err)
	e, ok, err := p2.Get(ctx, "GET https://example.com/offline.html")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("offline"), e.Body)
	assert.Equal(t, "text/html", e.Header.Get("Content-Type"))
}

func TestMemStore_loadSnapshotMissingFile(t *testing.T) {
	s := NewMemStore(Opts{CleanerInterval: -1})
	defer s.Close()

	// First boot has no snapshot yet; that is a cold start, not an error.
	n, err := s.LoadSnapshot(filepath.Join(t.TempDir(), "nope.snapshot"))
	require.NoError(t, err)
	assert.Zero(t, n)
}
