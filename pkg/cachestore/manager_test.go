package cachestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanjohn16/edgecache/pkg/cachestore"
	"github.com/stefanjohn16/edgecache/pkg/cachestore/memstore"
)

func TestPartitionNames(t *testing.T) {
	n := cachestore.PartitionNames("v3")
	assert.Equal(t, "edgecache-static-v3", n.Static)
	assert.Equal(t, "edgecache-dynamic-v3", n.Dynamic)
	assert.Equal(t, "edgecache-ai-v3", n.Ephemeral)
}

func TestManager_PurgeStale(t *testing.T) {
	store := memstore.NewMemStore(memstore.Opts{CleanerInterval: -1})
	defer store.Close()
	ctx := context.Background()

	// Partitions from a previous version, still holding data.
	old := cachestore.PartitionNames("v2")
	for _, name := range []string{old.Static, old.Dynamic, old.Ephemeral} {
		p, err := store.OpenPartition(name)
		require.NoError(t, err)
		require.NoError(t, p.Put(ctx, "GET https://example.com/", &cachestore.Entry{Status: 200, StoredAt: time.Now()}))
	}

	m, err := cachestore.NewManager(store, "v3", nil)
	require.NoError(t, err)
	require.NoError(t, m.Static().Put(ctx, "GET https://example.com/", &cachestore.Entry{Status: 200, StoredAt: time.Now()}))

	require.NoError(t, m.PurgeStale(ctx))

	names, err := store.Partitions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"edgecache-static-v3", "edgecache-dynamic-v3", "edgecache-ai-v3",
	}, names)

	// The current version's data survived the purge.
	_, ok, err := m.Static().Get(ctx, "GET https://example.com/")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_reopenSamePartition(t *testing.T) {
	store := memstore.NewMemStore(memstore.Opts{CleanerInterval: -1})
	defer store.Close()
	ctx := context.Background()

	m, err := cachestore.NewManager(store, "v1", nil)
	require.NoError(t, err)

	require.NoError(t, m.Static().Put(ctx, "k", &cachestore.Entry{Status: 200, StoredAt: time.Now()}))

	p, err := store.OpenPartition(m.Names().Static)
	require.NoError(t, err)
	_, ok, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "opening the same name must return the same partition")
}
