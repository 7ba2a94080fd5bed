package cacheindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAddsAndReplaces(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Upsert("orto", KindLayer, "parcels", func(e Entry) Entry {
		e.ZoomMin, e.ZoomMax = 0, 3
		e.Status = StatusRunning
		return e
	})
	require.NoError(t, err)

	idx, err := store.Load("orto")
	require.NoError(t, err)
	require.Len(t, idx.Layers, 1)
	assert.Equal(t, StatusRunning, idx.Layers[0].Status)

	entry, err := store.Upsert("orto", KindLayer, "parcels", func(e Entry) Entry {
		require.Equal(t, StatusRunning, e.Status, "updater must see the prior entry")
		e.Status = StatusCached
		min, max := 0, 3
		e.CachedZoomMin, e.CachedZoomMax = &min, &max
		return e
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCached, entry.Status)

	idx, err = store.Load("orto")
	require.NoError(t, err)
	require.Len(t, idx.Layers, 1, "upsert replaces rather than appending a duplicate")
}

func TestClearCacheKeepsRowButDropsZoom(t *testing.T) {
	store := NewStore(t.TempDir())

	min, max := 2, 8
	_, err := store.Upsert("orto", KindTheme, "roads", func(e Entry) Entry {
		e.CachedZoomMin, e.CachedZoomMax = &min, &max
		e.Path = "/cache/orto/_themes/roads"
		e.CacheExists = true
		e.Status = StatusCached
		return e
	})
	require.NoError(t, err)

	entry, err := store.ClearCache("orto", KindTheme, "roads")
	require.NoError(t, err)
	assert.Nil(t, entry.CachedZoomMin)
	assert.Nil(t, entry.CachedZoomMax)
	assert.Empty(t, entry.Path)
	assert.False(t, entry.CacheExists)
	assert.Equal(t, StatusUncached, entry.Status)

	idx, err := store.Load("orto")
	require.NoError(t, err)
	require.Len(t, idx.Layers, 1, "the row itself must survive a cache clear")
}

func TestInvariantCachedZoomMinLEMax(t *testing.T) {
	store := NewStore(t.TempDir())
	entry, err := store.Upsert("orto", KindLayer, "parcels", func(e Entry) Entry {
		min, max := 0, 5
		e.CachedZoomMin, e.CachedZoomMax = &min, &max
		return e
	})
	require.NoError(t, err)
	require.NotNil(t, entry.CachedZoomMin)
	require.NotNil(t, entry.CachedZoomMax)
	assert.LessOrEqual(t, *entry.CachedZoomMin, *entry.CachedZoomMax)
}
