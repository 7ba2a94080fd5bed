package tilestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirLayoutMatchesSpec(t *testing.T) {
	store := New("/cache")
	assert.Equal(t, filepath.Join("/cache", "orto", "parcels"), store.Dir("orto", TargetLayer, "parcels"))
	assert.Equal(t, filepath.Join("/cache", "orto", "_themes", "roads"), store.Dir("orto", TargetTheme, "roads"))
}

func TestDirSanitizesTraversal(t *testing.T) {
	store := New("/cache")
	dir := store.Dir("../../etc", TargetLayer, "../../passwd")
	assert.NotContains(t, dir, "..")
}

func TestPathIncludesZXYAndExt(t *testing.T) {
	store := New("/cache")
	path := store.Path("orto", TargetLayer, "parcels", 4, 9, 6, "png")
	assert.Equal(t, filepath.Join("/cache", "orto", "parcels", "4", "9", "6.png"), path)
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	store := New(t.TempDir())
	path := store.Path("orto", TargetLayer, "parcels", 1, 0, 0, "png")
	tile := validPNGFixture(t)

	require.NoError(t, store.Write(path, tile))

	back, err := store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, tile, back)
}

func TestReadDeletesEmptyFileAndReportsMissing(t *testing.T) {
	store := New(t.TempDir())
	path := filepath.Join(store.cacheRoot, "empty.png")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := store.Read(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "invalid tile must be deleted so a later request regenerates it")
}

func TestReadDeletesMalformedPNG(t *testing.T) {
	store := New(t.TempDir())
	path := filepath.Join(store.cacheRoot, "bad.png")
	require.NoError(t, os.WriteFile(path, append(append([]byte{}, pngSignature...), 0, 0, 0, 0), 0o644))

	_, err := store.Read(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadEnforcesMinimumSize(t *testing.T) {
	store := New(t.TempDir())
	store.MinTileBytes = 1024
	path := filepath.Join(store.cacheRoot, "tiny.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a png but still tiny"), 0o644))

	_, err := store.Read(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDeleteTreeRemovesEverythingUnderDir(t *testing.T) {
	store := New(t.TempDir())
	dir := store.Dir("orto", TargetLayer, "parcels")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "4", "9"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "4", "9", "6.png"), []byte("x"), 0o644))

	require.NoError(t, store.DeleteTree(dir))

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteTreeOnMissingDirIsNotAnError(t *testing.T) {
	store := New(t.TempDir())
	require.NoError(t, store.DeleteTree(store.Dir("orto", TargetLayer, "never-existed")))
}

func validPNGFixture(t *testing.T) []byte {
	t.Helper()
	ihdr := make([]byte, 13)
	ihdr[0], ihdr[1], ihdr[2], ihdr[3] = 0, 0, 0, 1 // width = 1
	ihdr[4], ihdr[5], ihdr[6], ihdr[7] = 0, 0, 0, 1 // height = 1

	buf := append([]byte{}, pngSignature...)
	buf = append(buf, 0, 0, 0, 13) // length
	buf = append(buf, 'I', 'H', 'D', 'R')
	buf = append(buf, ihdr...)
	buf = append(buf, 0, 0, 0, 0) // fake CRC, unchecked
	return buf
}
