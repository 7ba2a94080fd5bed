package jsonstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteAtomicThenRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.json")

	require.NoError(t, WriteAtomic(path, sample{Name: "a", Count: 1}))

	var got sample
	require.NoError(t, Read(path, &got))
	assert.Equal(t, sample{Name: "a", Count: 1}, got)

	_, err := os.Stat(path + ".bak")
	assert.True(t, os.IsNotExist(err), "no backup should exist after the first write")

	require.NoError(t, WriteAtomic(path, sample{Name: "b", Count: 2}))
	require.NoError(t, Read(path, &got))
	assert.Equal(t, sample{Name: "b", Count: 2}, got)

	_, err = os.Stat(path + ".bak")
	assert.NoError(t, err, "second write should leave a backup of the first")
}

func TestReadFallsBackWhenPrimaryIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	require.NoError(t, WriteAtomic(path, sample{Name: "good", Count: 7}))
	require.NoError(t, WriteAtomic(path, sample{Name: "good2", Count: 8}))

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var got sample
	require.NoError(t, Read(path, &got))
	assert.Equal(t, "good", got.Name, "corrupt primary should fall back to the .bak written on the first update")
}

func TestReadMissingReturnsErrNotExist(t *testing.T) {
	dir := t.TempDir()
	var got sample
	err := Read(filepath.Join(dir, "missing.json"), &got)
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	assert.False(t, Exists(path))

	require.NoError(t, WriteAtomic(path, sample{Name: "x"}))
	assert.True(t, Exists(path))
}
