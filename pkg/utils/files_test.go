package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deps.files")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestModTime(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := ModTime(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	path := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	mt, ok, err := ModTime(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mt.IsZero())
}

func TestChangeExt(t *testing.T) {
	assert.Equal(t, "build/deps.files", ChangeExt("build/deps.dep", ".files"))
	assert.Equal(t, "deps.files", ChangeExt("deps", ".files"))
}

func TestWithinDir(t *testing.T) {
	assert.True(t, WithinDir("/w", "/w"))
	assert.True(t, WithinDir("/w", "/w/a/b"))
	assert.True(t, WithinDir("/w", "/w/..a"))
	assert.False(t, WithinDir("/w", "/w/../x"))
	assert.False(t, WithinDir("/w", "/other"))
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, filepath.Join("/w", "lib", "a.zip"), ResolvePath("/w", "lib/a.zip"))
	assert.Equal(t, "/abs/a.zip", ResolvePath("/w", "/abs/a.zip"))
	assert.Equal(t, "lib/a.zip", ResolvePath("", "lib/a.zip"))
}
