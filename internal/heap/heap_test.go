package heap

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRemove(t *testing.T) {
	dir := t.TempDir()
	h := New(dir)

	rel, size, err := h.Write([]byte("hello heap"))
	require.NoError(t, err)
	assert.EqualValues(t, len("hello heap"), size)

	// Two-level directory tree: XX/YY/name.val.
	parts := filepath.SplitList(filepath.ToSlash(rel))
	_ = parts
	assert.True(t, len(filepath.Dir(rel)) > 0)

	got, err := h.ReadAll(rel)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello heap"), got)

	exists, gotSize, err := h.Exists(rel)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.EqualValues(t, size, gotSize)

	require.NoError(t, h.Remove(rel))

	exists, _, err = h.Exists(rel)
	require.NoError(t, err)
	assert.False(t, exists)

	// Double-remove is tolerated.
	require.NoError(t, h.Remove(rel))
}

func TestWriteFromStreams(t *testing.T) {
	dir := t.TempDir()
	h := New(dir)

	payload := bytes.Repeat([]byte("x"), 5<<20) // exceed one 4MiB chunk
	rel, size, err := h.WriteFrom(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), size)

	got, err := h.ReadAll(rel)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestOpenMissingIsIOError(t *testing.T) {
	h := New(t.TempDir())
	_, err := h.Open("aa/bb/does-not-exist.val")
	require.Error(t, err)
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	h := New(dir)
	_, _, err := h.Write([]byte("v"))
	require.NoError(t, err)

	var tmpFound bool
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && filepath.Ext(path) == ".tmp" {
			tmpFound = true
		}
		return nil
	})
	assert.False(t, tmpFound)
}
