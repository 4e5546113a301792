package cache

import (
	"os"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/internal/store"
)

func TestCheckCleanCacheReportsNoWarnings(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.Set("k", "v", SetOptions{})
	require.NoError(t, err)

	warnings, err := e.Check(false)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestCheckDetectsOrphanHeapFile(t *testing.T) {
	e := openTestEngine(t)

	rel, _, err := e.heap.Create()
	require.NoError(t, err)
	abs := filepath.Join(e.Root(), rel)
	require.NoError(t, os.WriteFile(abs, []byte("orphan"), 0o644))

	warnings, err := e.Check(false)
	require.NoError(t, err)
	require.NotEmpty(t, warnings)

	_, statErr := os.Stat(abs)
	assert.NoError(t, statErr)

	warnings, err = e.Check(true)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)

	_, statErr = os.Stat(abs)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCheckDetectsMissingHeapFile(t *testing.T) {
	e := openTestEngine(t)

	bigValue := make([]byte, e.settings.DiskMinFileSize+1)
	_, err := e.Set("k", bigValue, SetOptions{})
	require.NoError(t, err)

	var filename string
	err = e.txr.Read(func(tx *bolt.Tx) error {
		blob, raw, err := e.ser.EncodeKey("k")
		if err != nil {
			return err
		}
		id, found, err := store.LookupRowID(tx, blob, raw)
		if err != nil || !found {
			return err
		}
		row, err := store.GetEntry(tx, id)
		if err != nil {
			return err
		}
		filename = row.Filename
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, filename)
	require.NoError(t, os.Remove(filepath.Join(e.Root(), filename)))

	warnings, err := e.Check(false)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)

	n, err := e.Len()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "check(fix=false) must not remove the row")

	warnings, err = e.Check(true)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings, "check(fix=true) still reports what it found and fixed")

	n, err = e.Len()
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "check(fix=true) must drop the row with the missing file")

	warnings, err = e.Check(true)
	require.NoError(t, err)
	assert.Empty(t, warnings, "a second check(fix=true) must converge to no warnings")
}
