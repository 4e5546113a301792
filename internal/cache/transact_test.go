package cache

import (
	"errors"
	"testing"

	bolt "go.etcd.io/bbolt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactComposesMultipleWritesAtomically(t *testing.T) {
	e := openTestEngine(t)

	err := e.Transact(false, func(tx *Txn) error {
		if err := tx.Set("a", "1", SetOptions{}); err != nil {
			return err
		}
		return tx.Set("b", "2", SetOptions{})
	})
	require.NoError(t, err)

	n, err := e.Len()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestTransactRollsBackOnError(t *testing.T) {
	e := openTestEngine(t)
	boom := errors.New("boom")

	err := e.Transact(false, func(tx *Txn) error {
		if err := tx.Set("a", "1", SetOptions{}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := e.Len()
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestTransactIncrsCompose(t *testing.T) {
	e := openTestEngine(t)
	def := int64(0)

	err := e.Transact(false, func(tx *Txn) error {
		if _, err := tx.Incr("counter", 1, &def); err != nil {
			return err
		}
		_, err := tx.Incr("counter", 1, &def)
		return err
	})
	require.NoError(t, err)

	res, err := e.Get("counter", GetOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, int64(2), res.Value)
}

func TestReadIsSnapshotOnly(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.Set("k", "v", SetOptions{})
	require.NoError(t, err)

	blob, raw, err := e.ser.EncodeKey("k")
	require.NoError(t, err)

	var seen any
	err = e.Read(func(tx *bolt.Tx) error {
		row, lerr := e.lookupLive(tx, blob, raw, nowSeconds())
		if lerr != nil || row == nil {
			return lerr
		}
		v, _, derr := e.ser.LoadValue(row.Mode, row.ValueBlob, row.Filename, false)
		seen = v
		return derr
	})
	require.NoError(t, err)
	assert.Equal(t, "v", seen)
}
