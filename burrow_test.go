package burrow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSetGetRoundTrip(t *testing.T) {
	c, err := Open(t.TempDir(), Options{})
	require.NoError(t, err)
	defer c.Close()

	ok, err := c.Set("k", "v", SetOptions{})
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := c.Get("k", GetOptions{})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "v", res.Value)
}

func TestExpireInProducesFutureSeconds(t *testing.T) {
	p := ExpireIn(time.Hour)
	require.NotNil(t, p)
	assert.InDelta(t, 3600.0, *p, 0.01)
}

func TestOpenFanoutImplementsCache(t *testing.T) {
	settings := Default()
	settings.TxnTimeout = 2 * time.Second

	c, err := OpenFanout(t.TempDir(), 4, Options{Settings: settings})
	require.NoError(t, err)
	defer c.Close()

	ok, err := c.Set("k", "v", SetOptions{})
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := c.Len()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestTransactAtomicallyComposes(t *testing.T) {
	c, err := Open(t.TempDir(), Options{})
	require.NoError(t, err)
	defer c.Close()

	err = c.Transact(false, func(tx *Txn) error {
		return tx.Set("k", "v", SetOptions{})
	})
	require.NoError(t, err)

	res, err := c.Get("k", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "v", res.Value)
}
