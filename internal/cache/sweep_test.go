package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpireRemovesOnlyExpiredRows(t *testing.T) {
	e := openTestEngine(t)
	// "stale" must outlive Set's own expired-row cull, so it expires
	// after one second and the sweep runs as of ten seconds from now.
	soon := 1.0
	future := 1000.0
	_, err := e.Set("stale", "v", SetOptions{Expire: &soon})
	require.NoError(t, err)
	_, err = e.Set("fresh", "v", SetOptions{Expire: &future})
	require.NoError(t, err)

	at := nowSeconds() + 10
	n, err := e.Expire(&at, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := e.Get("fresh", GetOptions{})
	require.NoError(t, err)
	assert.True(t, res.Found)
}

func TestEvictRemovesAllTaggedRows(t *testing.T) {
	e := openTestEngine(t)
	tag := "cohort"
	_, err := e.Set("a", "1", SetOptions{Tag: &tag})
	require.NoError(t, err)
	_, err = e.Set("b", "2", SetOptions{Tag: &tag})
	require.NoError(t, err)
	_, err = e.Set("c", "3", SetOptions{})
	require.NoError(t, err)

	n, err := e.Evict(tag, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := e.Len()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestClearRemovesEverything(t *testing.T) {
	e := openTestEngine(t)
	for _, k := range []string{"a", "b", "c"} {
		_, err := e.Set(k, "v", SetOptions{})
		require.NoError(t, err)
	}

	n, err := e.Clear(false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := e.Len()
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestCullRunsPolicyEvictionOverSizeLimit(t *testing.T) {
	e := openTestEngine(t)
	e.settings.CullLimit = 0 // disable cull-on-set while seeding rows

	for i := 0; i < 5; i++ {
		_, err := e.Set(i, "payload", SetOptions{})
		require.NoError(t, err)
	}

	e.settings.SizeLimit = 1
	e.settings.CullLimit = 100

	removed, err := e.Cull(false)
	require.NoError(t, err)
	assert.True(t, removed > 0)
}
