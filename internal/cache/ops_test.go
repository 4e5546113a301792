package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/internal/cacheerr"
)

func TestSetGetRoundTrip(t *testing.T) {
	e := openTestEngine(t)

	ok, err := e.Set("k", "v", SetOptions{})
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := e.Get("k", GetOptions{})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "v", res.Value)
}

func TestGetMissingReturnsDefault(t *testing.T) {
	e := openTestEngine(t)

	res, err := e.Get("missing", GetOptions{Default: "fallback"})
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Equal(t, "fallback", res.Value)
}

func TestGetExpiredTreatedAsMiss(t *testing.T) {
	e := openTestEngine(t)
	past := -1.0
	_, err := e.Set("k", "v", SetOptions{Expire: &past})
	require.NoError(t, err)

	res, err := e.Get("k", GetOptions{Default: "gone"})
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Equal(t, "gone", res.Value)
}

func TestSetReplacesExistingRow(t *testing.T) {
	e := openTestEngine(t)

	_, err := e.Set("k", "first", SetOptions{})
	require.NoError(t, err)
	_, err = e.Set("k", "second", SetOptions{})
	require.NoError(t, err)

	res, err := e.Get("k", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "second", res.Value)

	n, err := e.Len()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestAddOnlyInsertsOnce(t *testing.T) {
	e := openTestEngine(t)

	added, err := e.Add("k", "first", SetOptions{})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = e.Add("k", "second", SetOptions{})
	require.NoError(t, err)
	assert.False(t, added)

	res, err := e.Get("k", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "first", res.Value)
}

func TestAddReplacesExpiredRow(t *testing.T) {
	e := openTestEngine(t)
	past := -1.0
	_, err := e.Add("k", "stale", SetOptions{Expire: &past})
	require.NoError(t, err)

	added, err := e.Add("k", "fresh", SetOptions{})
	require.NoError(t, err)
	assert.True(t, added)

	res, err := e.Get("k", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fresh", res.Value)
}

func TestPopRemovesRow(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.Set("k", "v", SetOptions{})
	require.NoError(t, err)

	v, found, err := e.Pop("k", PopOptions{})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", v)

	n, err := e.Len()
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestPopMissingReturnsDefault(t *testing.T) {
	e := openTestEngine(t)
	v, found, err := e.Pop("missing", PopOptions{Default: "d"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "d", v)
}

func TestDeleteIsIdempotent(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.Set("k", "v", SetOptions{})
	require.NoError(t, err)

	removed, err := e.Delete("k", false)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = e.Delete("k", false)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestTouchUpdatesExpireTimeOnly(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.Set("k", "v", SetOptions{})
	require.NoError(t, err)

	future := 1000.0
	touched, err := e.Touch("k", &future, false)
	require.NoError(t, err)
	assert.True(t, touched)

	res, err := e.Get("k", GetOptions{WantExpire: true})
	require.NoError(t, err)
	require.NotNil(t, res.ExpireTime)
	assert.Equal(t, "v", res.Value)
}

func TestTouchOnMissingRowReportsFalse(t *testing.T) {
	e := openTestEngine(t)
	future := 1000.0
	touched, err := e.Touch("missing", &future, false)
	require.NoError(t, err)
	assert.False(t, touched)
}

func TestIncrWithoutDefaultFailsOnMissing(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.Incr("counter", 1, nil, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cacheerr.ErrNotFound))
}

func TestIncrWithDefaultInsertsAndAccumulates(t *testing.T) {
	e := openTestEngine(t)
	def := int64(10)

	v, err := e.Incr("counter", 5, &def, false)
	require.NoError(t, err)
	assert.EqualValues(t, 15, v)

	v, err = e.Incr("counter", 5, &def, false)
	require.NoError(t, err)
	assert.EqualValues(t, 20, v)
}

func TestDecrNegatesDelta(t *testing.T) {
	e := openTestEngine(t)
	def := int64(0)

	v, err := e.Decr("counter", 3, &def, false)
	require.NoError(t, err)
	assert.EqualValues(t, -3, v)
}

func TestIncrOnNonNumericValueFails(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.Set("k", "not a number", SetOptions{})
	require.NoError(t, err)

	_, err = e.Incr("k", 1, nil, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cacheerr.ErrInvariant))
}

func TestAddSingleflightCollapsesConcurrentBuilds(t *testing.T) {
	e := openTestEngine(t)
	const n = 8
	type outcome struct {
		added bool
		err   error
	}
	results := make(chan outcome, n)

	for i := 0; i < n; i++ {
		go func() {
			added, err := e.Add("shared", "v", SetOptions{})
			results <- outcome{added, err}
		}()
	}

	winners := 0
	for i := 0; i < n; i++ {
		o := <-results
		assert.NoError(t, o.err)
		if o.added {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}
