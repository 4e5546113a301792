package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterWalksInsertionOrder(t *testing.T) {
	e := openTestEngine(t)
	for _, k := range []string{"a", "b", "c"} {
		_, err := e.Set(k, k, SetOptions{})
		require.NoError(t, err)
	}

	var got []any
	for k := range e.Iter() {
		got = append(got, k)
	}
	assert.Equal(t, []any{"a", "b", "c"}, got)
}

func TestReversedWalksDescendingOrder(t *testing.T) {
	e := openTestEngine(t)
	for _, k := range []string{"a", "b", "c"} {
		_, err := e.Set(k, k, SetOptions{})
		require.NoError(t, err)
	}

	var got []any
	for k := range e.Reversed() {
		got = append(got, k)
	}
	assert.Equal(t, []any{"c", "b", "a"}, got)
}

func TestIterStopsEarlyOnFalseYield(t *testing.T) {
	e := openTestEngine(t)
	for _, k := range []string{"a", "b", "c"} {
		_, err := e.Set(k, k, SetOptions{})
		require.NoError(t, err)
	}

	var got []any
	for k := range e.Iter() {
		got = append(got, k)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []any{"a", "b"}, got)
}

func TestContainsReflectsLiveRowsOnly(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.Set("present", "v", SetOptions{})
	require.NoError(t, err)

	ok, err := e.Contains("present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Contains("absent")
	require.NoError(t, err)
	assert.False(t, ok)

	past := -1.0
	_, err = e.Set("expired", "v", SetOptions{Expire: &past})
	require.NoError(t, err)
	ok, err = e.Contains("expired")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLenAndVolumeTrackMutations(t *testing.T) {
	e := openTestEngine(t)
	n, err := e.Len()
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	_, err = e.Set("k", "value", SetOptions{})
	require.NoError(t, err)

	n, err = e.Len()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	vol, err := e.Volume()
	require.NoError(t, err)
	assert.True(t, vol > 0)
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	e := openTestEngine(t)
	e.settings.Statistics = true
	_, err := e.Set("k", "v", SetOptions{})
	require.NoError(t, err)

	_, err = e.Get("k", GetOptions{})
	require.NoError(t, err)
	_, err = e.Get("missing", GetOptions{})
	require.NoError(t, err)

	hits, misses, err := e.Stats(nil, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 1, misses)

	hits, misses, err = e.Stats(nil, true)
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 1, misses)

	hits, misses, err = e.Stats(nil, false)
	require.NoError(t, err)
	assert.EqualValues(t, 0, hits)
	assert.EqualValues(t, 0, misses)
}

func TestResetSettingUpdatesSizeLimit(t *testing.T) {
	e := openTestEngine(t)
	v, err := e.ResetSetting("size_limit", int64(2048))
	require.NoError(t, err)
	assert.EqualValues(t, 2048, v)
	assert.EqualValues(t, 2048, e.Settings().SizeLimit)
}

func TestResetSettingSwitchesEvictionPolicy(t *testing.T) {
	e := openTestEngine(t)
	v, err := e.ResetSetting("eviction_policy", "least-frequently-used")
	require.NoError(t, err)
	assert.Equal(t, "least-frequently-used", v)
	assert.Equal(t, "least-frequently-used", string(e.Settings().EvictionPolicy))
}

func TestResetSettingRejectsUnknownName(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.ResetSetting("not_a_setting", 1)
	assert.Error(t, err)
}
