package eviction

import (
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/internal/config"
	"github.com/cuemby/burrow/internal/serializer"
	"github.com/cuemby/burrow/internal/store"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "root"), config.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLookupKnownPolicies(t *testing.T) {
	for _, name := range []config.EvictionPolicy{
		config.PolicyLeastRecentlyStored,
		config.PolicyLeastRecentlyUsed,
		config.PolicyLeastFrequentlyUsed,
		config.PolicyNone,
	} {
		p, err := Lookup(name)
		require.NoError(t, err)
		require.Equal(t, string(name), p.Name())
	}
	_, err := Lookup("bogus")
	require.Error(t, err)
}

func TestLRUCullOrdersByAccessTimeAscending(t *testing.T) {
	s := openTestStore(t)
	p, err := Lookup(config.PolicyLeastRecentlyUsed)
	require.NoError(t, err)

	rows := []struct {
		key        string
		accessTime float64
	}{
		{"old", 1.0},
		{"mid", 5.0},
		{"new", 9.0},
	}

	require.NoError(t, s.DB.Update(func(tx *bolt.Tx) error {
		for _, r := range rows {
			e := &store.Entry{
				KeyBlob:    []byte(r.key),
				RawFlag:    true,
				AccessTime: r.accessTime,
				Mode:       serializer.ModeRawInline,
			}
			if _, err := store.InsertEntry(tx, e, p.SortField(e)); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.DB.View(func(tx *bolt.Tx) error {
		cands, err := p.Cull(tx, 2, 0)
		require.NoError(t, err)
		require.Len(t, cands, 2)
		// The two oldest access times must come first.
		first, err := store.GetEntry(tx, cands[0].RowID)
		require.NoError(t, err)
		second, err := store.GetEntry(tx, cands[1].RowID)
		require.NoError(t, err)
		require.Equal(t, []byte("old"), first.KeyBlob)
		require.Equal(t, []byte("mid"), second.KeyBlob)
		return nil
	}))
}

func TestOnGetMovesLRUPosition(t *testing.T) {
	s := openTestStore(t)
	p, err := Lookup(config.PolicyLeastRecentlyUsed)
	require.NoError(t, err)

	var rowID uint64
	require.NoError(t, s.DB.Update(func(tx *bolt.Tx) error {
		e := &store.Entry{KeyBlob: []byte("k"), RawFlag: true, AccessTime: 1.0, Mode: serializer.ModeRawInline}
		id, err := store.InsertEntry(tx, e, p.SortField(e))
		rowID = id
		return err
	}))

	require.NoError(t, s.DB.Update(func(tx *bolt.Tx) error {
		e, err := store.GetEntry(tx, rowID)
		require.NoError(t, err)
		oldField := p.SortField(e)
		p.OnGet(e, 100.0)
		newField := p.SortField(e)
		require.NoError(t, store.DeletePolicyIndex(tx, oldField, rowID))
		require.NoError(t, store.PutPolicyIndex(tx, newField, rowID))
		return store.PutEntry(tx, e)
	}))

	require.NoError(t, s.DB.View(func(tx *bolt.Tx) error {
		cands, err := p.Cull(tx, 10, 0)
		require.NoError(t, err)
		require.Len(t, cands, 1)
		e, err := store.GetEntry(tx, cands[0].RowID)
		require.NoError(t, err)
		require.Equal(t, 100.0, e.AccessTime)
		return nil
	}))
}

func TestOnGetLeavesLRSEntryAndIndexUntouched(t *testing.T) {
	s := openTestStore(t)
	p, err := Lookup(config.PolicyLeastRecentlyStored)
	require.NoError(t, err)

	var rowID uint64
	require.NoError(t, s.DB.Update(func(tx *bolt.Tx) error {
		e := &store.Entry{KeyBlob: []byte("k"), RawFlag: true, StoreTime: 1.0, AccessTime: 1.0, AccessCount: 1, Mode: serializer.ModeRawInline}
		id, err := store.InsertEntry(tx, e, p.SortField(e))
		rowID = id
		return err
	}))

	require.NoError(t, s.DB.Update(func(tx *bolt.Tx) error {
		e, err := store.GetEntry(tx, rowID)
		require.NoError(t, err)
		oldField := p.SortField(e)
		p.OnGet(e, 100.0)
		require.Equal(t, 1.0, e.AccessTime)
		require.Equal(t, int64(1), e.AccessCount)
		require.Equal(t, oldField, p.SortField(e))
		return nil
	}))

	require.NoError(t, s.DB.View(func(tx *bolt.Tx) error {
		e, err := store.GetEntry(tx, rowID)
		require.NoError(t, err)
		require.Equal(t, 1.0, e.AccessTime)
		require.Equal(t, int64(1), e.AccessCount)
		return nil
	}))
}

func TestOnGetLeavesNoneEntryAndIndexUntouched(t *testing.T) {
	s := openTestStore(t)
	p, err := Lookup(config.PolicyNone)
	require.NoError(t, err)

	var rowID uint64
	require.NoError(t, s.DB.Update(func(tx *bolt.Tx) error {
		e := &store.Entry{KeyBlob: []byte("k"), RawFlag: true, AccessTime: 1.0, AccessCount: 1, Mode: serializer.ModeRawInline}
		id, err := store.InsertEntry(tx, e, p.SortField(e))
		rowID = id
		return err
	}))

	require.NoError(t, s.DB.Update(func(tx *bolt.Tx) error {
		e, err := store.GetEntry(tx, rowID)
		require.NoError(t, err)
		p.OnGet(e, 100.0)
		require.Equal(t, 1.0, e.AccessTime)
		require.Equal(t, int64(1), e.AccessCount)
		return nil
	}))

	require.NoError(t, s.DB.View(func(tx *bolt.Tx) error {
		e, err := store.GetEntry(tx, rowID)
		require.NoError(t, err)
		require.Equal(t, 1.0, e.AccessTime)
		require.Equal(t, int64(1), e.AccessCount)
		return nil
	}))
}

func TestNonePolicyNeverCulls(t *testing.T) {
	s := openTestStore(t)
	p, err := Lookup(config.PolicyNone)
	require.NoError(t, err)

	require.NoError(t, s.DB.Update(func(tx *bolt.Tx) error {
		e := &store.Entry{KeyBlob: []byte("k"), RawFlag: true, Mode: serializer.ModeRawInline}
		_, err := store.InsertEntry(tx, e, p.SortField(e))
		return err
	}))

	require.NoError(t, s.DB.View(func(tx *bolt.Tx) error {
		cands, err := p.Cull(tx, 10, 0)
		require.NoError(t, err)
		require.Empty(t, cands)
		return nil
	}))
}

func TestInitRebuildsIndexAfterPolicySwitch(t *testing.T) {
	s := openTestStore(t)
	lru, err := Lookup(config.PolicyLeastRecentlyUsed)
	require.NoError(t, err)
	lfu, err := Lookup(config.PolicyLeastFrequentlyUsed)
	require.NoError(t, err)

	require.NoError(t, s.DB.Update(func(tx *bolt.Tx) error {
		for i, accessCount := range []int64{3, 1, 2} {
			e := &store.Entry{
				KeyBlob:     []byte{byte('a' + i)},
				RawFlag:     true,
				AccessCount: accessCount,
				Mode:        serializer.ModeRawInline,
			}
			if _, err := store.InsertEntry(tx, e, lru.SortField(e)); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.DB.Update(func(tx *bolt.Tx) error {
		return Init(tx, lfu)
	}))

	require.NoError(t, s.DB.View(func(tx *bolt.Tx) error {
		cands, err := lfu.Cull(tx, 1, 0)
		require.NoError(t, err)
		require.Len(t, cands, 1)
		e, err := store.GetEntry(tx, cands[0].RowID)
		require.NoError(t, err)
		require.Equal(t, int64(1), e.AccessCount)
		return nil
	}))
}
