package eviction

import (
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/internal/config"
	"github.com/cuemby/burrow/internal/serializer"
	"github.com/cuemby/burrow/internal/store"
)

// lrsPolicy implements least-recently-stored eviction: the entry that
// has sat in the cache the longest since it was written goes first,
// regardless of how often it has been read. It never reorders on Get,
// so its policy_idx key is simply store_time once and for all.
type lrsPolicy struct{}

func (lrsPolicy) Name() string { return string(config.PolicyLeastRecentlyStored) }

func (lrsPolicy) SortField(e *store.Entry) []byte {
	return serializer.EncodeOrderedFloatKey(e.StoreTime)
}

func (lrsPolicy) OnGet(e *store.Entry, now float64) {}

func (lrsPolicy) Cull(tx *bolt.Tx, limit int, now float64) ([]CullCandidate, error) {
	return cullAscending(tx, limit)
}
