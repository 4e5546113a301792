package eviction

import (
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/internal/config"
	"github.com/cuemby/burrow/internal/serializer"
	"github.com/cuemby/burrow/internal/store"
)

// lruPolicy implements least-recently-used eviction: every Get promotes
// the entry by rewriting its policy_idx position to the read's
// timestamp, so the coldest rows accumulate at the front of the index.
type lruPolicy struct{}

func (lruPolicy) Name() string { return string(config.PolicyLeastRecentlyUsed) }

func (lruPolicy) SortField(e *store.Entry) []byte {
	return serializer.EncodeOrderedFloatKey(e.AccessTime)
}

func (lruPolicy) OnGet(e *store.Entry, now float64) {
	e.AccessTime = now
	e.AccessCount++
}

func (lruPolicy) Cull(tx *bolt.Tx, limit int, now float64) ([]CullCandidate, error) {
	return cullAscending(tx, limit)
}
