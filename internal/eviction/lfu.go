package eviction

import (
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/internal/config"
	"github.com/cuemby/burrow/internal/serializer"
	"github.com/cuemby/burrow/internal/store"
)

// lfuPolicy implements least-frequently-used eviction: the policy_idx
// position is the access count, so entries read the fewest times sort
// first regardless of recency.
type lfuPolicy struct{}

func (lfuPolicy) Name() string { return string(config.PolicyLeastFrequentlyUsed) }

func (lfuPolicy) SortField(e *store.Entry) []byte {
	return serializer.EncodeOrderedIntKey(e.AccessCount)
}

func (lfuPolicy) OnGet(e *store.Entry, now float64) {
	e.AccessTime = now
	e.AccessCount++
}

func (lfuPolicy) Cull(tx *bolt.Tx, limit int, now float64) ([]CullCandidate, error) {
	return cullAscending(tx, limit)
}
