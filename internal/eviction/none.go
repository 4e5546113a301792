package eviction

import (
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/internal/config"
	"github.com/cuemby/burrow/internal/store"
)

// nonePolicy disables size-based culling entirely: SizeLimit has no
// effect, and nothing is automatically evicted to make room. Expiration and explicit Evict/Clear calls are
// unaffected, since those aren't policy-driven.
type nonePolicy struct{}

func (nonePolicy) Name() string { return string(config.PolicyNone) }

func (nonePolicy) SortField(e *store.Entry) []byte { return nil }

func (nonePolicy) OnGet(e *store.Entry, now float64) {}

func (nonePolicy) Cull(tx *bolt.Tx, limit int, now float64) ([]CullCandidate, error) {
	return nil, nil
}
