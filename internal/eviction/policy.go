// Package eviction implements the eviction policy table of spec.md
// §4.5: named strategies that decide which entries are evicted first
// when a cache root exceeds its size limit. The three-hook contract
// (recompute a sort position, react to a read, cull the coldest rows)
// mirrors the pack's IvanBrykalov-shardcache/policy package, but the
// backing structure is a durable bbolt secondary index rather than an
// in-memory intrusive list: every policy is stateless and derives its
// ordering purely from fields already persisted on store.Entry, so
// switching policies never requires migrating hidden state.
package eviction

import (
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/internal/cacheerr"
	"github.com/cuemby/burrow/internal/config"
	"github.com/cuemby/burrow/internal/store"
)

// CullCandidate is one row picked by Cull for eviction.
type CullCandidate struct {
	RowID    uint64
	Filename string
	Size     int64
	Tag      *string
	SortKey  []byte
}

// Policy decides how entries are ordered for culling and how a read
// changes that order. Implementations never hold state themselves;
// SortField derives a row's current position from e, and OnGet mutates
// e's metadata fields (never the index directly) so the caller can
// diff old and new SortField values to move the secondary index.
type Policy interface {
	// Name is the config.EvictionPolicy value this implementation serves.
	Name() string

	// SortField returns the order-preserving policy_idx key fragment for
	// e's current metadata. Two entries with equal SortField bytes sort
	// by row id, the same tie-break store.PolicySortKey applies.
	SortField(e *store.Entry) []byte

	// OnGet updates e's access metadata in place to reflect a read at
	// time now. Policies that don't reorder on read (lrs, none) leave e
	// untouched.
	OnGet(e *store.Entry, now float64)

	// Cull returns up to limit candidates in eviction order (coldest
	// first), scanning the policy_idx bucket ascending. A policy that
	// never evicts automatically (none) returns an empty slice.
	Cull(tx *bolt.Tx, limit int, now float64) ([]CullCandidate, error)
}

var registry = map[string]Policy{}

// Register adds (or replaces) a named policy in the shared table,
// letting callers outside this package extend it.
func Register(p Policy) {
	registry[p.Name()] = p
}

func init() {
	Register(lrsPolicy{})
	Register(lruPolicy{})
	Register(lfuPolicy{})
	Register(nonePolicy{})
}

// Lookup resolves a config.EvictionPolicy to its Policy implementation.
func Lookup(name config.EvictionPolicy) (Policy, error) {
	p, ok := registry[string(name)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown eviction policy %q", cacheerr.ErrInvariant, name)
	}
	return p, nil
}

// Init rebuilds policy_idx from scratch under p's ordering, scanning
// every row in BucketEntries. The cache calls it on every Open and in
// the same transaction that persists a new Settings.EvictionPolicy, so
// a policy switch never leaves stale or missing index entries behind.
func Init(tx *bolt.Tx, p Policy) error {
	idx := tx.Bucket(store.BucketPolicyIdx)

	// Clear existing entries before rebuilding.
	var stale [][]byte
	cur := idx.Cursor()
	for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := idx.Delete(k); err != nil {
			return err
		}
	}

	return store.ForEachEntry(tx, func(e *store.Entry) error {
		sortField := p.SortField(e)
		if sortField == nil {
			return nil
		}
		return store.PutPolicyIndex(tx, sortField, e.RowID)
	})
}

// cullAscending walks policy_idx from the start, resolving each row id
// to its entry, until limit candidates are collected or the bucket is
// exhausted.
func cullAscending(tx *bolt.Tx, limit int) ([]CullCandidate, error) {
	if limit <= 0 {
		return nil, nil
	}
	idx := tx.Bucket(store.BucketPolicyIdx)
	cur := idx.Cursor()

	out := make([]CullCandidate, 0, limit)
	for k, _ := cur.First(); k != nil && len(out) < limit; k, _ = cur.Next() {
		if len(k) < 8 {
			continue
		}
		rowID := parseTrailingRowID(k)
		e, err := store.GetEntry(tx, rowID)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		out = append(out, CullCandidate{
			RowID:    e.RowID,
			Filename: e.Filename,
			Size:     e.Size,
			Tag:      e.Tag,
			SortKey:  append([]byte(nil), k[:len(k)-8]...),
		})
	}
	return out, nil
}

func parseTrailingRowID(k []byte) uint64 {
	tail := k[len(k)-8:]
	var v uint64
	for _, b := range tail {
		v = v<<8 | uint64(b)
	}
	return v
}

// sortByBytes is a helper unused by the current policies (bbolt cursors
// already iterate in byte order) but kept available for in-memory
// re-sorts a future policy's Cull might need.
func sortByBytes(keys [][]byte) {
	sort.Slice(keys, func(i, j int) bool {
		return string(keys[i]) < string(keys[j])
	})
}
