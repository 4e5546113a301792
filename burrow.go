// Package burrow is an embedded, disk-backed cache and queue with
// transactional semantics, bounded total size, time-based expiration,
// and pluggable eviction policies, built on a single-writer/many-reader
// B-tree rather than a relational engine.
//
// A Cache is one or more independent shard roots; Open returns a
// single-root cache, OpenFanout an N-shard one. Both implement the
// same operation surface.
package burrow

import (
	"iter"
	"time"

	"github.com/cuemby/burrow/internal/cache"
	"github.com/cuemby/burrow/internal/config"
	"github.com/cuemby/burrow/internal/fanout"
	"github.com/cuemby/burrow/internal/serializer"
)

// Re-exported types so callers never need to import internal packages.
type (
	Settings       = config.Settings
	EvictionPolicy = config.EvictionPolicy
	Codec          = serializer.Codec
	GetOptions     = cache.GetOptions
	GetResult      = cache.GetResult
	SetOptions     = cache.SetOptions
	PopOptions     = cache.PopOptions
	Txn            = cache.Txn
	QueueSide      = cache.QueueSide
)

const (
	PolicyLeastRecentlyStored = config.PolicyLeastRecentlyStored
	PolicyLeastRecentlyUsed   = config.PolicyLeastRecentlyUsed
	PolicyLeastFrequentlyUsed = config.PolicyLeastFrequentlyUsed
	PolicyNone                = config.PolicyNone

	SideFront = cache.SideFront
	SideBack  = cache.SideBack
)

// Default returns the settings a freshly created cache root uses absent
// an explicit override.
func Default() Settings { return config.Default() }

// Options configures Open/OpenFanout.
type Options struct {
	Settings Settings
	Codec    Codec
}

func toInternal(o Options) cache.Options {
	return cache.Options{Settings: o.Settings, Codec: o.Codec}
}

// Cache is the public operation surface of spec.md §6, satisfied by
// both a single-root cache and an N-shard fanout cache.
type Cache interface {
	Get(key any, opts GetOptions) (GetResult, error)
	Set(key, value any, opts SetOptions) (bool, error)
	Add(key, value any, opts SetOptions) (bool, error)
	Pop(key any, opts PopOptions) (any, bool, error)
	Delete(key any, retry bool) (bool, error)
	Touch(key any, expire *float64, retry bool) (bool, error)
	Incr(key any, delta int64, def *int64, retry bool) (int64, error)
	Decr(key any, delta int64, def *int64, retry bool) (int64, error)
	Contains(key any) (bool, error)
	Push(value any, prefix string, side QueueSide, opts SetOptions) (int64, error)
	Pull(prefix string, side QueueSide, opts PopOptions) (int64, any, bool, error)
	Peek(prefix string, side QueueSide, opts PopOptions) (int64, any, bool, error)
	PeekItem(last bool, opts PopOptions) (any, any, bool, error)
	Len() (int64, error)
	Volume() (int64, error)
	Stats(enable *bool, reset bool) (hits, misses int64, err error)
	Expire(now *float64, retry bool) (int, error)
	Cull(retry bool) (int, error)
	Evict(tag string, retry bool) (int, error)
	Clear(retry bool) (int, error)
	Check(fix bool) ([]string, error)
	Iter() iter.Seq[any]
	Reversed() iter.Seq[any]
	ResetSetting(name string, value any) (any, error)
	Close() error
}

var (
	_ Cache = (*cache.Engine)(nil)
	_ Cache = (*fanout.Fanout)(nil)
)

// Open opens (or creates) a single-root cache at dir.
func Open(dir string, opts Options) (*cache.Engine, error) {
	return cache.Open(dir, toInternal(opts))
}

// OpenFanout opens (or creates) an n-shard cache rooted at dir, each
// shard an independent cache root under dir/000 ... dir/{n-1:03d}.
func OpenFanout(dir string, n int, opts Options) (*fanout.Fanout, error) {
	return fanout.Open(dir, n, toInternal(opts))
}

// ExpireIn returns an Expire/Set-compatible duration-from-now pointer,
// since the engine's expiration clock is Unix-epoch float seconds
// throughout.
func ExpireIn(d time.Duration) *float64 {
	s := d.Seconds()
	return &s
}
