// Package fanout implements spec.md §4.6: a cache split across N
// independent shard roots, each an ordinary internal/cache.Engine,
// selected by a stable hash of the key. Per-key operations go to
// exactly one shard; collective operations run across all shards
// concurrently and aggregate.
package fanout

import (
	"fmt"
	"iter"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/burrow/internal/blog"
	"github.com/cuemby/burrow/internal/cache"
	"github.com/cuemby/burrow/internal/cacheerr"
	"github.com/cuemby/burrow/internal/metrics"
)

// Fanout is N cache.Engine shards rooted at directory/000 ... directory/{N-1}.
type Fanout struct {
	dir    string
	shards []*cache.Engine
	log    zerolog.Logger
}

// Open creates or reopens an N-shard fanout cache rooted at dir. Every
// shard shares the same settings (the FanoutShards field itself is
// ignored here; the caller decides N explicitly).
func Open(dir string, n int, opts cache.Options) (*Fanout, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: fanout shard count must be > 0", cacheerr.ErrInvariant)
	}

	shards := make([]*cache.Engine, n)
	for i := 0; i < n; i++ {
		root := filepath.Join(dir, fmt.Sprintf("%03d", i))
		e, err := cache.Open(root, opts)
		if err != nil {
			for j := 0; j < i; j++ {
				_ = shards[j].Close()
			}
			return nil, fmt.Errorf("fanout: open shard %d: %w", i, err)
		}
		shards[i] = e
	}

	return &Fanout{dir: dir, shards: shards, log: blog.WithComponent("fanout")}, nil
}

// Close closes every shard, returning the first error encountered (if
// any) after attempting to close all of them.
func (f *Fanout) Close() error {
	var first error
	for _, s := range f.shards {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Shards returns the number of shards.
func (f *Fanout) Shards() int { return len(f.shards) }

// shardFor maps key to one of f.shards by xxhash over the serializer's
// on-disk key encoding, modulo the shard count (spec.md §9's "stable
// FNV-class hash" of the raw key bytes). Encoding is independent of
// which shard performs it, so shard 0's serializer settles it for
// every key.
func (f *Fanout) shardFor(key any) (*cache.Engine, int) {
	blob, err := f.shards[0].EncodeKeyBytes(key)
	if err != nil {
		// EncodeKeyBytes only fails on a codec error for opaque key
		// types; route deterministically on the failing key's string
		// form rather than propagating a routing-only error into every
		// per-key method's signature.
		blob = []byte(fmt.Sprintf("%#v", key))
	}
	h := xxhash.Sum64(blob)
	idx := int(h % uint64(len(f.shards)))
	return f.shards[idx], idx
}

// absorbTimeout reports whether err is a shard write timeout that
// should be downgraded to a benign zero-value result instead of
// propagated, per spec.md §4.6/§7: a fanout per-key operation absorbs
// one shard's Timeout as a benign false/zero/default return unless the
// caller opted into retry, bumping the per-shard timeout counter in
// its place (mirrors original_source/diskcache/fanout.py's
// try/except sqlite3.OperationalError: return False/default).
func absorbTimeout(err error, retry bool, shard int) bool {
	if !cacheerr.Timeout(err) || retry {
		return false
	}
	metrics.FanoutShardTimeoutsTotal.WithLabelValues(fmt.Sprintf("%03d", shard)).Inc()
	return true
}

func (f *Fanout) Get(key any, opts cache.GetOptions) (cache.GetResult, error) {
	e, shard := f.shardFor(key)
	res, err := e.Get(key, opts)
	if absorbTimeout(err, opts.Retry, shard) {
		return cache.GetResult{Value: opts.Default}, nil
	}
	return res, err
}

func (f *Fanout) Set(key, value any, opts cache.SetOptions) (bool, error) {
	e, shard := f.shardFor(key)
	ok, err := e.Set(key, value, opts)
	if absorbTimeout(err, opts.Retry, shard) {
		return false, nil
	}
	return ok, err
}

func (f *Fanout) Add(key, value any, opts cache.SetOptions) (bool, error) {
	e, shard := f.shardFor(key)
	ok, err := e.Add(key, value, opts)
	if absorbTimeout(err, opts.Retry, shard) {
		return false, nil
	}
	return ok, err
}

func (f *Fanout) Pop(key any, opts cache.PopOptions) (any, bool, error) {
	e, shard := f.shardFor(key)
	value, ok, err := e.Pop(key, opts)
	if absorbTimeout(err, opts.Retry, shard) {
		return opts.Default, false, nil
	}
	return value, ok, err
}

func (f *Fanout) Delete(key any, retry bool) (bool, error) {
	e, shard := f.shardFor(key)
	ok, err := e.Delete(key, retry)
	if absorbTimeout(err, retry, shard) {
		return false, nil
	}
	return ok, err
}

func (f *Fanout) Touch(key any, expire *float64, retry bool) (bool, error) {
	e, shard := f.shardFor(key)
	ok, err := e.Touch(key, expire, retry)
	if absorbTimeout(err, retry, shard) {
		return false, nil
	}
	return ok, err
}

func (f *Fanout) Incr(key any, delta int64, def *int64, retry bool) (int64, error) {
	e, shard := f.shardFor(key)
	result, err := e.Incr(key, delta, def, retry)
	if absorbTimeout(err, retry, shard) {
		return 0, nil
	}
	return result, err
}

func (f *Fanout) Decr(key any, delta int64, def *int64, retry bool) (int64, error) {
	return f.Incr(key, -delta, def, retry)
}

// Contains has no retry opt-in of its own (a plain key lookup never
// holds the write lock), so any shard timeout it did surface would
// always be absorbed.
func (f *Fanout) Contains(key any) (bool, error) {
	e, shard := f.shardFor(key)
	ok, err := e.Contains(key)
	if absorbTimeout(err, false, shard) {
		return false, nil
	}
	return ok, err
}

// Push/Pull/Peek route on the queue's prefix exactly like a key, so one
// named queue always lives on one shard.
func (f *Fanout) Push(value any, prefix string, side cache.QueueSide, opts cache.SetOptions) (int64, error) {
	e, shard := f.shardFor(prefix)
	seq, err := e.Push(value, prefix, side, opts)
	if absorbTimeout(err, opts.Retry, shard) {
		return 0, nil
	}
	return seq, err
}

func (f *Fanout) Pull(prefix string, side cache.QueueSide, opts cache.PopOptions) (int64, any, bool, error) {
	e, shard := f.shardFor(prefix)
	seq, value, ok, err := e.Pull(prefix, side, opts)
	if absorbTimeout(err, opts.Retry, shard) {
		return 0, opts.Default, false, nil
	}
	return seq, value, ok, err
}

func (f *Fanout) Peek(prefix string, side cache.QueueSide, opts cache.PopOptions) (int64, any, bool, error) {
	e, shard := f.shardFor(prefix)
	seq, value, ok, err := e.Peek(prefix, side, opts)
	if absorbTimeout(err, opts.Retry, shard) {
		return 0, opts.Default, false, nil
	}
	return seq, value, ok, err
}

// PeekItem returns the most (last=true) or least (last=false) recently
// inserted row of one shard: the highest-indexed shard that has a row
// for last=true, the lowest-indexed for last=false. Insertion times are
// not compared across shards. This is the shard order Iter/Reversed
// use (spec.md §9), so PeekItem(true) agrees with the first value Reversed() yields and
// PeekItem(false) agrees with the first value Iter() yields.
func (f *Fanout) PeekItem(last bool, opts cache.PopOptions) (any, any, bool, error) {
	type candidate struct {
		key, value any
		found      bool
	}
	candidates := make([]candidate, len(f.shards))
	g := new(errgroup.Group)
	for i, e := range f.shards {
		i, e := i, e
		g.Go(func() error {
			k, v, found, err := e.PeekItem(last, opts)
			candidates[i] = candidate{k, v, found}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, false, err
	}

	if last {
		for i := len(candidates) - 1; i >= 0; i-- {
			if candidates[i].found {
				return candidates[i].key, candidates[i].value, true, nil
			}
		}
		return nil, nil, false, nil
	}
	for i := range candidates {
		if candidates[i].found {
			return candidates[i].key, candidates[i].value, true, nil
		}
	}
	return nil, nil, false, nil
}

// Len sums the durable row count across every shard, run concurrently.
func (f *Fanout) Len() (int64, error) {
	counts := make([]int64, len(f.shards))
	g := new(errgroup.Group)
	for i, e := range f.shards {
		i, e := i, e
		g.Go(func() error {
			n, err := e.Len()
			counts[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range counts {
		total += c
	}
	return total, nil
}

// Volume sums Volume() across every shard, run concurrently.
func (f *Fanout) Volume() (int64, error) {
	vols := make([]int64, len(f.shards))
	g := new(errgroup.Group)
	for i, e := range f.shards {
		i, e := i, e
		g.Go(func() error {
			v, err := e.Volume()
			vols[i] = v
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	var total int64
	for _, v := range vols {
		total += v
	}
	return total, nil
}

// Stats aggregates hits/misses across every shard. enable/reset are
// applied identically to every shard.
func (f *Fanout) Stats(enable *bool, reset bool) (hits, misses int64, err error) {
	type result struct{ hits, misses int64 }
	results := make([]result, len(f.shards))
	g := new(errgroup.Group)
	for i, e := range f.shards {
		i, e := i, e
		g.Go(func() error {
			h, m, err := e.Stats(enable, reset)
			results[i] = result{h, m}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	for _, r := range results {
		hits += r.hits
		misses += r.misses
	}
	return hits, misses, nil
}

// Expire runs the expiration sweep on every shard concurrently and sums
// the removed count.
func (f *Fanout) Expire(now *float64, retry bool) (int, error) {
	return f.fanInCount(func(e *cache.Engine) (int, error) { return e.Expire(now, retry) })
}

// Evict runs tag eviction on every shard concurrently and sums the
// removed count, since a tag may span shards.
func (f *Fanout) Evict(tag string, retry bool) (int, error) {
	return f.fanInCount(func(e *cache.Engine) (int, error) { return e.Evict(tag, retry) })
}

// Clear empties every shard concurrently and sums the removed count.
func (f *Fanout) Clear(retry bool) (int, error) {
	return f.fanInCount(func(e *cache.Engine) (int, error) { return e.Clear(retry) })
}

// Cull runs a bounded cull on every shard concurrently and sums the
// removed count.
func (f *Fanout) Cull(retry bool) (int, error) {
	return f.fanInCount(func(e *cache.Engine) (int, error) { return e.Cull(retry) })
}

func (f *Fanout) fanInCount(op func(*cache.Engine) (int, error)) (int, error) {
	counts := make([]int, len(f.shards))
	g := new(errgroup.Group)
	for i, e := range f.shards {
		i, e := i, e
		g.Go(func() error {
			n, err := op(e)
			counts[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	return total, nil
}

// Check runs Check(fix) on every shard concurrently and concatenates
// the warnings, prefixed with the originating shard index.
func (f *Fanout) Check(fix bool) ([]string, error) {
	perShard := make([][]string, len(f.shards))
	g := new(errgroup.Group)
	for i, e := range f.shards {
		i, e := i, e
		g.Go(func() error {
			warnings, err := e.Check(fix)
			perShard[i] = warnings
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var all []string
	for i, warnings := range perShard {
		for _, w := range warnings {
			all = append(all, fmt.Sprintf("shard %03d: %s", i, w))
		}
	}
	return all, nil
}

// Iter walks every shard's insertion order, shard 0 first.
func (f *Fanout) Iter() iter.Seq[any] {
	return func(yield func(any) bool) {
		for _, e := range f.shards {
			for k := range e.Iter() {
				if !yield(k) {
					return
				}
			}
		}
	}
}

// Reversed walks every shard's reverse insertion order, breaking
// inter-shard ties by descending shard index per spec.md §9.
func (f *Fanout) Reversed() iter.Seq[any] {
	return func(yield func(any) bool) {
		for i := len(f.shards) - 1; i >= 0; i-- {
			for k := range f.shards[i].Reversed() {
				if !yield(k) {
					return
				}
			}
		}
	}
}

// ResetSetting applies a durable setting change to every shard.
func (f *Fanout) ResetSetting(name string, value any) (any, error) {
	var result any
	g := new(errgroup.Group)
	for _, e := range f.shards {
		e := e
		g.Go(func() error {
			v, err := e.ResetSetting(name, value)
			if err == nil {
				result = v
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
