// Package cache implements the cache engine of spec.md §4.4: the public
// get/set/add/pop/delete/touch/incr/decr/push/pull/peek operations, the
// cull/expire sweeps, tag eviction and the integrity checker, all built
// on internal/store's bbolt bucket layout and internal/txn's
// transaction scope.
package cache

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/singleflight"

	"github.com/cuemby/burrow/internal/blog"
	"github.com/cuemby/burrow/internal/cacheerr"
	"github.com/cuemby/burrow/internal/config"
	"github.com/cuemby/burrow/internal/eviction"
	"github.com/cuemby/burrow/internal/heap"
	"github.com/cuemby/burrow/internal/metrics"
	"github.com/cuemby/burrow/internal/serializer"
	"github.com/cuemby/burrow/internal/store"
	"github.com/cuemby/burrow/internal/txn"
	"github.com/rs/zerolog"
)

// Options configures a freshly-created cache root. Settings are only
// applied on the first Open of a given root; subsequent opens load the
// durable settings row and ignore this field, mirroring spec.md §6's
// "settings persist" contract.
type Options struct {
	Settings config.Settings
	Codec    serializer.Codec
}

// Engine is one cache root: an index store, a file heap, a serializer
// and the active eviction policy, bound together by a transaction
// runner. A fanout shard is just one Engine rooted at a numbered
// subdirectory.
type Engine struct {
	root     string
	store    *store.Store
	txr      *txn.Runner
	heap     *heap.Heap
	ser      *serializer.Serializer
	sf       singleflight.Group
	log      zerolog.Logger
	policy   eviction.Policy
	settings config.Settings

	// resetMu serializes ResetSetting against itself; it is not held on
	// the hot get/set path (settings/policy are treated as effectively
	// immutable after Open outside of an administrative ResetSetting
	// call — a teaching-grade simplification, not the strict per-thread descriptor spec.md §9 describes).
	resetMu sync.Mutex
}

// Open creates or reopens a cache root at dir.
func Open(dir string, opts Options) (*Engine, error) {
	settings := opts.Settings
	if settings == (config.Settings{}) {
		settings = config.Default()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(dir, settings)
	if err != nil {
		return nil, err
	}

	var effective config.Settings
	err = st.DB.Update(func(tx *bolt.Tx) error {
		exists, err := store.HasSettings(tx)
		if err != nil {
			return err
		}
		if !exists {
			if err := store.SaveSettings(tx, settings); err != nil {
				return err
			}
			effective = settings
		} else {
			effective, err = store.LoadSettings(tx)
			if err != nil {
				return err
			}
		}
		policy, err := eviction.Lookup(effective.EvictionPolicy)
		if err != nil {
			return err
		}
		return eviction.Init(tx, policy)
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	policy, err := eviction.Lookup(effective.EvictionPolicy)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	codec := opts.Codec
	if codec == nil {
		codec = serializer.JSONCodec{}
	}

	h := heap.New(dir)
	e := &Engine{
		root:     dir,
		store:    st,
		txr:      txn.NewRunner(st.DB, h, effective.TxnTimeout),
		heap:     h,
		ser:      serializer.New(codec, h),
		policy:   policy,
		settings: effective,
		log:      blog.WithComponent("cache"),
	}
	return e, nil
}

// Close releases the underlying index store handle.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Root returns the cache root directory.
func (e *Engine) Root() string { return e.root }

// Settings returns the currently effective settings record.
func (e *Engine) Settings() config.Settings { return e.settings }

// EncodeKeyBytes returns key's on-disk key_blob, the same encoding
// Set/Get index on. It touches no transaction or heap state, so
// fanout uses it to hash a key for shard routing without favoring any
// one shard's codec configuration over another's.
func (e *Engine) EncodeKeyBytes(key any) ([]byte, error) {
	blob, _, err := e.ser.EncodeKey(key)
	return blob, err
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func absoluteExpire(now float64, expireSeconds *float64) *float64 {
	if expireSeconds == nil {
		return nil
	}
	abs := now + *expireSeconds
	return &abs
}

// preparePlacement classifies v for storage: an io.Reader is always
// streamed into the file heap (spec.md §4.1's streaming-source rule),
// everything else goes through PrepareValue's threshold-based
// placement.
func (e *Engine) preparePlacement(v any) (serializer.Placement, error) {
	if r, ok := v.(io.Reader); ok {
		return e.ser.PrepareStream(r)
	}
	return e.ser.PrepareValue(v, e.settings.DiskMinFileSize)
}

func (e *Engine) buildEntry(blob []byte, raw bool, now float64, expire *float64, tag *string, p serializer.Placement) *store.Entry {
	return &store.Entry{
		KeyBlob:    blob,
		RawFlag:    raw,
		StoreTime:  now,
		ExpireTime: absoluteExpire(now, expire),
		AccessTime: now,
		Tag:        tag,
		Size:       p.Size,
		Mode:       p.Mode,
		Filename:   p.Filename,
		ValueBlob:  p.ValueBlob,
	}
}

// deferFilename schedules e's heap file (if any) for post-commit
// deletion.
func deferFilename(s *txn.Scope, e *store.Entry) {
	if e != nil && e.Filename != "" {
		s.Defer(e.Filename)
	}
}

// cullWithinTx implements spec.md §4.4's cull algorithm, invoked from
// Set/Add after the row mutation: remove up to CullLimit expired rows,
// then if the resulting volume still exceeds SizeLimit, remove up to
// CullLimit more rows via the active policy.
func (e *Engine) cullWithinTx(tx *bolt.Tx, s *txn.Scope, now float64) error {
	if e.settings.CullLimit <= 0 {
		return nil
	}
	if _, err := e.expireChunk(tx, s, now, e.settings.CullLimit); err != nil {
		return err
	}

	vol, err := e.volumeWithinTx(tx)
	if err != nil {
		return err
	}
	if vol <= e.settings.SizeLimit {
		return nil
	}

	candidates, err := e.policy.Cull(tx, e.settings.CullLimit, now)
	if err != nil {
		return err
	}
	for _, c := range candidates {
		if err := e.deleteRow(tx, s, c.RowID); err != nil {
			return err
		}
		metrics.CullTotal.WithLabelValues(e.root).Inc()
	}
	return nil
}

// expireChunk deletes up to limit rows whose expire_time is before now,
// scanning expire_idx ascending, and returns the count removed.
func (e *Engine) expireChunk(tx *bolt.Tx, s *txn.Scope, now float64, limit int) (int, error) {
	idx := tx.Bucket(store.BucketExpireIdx)
	cur := idx.Cursor()

	var victims []uint64
	for k, _ := cur.First(); k != nil && len(victims) < limit; k, _ = cur.Next() {
		if len(k) != 16 {
			continue
		}
		expireTime := bitsToFloat(k[:8])
		if expireTime >= now {
			break
		}
		victims = append(victims, beUint64(k[8:]))
	}

	for _, rowID := range victims {
		if err := e.deleteRow(tx, s, rowID); err != nil {
			return 0, err
		}
		metrics.ExpireTotal.WithLabelValues(e.root).Inc()
	}
	return len(victims), nil
}

// deleteRow removes rowID's entry row and every index entry, scheduling
// its heap file (if any) for post-commit cleanup.
func (e *Engine) deleteRow(tx *bolt.Tx, s *txn.Scope, rowID uint64) error {
	row, err := store.GetEntry(tx, rowID)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}
	sortField := e.policy.SortField(row)
	if err := store.DeleteEntryFull(tx, row, sortField); err != nil {
		return err
	}
	deferFilename(s, row)
	return nil
}

func (e *Engine) volumeWithinTx(tx *bolt.Tx) (int64, error) {
	pages, err := e.store.PageVolume()
	if err != nil {
		return 0, err
	}
	counters := store.GetCounters(tx)
	return pages + counters.Size, nil
}

func bitsToFloat(b []byte) float64 {
	u := beUint64(b)
	var bits uint64
	if u&(1<<63) != 0 {
		bits = u &^ (1 << 63)
	} else {
		bits = ^u
	}
	return math.Float64frombits(bits)
}

func beUint64(b []byte) uint64 {
	var u uint64
	for _, x := range b {
		u = u<<8 | uint64(x)
	}
	return u
}

// wrapNotFound converts a nil/absent lookup into cacheerr.ErrNotFound
// with op context, for operations that must fail loudly rather than
// return a default.
func wrapNotFound(op string, key any) error {
	return fmt.Errorf("%w: %s: key %v", cacheerr.ErrNotFound, op, key)
}
