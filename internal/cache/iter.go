package cache

import (
	"encoding/binary"
	"fmt"
	"iter"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/internal/cacheerr"
	"github.com/cuemby/burrow/internal/config"
	"github.com/cuemby/burrow/internal/eviction"
	"github.com/cuemby/burrow/internal/metrics"
	"github.com/cuemby/burrow/internal/store"
)

func rowIDKey(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// Iter implements spec.md §4.4's iteration: stable insertion order
// (ascending row id). Each key is fetched in its own short read
// transaction — the "snapshot-at-read of individual rows" spec.md
// requires — so a row inserted or removed mid-iteration may or may not
// be observed, but never produces an error.
func (e *Engine) Iter() iter.Seq[any] {
	return e.iterate(false)
}

// Reversed walks descending row id.
func (e *Engine) Reversed() iter.Seq[any] {
	return e.iterate(true)
}

func (e *Engine) iterate(reverse bool) iter.Seq[any] {
	return func(yield func(any) bool) {
		var lastRowID uint64
		haveLast := false

		for {
			var key any
			var rowID uint64
			var ok bool

			err := e.txr.Read(func(tx *bolt.Tx) error {
				cur := tx.Bucket(store.BucketEntries).Cursor()
				var k []byte
				if !haveLast {
					if reverse {
						k, _ = cur.Last()
					} else {
						k, _ = cur.First()
					}
				} else {
					cur.Seek(rowIDKey(lastRowID))
					if reverse {
						// Cursor.Seek positions at-or-after; step back,
						// and once more if that landed on lastRowID, to
						// land strictly before it.
						k, _ = cur.Prev()
						if k != nil && beUint64(k) == lastRowID {
							k, _ = cur.Prev()
						}
					} else {
						k, _ = cur.Next()
						if k != nil && beUint64(k) == lastRowID {
							k, _ = cur.Next()
						}
					}
				}
				if k == nil {
					return nil
				}
				row, err := store.GetEntry(tx, beUint64(k))
				if err != nil {
					return err
				}
				if row == nil {
					return nil
				}
				decoded, err := e.ser.DecodeKey(row.KeyBlob, row.RawFlag)
				if err != nil {
					return err
				}
				key, rowID, ok = decoded, row.RowID, true
				return nil
			})
			if err != nil || !ok {
				return
			}
			lastRowID, haveLast = rowID, true
			if !yield(key) {
				return
			}
		}
	}
}

// Contains implements spec.md §6's contains: true iff key is present
// and not expired.
func (e *Engine) Contains(key any) (bool, error) {
	blob, raw, err := e.ser.EncodeKey(key)
	if err != nil {
		return false, err
	}
	var found bool
	err = e.txr.Read(func(tx *bolt.Tx) error {
		row, err := e.lookupLive(tx, blob, raw, nowSeconds())
		found = row != nil
		return err
	})
	return found, err
}

// Len returns the durable row count.
func (e *Engine) Len() (int64, error) {
	var n int64
	err := e.txr.Read(func(tx *bolt.Tx) error {
		n = store.GetCounters(tx).Count
		return nil
	})
	return n, err
}

// Volume implements spec.md §4.4's volume: page_size*page_count +
// sum(size).
func (e *Engine) Volume() (int64, error) {
	var size int64
	err := e.txr.Read(func(tx *bolt.Tx) error {
		size = store.GetCounters(tx).Size
		return nil
	})
	if err != nil {
		return 0, err
	}
	pages, err := e.store.PageVolume()
	if err != nil {
		return 0, err
	}
	vol := pages + size
	metrics.VolumeBytes.WithLabelValues(e.root).Set(float64(vol))
	return vol, nil
}

// Stats implements spec.md §6's stats: optionally enables/disables
// statistics, optionally resets the hit/miss counters, and always
// returns the counters' value from before any reset.
func (e *Engine) Stats(enable *bool, reset bool) (hits, misses int64, err error) {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()

	err = e.store.DB.Update(func(tx *bolt.Tx) error {
		c := store.GetCounters(tx)
		hits, misses = c.Hits, c.Misses
		if reset {
			if _, _, err := store.ResetStats(tx); err != nil {
				return err
			}
		}
		if enable != nil {
			s, err := store.LoadSettings(tx)
			if err != nil {
				return err
			}
			s.Statistics = *enable
			if err := store.SaveSettings(tx, s); err != nil {
				return err
			}
			e.settings.Statistics = *enable
		}
		return nil
	})
	return hits, misses, err
}

// ResetSetting implements spec.md §6's reset: persists a new value for
// one of the recognized durable settings and returns it. Changing
// eviction_policy rebuilds policy_idx under the new policy in the same
// transaction.
func (e *Engine) ResetSetting(name string, value any) (any, error) {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()

	var result any
	err := e.store.DB.Update(func(tx *bolt.Tx) error {
		s, err := store.LoadSettings(tx)
		if err != nil {
			return err
		}

		switch name {
		case "statistics":
			v, ok := value.(bool)
			if !ok {
				return invariantf("statistics expects bool")
			}
			s.Statistics = v
			result = v
		case "size_limit":
			v, ok := toInt64(value)
			if !ok {
				return invariantf("size_limit expects integer")
			}
			s.SizeLimit = v
			result = v
		case "cull_limit":
			v, ok := toInt64(value)
			if !ok {
				return invariantf("cull_limit expects integer")
			}
			s.CullLimit = int(v)
			result = int(v)
		case "tag_index":
			v, ok := value.(bool)
			if !ok {
				return invariantf("tag_index expects bool")
			}
			s.TagIndex = v
			result = v
		case "disk_min_file_size":
			v, ok := toInt64(value)
			if !ok {
				return invariantf("disk_min_file_size expects integer")
			}
			s.DiskMinFileSize = int(v)
			result = int(v)
		case "eviction_policy":
			v, ok := value.(string)
			if !ok {
				return invariantf("eviction_policy expects string")
			}
			policy, err := eviction.Lookup(config.EvictionPolicy(v))
			if err != nil {
				return err
			}
			if err := eviction.Init(tx, policy); err != nil {
				return err
			}
			s.EvictionPolicy = config.EvictionPolicy(v)
			e.policy = policy
			result = v
		default:
			return invariantf("unknown setting %q", name)
		}

		if err := store.SaveSettings(tx, s); err != nil {
			return err
		}
		e.settings = s
		return nil
	})
	return result, err
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	default:
		return 0, false
	}
}

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", cacheerr.ErrInvariant, fmt.Sprintf(format, args...))
}
