package cache

import (
	"errors"
	"fmt"
	"io"
	"os"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/internal/cacheerr"
	"github.com/cuemby/burrow/internal/metrics"
	"github.com/cuemby/burrow/internal/store"
	"github.com/cuemby/burrow/internal/txn"
)

// GetOptions configures Get's lookup, per spec.md §4.4/§6.
type GetOptions struct {
	Default    any
	Read       bool // stream file-backed values instead of materializing
	WantExpire bool
	WantTag    bool
	Retry      bool
}

// GetResult is Get's outcome. Stream is non-nil only when opts.Read was
// set and the value lives in the file heap; the caller owns closing it.
type GetResult struct {
	Value      any
	Stream     io.ReadCloser
	Found      bool
	ExpireTime *float64
	Tag        *string
}

// Get implements spec.md §4.4's get: absent or expired rows resolve to
// opts.Default with Found=false; present rows decode through the
// serializer and apply the active policy's on-get side effect, inside
// the write transaction if Statistics is on, or in a best-effort
// separate transaction if off (spec.md §9's documented tradeoff).
func (e *Engine) Get(key any, opts GetOptions) (GetResult, error) {
	blob, raw, err := e.ser.EncodeKey(key)
	if err != nil {
		return GetResult{}, err
	}

	if e.settings.Statistics {
		return e.getWithStats(blob, raw, opts)
	}
	return e.getBestEffort(blob, raw, opts)
}

func (e *Engine) getWithStats(blob []byte, raw bool, opts GetOptions) (GetResult, error) {
	var result GetResult
	err := e.txr.WriteRetry(opts.Retry, func(s *txn.Scope) error {
		tx := s.Tx
		now := nowSeconds()
		row, err := e.lookupLive(tx, blob, raw, now)
		if err != nil {
			return err
		}
		if row == nil {
			result = GetResult{Value: opts.Default}
			return store.IncrMisses(tx)
		}
		if err := e.applyOnGet(tx, row, now); err != nil {
			return err
		}
		result, err = e.decodeResult(row, opts)
		if err != nil {
			return err
		}
		if result.Found {
			return store.IncrHits(tx)
		}
		return store.IncrMisses(tx)
	})
	if err != nil {
		return GetResult{}, err
	}
	if result.Found {
		metrics.HitsTotal.WithLabelValues(e.root).Inc()
	} else {
		metrics.MissesTotal.WithLabelValues(e.root).Inc()
	}
	return result, nil
}

func (e *Engine) getBestEffort(blob []byte, raw bool, opts GetOptions) (GetResult, error) {
	var result GetResult
	var row *store.Entry
	now := nowSeconds()
	err := e.txr.Read(func(tx *bolt.Tx) error {
		var err error
		row, err = e.lookupLive(tx, blob, raw, now)
		if err != nil {
			return err
		}
		if row == nil {
			result = GetResult{Value: opts.Default}
			return nil
		}
		result, err = e.decodeResult(row, opts)
		return err
	})
	if err != nil {
		return GetResult{}, err
	}
	if row == nil {
		metrics.MissesTotal.WithLabelValues(e.root).Inc()
		return result, nil
	}
	metrics.HitsTotal.WithLabelValues(e.root).Inc()

	// Best-effort on-get update, outside the read we just did: accuracy
	// is sacrificed for not holding up the hot read path on the writer
	// slot. Failures are logged, never surfaced to the caller.
	// Policies whose OnGet changes nothing (lrs, none) skip the write.
	probe := *row
	e.policy.OnGet(&probe, now)
	if probe.AccessTime == row.AccessTime && probe.AccessCount == row.AccessCount {
		return result, nil
	}
	rowID := row.RowID
	if werr := e.txr.Write(func(s *txn.Scope) error {
		tx := s.Tx
		fresh, err := store.GetEntry(tx, rowID)
		if err != nil || fresh == nil {
			return err
		}
		return e.applyOnGet(tx, fresh, nowSeconds())
	}); werr != nil {
		e.log.Debug().Err(werr).Msg("best-effort on-get update skipped")
	}
	return result, nil
}

// lookupLive resolves (blob, raw) to its live (non-expired) entry, or
// nil if absent or expired. Lazily evicting an expired row discovered
// this way is left to the expire sweep; Get only hides it.
func (e *Engine) lookupLive(tx *bolt.Tx, blob []byte, raw bool, now float64) (*store.Entry, error) {
	id, found, err := store.LookupRowID(tx, blob, raw)
	if err != nil || !found {
		return nil, err
	}
	row, err := store.GetEntry(tx, id)
	if err != nil || row == nil {
		return nil, err
	}
	if row.Expired(now) {
		return nil, nil
	}
	return row, nil
}

// applyOnGet runs the active policy's on-get hook, moving row's
// position in policy_idx and persisting its updated metadata.
func (e *Engine) applyOnGet(tx *bolt.Tx, row *store.Entry, now float64) error {
	oldField := e.policy.SortField(row)
	e.policy.OnGet(row, now)
	newField := e.policy.SortField(row)
	if err := store.DeletePolicyIndex(tx, oldField, row.RowID); err != nil {
		return err
	}
	if err := store.PutPolicyIndex(tx, newField, row.RowID); err != nil {
		return err
	}
	return store.PutEntry(tx, row)
}

// decodeResult materializes row's value per opts.Read/WantExpire/WantTag.
// IOError(ENOENT) on the value file is absorbed as a miss, per spec.md
// §7's "vanished value file during read" tolerance.
func (e *Engine) decodeResult(row *store.Entry, opts GetOptions) (GetResult, error) {
	value, stream, err := e.ser.LoadValue(row.Mode, row.ValueBlob, row.Filename, opts.Read)
	if err != nil {
		if cacheerr.NotFound(err) || errors.Is(err, os.ErrNotExist) {
			return GetResult{Value: opts.Default}, nil
		}
		return GetResult{}, err
	}
	res := GetResult{Value: value, Stream: stream, Found: true}
	if opts.WantExpire {
		res.ExpireTime = row.ExpireTime
	}
	if opts.WantTag {
		res.Tag = row.Tag
	}
	return res, nil
}

// SetOptions configures Set and Add, per spec.md §4.4/§6. Expire is
// seconds-from-now; nil means the entry never expires.
type SetOptions struct {
	Expire *float64
	Tag    *string
	Retry  bool
}

// Set implements spec.md §4.4's set: prepares the value outside the
// transaction, then inserts or replaces the row, cleans up any
// superseded file, and runs a bounded cull before committing.
func (e *Engine) Set(key, value any, opts SetOptions) (bool, error) {
	blob, raw, err := e.ser.EncodeKey(key)
	if err != nil {
		return false, err
	}
	placement, err := e.preparePlacement(value)
	if err != nil {
		return false, err
	}

	err = e.txr.WriteRetry(opts.Retry, func(s *txn.Scope) error {
		tx := s.Tx
		now := nowSeconds()
		next := e.buildEntry(blob, raw, now, opts.Expire, opts.Tag, placement)

		id, found, err := store.LookupRowID(tx, blob, raw)
		if err != nil {
			return err
		}
		if found {
			old, err := store.GetEntry(tx, id)
			if err != nil {
				return err
			}
			deferFilename(s, old)
			if err := store.ReplaceEntry(tx, old, next, e.policy.SortField(old), e.policy.SortField(next)); err != nil {
				return err
			}
		} else {
			if _, err := store.InsertEntry(tx, next, e.policy.SortField(next)); err != nil {
				return err
			}
		}
		return e.cullWithinTx(tx, s, now)
	})
	if err != nil {
		return false, err
	}
	metrics.Entries.WithLabelValues(e.root).Inc()
	return true, nil
}

// Add implements spec.md §4.4's add: an in-process singleflight group
// collapses concurrent same-key builds before anyone opens a
// transaction; at-most-one-winner across processes is still enforced
// by the transaction scope itself. A caller that joined another
// caller's in-flight build reports false: only the build's own caller
// can have inserted the row.
func (e *Engine) Add(key, value any, opts SetOptions) (bool, error) {
	blob, raw, err := e.ser.EncodeKey(key)
	if err != nil {
		return false, err
	}
	sfKey := sfKeyFor(blob, raw)

	ran := false
	v, err, _ := e.sf.Do(sfKey, func() (any, error) {
		ran = true
		return e.addLocked(blob, raw, value, opts)
	})
	if err != nil {
		return false, err
	}
	if !ran {
		return false, nil
	}
	return v.(bool), nil
}

func sfKeyFor(blob []byte, raw bool) string {
	if raw {
		return "r:" + string(blob)
	}
	return "o:" + string(blob)
}

func (e *Engine) addLocked(blob []byte, raw bool, value any, opts SetOptions) (bool, error) {
	placement, err := e.preparePlacement(value)
	if err != nil {
		return false, err
	}

	var added bool
	err = e.txr.WriteRetry(opts.Retry, func(s *txn.Scope) error {
		tx := s.Tx
		now := nowSeconds()

		id, found, err := store.LookupRowID(tx, blob, raw)
		if err != nil {
			return err
		}
		if found {
			old, err := store.GetEntry(tx, id)
			if err != nil {
				return err
			}
			if !old.Expired(now) {
				s.Defer(placement.Filename)
				added = false
				return nil
			}
			next := e.buildEntry(blob, raw, now, opts.Expire, opts.Tag, placement)
			deferFilename(s, old)
			if err := store.ReplaceEntry(tx, old, next, e.policy.SortField(old), e.policy.SortField(next)); err != nil {
				return err
			}
			added = true
		} else {
			next := e.buildEntry(blob, raw, now, opts.Expire, opts.Tag, placement)
			if _, err := store.InsertEntry(tx, next, e.policy.SortField(next)); err != nil {
				return err
			}
			added = true
		}
		return e.cullWithinTx(tx, s, now)
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// PopOptions configures Pop.
type PopOptions struct {
	Default any
	Retry   bool
}

// Pop implements spec.md §4.4's pop: atomically reads and removes.
func (e *Engine) Pop(key any, opts PopOptions) (any, bool, error) {
	blob, raw, err := e.ser.EncodeKey(key)
	if err != nil {
		return nil, false, err
	}

	var value any
	var found bool
	err = e.txr.WriteRetry(opts.Retry, func(s *txn.Scope) error {
		tx := s.Tx
		now := nowSeconds()
		row, err := e.lookupLive(tx, blob, raw, now)
		if err != nil {
			return err
		}
		id, lookupFound, err := store.LookupRowID(tx, blob, raw)
		if err != nil {
			return err
		}
		if !lookupFound {
			return nil
		}
		if row == nil {
			// Expired: remove lazily, still report as absent.
			return e.deleteRow(tx, s, id)
		}
		v, stream, err := e.ser.LoadValue(row.Mode, row.ValueBlob, row.Filename, false)
		if err != nil {
			if cacheerr.NotFound(err) || errors.Is(err, cacheerr.ErrIO) {
				return e.deleteRow(tx, s, id)
			}
			return err
		}
		if stream != nil {
			_ = stream.Close()
		}
		value, found = v, true
		return e.deleteRow(tx, s, id)
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return opts.Default, false, nil
	}
	return value, true, nil
}

// Delete implements spec.md §4.4's delete: idempotent, returns true iff
// a row was actually removed.
func (e *Engine) Delete(key any, retry bool) (bool, error) {
	blob, raw, err := e.ser.EncodeKey(key)
	if err != nil {
		return false, err
	}

	var removed bool
	err = e.txr.WriteRetry(retry, func(s *txn.Scope) error {
		tx := s.Tx
		id, found, err := store.LookupRowID(tx, blob, raw)
		if err != nil || !found {
			return err
		}
		removed = true
		return e.deleteRow(tx, s, id)
	})
	return removed, err
}

// Touch implements spec.md §4.4's touch: updates only expire_time, and
// only if the row is present and not already expired.
func (e *Engine) Touch(key any, expire *float64, retry bool) (bool, error) {
	blob, raw, err := e.ser.EncodeKey(key)
	if err != nil {
		return false, err
	}

	var touched bool
	err = e.txr.WriteRetry(retry, func(s *txn.Scope) error {
		tx := s.Tx
		now := nowSeconds()
		row, err := e.lookupLive(tx, blob, raw, now)
		if err != nil || row == nil {
			return err
		}
		updated := *row
		updated.ExpireTime = absoluteExpire(now, expire)
		if err := store.ReplaceEntry(tx, row, &updated, e.policy.SortField(row), e.policy.SortField(&updated)); err != nil {
			return err
		}
		touched = true
		return nil
	})
	return touched, err
}

// Incr implements spec.md §4.4's incr: atomic integer read-modify-write.
// Absent/expired with a nil default fails with ErrNotFound; with a
// default, inserts default+delta.
func (e *Engine) Incr(key any, delta int64, def *int64, retry bool) (int64, error) {
	var result int64
	err := e.txr.WriteRetry(retry, func(s *txn.Scope) error {
		var err error
		result, err = e.incrWithin(s, key, delta, def)
		return err
	})
	if err != nil {
		return 0, err
	}
	return result, nil
}

// incrWithin is Incr's body, factored out so Txn.Incr (the transact()
// scope of spec.md §6) can compose it with other operations inside an
// already-open transaction.
func (e *Engine) incrWithin(s *txn.Scope, key any, delta int64, def *int64) (int64, error) {
	blob, raw, err := e.ser.EncodeKey(key)
	if err != nil {
		return 0, err
	}
	tx := s.Tx
	now := nowSeconds()

	row, err := e.lookupLive(tx, blob, raw, now)
	if err != nil {
		return 0, err
	}
	if row == nil {
		if def == nil {
			return 0, wrapNotFound("incr", key)
		}
		result := *def + delta
		placement, err := e.ser.PrepareValue(result, e.settings.DiskMinFileSize)
		if err != nil {
			return 0, err
		}
		next := e.buildEntry(blob, raw, now, nil, nil, placement)

		id, found, err := store.LookupRowID(tx, blob, raw)
		if err != nil {
			return 0, err
		}
		if found {
			old, err := store.GetEntry(tx, id)
			if err != nil {
				return 0, err
			}
			deferFilename(s, old)
			if err := store.ReplaceEntry(tx, old, next, e.policy.SortField(old), e.policy.SortField(next)); err != nil {
				return 0, err
			}
			return result, nil
		}
		if _, err := store.InsertEntry(tx, next, e.policy.SortField(next)); err != nil {
			return 0, err
		}
		return result, nil
	}

	current, err := e.readInt64(row)
	if err != nil {
		return 0, err
	}
	result := current + delta
	placement, err := e.ser.PrepareValue(result, e.settings.DiskMinFileSize)
	if err != nil {
		return 0, err
	}
	next := e.buildEntry(blob, raw, row.StoreTime, nil, row.Tag, placement)
	next.AccessTime = row.AccessTime
	next.AccessCount = row.AccessCount
	next.ExpireTime = row.ExpireTime
	deferFilename(s, row)
	if err := store.ReplaceEntry(tx, row, next, e.policy.SortField(row), e.policy.SortField(next)); err != nil {
		return 0, err
	}
	return result, nil
}

// Decr is incr with a negated delta, per spec.md §4.4.
func (e *Engine) Decr(key any, delta int64, def *int64, retry bool) (int64, error) {
	return e.Incr(key, -delta, def, retry)
}

// readInt64 decodes row's current value as an integer. incr/decr only
// operate on values previously stored as native numeric scalars, which
// PrepareValue always places raw-inline.
func (e *Engine) readInt64(row *store.Entry) (int64, error) {
	v, _, err := e.ser.LoadValue(row.Mode, row.ValueBlob, row.Filename, false)
	if err != nil {
		return 0, err
	}
	switch val := v.(type) {
	case int64:
		return val, nil
	case float64:
		return int64(val), nil
	default:
		return 0, fmt.Errorf("%w: incr: value is not numeric", cacheerr.ErrInvariant)
	}
}
