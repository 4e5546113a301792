package cache

import (
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/internal/store"
	"github.com/cuemby/burrow/internal/txn"
)

// Txn is the handle spec.md §6's transact() scope hands to its body: a
// live write transaction on which several otherwise-independent
// operations can be composed atomically. It exposes Get, Set, Delete
// and Incr, without the retry machinery of their Engine versions — a
// transact body already owns the one write slot for its whole
// duration, so an inner Timeout would mean something else is wrong.
type Txn struct {
	e *Engine
	s *txn.Scope
}

// Transact implements spec.md §6's transact(): runs fn under a single
// write transaction, so any sequence of fn's calls on the returned Txn
// commit or roll back together. retry controls whether acquiring the
// write slot itself is retried on Timeout; fn's body never retries.
func (e *Engine) Transact(retry bool, fn func(t *Txn) error) error {
	return e.txr.WriteRetry(retry, func(s *txn.Scope) error {
		return fn(&Txn{e: e, s: s})
	})
}

// Read implements spec.md §6's read-only scope: a snapshot view with no
// write slot contention, suitable for composing several gets.
func (e *Engine) Read(fn func(tx *bolt.Tx) error) error {
	return e.txr.Read(fn)
}

// Get mirrors Engine.Get within the scope's transaction.
func (t *Txn) Get(key any, opts GetOptions) (GetResult, error) {
	blob, raw, err := t.e.ser.EncodeKey(key)
	if err != nil {
		return GetResult{}, err
	}
	now := nowSeconds()
	row, err := t.e.lookupLive(t.s.Tx, blob, raw, now)
	if err != nil {
		return GetResult{}, err
	}
	if row == nil {
		return GetResult{Value: opts.Default}, nil
	}
	if err := t.e.applyOnGet(t.s.Tx, row, now); err != nil {
		return GetResult{}, err
	}
	return t.e.decodeResult(row, opts)
}

// Set mirrors Engine.Set within the scope's transaction.
func (t *Txn) Set(key, value any, opts SetOptions) error {
	blob, raw, err := t.e.ser.EncodeKey(key)
	if err != nil {
		return err
	}
	placement, err := t.e.preparePlacement(value)
	if err != nil {
		return err
	}

	tx := t.s.Tx
	now := nowSeconds()
	next := t.e.buildEntry(blob, raw, now, opts.Expire, opts.Tag, placement)

	id, found, err := store.LookupRowID(tx, blob, raw)
	if err != nil {
		return err
	}
	if found {
		old, err := store.GetEntry(tx, id)
		if err != nil {
			return err
		}
		deferFilename(t.s, old)
		if err := store.ReplaceEntry(tx, old, next, t.e.policy.SortField(old), t.e.policy.SortField(next)); err != nil {
			return err
		}
	} else if _, err := store.InsertEntry(tx, next, t.e.policy.SortField(next)); err != nil {
		return err
	}
	return t.e.cullWithinTx(tx, t.s, now)
}

// Delete mirrors Engine.Delete within the scope's transaction.
func (t *Txn) Delete(key any) (bool, error) {
	blob, raw, err := t.e.ser.EncodeKey(key)
	if err != nil {
		return false, err
	}
	id, found, err := store.LookupRowID(t.s.Tx, blob, raw)
	if err != nil || !found {
		return false, err
	}
	return true, t.e.deleteRow(t.s.Tx, t.s, id)
}

// Incr mirrors Engine.Incr within the scope's transaction, for callers
// composing a conditional increment with other operations atomically.
func (t *Txn) Incr(key any, delta int64, def *int64) (int64, error) {
	return t.e.incrWithin(t.s, key, delta, def)
}
