package cache

import (
	"github.com/cuemby/burrow/internal/metrics"
	"github.com/cuemby/burrow/internal/store"
	"github.com/cuemby/burrow/internal/txn"
)

// Expire implements spec.md §4.4's expiration sweep: walks expire_idx
// ascending in CullLimit-sized chunks, deleting rows with expire_time <
// now, until the index is exhausted. A Timeout leaves the count removed
// so far intact (partial progress).
func (e *Engine) Expire(now *float64, retry bool) (int, error) {
	at := nowSeconds()
	if now != nil {
		at = *now
	}

	total := 0
	limit := e.settings.CullLimit
	if limit <= 0 {
		limit = 1
	}
	for {
		var removed int
		err := e.txr.WriteRetry(retry, func(s *txn.Scope) error {
			var err error
			removed, err = e.expireChunk(s.Tx, s, at, limit)
			return err
		})
		if err != nil {
			return total, err
		}
		total += removed
		if removed < limit {
			return total, nil
		}
	}
}

// Cull implements spec.md §4.4's cull: the same bounded expire-then-
// policy-evict step Set runs inline, exposed as a standalone operation.
func (e *Engine) Cull(retry bool) (int, error) {
	var before, after store.Counters
	err := e.txr.WriteRetry(retry, func(s *txn.Scope) error {
		tx := s.Tx
		before = store.GetCounters(tx)
		if err := e.cullWithinTx(tx, s, nowSeconds()); err != nil {
			return err
		}
		after = store.GetCounters(tx)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(before.Count - after.Count), nil
}

// Evict implements spec.md §4.4's tag eviction: batched delete of every
// entry tagged tag, in CullLimit-sized chunks by ascending row id.
func (e *Engine) Evict(tag string, retry bool) (int, error) {
	limit := e.settings.CullLimit
	if limit <= 0 {
		limit = 100
	}

	total := 0
	for {
		var removed int
		err := e.txr.WriteRetry(retry, func(s *txn.Scope) error {
			tx := s.Tx
			idx := tx.Bucket(store.BucketTagIdx)
			cur := idx.Cursor()
			prefix := store.TagIndexPrefix(tag)

			var rowIDs []uint64
			for k, _ := cur.Seek(prefix); k != nil && hasPrefix(k, prefix) && len(rowIDs) < limit; k, _ = cur.Next() {
				rowIDs = append(rowIDs, beUint64(k[len(k)-8:]))
			}
			for _, id := range rowIDs {
				if err := e.deleteRow(tx, s, id); err != nil {
					return err
				}
				metrics.EvictTotal.WithLabelValues(e.root, tag).Inc()
			}
			removed = len(rowIDs)
			return nil
		})
		if err != nil {
			return total, err
		}
		total += removed
		if removed < limit {
			return total, nil
		}
	}
}

// Clear implements spec.md §4.4's clear: batched delete of every entry,
// in CullLimit-sized chunks.
func (e *Engine) Clear(retry bool) (int, error) {
	limit := e.settings.CullLimit
	if limit <= 0 {
		limit = 100
	}

	total := 0
	for {
		var removed int
		err := e.txr.WriteRetry(retry, func(s *txn.Scope) error {
			tx := s.Tx
			cur := tx.Bucket(store.BucketEntries).Cursor()

			var rowIDs []uint64
			for k, _ := cur.First(); k != nil && len(rowIDs) < limit; k, _ = cur.Next() {
				rowIDs = append(rowIDs, beUint64(k))
			}
			for _, id := range rowIDs {
				if err := e.deleteRow(tx, s, id); err != nil {
					return err
				}
			}
			removed = len(rowIDs)
			return nil
		})
		if err != nil {
			return total, err
		}
		total += removed
		if removed < limit {
			return total, nil
		}
	}
}
