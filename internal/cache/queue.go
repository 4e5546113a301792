package cache

import (
	"encoding/binary"
	"errors"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/internal/cacheerr"
	"github.com/cuemby/burrow/internal/serializer"
	"github.com/cuemby/burrow/internal/store"
	"github.com/cuemby/burrow/internal/txn"
)

// queueKeyBlob builds the raw []byte key for a queue row: a 2-byte
// big-endian prefix length, the prefix bytes, then seq's 8-byte
// order-preserving encoding. Prefix length first, rather than a plain
// separator byte, means two different prefixes always compare by their
// length header before ever touching content, so a prefix can never be
// accidentally a byte-wise prefix of another queue's partition.
func queueKeyBlob(prefix string, seq int64) []byte {
	p := []byte(prefix)
	buf := make([]byte, 2+len(p)+8)
	binary.BigEndian.PutUint16(buf[:2], uint16(len(p)))
	copy(buf[2:2+len(p)], p)
	copy(buf[2+len(p):], serializer.EncodeOrderedIntKey(seq))
	return buf
}

func queuePartitionPrefix(prefix string) []byte {
	p := []byte(prefix)
	buf := make([]byte, 2+len(p))
	binary.BigEndian.PutUint16(buf[:2], uint16(len(p)))
	copy(buf[2:], p)
	return buf
}

// fullQueueKeyPrefix is the BucketKeys prefix shared by every row of
// prefix's queue: the rawFlag byte (always 1 for queue rows) then the
// tagged raw-bytes encoding (tagBytes byte then queuePartitionPrefix).
func fullQueueKeyPrefix(prefix string) []byte {
	partition := queuePartitionPrefix(prefix)
	buf := make([]byte, 2+len(partition))
	buf[0] = 1    // raw_flag
	buf[1] = 3    // tagBytes, mirrors serializer's internal tag
	copy(buf[2:], partition)
	return buf
}

// exclusiveUpperBound returns the smallest byte string greater than
// every string having p as a prefix, so Seek(exclusiveUpperBound(p))
// lands just past the partition and Prev() from there lands on its
// last key.
func exclusiveUpperBound(p []byte) []byte {
	out := append([]byte(nil), p...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil // p was all 0xff bytes; no upper bound exists
}

func seqFromFullKey(k []byte) int64 {
	tail := k[len(k)-8:]
	u := beUint64(tail)
	return int64(u ^ (1 << 63))
}

// QueueSide selects which end of a queue partition an operation acts
// on: front is the ascending (smallest-key) end, back the descending
// (largest-key) end.
type QueueSide int

const (
	SideFront QueueSide = iota
	SideBack
)

func (e *Engine) findQueueRow(tx *bolt.Tx, prefix string, side QueueSide) (*store.Entry, error) {
	cur := tx.Bucket(store.BucketKeys).Cursor()
	fullPrefix := fullQueueKeyPrefix(prefix)

	var k []byte
	if side == SideFront {
		k, _ = cur.Seek(fullPrefix)
	} else {
		upper := exclusiveUpperBound(fullPrefix)
		if upper == nil {
			k, _ = cur.Last()
		} else {
			cur.Seek(upper)
			k, _ = cur.Prev()
		}
	}
	if k == nil || !hasPrefix(k, fullPrefix) {
		return nil, nil
	}

	idData := tx.Bucket(store.BucketKeys).Get(k)
	if idData == nil || len(idData) != 8 {
		return nil, nil
	}
	rowID := beUint64(idData)
	return store.GetEntry(tx, rowID)
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

// Push implements spec.md §4.4's push: generates a synthetic queue key
// on the requested side and inserts value under it.
func (e *Engine) Push(value any, prefix string, side QueueSide, opts SetOptions) (int64, error) {
	placement, err := e.preparePlacement(value)
	if err != nil {
		return 0, err
	}

	var seq int64
	err = e.txr.WriteRetry(opts.Retry, func(s *txn.Scope) error {
		tx := s.Tx
		now := nowSeconds()
		sq, err := store.NextQueueSeq(tx, prefix, side == SideBack)
		if err != nil {
			return err
		}
		seq = sq
		// tagBytes byte first, the layout fullQueueKeyPrefix matches.
		blob := append([]byte{3}, queueKeyBlob(prefix, seq)...)
		next := e.buildEntry(blob, true, now, opts.Expire, opts.Tag, placement)
		if _, err := store.InsertEntry(tx, next, e.policy.SortField(next)); err != nil {
			return err
		}
		return e.cullWithinTx(tx, s, now)
	})
	return seq, err
}

// Pull implements spec.md §4.4's pull: removes and returns the item at
// the requested side of prefix's queue, skipping (and removing) any
// expired rows it encounters.
func (e *Engine) Pull(prefix string, side QueueSide, opts PopOptions) (int64, any, bool, error) {
	var seq int64
	var value any
	var found bool

	err := e.txr.WriteRetry(opts.Retry, func(s *txn.Scope) error {
		tx := s.Tx
		now := nowSeconds()
		for {
			row, err := e.findQueueRow(tx, prefix, side)
			if err != nil || row == nil {
				return err
			}
			if row.Expired(now) {
				if err := e.deleteRow(tx, s, row.RowID); err != nil {
					return err
				}
				continue
			}
			v, stream, err := e.ser.LoadValue(row.Mode, row.ValueBlob, row.Filename, false)
			if err != nil {
				if cacheerr.NotFound(err) || errors.Is(err, cacheerr.ErrIO) {
					if err := e.deleteRow(tx, s, row.RowID); err != nil {
						return err
					}
					continue
				}
				return err
			}
			if stream != nil {
				_ = stream.Close()
			}
			seq = seqFromFullKey(row.KeyBlob)
			value = v
			found = true
			return e.deleteRow(tx, s, row.RowID)
		}
	})
	if err != nil {
		return 0, nil, false, err
	}
	if !found {
		return 0, opts.Default, false, nil
	}
	return seq, value, true, nil
}

// Peek implements spec.md §4.4's peek: the non-removing analogue of
// Pull, still lazily removing any expired row it passes over.
func (e *Engine) Peek(prefix string, side QueueSide, opts PopOptions) (int64, any, bool, error) {
	var seq int64
	var value any
	var found bool

	err := e.txr.WriteRetry(opts.Retry, func(s *txn.Scope) error {
		tx := s.Tx
		now := nowSeconds()
		for {
			row, err := e.findQueueRow(tx, prefix, side)
			if err != nil || row == nil {
				return err
			}
			if row.Expired(now) {
				if err := e.deleteRow(tx, s, row.RowID); err != nil {
					return err
				}
				continue
			}
			v, stream, err := e.ser.LoadValue(row.Mode, row.ValueBlob, row.Filename, false)
			if err != nil {
				if cacheerr.NotFound(err) || errors.Is(err, cacheerr.ErrIO) {
					if err := e.deleteRow(tx, s, row.RowID); err != nil {
						return err
					}
					continue
				}
				return err
			}
			if stream != nil {
				_ = stream.Close()
			}
			seq = seqFromFullKey(row.KeyBlob)
			value = v
			found = true
			return nil
		}
	})
	if err != nil {
		return 0, nil, false, err
	}
	if !found {
		return 0, opts.Default, false, nil
	}
	return seq, value, true, nil
}

// PeekItem implements spec.md §6's peekitem: like Peek, but scans the
// whole entries table by row id (ascending, or descending when last is
// true) rather than one queue's key partition — the "most/least
// recently inserted item overall" view.
func (e *Engine) PeekItem(last bool, opts PopOptions) (any, any, bool, error) {
	var key, value any
	var found bool

	err := e.txr.WriteRetry(opts.Retry, func(s *txn.Scope) error {
		tx := s.Tx
		now := nowSeconds()
		cur := tx.Bucket(store.BucketEntries).Cursor()
		for {
			var rowID []byte
			var data []byte
			if last {
				rowID, data = cur.Last()
			} else {
				rowID, data = cur.First()
			}
			if rowID == nil {
				return nil
			}
			row, err := store.GetEntry(tx, beUint64(rowID))
			if err != nil {
				return err
			}
			_ = data
			if row.Expired(now) {
				if err := e.deleteRow(tx, s, row.RowID); err != nil {
					return err
				}
				cur = tx.Bucket(store.BucketEntries).Cursor()
				continue
			}
			v, stream, err := e.ser.LoadValue(row.Mode, row.ValueBlob, row.Filename, false)
			if err != nil {
				if cacheerr.NotFound(err) || errors.Is(err, cacheerr.ErrIO) {
					if err := e.deleteRow(tx, s, row.RowID); err != nil {
						return err
					}
					cur = tx.Bucket(store.BucketEntries).Cursor()
					continue
				}
				return err
			}
			if stream != nil {
				_ = stream.Close()
			}
			k, err := e.ser.DecodeKey(row.KeyBlob, row.RawFlag)
			if err != nil {
				return err
			}
			key, value, found = k, v, true
			return nil
		}
	})
	if err != nil {
		return nil, nil, false, err
	}
	return key, value, found, nil
}
