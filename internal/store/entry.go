package store

import (
	"encoding/binary"
	"fmt"
	"math"

	json "github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/internal/cacheerr"
	"github.com/cuemby/burrow/internal/serializer"
)

// Entry is the on-disk row of spec.md §3: the unit of caching plus its
// metadata, as held in BucketEntries keyed by an 8-byte big-endian
// RowID.
type Entry struct {
	RowID       uint64          `json:"row_id"`
	KeyBlob     []byte          `json:"key_blob"`
	RawFlag     bool            `json:"raw_flag"`
	StoreTime   float64         `json:"store_time"`
	ExpireTime  *float64        `json:"expire_time,omitempty"`
	AccessTime  float64         `json:"access_time"`
	AccessCount int64           `json:"access_count"`
	Tag         *string         `json:"tag,omitempty"`
	Size        int64           `json:"size"`
	Mode        serializer.Mode `json:"mode"`
	Filename    string          `json:"filename,omitempty"`
	ValueBlob   []byte          `json:"value_blob,omitempty"`
}

// Expired reports whether the entry is logically absent at wall-clock
// time now, per spec.md §3's expiration invariant.
func (e *Entry) Expired(nowSec float64) bool {
	return e.ExpireTime != nil && *e.ExpireTime < nowSec
}

func rowIDBytes(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func parseRowID(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func floatBits(f float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(f))
	return b
}

func encodeEntry(e *Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: encode entry: %v", cacheerr.ErrIO, err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: decode entry: %v", cacheerr.ErrIO, err)
	}
	return &e, nil
}

// NextRowID allocates the next monotonic row id from BucketEntries.
func NextRowID(tx *bolt.Tx) (uint64, error) {
	b := tx.Bucket(BucketEntries)
	id, err := b.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("store: next row id: %w", err)
	}
	return id, nil
}

// PutEntry writes (or overwrites) the entries-bucket row for e.
func PutEntry(tx *bolt.Tx, e *Entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return err
	}
	return tx.Bucket(BucketEntries).Put(rowIDBytes(e.RowID), data)
}

// GetEntry reads the row at rowID, or (nil, nil) if absent.
func GetEntry(tx *bolt.Tx, rowID uint64) (*Entry, error) {
	data := tx.Bucket(BucketEntries).Get(rowIDBytes(rowID))
	if data == nil {
		return nil, nil
	}
	return decodeEntry(data)
}

// DeleteEntryRow removes only the entries-bucket row; callers must also
// remove the key/expire/policy/tag index entries (see DeleteEntryFull).
func DeleteEntryRow(tx *bolt.Tx, rowID uint64) error {
	return tx.Bucket(BucketEntries).Delete(rowIDBytes(rowID))
}

// keyIndexKey builds the BucketKeys key for (keyBlob, rawFlag).
func keyIndexKey(keyBlob []byte, rawFlag bool) []byte {
	b := make([]byte, 1+len(keyBlob))
	if rawFlag {
		b[0] = 1
	}
	copy(b[1:], keyBlob)
	return b
}

// LookupRowID resolves (keyBlob, rawFlag) to its row id via the unique
// index, implementing spec.md §3's (key_blob, raw_flag) uniqueness.
func LookupRowID(tx *bolt.Tx, keyBlob []byte, rawFlag bool) (uint64, bool, error) {
	data := tx.Bucket(BucketKeys).Get(keyIndexKey(keyBlob, rawFlag))
	if data == nil {
		return 0, false, nil
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("%w: malformed key index entry", cacheerr.ErrInvariant)
	}
	return parseRowID(data), true, nil
}

func putKeyIndex(tx *bolt.Tx, keyBlob []byte, rawFlag bool, rowID uint64) error {
	return tx.Bucket(BucketKeys).Put(keyIndexKey(keyBlob, rawFlag), rowIDBytes(rowID))
}

func deleteKeyIndex(tx *bolt.Tx, keyBlob []byte, rawFlag bool) error {
	return tx.Bucket(BucketKeys).Delete(keyIndexKey(keyBlob, rawFlag))
}

func expireIndexKey(expireTime float64, rowID uint64) []byte {
	b := make([]byte, 16)
	copy(b[:8], serializer.EncodeOrderedFloatKey(expireTime))
	copy(b[8:], rowIDBytes(rowID))
	return b
}

func putExpireIndex(tx *bolt.Tx, e *Entry) error {
	if e.ExpireTime == nil {
		return nil
	}
	return tx.Bucket(BucketExpireIdx).Put(expireIndexKey(*e.ExpireTime, e.RowID), nil)
}

func deleteExpireIndex(tx *bolt.Tx, e *Entry) error {
	if e.ExpireTime == nil {
		return nil
	}
	return tx.Bucket(BucketExpireIdx).Delete(expireIndexKey(*e.ExpireTime, e.RowID))
}

func tagIndexKey(tag string, rowID uint64) []byte {
	b := make([]byte, 2+len(tag)+8)
	binary.BigEndian.PutUint16(b[:2], uint16(len(tag)))
	copy(b[2:2+len(tag)], tag)
	copy(b[2+len(tag):], rowIDBytes(rowID))
	return b
}

// TagIndexPrefix returns the byte prefix common to every row tagged tag,
// usable with a bbolt cursor Seek to scan exactly that tag's rows.
func TagIndexPrefix(tag string) []byte {
	b := make([]byte, 2+len(tag))
	binary.BigEndian.PutUint16(b[:2], uint16(len(tag)))
	copy(b[2:], tag)
	return b
}

func putTagIndex(tx *bolt.Tx, e *Entry) error {
	if e.Tag == nil {
		return nil
	}
	return tx.Bucket(BucketTagIdx).Put(tagIndexKey(*e.Tag, e.RowID), nil)
}

func deleteTagIndex(tx *bolt.Tx, e *Entry) error {
	if e.Tag == nil {
		return nil
	}
	return tx.Bucket(BucketTagIdx).Delete(tagIndexKey(*e.Tag, e.RowID))
}

// PolicySortKey builds a policy_idx key given a sort field already
// encoded as order-preserving bytes (see eviction package) and rowID.
func PolicySortKey(sortField []byte, rowID uint64) []byte {
	b := make([]byte, len(sortField)+8)
	copy(b, sortField)
	copy(b[len(sortField):], rowIDBytes(rowID))
	return b
}

func putPolicyIndex(tx *bolt.Tx, sortField []byte, rowID uint64) error {
	if sortField == nil {
		return nil
	}
	return tx.Bucket(BucketPolicyIdx).Put(PolicySortKey(sortField, rowID), nil)
}

func deletePolicyIndex(tx *bolt.Tx, sortField []byte, rowID uint64) error {
	if sortField == nil {
		return nil
	}
	return tx.Bucket(BucketPolicyIdx).Delete(PolicySortKey(sortField, rowID))
}

// PutPolicyIndex and DeletePolicyIndex are the exported forms used by
// the eviction package's OnGet hooks, which run after the row already
// exists and only need to move its secondary-index position.
func PutPolicyIndex(tx *bolt.Tx, sortField []byte, rowID uint64) error {
	return putPolicyIndex(tx, sortField, rowID)
}

func DeletePolicyIndex(tx *bolt.Tx, sortField []byte, rowID uint64) error {
	return deletePolicyIndex(tx, sortField, rowID)
}

// InsertEntry assigns a fresh row id to e, writes the row, and
// maintains every index, implementing the insert half of spec.md §3's
// trigger-maintained invariants (bbolt has no trigger mechanism, so
// each mutation explicitly keeps count/size and the indexes in step;
// see DESIGN.md).
func InsertEntry(tx *bolt.Tx, e *Entry, policySortField []byte) (uint64, error) {
	id, err := NextRowID(tx)
	if err != nil {
		return 0, err
	}
	e.RowID = id
	if err := PutEntry(tx, e); err != nil {
		return 0, err
	}
	if err := putKeyIndex(tx, e.KeyBlob, e.RawFlag, id); err != nil {
		return 0, err
	}
	if err := putExpireIndex(tx, e); err != nil {
		return 0, err
	}
	if err := putTagIndex(tx, e); err != nil {
		return 0, err
	}
	if err := putPolicyIndex(tx, policySortField, id); err != nil {
		return 0, err
	}
	if err := AdjustCounters(tx, 1, e.Size); err != nil {
		return 0, err
	}
	return id, nil
}

// ReplaceEntry overwrites an existing row in place (same RowID,
// possibly different KeyBlob in the pathological case of a raw_flag
// collision, which spec.md's uniqueness invariant forbids), updating
// every index and the size counter's delta.
func ReplaceEntry(tx *bolt.Tx, old, next *Entry, oldPolicySortField, nextPolicySortField []byte) error {
	next.RowID = old.RowID
	if err := deleteExpireIndex(tx, old); err != nil {
		return err
	}
	if err := deleteTagIndex(tx, old); err != nil {
		return err
	}
	if err := deletePolicyIndex(tx, oldPolicySortField, old.RowID); err != nil {
		return err
	}
	if err := PutEntry(tx, next); err != nil {
		return err
	}
	if err := putExpireIndex(tx, next); err != nil {
		return err
	}
	if err := putTagIndex(tx, next); err != nil {
		return err
	}
	if err := putPolicyIndex(tx, nextPolicySortField, next.RowID); err != nil {
		return err
	}
	return AdjustCounters(tx, 0, next.Size-old.Size)
}

// ForEachEntry decodes and visits every row in BucketEntries, in row-id
// order. Used by the eviction package to rebuild policy_idx when the
// active policy changes.
func ForEachEntry(tx *bolt.Tx, fn func(*Entry) error) error {
	return tx.Bucket(BucketEntries).ForEach(func(_, v []byte) error {
		e, err := decodeEntry(v)
		if err != nil {
			return err
		}
		return fn(e)
	})
}

// DeleteEntryFull removes e's row and every index entry, and decrements
// the count/size counters — the delete half of the invariant-maintaining
// triggers spec.md describes.
func DeleteEntryFull(tx *bolt.Tx, e *Entry, policySortField []byte) error {
	if err := DeleteEntryRow(tx, e.RowID); err != nil {
		return err
	}
	if err := deleteKeyIndex(tx, e.KeyBlob, e.RawFlag); err != nil {
		return err
	}
	if err := deleteExpireIndex(tx, e); err != nil {
		return err
	}
	if err := deleteTagIndex(tx, e); err != nil {
		return err
	}
	if err := deletePolicyIndex(tx, policySortField, e.RowID); err != nil {
		return err
	}
	return AdjustCounters(tx, -1, -e.Size)
}
