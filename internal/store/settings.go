package store

import (
	"fmt"

	json "github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/internal/cacheerr"
	"github.com/cuemby/burrow/internal/config"
)

// settingsKey and counter keys live in BucketSettings, the durable
// settings/metadata table of spec.md §3/§9.
var (
	keySettingsBlob = []byte("settings")
	keyCount        = []byte("count")
	keySize         = []byte("size")
	keyHits         = []byte("hits")
	keyMisses       = []byte("misses")
)

// Counters are the durable, read-only-to-users running totals of
// spec.md §6: count, size, hits, misses.
type Counters struct {
	Count  int64
	Size   int64
	Hits   int64
	Misses int64
}

func getInt64(tx *bolt.Tx, key []byte) int64 {
	data := tx.Bucket(BucketSettings).Get(key)
	if data == nil {
		return 0
	}
	var v int64
	_ = json.Unmarshal(data, &v)
	return v
}

func putInt64(tx *bolt.Tx, key []byte, v int64) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode counter: %v", cacheerr.ErrIO, err)
	}
	return tx.Bucket(BucketSettings).Put(key, data)
}

// GetCounters reads the current count/size/hits/misses.
func GetCounters(tx *bolt.Tx) Counters {
	return Counters{
		Count:  getInt64(tx, keyCount),
		Size:   getInt64(tx, keySize),
		Hits:   getInt64(tx, keyHits),
		Misses: getInt64(tx, keyMisses),
	}
}

// SetCounters overwrites all four counters, used by Check's recompute
// step (spec.md §4.4).
func SetCounters(tx *bolt.Tx, c Counters) error {
	if err := putInt64(tx, keyCount, c.Count); err != nil {
		return err
	}
	if err := putInt64(tx, keySize, c.Size); err != nil {
		return err
	}
	if err := putInt64(tx, keyHits, c.Hits); err != nil {
		return err
	}
	return putInt64(tx, keyMisses, c.Misses)
}

// AdjustCounters applies a delta to count and size, the explicit
// equivalent of the insert/update/delete triggers spec.md §4.3
// describes (bbolt has no trigger mechanism).
func AdjustCounters(tx *bolt.Tx, deltaCount int, deltaSize int64) error {
	c := GetCounters(tx)
	c.Count += int64(deltaCount)
	c.Size += deltaSize
	return SetCounters(tx, c)
}

// IncrHits and IncrMisses bump the statistics counters; callers gate
// these on Settings.Statistics.
func IncrHits(tx *bolt.Tx) error {
	return putInt64(tx, keyHits, getInt64(tx, keyHits)+1)
}

func IncrMisses(tx *bolt.Tx) error {
	return putInt64(tx, keyMisses, getInt64(tx, keyMisses)+1)
}

// ResetStats zeroes hits and misses, returning their prior values.
func ResetStats(tx *bolt.Tx) (hits, misses int64, err error) {
	hits, misses = getInt64(tx, keyHits), getInt64(tx, keyMisses)
	if err := putInt64(tx, keyHits, 0); err != nil {
		return 0, 0, err
	}
	if err := putInt64(tx, keyMisses, 0); err != nil {
		return 0, 0, err
	}
	return hits, misses, nil
}

// HasSettings reports whether a settings row has ever been saved in
// this store, distinguishing a freshly-created root (where the caller's
// initial config.Settings should be persisted) from a reopened one
// (where the durable settings win).
func HasSettings(tx *bolt.Tx) (bool, error) {
	return tx.Bucket(BucketSettings).Get(keySettingsBlob) != nil, nil
}

// LoadSettings reads the durable settings blob, falling back to
// config.Default() when the cache root was just created.
func LoadSettings(tx *bolt.Tx) (config.Settings, error) {
	data := tx.Bucket(BucketSettings).Get(keySettingsBlob)
	if data == nil {
		return config.Default(), nil
	}
	var s config.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return config.Settings{}, fmt.Errorf("%w: decode settings: %v", cacheerr.ErrIO, err)
	}
	return s, nil
}

// SaveSettings persists the whole settings record atomically.
func SaveSettings(tx *bolt.Tx, s config.Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: encode settings: %v", cacheerr.ErrIO, err)
	}
	return tx.Bucket(BucketSettings).Put(keySettingsBlob, data)
}
