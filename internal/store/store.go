// Package store implements the index store of spec.md §4.3 on top of
// go.etcd.io/bbolt: the embedded, durable, on-disk B-tree the spec asks
// for, with one bucket standing in for each relational concept (the
// entries table, its unique and secondary indexes, and the
// settings/counters table).
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/internal/config"
)

var (
	BucketEntries   = []byte("entries")
	BucketKeys      = []byte("keys")
	BucketExpireIdx = []byte("expire_idx")
	BucketPolicyIdx = []byte("policy_idx")
	BucketTagIdx    = []byte("tag_idx")
	BucketSettings  = []byte("settings")
	BucketQueueSeq  = []byte("queue_seq")

	allBuckets = [][]byte{
		BucketEntries, BucketKeys, BucketExpireIdx, BucketPolicyIdx,
		BucketTagIdx, BucketSettings, BucketQueueSeq,
	}
)

// DBFileName is the index store's file name under the cache root,
// spec.md §6's "<root>/cache.db".
const DBFileName = "cache.db"

// Store owns the bbolt handle for one cache root (or one fanout shard).
type Store struct {
	DB   *bolt.DB
	Root string
}

// Open creates dir if needed and opens (or initializes) the index
// store, applying the mmap-size and timeout settings as the bbolt
// analogue of spec.md §4.3's PRAGMA knobs.
func Open(dir string, settings config.Settings) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
	}

	opts := &bolt.Options{
		Timeout:         settings.TxnTimeout,
		InitialMmapSize: settings.MmapSize,
		NoSync:          settings.JournalMode == config.JournalTruncate,
	}
	dbPath := filepath.Join(dir, DBFileName)
	db, err := bolt.Open(dbPath, 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{DB: db, Root: dir}, nil
}

// Close closes the index store.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Check runs bbolt's own structural integrity check, the analogue of
// SQLite's PRAGMA integrity_check in spec.md §4.4.
func (s *Store) Check() []error {
	var problems []error
	err := s.DB.View(func(tx *bolt.Tx) error {
		for err := range tx.Check() {
			problems = append(problems, err)
		}
		return nil
	})
	if err != nil {
		problems = append(problems, err)
	}
	return problems
}

// PageVolume returns page_size * page_count, the database-pages half of
// spec.md §4.4's Volume() = page_size×page_count + sum(size).
func (s *Store) PageVolume() (int64, error) {
	info, err := os.Stat(filepath.Join(s.Root, DBFileName))
	if err != nil {
		return 0, fmt.Errorf("store: stat db file: %w", err)
	}
	return info.Size(), nil
}

// now returns wall-clock seconds, as a package variable so tests can
// freeze it. Nothing in this package calls it: store_time and
// access_time arrive already set on the Entry values callers pass in.
var now = func() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
