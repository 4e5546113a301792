// Package config defines burrow's durable, typed settings record: the
// systems-language substitute spec.md §9 asks for in place of the
// source's descriptor-backed attributes. Settings are loaded here with
// their defaults and validated; persistence through the settings bucket
// lives in internal/store, which treats this struct as the schema.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EvictionPolicy names one of the registered eviction policies (§4.5).
type EvictionPolicy string

const (
	PolicyLeastRecentlyStored EvictionPolicy = "least-recently-stored"
	PolicyLeastRecentlyUsed   EvictionPolicy = "least-recently-used"
	PolicyLeastFrequentlyUsed EvictionPolicy = "least-frequently-used"
	PolicyNone                EvictionPolicy = "none"
)

// JournalMode mirrors the spec's sqlite_journal_mode knob, applied here
// as the closest bbolt equivalent (NoSync toggling).
type JournalMode string

const (
	JournalWAL   JournalMode = "wal"
	JournalTruncate JournalMode = "truncate"
)

// Settings is the durable, typed configuration record backing the
// settings table of spec.md §3/§6. Every field has a YAML tag so a
// cache root's settings can be seeded from a file by cmd/burrowctl, and
// every field after load is mirrored into the settings bucket by
// internal/store so concurrent processes observe the same values.
type Settings struct {
	// Statistics enables hit/miss counting (spec.md §6 "statistics").
	Statistics bool `yaml:"statistics"`

	// EvictionPolicy selects the named policy from internal/eviction.
	EvictionPolicy EvictionPolicy `yaml:"eviction_policy"`

	// SizeLimit is the soft upper bound on Volume() that triggers a
	// policy cull from Cull/Set.
	SizeLimit int64 `yaml:"size_limit"`

	// CullLimit bounds the rows removed per sweep step; zero disables
	// cull-on-set (expire/evict/clear still run explicitly).
	CullLimit int `yaml:"cull_limit"`

	// TagIndex is persisted with the other settings but has no effect:
	// the (tag, row_id) secondary index is maintained for every tagged
	// row, and Evict always scans it.
	TagIndex bool `yaml:"tag_index"`

	// DiskMinFileSize is the threshold T of spec.md §4.1: values at or
	// above this size are written to the file heap instead of inline.
	DiskMinFileSize int `yaml:"disk_min_file_size"`

	// JournalMode is the bbolt-level analogue of sqlite_journal_mode.
	JournalMode JournalMode `yaml:"sqlite_journal_mode"`

	// CacheSizePages is the analogue of sqlite_cache_size: a hint only,
	// bbolt has no page cache knob, recorded for compatibility only.
	// ResetSetting does not accept it.
	CacheSizePages int `yaml:"sqlite_cache_size"`

	// MmapSize is the analogue of sqlite_mmap_size, applied as bbolt's
	// Options.InitialMmapSize.
	MmapSize int `yaml:"sqlite_mmap_size"`

	// TxnTimeout bounds how long a write transaction attempt retries
	// before failing with ErrTimeout (spec.md §9's "~60s" PRAGMA retry
	// budget, made an explicit, configurable field here).
	TxnTimeout time.Duration `yaml:"txn_timeout"`

	// FanoutShards records a shard count N. Nothing reads it: a
	// single-root cache ignores it, and fanout.Open takes N as an
	// explicit argument.
	FanoutShards int `yaml:"fanout_shards"`
}

// Default returns the settings a freshly created cache root uses absent
// an explicit Options override or settings file.
func Default() Settings {
	return Settings{
		Statistics:      false,
		EvictionPolicy:  PolicyLeastRecentlyStored,
		SizeLimit:       1 << 30, // 1 GiB
		CullLimit:       10,
		TagIndex:        false,
		DiskMinFileSize: 1 << 15, // 32 KiB
		JournalMode:     JournalWAL,
		CacheSizePages:  8192,
		MmapSize:        1 << 26, // 64 MiB
		TxnTimeout:      60 * time.Second,
		FanoutShards:    8,
	}
}

// Load reads a YAML settings file, applying it over Default().
func Load(path string) (Settings, error) {
	s := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Validate rejects settings combinations that would make the engine
// misbehave rather than merely degrade (e.g. a negative threshold).
func (s Settings) Validate() error {
	if s.DiskMinFileSize < 0 {
		return fmt.Errorf("config: disk_min_file_size must be >= 0")
	}
	if s.CullLimit < 0 {
		return fmt.Errorf("config: cull_limit must be >= 0")
	}
	if s.FanoutShards < 0 {
		return fmt.Errorf("config: fanout_shards must be >= 0")
	}
	switch s.EvictionPolicy {
	case PolicyLeastRecentlyStored, PolicyLeastRecentlyUsed, PolicyLeastFrequentlyUsed, PolicyNone, "":
	default:
		// Unknown names are allowed through: eviction.Register lets
		// callers add policies this package doesn't know about.
	}
	return nil
}
