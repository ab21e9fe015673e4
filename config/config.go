// Package config is the single typed configuration surface for corekv,
// following storage/settings.go's package-level Settings pattern: load once
// at startup, keep a package-level struct other packages read from, and
// register an onexit hook for anything that needs to unwind on shutdown.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	units "github.com/docker/go-units"

	"github.com/vekterdb/corekv/wal"
)

// MutationOrdering names how same-key mutations within a chunk are ordered
// before folding them onto a segment's base state. It is parsed into
// Settings but not passed to materialize.Materialize, which takes no
// ordering option.
type MutationOrdering string

const (
	// OrderingLogOffset applies mutations to the same key strictly in
	// ascending log-offset order (the default, and the only ordering that
	// matches append semantics without a secondary index).
	OrderingLogOffset MutationOrdering = "log_offset"
	// OrderingLastWriteWins collapses same-key mutations within a chunk to
	// only the last one before folding, trading history for smaller writes.
	OrderingLastWriteWins MutationOrdering = "last_write_wins"
)

// CacheVariant names a cache eviction policy. It is parsed into Settings
// but not passed to blockfile.NewProvider, whose caches are always
// least-recently-used.
type CacheVariant string

const (
	CacheVariantLRU CacheVariant = "lru"
	CacheVariantLFU CacheVariant = "lfu"
)

// ThrottleConfig bounds concurrent fragment uploads, sized the way
// storage/settings.go sizes ShardSize: a plain integer field an operator
// tunes directly rather than a formula derived at startup.
type ThrottleConfig struct {
	MaxConcurrentUploads int    `json:"max_concurrent_uploads"`
	MaxPendingBytes      int64  `json:"-"`
	MaxPendingBytesHuman string `json:"max_pending_bytes"`
}

// WALConfig groups the wal package's tunables.
type WALConfig struct {
	FragmentRolloverThreshold int            `json:"fragment_rollover_threshold"`
	SnapshotRolloverThreshold int            `json:"snapshot_rollover_threshold"`
	Throttle                  ThrottleConfig `json:"throttle"`
}

func (w WALConfig) toRolloverConfig() wal.RolloverConfig {
	return wal.RolloverConfig{
		FragmentRolloverThreshold: w.FragmentRolloverThreshold,
		SnapshotRolloverThreshold: w.SnapshotRolloverThreshold,
	}
}

// CacheConfig groups blockfile.Provider's cache tunables.
type CacheConfig struct {
	Variant       CacheVariant `json:"variant"`
	CapacityHuman string       `json:"capacity"`
	CapacityBytes int64        `json:"-"`
}

// WriterConfig groups materialize-time writer tunables.
type WriterConfig struct {
	MutationOrdering MutationOrdering `json:"mutation_ordering"`
	// ForkParent is the optional existing root id a materializer should
	// copy-on-write fork from instead of rebuilding a segment from scratch.
	// Empty means always build fresh.
	ForkParent string `json:"fork_parent"`
}

// GCConfig groups GC settings. wal.GC takes no options and does not read
// MinCursor; it refuses to collect whenever no cursor exists.
type GCConfig struct {
	MinCursor int `json:"min_cursor"`
}

// StorageTimeouts holds per-operation-class durations (get, put, list,
// delete) in milliseconds. It is parsed into Settings, but no objectstore
// backend or caller applies these durations to a context, so storage calls
// are bounded only by the context the caller passes in.
type StorageTimeouts struct {
	GetMs    int `json:"get_ms"`
	PutMs    int `json:"put_ms"`
	ListMs   int `json:"list_ms"`
	DeleteMs int `json:"delete_ms"`
}

func (t StorageTimeouts) Get() time.Duration    { return time.Duration(t.GetMs) * time.Millisecond }
func (t StorageTimeouts) Put() time.Duration    { return time.Duration(t.PutMs) * time.Millisecond }
func (t StorageTimeouts) List() time.Duration   { return time.Duration(t.ListMs) * time.Millisecond }
func (t StorageTimeouts) Delete() time.Duration { return time.Duration(t.DeleteMs) * time.Millisecond }

// SettingsT is the full typed configuration document, following
// storage/settings.go's SettingsT naming and shape.
type SettingsT struct {
	MaxBlockSizeBytesHuman string `json:"max_block_size_bytes"`
	MaxBlockSizeBytes      int64  `json:"-"`

	Cache   CacheConfig     `json:"cache"`
	Writer  WriterConfig    `json:"writer"`
	WAL     WALConfig       `json:"wal"`
	GC      GCConfig        `json:"gc"`
	Storage StorageTimeouts `json:"storage"`
}

// Settings is the process-wide configuration, mirroring
// storage/settings.go's package-level var.
var Settings SettingsT = Default()

// Default returns the out-of-the-box configuration, sized the way the
// teacher's SettingsT{false, false, false, 10, "safe", 60000, 50, false}
// literal bakes in defaults rather than leaving zero values.
func Default() SettingsT {
	return SettingsT{
		MaxBlockSizeBytesHuman: "8MiB",
		MaxBlockSizeBytes:      8 << 20,
		Cache: CacheConfig{
			Variant:       CacheVariantLRU,
			CapacityHuman: "256MiB",
			CapacityBytes: 256 << 20,
		},
		Writer: WriterConfig{
			MutationOrdering: OrderingLogOffset,
			ForkParent:       "",
		},
		WAL: WALConfig{
			FragmentRolloverThreshold: 64,
			SnapshotRolloverThreshold: 16,
			Throttle: ThrottleConfig{
				MaxConcurrentUploads: 8,
				MaxPendingBytesHuman: "512MiB",
				MaxPendingBytes:      512 << 20,
			},
		},
		GC: GCConfig{MinCursor: 1},
		Storage: StorageTimeouts{
			GetMs: 5000, PutMs: 10000, ListMs: 15000, DeleteMs: 5000,
		},
	}
}

// Load reads and parses a JSON settings document from path, resolving every
// human-readable byte-size field via docker/go-units the way operators size
// the teacher's shard size, and replaces the package-level Settings.
func Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config.Load: %w", err)
	}
	s := Default()
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("config.Load: %w", err)
	}
	if err := resolveSizes(&s); err != nil {
		return err
	}
	Settings = s
	return nil
}

func resolveSizes(s *SettingsT) error {
	var err error
	if s.MaxBlockSizeBytes, err = units.RAMInBytes(s.MaxBlockSizeBytesHuman); err != nil {
		return fmt.Errorf("config: max_block_size_bytes: %w", err)
	}
	if s.Cache.CapacityBytes, err = units.RAMInBytes(s.Cache.CapacityHuman); err != nil {
		return fmt.Errorf("config: cache.capacity: %w", err)
	}
	if s.WAL.Throttle.MaxPendingBytesHuman != "" {
		if s.WAL.Throttle.MaxPendingBytes, err = units.RAMInBytes(s.WAL.Throttle.MaxPendingBytesHuman); err != nil {
			return fmt.Errorf("config: wal.throttle.max_pending_bytes: %w", err)
		}
	}
	return nil
}

// WALRolloverConfig adapts the loaded WAL settings to wal.RolloverConfig,
// the shape wal.NewLog expects.
func WALRolloverConfig() wal.RolloverConfig {
	return Settings.WAL.toRolloverConfig()
}

// WALThrottle builds a wal.Throttle from the loaded upload-concurrency
// setting, ready to pass to (*wal.Log).SetThrottle.
func WALThrottle() *wal.Throttle {
	return wal.NewThrottle(Settings.WAL.Throttle.MaxConcurrentUploads)
}

// ForkParentRootID returns the configured root id a materializer should
// fork from, or "" if segments should always be built fresh.
func ForkParentRootID() string {
	return Settings.Writer.ForkParent
}
