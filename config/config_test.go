package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultResolvesHumanSizes(t *testing.T) {
	d := Default()
	if d.MaxBlockSizeBytes != 8<<20 {
		t.Fatalf("expected default max block size 8MiB in bytes, got %d", d.MaxBlockSizeBytes)
	}
	if d.Cache.CapacityBytes != 256<<20 {
		t.Fatalf("expected default cache capacity 256MiB in bytes, got %d", d.Cache.CapacityBytes)
	}
}

func TestLoadParsesHumanReadableSizesAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corekv.json")
	doc := `{
		"max_block_size_bytes": "16MiB",
		"cache": {"variant": "lfu", "capacity": "1GiB"},
		"writer": {"mutation_ordering": "last_write_wins", "fork_parent": "root-123"},
		"wal": {"fragment_rollover_threshold": 128, "snapshot_rollover_threshold": 32},
		"gc": {"min_cursor": 2}
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer func() { Settings = Default() }()

	if Settings.MaxBlockSizeBytes != 16<<20 {
		t.Fatalf("expected 16MiB resolved, got %d bytes", Settings.MaxBlockSizeBytes)
	}
	if Settings.Cache.CapacityBytes != 1<<30 {
		t.Fatalf("expected 1GiB resolved, got %d bytes", Settings.Cache.CapacityBytes)
	}
	if Settings.Cache.Variant != CacheVariantLFU {
		t.Fatalf("expected lfu cache variant, got %q", Settings.Cache.Variant)
	}
	if Settings.Writer.MutationOrdering != OrderingLastWriteWins {
		t.Fatalf("expected last_write_wins ordering, got %q", Settings.Writer.MutationOrdering)
	}
	if Settings.Writer.ForkParent != "root-123" {
		t.Fatalf("expected fork_parent override to %q, got %q", "root-123", Settings.Writer.ForkParent)
	}
	if ForkParentRootID() != "root-123" {
		t.Fatalf("expected ForkParentRootID to reflect loaded settings, got %q", ForkParentRootID())
	}
	if Settings.WAL.FragmentRolloverThreshold != 128 {
		t.Fatalf("expected fragment rollover threshold 128, got %d", Settings.WAL.FragmentRolloverThreshold)
	}
	if Settings.GC.MinCursor != 2 {
		t.Fatalf("expected min_cursor 2, got %d", Settings.GC.MinCursor)
	}

	// Fields the override document didn't touch should keep their defaults.
	if Settings.Storage.GetMs != Default().Storage.GetMs {
		t.Fatalf("expected untouched storage timeouts to keep their defaults")
	}
}

func TestLoadRejectsMalformedSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corekv.json")
	if err := os.WriteFile(path, []byte(`{"max_block_size_bytes": "not-a-size"}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := Load(path); err == nil {
		t.Fatalf("expected Load to reject a malformed size string")
	}
}

func TestWALThrottleBuildsFromLoadedSettings(t *testing.T) {
	Settings = Default()
	defer func() { Settings = Default() }()
	Settings.WAL.Throttle.MaxConcurrentUploads = 3
	th := WALThrottle()
	if th == nil {
		t.Fatalf("expected a non-nil throttle")
	}
}

func TestWALRolloverConfigReflectsLoadedSettings(t *testing.T) {
	Settings = Default()
	Settings.WAL.FragmentRolloverThreshold = 7
	rc := WALRolloverConfig()
	if rc.FragmentRolloverThreshold != 7 {
		t.Fatalf("expected WALRolloverConfig to reflect loaded FragmentRolloverThreshold, got %d", rc.FragmentRolloverThreshold)
	}
	Settings = Default()
}
