// Package config holds the process-wide engine settings.
//
// All tunable knobs of the engine live in a single Settings struct guarded
// by a lock. Values are loaded once at startup (from the environment and an
// optional config file) and may be updated at runtime; jobs snapshot the
// settings when they start so a running job never observes a knob changing
// under it.
package config

import (
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Settings is the full set of process-wide engine knobs.
type Settings struct {
	// SortBufferSize is the number of bytes a sort partition must fit within.
	SortBufferSize int64

	// ReadBatchSize is the number of rows fetched per column read in iterators.
	ReadBatchSize int

	// DefaultNumSegments is the initial fan-out of a column writer.
	DefaultNumSegments int

	// ShuffleBucketSize is the target number of rows per bucket when
	// shuffling a whole frame into random order.
	ShuffleBucketSize int

	// WriterBufferSoftLimit is the per-bucket byte size at which a shuffle
	// worker attempts a non-blocking flush to the output frame.
	WriterBufferSoftLimit int64

	// WriterBufferHardLimit is the per-bucket byte size at which a shuffle
	// worker blocks until it can flush.
	WriterBufferHardLimit int64

	// FastCompactBlocksInSmallSegment is the block-count threshold under
	// which a segment is considered small enough for fast compaction.
	FastCompactBlocksInSmallSegment int

	// CacheBlocksPerColumn is the capacity of the decoded-block LRU kept by
	// each column reader.
	CacheBlocksPerColumn int

	// DebugChecks enables extra validation on hot paths (for example the
	// forward-map check in permutation writes).
	DebugChecks bool
}

// Default returns the settings the engine starts with before any overrides.
func Default() Settings {
	return Settings{
		SortBufferSize:                  2 << 30,
		ReadBatchSize:                   4096,
		DefaultNumSegments:              runtime.NumCPU(),
		ShuffleBucketSize:               1 << 17,
		WriterBufferSoftLimit:           1 << 20,
		WriterBufferHardLimit:           4 << 20,
		FastCompactBlocksInSmallSegment: 8,
		CacheBlocksPerColumn:            32,
		DebugChecks:                     false,
	}
}

var (
	mu      sync.RWMutex
	current = Default()
)

// Get returns a snapshot of the current settings. Jobs call this once at
// start and carry the snapshot for their whole run.
func Get() Settings {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Set replaces the current settings.
func Set(s Settings) {
	mu.Lock()
	defer mu.Unlock()
	current = s
}

// Update applies fn to a copy of the current settings and installs the result.
func Update(fn func(*Settings)) {
	mu.Lock()
	defer mu.Unlock()
	s := current
	fn(&s)
	current = s
}

// Load reads settings overrides from the environment (XFRAME_ prefix) and an
// optional config file and installs them as the current settings. Missing
// keys keep their defaults. Call once at startup, before any job runs.
//
// Recognized keys: sort_buffer_size, read_batch_size, default_num_segments,
// shuffle_bucket_size, writer_buffer_soft_limit, writer_buffer_hard_limit,
// fast_compact_blocks_in_small_segment, cache_blocks_per_column, debug_checks.
func Load(configFile string) error {
	v := viper.New()
	v.SetEnvPrefix("XFRAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("sort_buffer_size", d.SortBufferSize)
	v.SetDefault("read_batch_size", d.ReadBatchSize)
	v.SetDefault("default_num_segments", d.DefaultNumSegments)
	v.SetDefault("shuffle_bucket_size", d.ShuffleBucketSize)
	v.SetDefault("writer_buffer_soft_limit", d.WriterBufferSoftLimit)
	v.SetDefault("writer_buffer_hard_limit", d.WriterBufferHardLimit)
	v.SetDefault("fast_compact_blocks_in_small_segment", d.FastCompactBlocksInSmallSegment)
	v.SetDefault("cache_blocks_per_column", d.CacheBlocksPerColumn)
	v.SetDefault("debug_checks", d.DebugChecks)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	Set(Settings{
		SortBufferSize:                  v.GetInt64("sort_buffer_size"),
		ReadBatchSize:                   v.GetInt("read_batch_size"),
		DefaultNumSegments:              v.GetInt("default_num_segments"),
		ShuffleBucketSize:               v.GetInt("shuffle_bucket_size"),
		WriterBufferSoftLimit:           v.GetInt64("writer_buffer_soft_limit"),
		WriterBufferHardLimit:           v.GetInt64("writer_buffer_hard_limit"),
		FastCompactBlocksInSmallSegment: v.GetInt("fast_compact_blocks_in_small_segment"),
		CacheBlocksPerColumn:            v.GetInt("cache_blocks_per_column"),
		DebugChecks:                     v.GetBool("debug_checks"),
	})
	return nil
}
