/*
Copyright (C) 2025  MemCP Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package config holds the process-wide configuration (spec §6.3), loaded
// once at startup and frozen thereafter (§9 "Global state"). Shaped the way
// the teacher shapes its own settings (storage.SettingsT, storage/settings.go):
// a flat, JSON-tagged struct with sane defaults, no reflection-heavy
// framework.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
)

type WAL struct {
	Enabled           bool   `json:"enabled"`
	Fsync             bool   `json:"fsync"`
	Buffered          bool   `json:"buffered"`
	BufferSize        Size   `json:"buffer_size"`
	Dir               string `json:"dir"`
	FlushEachWrite    bool   `json:"flush_each_write"`
	FsyncEveryN       int    `json:"fsync_every_n"`
	ConservativeMode  bool   `json:"conservative_mode"`
	ArchiveDir        string `json:"archive_dir"`
	CompressionLevel  int    `json:"compression_level"`
	CompressionAlgo   string `json:"compression_algorithm"` // "lz4" | "xz"
}

type Engine struct {
	ShardCount                    int    `json:"shard_count"`
	EventsPerZone                 int    `json:"events_per_zone"`
	FillFactor                    float64 `json:"fill_factor"`
	DataDir                       string `json:"data_dir"`
	IndexDir                      string `json:"index_dir"`
	CompactionInterval            Duration `json:"compaction_interval"`
	SegmentsPerMerge              int    `json:"segments_per_merge"`
	CompactionMaxShardConcurrency int    `json:"compaction_max_shard_concurrency"`
	SysIOThreshold                float64 `json:"sys_io_threshold"`
	SysMemoryThreshold            float64 `json:"sys_memory_threshold"`
	MaxInflightPassives           int    `json:"max_inflight_passives"`
	MemtableRotateThreshold       int    `json:"memtable_rotate_threshold"`
}

type Query struct {
	ZoneIndexCacheMaxEntries int  `json:"zone_index_cache_max_entries"`
	ColumnBlockCacheMaxBytes Size `json:"column_block_cache_max_bytes"`
	ZoneSurfCacheMaxBytes    Size `json:"zone_surf_cache_max_bytes"`
	StreamingBatchSize       int  `json:"streaming_batch_size"`
}

type Schema struct {
	DefDir string `json:"def_dir"`
}

// Config is the root configuration object, frozen after Load.
type Config struct {
	WAL    WAL    `json:"wal"`
	Engine Engine `json:"engine"`
	Query  Query  `json:"query"`
	Schema Schema `json:"schema"`
}

// Size accepts a bare integer (bytes) or a suffixed string (KB|MB|GB|TB,
// base 1024) in JSON, per spec §6.3. Parsing is delegated to
// github.com/docker/go-units — a dependency the teacher already declares
// but never calls into its own source.
type Size int64

func (s *Size) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		n, err := units.RAMInBytes(str)
		if err != nil {
			return fmt.Errorf("config: invalid size %q: %w", str, err)
		}
		*s = Size(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

func (s Size) Bytes() int64 { return int64(s) }

// Duration accepts a Go duration string ("30s", "5m") in JSON.
type Duration struct{ D int64 } // nanoseconds

func (d *Duration) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		parsed, err := parseDuration(str)
		if err != nil {
			return err
		}
		d.D = int64(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	d.D = n
	return nil
}

func parseDuration(s string) (int64, error) {
	// thin wrapper so zero-value configs don't need time.ParseDuration imported
	// at every call site; kept here to keep Duration self-contained.
	dur, err := parseGoDuration(s)
	if err != nil {
		return 0, err
	}
	return dur, nil
}

// Default returns the built-in defaults, mirroring the teacher's package-
// level Settings var (storage/settings.go) initialised with literal values.
func Default() *Config {
	return &Config{
		WAL: WAL{
			Enabled:          true,
			Fsync:            true,
			Buffered:         true,
			BufferSize:       Size(64 * 1024),
			Dir:              "data/wal",
			FlushEachWrite:   false,
			FsyncEveryN:      1,
			ConservativeMode: true,
			ArchiveDir:       "data/wal/archived",
			CompressionLevel: 3,
			CompressionAlgo:  "lz4",
		},
		Engine: Engine{
			ShardCount:                    8,
			EventsPerZone:                 4096,
			FillFactor:                    0.9,
			DataDir:                       "data/cols",
			IndexDir:                      "data/cols",
			CompactionInterval:            Duration{D: int64(30e9)},
			SegmentsPerMerge:              4,
			CompactionMaxShardConcurrency: 1,
			SysIOThreshold:                0.9,
			SysMemoryThreshold:            0.9,
			MaxInflightPassives:           4,
			MemtableRotateThreshold:       4096,
		},
		Query: Query{
			ZoneIndexCacheMaxEntries: 10000,
			ColumnBlockCacheMaxBytes: Size(256 * 1024 * 1024),
			ZoneSurfCacheMaxBytes:    Size(64 * 1024 * 1024),
			StreamingBatchSize:       32 * 1024,
		},
		Schema: Schema{DefDir: "data/schema/defs"},
	}
}

// Load reads a JSON config file over the defaults, then applies SNELDB_*
// environment variable overrides (SNELDB_ENGINE_SHARD_COUNT, etc.).
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := json.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides supports a small, explicit set of hot paths operators
// commonly override without editing the config file on disk.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("SNELDB_ENGINE_SHARD_COUNT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.ShardCount = n
		}
	}
	if v, ok := os.LookupEnv("SNELDB_ENGINE_DATA_DIR"); ok && v != "" {
		cfg.Engine.DataDir = v
	}
	if v, ok := os.LookupEnv("SNELDB_WAL_DIR"); ok && v != "" {
		cfg.WAL.Dir = v
	}
	if v, ok := os.LookupEnv("SNELDB_WAL_COMPRESSION_ALGORITHM"); ok && v != "" {
		cfg.WAL.CompressionAlgo = strings.ToLower(v)
	}
}
