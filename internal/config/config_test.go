package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsLoadWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Engine.ShardCount)
	assert.Equal(t, "lz4", cfg.WAL.CompressionAlgo)
}

func TestLoadParsesSizeSuffixesAndOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"engine": {"shard_count": 4, "data_dir": "/tmp/x"},
		"query": {"column_block_cache_max_bytes": "128MB"},
		"wal": {"compression_algorithm": "xz"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.ShardCount)
	assert.Equal(t, "/tmp/x", cfg.Engine.DataDir)
	assert.Equal(t, int64(128*1024*1024), cfg.Query.ColumnBlockCacheMaxBytes.Bytes())
	assert.Equal(t, "xz", cfg.WAL.CompressionAlgo)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"engine": {"shard_count": 4}}`), 0644))
	t.Setenv("SNELDB_ENGINE_SHARD_COUNT", "16")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Engine.ShardCount)
}
