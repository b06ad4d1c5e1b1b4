package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/config"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/filter"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/segment"
)

func newTestManager(t *testing.T, shardCount int) (*Manager, *schema.Registry) {
	t.Helper()

	reg, err := schema.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	_, err = reg.Define("signup", []schema.FieldDef{
		{Name: "plan", Type: event.KindString},
		{Name: "amount", Type: event.KindInt},
	})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Engine.ShardCount = shardCount
	cfg.Engine.DataDir = t.TempDir()
	cfg.Engine.IndexDir = t.TempDir()
	cfg.Engine.EventsPerZone = 10
	cfg.Engine.FillFactor = 1.0
	cfg.Engine.MemtableRotateThreshold = 1 << 20
	cfg.WAL.Dir = t.TempDir()
	cfg.WAL.ArchiveDir = t.TempDir()
	cfg.WAL.ConservativeMode = false

	cache := segment.NewBlockCache(1 << 20)
	t.Cleanup(cache.Close)

	m, err := Open(cfg, reg, cache)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return m, reg
}

func TestManagerRoutesSameContextToSameShardConsistently(t *testing.T) {
	m, _ := newTestManager(t, 4)
	first := m.shardFor("ctx-123")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, m.shardFor("ctx-123"))
	}
}

func TestManagerStoreThenQueryAcrossShards(t *testing.T) {
	m, _ := newTestManager(t, 4)

	for i := 0; i < 20; i++ {
		ctx := "ctx-" + string(rune('a'+i%7))
		require.NoError(t, m.Store(mkSignup(ctx, int64(i*10), int64(i))))
	}

	tree := filter.Leaf("amount", filter.Gte, event.FromInt(0))
	got, err := m.Query("signup", tree, 0)
	require.NoError(t, err)
	assert.Len(t, got, 20)
}

func TestManagerReplayRoutesToOwningShardOnly(t *testing.T) {
	m, _ := newTestManager(t, 4)

	require.NoError(t, m.Store(mkSignup("same-ctx", 100, 1)))
	require.NoError(t, m.Store(mkSignup("same-ctx", 200, 2)))
	require.NoError(t, m.Store(mkSignup("other-ctx", 150, 9)))

	got, err := m.Replay("signup", "same-ctx", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(100), got[0].Timestamp)
	assert.Equal(t, int64(200), got[1].Timestamp)
}

func TestManagerFlushMakesAllShardsDurable(t *testing.T) {
	m, _ := newTestManager(t, 3)

	for i := 0; i < 9; i++ {
		ctx := "ctx-" + string(rune('a'+i%3))
		require.NoError(t, m.Store(mkSignup(ctx, int64(i*10), int64(i))))
	}

	m.Flush()

	tree := filter.Leaf("amount", filter.Gte, event.FromInt(0))
	got, err := m.Query("signup", tree, 0)
	require.NoError(t, err)
	assert.Len(t, got, 9)
}
