package compaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/config"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/filter"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/segment"
	"github.com/sneldb/sneldb/internal/shard"
)

func newTestScheduler(t *testing.T) (*shard.Manager, *Scheduler) {
	t.Helper()

	reg, err := schema.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	_, err = reg.Define("signup", []schema.FieldDef{
		{Name: "amount", Type: event.KindInt},
	})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Engine.ShardCount = 1
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

	mgr, err := shard.Open(cfg, reg, cache)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	sched := NewScheduler(mgr, Config{
		Interval:            time.Hour,
		SegmentsPerMerge:    2,
		MaxShardConcurrency: 1,
	})
	return mgr, sched
}

func mkSignupEvent(ctx string, ts, amount int64) event.Event {
	return event.Event{
		EventType: "signup",
		ContextID: ctx,
		Timestamp: ts,
		Payload:   map[string]event.Value{"amount": event.FromInt(amount)},
	}
}

func TestSchedulerMergesFullBatchIntoOneHigherLevelSegment(t *testing.T) {
	mgr, sched := newTestScheduler(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, mgr.Store(mkSignupEvent("ctx-a", int64(i*10), int64(i))))
	}
	mgr.Flush()
	for i := 5; i < 10; i++ {
		require.NoError(t, mgr.Store(mkSignupEvent("ctx-b", int64(i*10), int64(i))))
	}
	mgr.Flush()

	before, err := mgr.SegmentManifests(0)
	require.NoError(t, err)
	require.Len(t, before, 2)
	for _, s := range before {
		assert.Equal(t, 0, s.Level)
	}

	sched.RunOnce()

	after, err := mgr.SegmentManifests(0)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, 1, after[0].Level)

	tree := filter.Leaf("amount", filter.Gte, event.FromInt(0))
	got, err := mgr.Query("signup", tree, 0)
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func TestSchedulerLeavesSmallLeftoverAlone(t *testing.T) {
	mgr, sched := newTestScheduler(t)

	require.NoError(t, mgr.Store(mkSignupEvent("ctx-a", 0, 1)))
	mgr.Flush()

	sched.RunOnce()

	after, err := mgr.SegmentManifests(0)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, 0, after[0].Level) // untouched: one segment never reaches the leftover threshold
}
