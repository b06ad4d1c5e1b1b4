package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/config"
	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/filter"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/segment"
	"github.com/sneldb/sneldb/internal/shard"
)

func newTestCoordinator(t *testing.T, batchSize int) (*shard.Manager, *Coordinator) {
	t.Helper()

	reg, err := schema.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	_, err = reg.Define("signup", []schema.FieldDef{
		{Name: "amount", Type: event.KindInt},
	})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Engine.ShardCount = 2
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

	return mgr, NewCoordinator(reg, mgr, batchSize)
}

func mkEvent(ctx string, ts, amount int64) event.Event {
	return event.Event{
		EventType: "signup",
		ContextID: ctx,
		Timestamp: ts,
		Payload:   map[string]event.Value{"amount": event.FromInt(amount)},
	}
}

func drain(ch <-chan Frame) []Frame {
	var out []Frame
	for f := range ch {
		out = append(out, f)
	}
	return out
}

func TestQueryStreamsSchemaThenRowsThenEnd(t *testing.T) {
	mgr, co := newTestCoordinator(t, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, mgr.Store(mkEvent("ctx-a", int64(i), int64(i))))
	}

	tree := filter.Leaf("amount", filter.Gte, event.FromInt(0))
	frames := drain(co.Query(context.Background(), "signup", tree, 0))
	require.NotEmpty(t, frames)

	require.NotNil(t, frames[0].Schema)
	names := make([]string, len(frames[0].Schema.Columns))
	for i, c := range frames[0].Schema.Columns {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"context_id", "timestamp", "amount"}, names)

	var total int
	for _, f := range frames[1 : len(frames)-1] {
		require.NotNil(t, f.Rows)
		assert.LessOrEqual(t, len(f.Rows.Rows), 3)
		total += len(f.Rows.Rows)
	}
	assert.Equal(t, 5, total)

	last := frames[len(frames)-1]
	require.NotNil(t, last.End)
	assert.Equal(t, 5, last.End.RowCount)
}

func TestQueryTruncatesAtGlobalLimitAcrossShards(t *testing.T) {
	mgr, co := newTestCoordinator(t, 100)

	for i := 0; i < 10; i++ {
		require.NoError(t, mgr.Store(mkEvent("ctx-a", int64(i), int64(i))))
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, mgr.Store(mkEvent("ctx-b", int64(i), int64(i))))
	}

	tree := filter.Leaf("amount", filter.Gte, event.FromInt(0))
	frames := drain(co.Query(context.Background(), "signup", tree, 4))

	var total int
	for _, f := range frames {
		if f.Rows != nil {
			total += len(f.Rows.Rows)
		}
	}
	assert.Equal(t, 4, total)
	assert.Equal(t, 4, frames[len(frames)-1].End.RowCount)
}

func TestQueryUnknownEventTypeEmitsSchemaErrorFrame(t *testing.T) {
	_, co := newTestCoordinator(t, 10)

	tree := filter.Leaf("amount", filter.Gte, event.FromInt(0))
	frames := drain(co.Query(context.Background(), "nope", tree, 0))

	require.Len(t, frames, 1)
	require.NotNil(t, frames[0].Err)
	assert.Equal(t, errs.Schema, frames[0].Err.Kind)
}

func TestQueryCancelledContextStopsStream(t *testing.T) {
	mgr, co := newTestCoordinator(t, 1)
	for i := 0; i < 20; i++ {
		require.NoError(t, mgr.Store(mkEvent("ctx-a", int64(i), int64(i))))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tree := filter.Leaf("amount", filter.Gte, event.FromInt(0))
	ch := co.Query(ctx, "signup", tree, 0)
	for range ch {
		// drain; cancellation may still let the already-buffered schema
		// frame through before the channel closes.
	}
}

func TestReplayPreservesWriteOrderAcrossBatches(t *testing.T) {
	mgr, co := newTestCoordinator(t, 2)

	for i := 0; i < 7; i++ {
		require.NoError(t, mgr.Store(mkEvent("ctx-a", int64(i), int64(i))))
	}

	frames := drain(co.Replay(context.Background(), "signup", "ctx-a", 0))
	require.NotNil(t, frames[0].Schema)

	var rows []event.Event
	for _, f := range frames[1 : len(frames)-1] {
		require.NotNil(t, f.Rows)
		assert.LessOrEqual(t, len(f.Rows.Rows), 2)
		rows = append(rows, f.Rows.Rows...)
	}
	require.Len(t, rows, 7)
	for i, r := range rows {
		assert.Equal(t, int64(i), r.Timestamp)
	}

	last := frames[len(frames)-1]
	require.NotNil(t, last.End)
	assert.Equal(t, 7, last.End.RowCount)
}
