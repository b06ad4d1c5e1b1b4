package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/command"
	"github.com/sneldb/sneldb/internal/config"
	"github.com/sneldb/sneldb/internal/event"
)

const (
	eventuallyTimeout = 2 * time.Second
	eventuallyTick    = 20 * time.Millisecond
)

func writeDefFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0640))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	cfg := config.Default()
	cfg.Engine.ShardCount = 2
	cfg.Engine.DataDir = t.TempDir()
	cfg.Engine.IndexDir = t.TempDir()
	cfg.Engine.EventsPerZone = 10
	cfg.Engine.FillFactor = 1.0
	cfg.Engine.MemtableRotateThreshold = 1 << 20
	cfg.Engine.CompactionInterval.D = int64(24 * time.Hour)
	cfg.WAL.Dir = t.TempDir()
	cfg.WAL.ArchiveDir = t.TempDir()
	cfg.WAL.ConservativeMode = false
	cfg.Schema.DefDir = filepath.Join(t.TempDir(), "defs")

	e, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestExecuteDefineThenStoreThenQuery(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Execute(ctx, command.Command{Define: &command.Define{
		EventType: "signup",
		Fields: []command.FieldDecl{
			{Name: "amount", Type: event.KindInt},
		},
	}})
	require.NoError(t, err)

	_, err = e.Execute(ctx, command.Command{Store: &command.Store{
		EventType: "signup",
		ContextID: "ctx-a",
		Timestamp: 1,
		Payload:   map[string]event.Value{"amount": event.FromInt(42)},
	}})
	require.NoError(t, err)

	ch, err := e.Execute(ctx, command.Command{Query: &command.Query{
		EventType: "signup",
		Limit:     0,
	}})
	require.NoError(t, err)

	var rows []event.Event
	for f := range ch {
		if f.Rows != nil {
			rows = append(rows, f.Rows.Rows...)
		}
	}
	require.Len(t, rows, 1)
	assert.Equal(t, "ctx-a", rows[0].ContextID)
}

func TestExecuteRejectsMalformedCommand(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Execute(context.Background(), command.Command{})
	assert.Error(t, err)
}

func TestExecuteFlushReturnsMinimalStream(t *testing.T) {
	e := newTestEngine(t)
	ch, err := e.Execute(context.Background(), command.Command{Flush: &command.Flush{}})
	require.NoError(t, err)

	var sawSchema, sawEnd bool
	for f := range ch {
		if f.Schema != nil {
			sawSchema = true
		}
		if f.End != nil {
			sawEnd = true
		}
	}
	assert.True(t, sawSchema)
	assert.True(t, sawEnd)
}

func TestExecuteReplayReturnsStoredEvents(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Execute(ctx, command.Command{Define: &command.Define{
		EventType: "signup",
		Fields:    []command.FieldDecl{{Name: "amount", Type: event.KindInt}},
	}})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := e.Execute(ctx, command.Command{Store: &command.Store{
			EventType: "signup",
			ContextID: "ctx-a",
			Timestamp: int64(i),
			Payload:   map[string]event.Value{"amount": event.FromInt(int64(i))},
		}})
		require.NoError(t, err)
	}

	ch, err := e.Execute(ctx, command.Command{Replay: &command.Replay{ContextID: "ctx-a"}})
	require.NoError(t, err)

	var rows []event.Event
	for f := range ch {
		if f.Rows != nil {
			rows = append(rows, f.Rows.Rows...)
		}
	}
	require.Len(t, rows, 3)
	for i, r := range rows {
		assert.Equal(t, int64(i), r.Timestamp)
	}
}

func TestQueryScopedByContextIDExcludesOtherContexts(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Execute(ctx, command.Command{Define: &command.Define{
		EventType: "signup",
		Fields:    []command.FieldDecl{{Name: "amount", Type: event.KindInt}},
	}})
	require.NoError(t, err)

	for _, c := range []string{"ctx-a", "ctx-b"} {
		_, err := e.Execute(ctx, command.Command{Store: &command.Store{
			EventType: "signup",
			ContextID: c,
			Timestamp: 1,
			Payload:   map[string]event.Value{"amount": event.FromInt(1)},
		}})
		require.NoError(t, err)
	}

	ch, err := e.Execute(ctx, command.Command{Query: &command.Query{
		EventType: "signup",
		ContextID: "ctx-a",
	}})
	require.NoError(t, err)

	var rows []event.Event
	for f := range ch {
		if f.Rows != nil {
			rows = append(rows, f.Rows.Rows...)
		}
	}
	require.Len(t, rows, 1)
	assert.Equal(t, "ctx-a", rows[0].ContextID)
}

func TestSchemaHotReloadPicksUpDefinitionFile(t *testing.T) {
	e := newTestEngine(t)

	writeDefFile(t, e.cfg.Schema.DefDir, "signup.json", `{
		"event_type": "signup",
		"fields": [{"name": "amount", "type": "int"}]
	}`)

	require.Eventually(t, func() bool {
		_, ok := e.registry.Lookup("signup")
		return ok
	}, eventuallyTimeout, eventuallyTick)
}
