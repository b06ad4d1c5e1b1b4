package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/schema"
)

func TestWriteMergedSegmentCombinesRowsAcrossInputsSortedByContext(t *testing.T) {
	reg, s := testRegistry(t)
	dataDir := t.TempDir()

	rowsA := mkRows(s, 10) // segment 0, oldest
	rowsB := mkRows(s, 10) // segment 1, newer

	_, err := WriteSegment(dataDir, 0, 0, 0, WriteConfig{EventsPerZone: 10, FillFactor: 1.0}, reg, rowsA)
	require.NoError(t, err)
	_, err = WriteSegment(dataDir, 0, 1, 0, WriteConfig{EventsPerZone: 10, FillFactor: 1.0}, reg, rowsB)
	require.NoError(t, err)

	cache := NewBlockCache(1 << 20)
	defer cache.Close()

	manifest, err := WriteMergedSegment(dataDir, 0, 2, 1, WriteConfig{EventsPerZone: 10, FillFactor: 1.0}, reg, cache, []uint64{1, 0})
	require.NoError(t, err)
	require.Len(t, manifest.UIDs, 1)
	assert.Equal(t, 1, manifest.Level)
	assert.Equal(t, 20, manifest.UIDs[0].RowCount)

	merged, err := Open(2, manifest.Dir, s.UID, cache)
	require.NoError(t, err)
	var total int
	for _, z := range manifest.UIDs[0].Zones {
		events, err := merged.HydrateEvents(z.ZoneID, s.EventType, []string{"amount"})
		require.NoError(t, err)
		total += len(events)
		for i := 1; i < len(events); i++ {
			assert.LessOrEqual(t, events[i-1].ContextID, events[i].ContextID)
		}
	}
	assert.Equal(t, 20, total)
}

func TestWriteMergedSegmentPreservesHistoricalUID(t *testing.T) {
	reg, err := schema.Open(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	v1, err := reg.Define("signup", []schema.FieldDef{{Name: "plan", Type: event.KindString}})
	require.NoError(t, err)

	rows := []event.Event{{
		EventType: "signup",
		ContextID: "ctx-a",
		Timestamp: 1000,
		Payload:   map[string]event.Value{"plan": event.FromString("gold")},
	}}
	dataDir := t.TempDir()
	_, err = WriteSegment(dataDir, 0, 0, 0, WriteConfig{EventsPerZone: 10, FillFactor: 1.0}, reg, rows)
	require.NoError(t, err)

	// A new DEFINE bumps the current schema version/UID; the old segment's
	// rows still carry v1's UID on disk.
	_, err = reg.Define("signup", []schema.FieldDef{
		{Name: "plan", Type: event.KindString},
		{Name: "amount", Type: event.KindInt},
	})
	require.NoError(t, err)

	cache := NewBlockCache(1 << 20)
	defer cache.Close()

	manifest, err := WriteMergedSegment(dataDir, 0, 1, 1, WriteConfig{EventsPerZone: 10, FillFactor: 1.0}, reg, cache, []uint64{0})
	require.NoError(t, err)
	require.Len(t, manifest.UIDs, 1)
	assert.Equal(t, v1.UID, manifest.UIDs[0].UID)
}
