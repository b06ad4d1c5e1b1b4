package wal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/event"
)

func mkEvents(n int, ctx string) []event.Event {
	out := make([]event.Event, n)
	for i := 0; i < n; i++ {
		out[i] = event.Event{
			EventType: "orders",
			ContextID: ctx,
			Timestamp: int64(1000 + i),
			Payload:   map[string]event.Value{"id": event.FromInt(int64(i))},
		}
	}
	return out
}

func TestAppendThenReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir, 0, 1, Config{Buffered: true, Fsync: false})
	require.NoError(t, err)
	require.NoError(t, w.Append(mkEvents(5, "c1")))
	require.NoError(t, w.Close())

	got, err := Replay(dir, 0, 1)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, e := range got {
		assert.Equal(t, "c1", e.ContextID)
		assert.Equal(t, int64(i), e.Payload["id"].Int)
	}
}

func TestReplayTruncatesCorruptTail(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir, 0, 1, Config{Buffered: false, Fsync: false})
	require.NoError(t, err)
	require.NoError(t, w.Append(mkEvents(2, "c1")))
	require.NoError(t, w.Close())

	path := filepath.Join(dir, FileName(1))
	f, err := openAppend(path)
	require.NoError(t, err)
	_, err = f.WriteString(`{"event_type":"orders","context_id":"c1"`) // no trailing newline, malformed
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := Replay(dir, 0, 1)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestManagerRotateAndArchiveOnPublish(t *testing.T) {
	dir := t.TempDir()
	archiveDir := filepath.Join(dir, "archived")
	m, err := Open(ManagerConfig{
		Dir: dir, ArchiveDir: archiveDir,
		Writer:           Config{Buffered: true, Fsync: false},
		ConservativeMode: true, CompressionAlgo: "lz4",
	}, 0, 1)
	require.NoError(t, err)

	require.NoError(t, m.Append(mkEvents(3, "c1")))
	require.NoError(t, m.Rotate(2))
	require.NoError(t, m.Append(mkEvents(2, "c2")))

	all, err := m.ReplayAll()
	require.NoError(t, err)
	assert.Len(t, all, 5)

	m.MarkSegmentPublished(2) // archives/deletes log id 1, keeps active id 2
	require.NoError(t, m.Close())

	entries, err := ListLogIDs(dir)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, entries)

	archived, err := ListArchiveFiles(archiveDir)
	require.NoError(t, err)
	require.Len(t, archived, 1)

	hdr, events, err := ReadArchive(archived[0])
	require.NoError(t, err)
	assert.Equal(t, 3, hdr.EntryCount)
	assert.Len(t, events, 3)
}
