package memtable

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sneldb/sneldb/internal/event"
)

func ev(ctx string, id int) event.Event {
	return event.Event{EventType: "orders", ContextID: ctx, Timestamp: int64(id),
		Payload: map[string]event.Value{"id": event.FromInt(int64(id))}}
}

func TestInsertPreservesOrderPerContext(t *testing.T) {
	m := New()
	m.Insert(ev("c1", 1))
	m.Insert(ev("c1", 2))
	m.Insert(ev("c2", 1))
	m.Insert(ev("c1", 3))

	got := m.Scan(func(e event.Event) bool { return e.ContextID == "c1" }, 0)
	assert.Equal(t, []int64{1, 2, 3}, ids(got))
}

func TestRotateEmptiesActiveAndFreezesSnapshot(t *testing.T) {
	m := New()
	m.Insert(ev("c1", 1))
	m.Insert(ev("c1", 2))

	buf := m.Rotate(42)
	assert.Equal(t, uint64(42), buf.SegmentID)
	assert.Len(t, buf.Events, 2)
	assert.Equal(t, 0, m.Len())

	m.Insert(ev("c1", 3))
	assert.Equal(t, 1, m.Len())
	assert.Len(t, buf.Events, 2) // snapshot unaffected by further inserts
}

func TestPassiveBufferSetVisibleUntilReleased(t *testing.T) {
	set := NewPassiveBufferSet()
	m := New()
	m.Insert(ev("c1", 1))
	buf := m.Rotate(1)
	set.Add(buf)

	got := set.Scan(func(e event.Event) bool { return true }, 0)
	assert.Len(t, got, 1)

	set.Release(1)
	got = set.Scan(func(e event.Event) bool { return true }, 0)
	assert.Len(t, got, 0)
}

func ids(events []event.Event) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.Payload["id"].Int
	}
	return out
}
