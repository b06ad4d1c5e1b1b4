package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/memtable"
)

func TestLifecycleReleasesPassiveBufferOnlyAtVerified(t *testing.T) {
	set := memtable.NewPassiveBufferSet()
	mem := memtable.New()
	mem.Insert(event.Event{EventType: "signup", ContextID: "c1", Timestamp: 1})
	buf := mem.Rotate(7)
	set.Add(buf)

	life := NewLifecycle(set)
	life.Track(7)

	phase, ok := life.Phase(7)
	assert.True(t, ok)
	assert.Equal(t, PhaseFlushing, phase)

	life.Advance(7, PhaseWritten)
	_, stillTracked := set.Get(7)
	assert.True(t, stillTracked, "buffer must stay visible until Verified")

	life.Advance(7, PhaseVerified)
	_, tracked := set.Get(7)
	assert.False(t, tracked, "buffer must be released at Verified")

	_, ok = life.Phase(7)
	assert.False(t, ok, "verified segments are forgotten, not kept around")
}
