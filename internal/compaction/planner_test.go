package compaction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sneldb/sneldb/internal/shard"
)

func metas(level int, ids ...uint64) []shard.SegmentMeta {
	out := make([]shard.SegmentMeta, len(ids))
	for i, id := range ids {
		out[i] = shard.SegmentMeta{ID: id, Level: level}
	}
	return out
}

func TestPlanGroupsFullBatchesByLevel(t *testing.T) {
	segs := append(metas(0, 0, 1, 2, 3), metas(1, 100, 101, 102, 103)...)

	batches := Plan(segs, 4)
	assert.Len(t, batches, 2)
	assert.Equal(t, 0, batches[0].Level)
	assert.Equal(t, []uint64{0, 1, 2, 3}, batches[0].InputIDs)
	assert.Equal(t, 1, batches[1].Level)
	assert.Equal(t, []uint64{100, 101, 102, 103}, batches[1].InputIDs)
}

func TestPlanLeavesSmallLeftoverUnplanned(t *testing.T) {
	// k=4, leftover threshold = ceil(8/3) = 3; two leftovers don't qualify.
	segs := metas(0, 0, 1)

	batches := Plan(segs, 4)
	assert.Empty(t, batches)
}

func TestPlanForcesMergeAtLeftoverThreshold(t *testing.T) {
	// k=4, leftover threshold = ceil(8/3) = 3; three leftovers force a merge.
	segs := metas(0, 0, 1, 2)

	batches := Plan(segs, 4)
	assert.Len(t, batches, 1)
	assert.Equal(t, []uint64{0, 1, 2}, batches[0].InputIDs)
}

func TestPlanHandlesFullBatchPlusLeftover(t *testing.T) {
	// 7 segments, k=4: one full batch of 4, leftover of 3 meets threshold 3.
	segs := metas(0, 0, 1, 2, 3, 4, 5, 6)

	batches := Plan(segs, 4)
	assert.Len(t, batches, 2)
	assert.Equal(t, []uint64{0, 1, 2, 3}, batches[0].InputIDs)
	assert.Equal(t, []uint64{4, 5, 6}, batches[1].InputIDs)
}
