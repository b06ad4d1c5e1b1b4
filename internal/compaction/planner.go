/*
Copyright (C) 2025  MemCP Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package compaction implements the compactor's policy (spec §4.10): how
// segments are grouped into merge batches, the global shard-concurrency
// semaphore, and the system resource gate that skips a cycle under load.
// The actual merge algorithm (read inputs, k-way merge by context_id, write
// the output segment, verify) lives in internal/segment alongside
// WriteSegment, and the atomic index swap lives in internal/shard next to
// SegmentIndex — this package only decides *which* segments to merge and
// *when*, then drives shard.Manager's Compact/AwaitCompact.
package compaction

import (
	"sort"

	"github.com/sneldb/sneldb/internal/shard"
)

// Batch is one eligible group of same-level segment ids a merge cycle
// should combine into a single output segment at Level+1.
type Batch struct {
	Level    int
	InputIDs []uint64
}

// Plan groups a shard's segments by level into batches of size k =
// segmentsPerMerge (spec §4.10 "group segments by (UID, level) into
// batches of size k"). Every segment this module writes already bundles
// every UID a given flush or merge touched into one manifest sharing one
// level, so grouping by level alone reproduces "group by (UID, level)" —
// there is never a level with two different UID-subsets to tell apart.
//
// A batch is eligible once it is full. Leftovers (a level's segments that
// don't fill a whole batch) persist across cycles, except once they reach
// leftoverThreshold = ceil(2k/3): that softer threshold forces a merge of
// whatever is left, capping unbounded growth of a level that never quite
// fills (spec §4.10 "a softer threshold (~2k/3 accumulated leftovers)
// forces a merge to cap unbounded growth").
func Plan(segs []shard.SegmentMeta, segmentsPerMerge int) []Batch {
	k := segmentsPerMerge
	if k <= 1 {
		k = 2
	}
	leftoverThreshold := (2*k + 2) / 3 // ceil(2k/3)

	byLevel := make(map[int][]uint64)
	for _, s := range segs {
		byLevel[s.Level] = append(byLevel[s.Level], s.ID)
	}

	levels := make([]int, 0, len(byLevel))
	for level := range byLevel {
		levels = append(levels, level)
	}
	sort.Ints(levels)

	var batches []Batch
	for _, level := range levels {
		ids := byLevel[level]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		i := 0
		for ; i+k <= len(ids); i += k {
			batches = append(batches, Batch{Level: level, InputIDs: append([]uint64(nil), ids[i:i+k]...)})
		}
		if remaining := ids[i:]; len(remaining) >= leftoverThreshold {
			batches = append(batches, Batch{Level: level, InputIDs: append([]uint64(nil), remaining...)})
		}
	}
	return batches
}
