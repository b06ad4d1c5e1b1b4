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
package segment

import (
	"fmt"
	"os"
	"sort"

	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/schema"
)

// WriteMergedSegment implements spec §4.10 steps 1-4 (the compactor's
// worker): read every row of every UID present in inputIDs, merge rows of
// the same UID ordered by context_id (stable), and write the result as one
// new segment at level, reusing the same column/zone/index machinery as a
// flush (writeUID, verifySegment). Unlike WriteSegment, which derives each
// event's UID from its event type's *current* schema version, a merge must
// preserve each input row's original UID untouched — compaction combines
// segments, it never upgrades a row to a newer schema version — so this
// reads registry.ByUID (not Lookup) and calls writeUID directly per UID
// instead of going through WriteSegment's by-event-type partitioning.
//
// inputIDs need not be pre-sorted: this function sorts them ascending
// (oldest first) before reading, so that rows sharing a context_id are
// concatenated oldest-input-first, and writeUID's sort.SliceStable by
// context_id (the same stable sort WriteSegment already relies on)
// preserves that relative order — reproducing "k-way merge by context_id,
// stable" without a separate merge-by-heap implementation.
func WriteMergedSegment(dataDir string, shardID int, newSegmentID uint64, level int, cfg WriteConfig, registry *schema.Registry, cache *BlockCache, inputIDs []uint64) (*Manifest, error) {
	ids := append([]uint64(nil), inputIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	dir := Dir(dataDir, shardID, newSegmentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("segment: create merge dir: %w", err)
	}

	rowsByUID := make(map[string][]event.Event)
	var uidOrder []string
	seenUID := make(map[string]bool)

	for _, id := range ids {
		inDir := Dir(dataDir, shardID, id)
		m, err := ReadManifestFile(inDir)
		if err != nil {
			return nil, fmt.Errorf("segment: read manifest for input segment %d: %w", id, err)
		}
		for _, um := range m.UIDs {
			s, ok := registry.ByUID(um.UID)
			if !ok {
				return nil, fmt.Errorf("segment: merge: unknown uid %s in segment %d", um.UID, id)
			}
			seg, err := Open(id, inDir, um.UID, cache)
			if err != nil {
				return nil, fmt.Errorf("segment: merge: open input segment %d uid %s: %w", id, um.UID, err)
			}
			fields := make([]string, len(s.Fields))
			for i, f := range s.Fields {
				fields[i] = f.Name
			}
			for _, z := range um.Zones {
				events, err := seg.HydrateEvents(z.ZoneID, s.EventType, fields)
				if err != nil {
					return nil, fmt.Errorf("segment: merge: hydrate segment %d uid %s zone %d: %w", id, um.UID, z.ZoneID, err)
				}
				rowsByUID[um.UID] = append(rowsByUID[um.UID], events...)
			}
			if !seenUID[um.UID] {
				seenUID[um.UID] = true
				uidOrder = append(uidOrder, um.UID)
			}
		}
	}

	manifest := &Manifest{SegmentID: newSegmentID, Level: level, Dir: dir}
	z := zoneSize(cfg, level)

	for _, uid := range uidOrder {
		s, _ := registry.ByUID(uid)
		um, err := writeUID(dir, uid, s, rowsByUID[uid], z)
		if err != nil {
			return nil, err
		}
		manifest.UIDs = append(manifest.UIDs, *um)
	}
	sort.Slice(manifest.UIDs, func(i, j int) bool { return manifest.UIDs[i].UID < manifest.UIDs[j].UID })

	if err := verifySegment(manifest); err != nil {
		return nil, fmt.Errorf("segment: merge verify failed, abandoning %s: %w", dir, err)
	}
	if err := WriteManifestFile(manifest); err != nil {
		return nil, fmt.Errorf("segment: write merged manifest: %w", err)
	}
	return manifest, nil
}
