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
package index

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/google/btree"

	"github.com/sneldb/sneldb/internal/binfmt"
)

// ZoneIndex answers equality on context_id within one UID's segment (spec
// §4.4, the ".idx" file). Grounded directly on the teacher's
// storage.StorageIndex, which keeps its delta rows in a
// btree.BTreeG[indexPair] (storage/index.go) for ordered lookups; here the
// btree holds the build-time context->zone map instead of raw rows.
type ZoneIndex struct {
	EventType string
	tree      *btree.BTreeG[ctxEntry]
}

type ctxEntry struct {
	Ctx   string
	Zones []uint32
}

func ctxLess(a, b ctxEntry) bool { return a.Ctx < b.Ctx }

// NewZoneIndexBuilder starts an empty index for one (event_type, uid).
func NewZoneIndexBuilder(eventType string) *ZoneIndex {
	return &ZoneIndex{EventType: eventType, tree: btree.NewG(32, ctxLess)}
}

// Add records that ctx has a row in zoneID. Only a repeat of the zone last
// added for ctx is skipped, so ZonesFor's result is sorted and free of
// duplicates only when each ctx's zones are added in ascending order (as the
// segment writer does, walking zones in id order).
func (z *ZoneIndex) Add(ctx string, zoneID uint32) {
	entry, ok := z.tree.Get(ctxEntry{Ctx: ctx})
	if !ok {
		entry = ctxEntry{Ctx: ctx}
	}
	if n := len(entry.Zones); n == 0 || entry.Zones[n-1] != zoneID {
		entry.Zones = append(entry.Zones, zoneID)
	}
	z.tree.ReplaceOrInsert(entry)
}

// ZonesFor returns the sorted zone ids containing rows for ctx.
func (z *ZoneIndex) ZonesFor(ctx string) ([]uint32, bool) {
	entry, ok := z.tree.Get(ctxEntry{Ctx: ctx})
	if !ok {
		return nil, false
	}
	return entry.Zones, true
}

// AllZoneIDs returns the full set of zone ids referenced by the index,
// used as the "all_zones_of_uid" universe for Not(leaf) (spec §4.6).
func (z *ZoneIndex) AllZoneIDs() []uint32 {
	seen := make(map[uint32]struct{})
	z.tree.Ascend(func(e ctxEntry) bool {
		for _, zid := range e.Zones {
			seen[zid] = struct{}{}
		}
		return true
	})
	out := make([]uint32, 0, len(seen))
	for zid := range seen {
		out = append(out, zid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WriteTo persists the index in the §6.2 ".idx" shape: 20-byte header
// followed by one u16-len context id + u32 zone count + u32*count zone ids
// per context, sorted by context for deterministic output.
func (z *ZoneIndex) WriteTo(w io.Writer) error {
	if err := binfmt.WriteHeader(w, binfmt.MagicZoneIndex, 0); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	var entries []ctxEntry
	z.tree.Ascend(func(e ctxEntry) bool { entries = append(entries, e); return true })
	for _, e := range entries {
		if err := binfmt.WriteU16LenPrefixed(bw, []byte(e.Ctx)); err != nil {
			return err
		}
		var cntBuf [4]byte
		binary.LittleEndian.PutUint32(cntBuf[:], uint32(len(e.Zones)))
		if _, err := bw.Write(cntBuf[:]); err != nil {
			return err
		}
		for _, zid := range e.Zones {
			var zBuf [4]byte
			binary.LittleEndian.PutUint32(zBuf[:], zid)
			if _, err := bw.Write(zBuf[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// ReadZoneIndex opens a persisted ".idx" file for reads.
func ReadZoneIndex(path, eventType string) (*ZoneIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := binfmt.ReadHeader(f, binfmt.MagicZoneIndex); err != nil {
		return nil, err
	}
	zi := NewZoneIndexBuilder(eventType)
	br := bufio.NewReader(f)
	for {
		ctxBytes, err := binfmt.ReadU16LenPrefixed(br)
		if err != nil {
			break // tail truncation tolerated
		}
		var cntBuf [4]byte
		if _, err := io.ReadFull(br, cntBuf[:]); err != nil {
			break
		}
		cnt := binary.LittleEndian.Uint32(cntBuf[:])
		zones := make([]uint32, 0, cnt)
		ok := true
		for i := uint32(0); i < cnt; i++ {
			var zBuf [4]byte
			if _, err := io.ReadFull(br, zBuf[:]); err != nil {
				ok = false
				break
			}
			zones = append(zones, binary.LittleEndian.Uint32(zBuf[:]))
		}
		if !ok {
			break
		}
		zi.tree.ReplaceOrInsert(ctxEntry{Ctx: string(ctxBytes), Zones: zones})
	}
	return zi, nil
}
