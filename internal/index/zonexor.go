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
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sneldb/sneldb/internal/binfmt"
)

// ZoneXORIndex prunes zones for "field = V" (spec §4.4, the ".zxf" file): one
// small XOR filter per zone over that zone's unique field values, built the
// same way as the per-UID XORFilter above.
type ZoneXORIndex struct {
	Field   string
	byZone  map[uint32]*XORFilter
	zoneIDs []uint32 // sorted, for deterministic WriteTo
}

func NewZoneXORBuilder(field string) *zoneXORBuilder {
	return &zoneXORBuilder{field: field, values: make(map[uint32]map[uint64]struct{})}
}

type zoneXORBuilder struct {
	field  string
	values map[uint32]map[uint64]struct{}
}

// Add records that field's value (already hashed with HashKey) occurs in zoneID.
func (b *zoneXORBuilder) Add(zoneID uint32, valueHash uint64) {
	set, ok := b.values[zoneID]
	if !ok {
		set = make(map[uint64]struct{})
		b.values[zoneID] = set
	}
	set[valueHash] = struct{}{}
}

// Finish builds one XORFilter per zone.
func (b *zoneXORBuilder) Finish() (*ZoneXORIndex, error) {
	idx := &ZoneXORIndex{Field: b.field, byZone: make(map[uint32]*XORFilter)}
	for zoneID, set := range b.values {
		keys := make([]uint64, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		filter, err := BuildXORFilter(keys)
		if err != nil {
			return nil, fmt.Errorf("index: zone xor build for zone %d: %w", zoneID, err)
		}
		idx.byZone[zoneID] = filter
		idx.zoneIDs = append(idx.zoneIDs, zoneID)
	}
	sort.Slice(idx.zoneIDs, func(i, j int) bool { return idx.zoneIDs[i] < idx.zoneIDs[j] })
	return idx, nil
}

// MayMatch reports whether zoneID could contain a row with this field value.
// Absence of the zone from the index (e.g. not yet built) is treated as
// "can't rule it out" — soundness over precision (spec §4.4 pruning contract).
func (z *ZoneXORIndex) MayMatch(zoneID uint32, valueHash uint64) bool {
	filter, ok := z.byZone[zoneID]
	if !ok {
		return true
	}
	return filter.Contains(valueHash)
}

// WriteTo persists: header, zone count(u32), then per zone: zoneID(u32),
// Seed(u64), BlockLength(u32), fingerprint count(u32), fingerprint bytes.
func (z *ZoneXORIndex) WriteTo(w io.Writer) error {
	if err := binfmt.WriteHeader(w, binfmt.MagicZoneXOR, 0); err != nil {
		return err
	}
	var cntBuf [4]byte
	binary.LittleEndian.PutUint32(cntBuf[:], uint32(len(z.zoneIDs)))
	if _, err := w.Write(cntBuf[:]); err != nil {
		return err
	}
	for _, zoneID := range z.zoneIDs {
		filter := z.byZone[zoneID]
		var head [20]byte
		binary.LittleEndian.PutUint32(head[0:4], zoneID)
		binary.LittleEndian.PutUint64(head[4:12], filter.Seed)
		binary.LittleEndian.PutUint32(head[12:16], filter.BlockLength)
		binary.LittleEndian.PutUint32(head[16:20], uint32(len(filter.Fingerprints)))
		if _, err := w.Write(head[:]); err != nil {
			return err
		}
		if _, err := w.Write(filter.Fingerprints); err != nil {
			return err
		}
	}
	return nil
}

// ReadZoneXORIndex opens a persisted ".zxf" file for reads.
func ReadZoneXORIndex(path, field string) (*ZoneXORIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := binfmt.ReadHeader(f, binfmt.MagicZoneXOR); err != nil {
		return nil, err
	}
	var cntBuf [4]byte
	if _, err := io.ReadFull(f, cntBuf[:]); err != nil {
		return nil, fmt.Errorf("index: truncated zone xor zone count: %w", err)
	}
	count := binary.LittleEndian.Uint32(cntBuf[:])

	idx := &ZoneXORIndex{Field: field, byZone: make(map[uint32]*XORFilter)}
	for i := uint32(0); i < count; i++ {
		var head [20]byte
		if _, err := io.ReadFull(f, head[:]); err != nil {
			break // tail truncation tolerated
		}
		zoneID := binary.LittleEndian.Uint32(head[0:4])
		filter := &XORFilter{
			Seed:        binary.LittleEndian.Uint64(head[4:12]),
			BlockLength: binary.LittleEndian.Uint32(head[12:16]),
		}
		n := binary.LittleEndian.Uint32(head[16:20])
		filter.Fingerprints = make([]uint8, n)
		if _, err := io.ReadFull(f, filter.Fingerprints); err != nil {
			break
		}
		idx.byZone[zoneID] = filter
		idx.zoneIDs = append(idx.zoneIDs, zoneID)
	}
	return idx, nil
}
