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
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/sneldb/sneldb/internal/binfmt"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/filter"
)

// FieldKinds records which index kinds exist for one field, the manifest
// entry stored in a UID's ".icx" index catalog (spec §4.4/§4.5 "open ...
// reads .zones, .icx").
type FieldKinds struct {
	Field      string
	XOR        bool
	ZoneXOR    bool
	ZoneSuRF   bool
	EnumBitmap bool
	Calendar   bool
	Temporal   bool
}

// Catalog is the manifest for one UID's segment directory.
type Catalog struct {
	UID         string
	HasZoneIdx  bool
	Fields      map[string]FieldKinds
	fieldsOrder []string
}

func NewCatalog(uid string) *Catalog {
	return &Catalog{UID: uid, Fields: make(map[string]FieldKinds)}
}

func (c *Catalog) Set(fk FieldKinds) {
	if _, exists := c.Fields[fk.Field]; !exists {
		c.fieldsOrder = append(c.fieldsOrder, fk.Field)
	}
	c.Fields[fk.Field] = fk
}

// WriteTo persists: header, HasZoneIdx(u8), field count(u16), then per
// field: name (u16-len-prefixed) + 6 bool bytes in FieldKinds field order.
func (c *Catalog) WriteTo(w io.Writer) error {
	if err := binfmt.WriteHeader(w, binfmt.MagicCatalog, 0); err != nil {
		return err
	}
	var flag [1]byte
	if c.HasZoneIdx {
		flag[0] = 1
	}
	if _, err := w.Write(flag[:]); err != nil {
		return err
	}
	sort.Strings(c.fieldsOrder)
	var fcnt [2]byte
	binary.LittleEndian.PutUint16(fcnt[:], uint16(len(c.fieldsOrder)))
	if _, err := w.Write(fcnt[:]); err != nil {
		return err
	}
	for _, name := range c.fieldsOrder {
		fk := c.Fields[name]
		if err := binfmt.WriteU16LenPrefixed(w, []byte(name)); err != nil {
			return err
		}
		bits := []bool{fk.XOR, fk.ZoneXOR, fk.ZoneSuRF, fk.EnumBitmap, fk.Calendar, fk.Temporal}
		buf := make([]byte, len(bits))
		for i, b := range bits {
			if b {
				buf[i] = 1
			}
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// ReadCatalog opens a persisted ".icx" file for reads.
func ReadCatalog(path, uid string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := binfmt.ReadHeader(f, binfmt.MagicCatalog); err != nil {
		return nil, err
	}
	c := NewCatalog(uid)
	var flag [1]byte
	if _, err := io.ReadFull(f, flag[:]); err != nil {
		return nil, fmt.Errorf("index: truncated catalog flag: %w", err)
	}
	c.HasZoneIdx = flag[0] != 0

	var fcnt [2]byte
	if _, err := io.ReadFull(f, fcnt[:]); err != nil {
		return c, nil
	}
	n := binary.LittleEndian.Uint16(fcnt[:])
	for i := uint16(0); i < n; i++ {
		nameBytes, err := binfmt.ReadU16LenPrefixed(f)
		if err != nil {
			break
		}
		buf := make([]byte, 6)
		if _, err := io.ReadFull(f, buf); err != nil {
			break
		}
		c.Set(FieldKinds{
			Field:      string(nameBytes),
			XOR:        buf[0] != 0,
			ZoneXOR:    buf[1] != 0,
			ZoneSuRF:   buf[2] != 0,
			EnumBitmap: buf[3] != 0,
			Calendar:   buf[4] != 0,
			Temporal:   buf[5] != 0,
		})
	}
	return c, nil
}

// ValueKey canonicalises a field value into the string domain ZoneXOR and
// ZoneSuRF index on, so build-time Add calls and read-time lookups always
// agree on the same bytes. Int/Float keys use an order-preserving encoding
// (fixed-width, sign-folded) rather than plain decimal formatting: ZoneSuRF
// sorts and range-compares keys lexicographically, and plain decimal strings
// don't sort the same as the numbers they represent ("9" > "10").
func ValueKey(v event.Value) string {
	switch v.Kind {
	case event.KindString, event.KindEnum:
		return v.Str
	case event.KindInt, event.KindDateTime, event.KindDate:
		return orderPreservingInt(v.Int)
	case event.KindFloat:
		return orderPreservingFloat(v.Flt)
	case event.KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}

// orderPreservingInt maps int64 to an offset-binary uint64 (flip the sign
// bit) and formats it zero-padded to 20 digits, so lexicographic string
// order matches signed numeric order across the full int64 range.
func orderPreservingInt(v int64) string {
	return fmt.Sprintf("%020d", uint64(v)^0x8000000000000000)
}

// orderPreservingFloat applies the standard IEEE-754 sortable-bits
// transform (flip all bits if negative, set the sign bit if non-negative)
// before the same zero-padded decimal formatting.
func orderPreservingFloat(f float64) string {
	bits := math.Float64bits(f)
	if bits&0x8000000000000000 != 0 {
		bits = ^bits
	} else {
		bits |= 0x8000000000000000
	}
	return fmt.Sprintf("%020d", bits)
}

// Handles bundles the loaded index structures for one UID's segment, ready
// to answer candidate_zones for a compiled filter leaf (spec §4.5/§4.6).
type Handles struct {
	ZoneIdx  *ZoneIndex
	XOR      map[string]*XORFilter
	ZoneXOR  map[string]*ZoneXORIndex
	ZoneSuRF map[string]*ZoneSuRFIndex
	EnumBM   map[string]*EnumBitmap
	Calendar map[string]*Calendar
	Temporal map[string]*TemporalSlab
}

// ZonesMatching evaluates one filter leaf against whichever index is
// available for its field, returning (candidates, true) when an index could
// answer it, or (nil, false) when the caller must fall back to "all zones
// of UID" (spec §4.5 candidate_zones: "falls back ... only when no usable
// index exists"). Handles is scoped to a single segment, so every ZoneRef
// here carries SegmentID 0; the segment reader stamps in the real segment id
// when it folds this result into the cross-segment candidate set.
func (h *Handles) ZonesMatching(leaf filter.Node, allZones ZoneSet) (ZoneSet, bool) {
	if leaf.Kind != filter.KindLeaf {
		return nil, false
	}

	if leaf.Field == "context_id" && h.ZoneIdx != nil && leaf.LeafOp == filter.Eq {
		zones, ok := h.ZoneIdx.ZonesFor(leaf.Value.Str)
		if !ok {
			return NewZoneSet(), true
		}
		return zoneIDsToSet(zones), true
	}

	switch leaf.LeafOp {
	case filter.Eq:
		return h.zonesMatchingEq(leaf, allZones)
	case filter.Lt, filter.Lte, filter.Gt, filter.Gte:
		return h.zonesMatchingRange(leaf, allZones)
	default:
		return nil, false
	}
}

func (h *Handles) zonesMatchingEq(leaf filter.Node, allZones ZoneSet) (ZoneSet, bool) {
	key := ValueKey(leaf.Value)

	if eb, ok := h.EnumBM[leaf.Field]; ok && leaf.Value.Kind == event.KindEnum {
		return filterZoneSet(allZones, func(zoneID uint32) bool { return eb.MayMatchEq(zoneID, leaf.Value.Str) }), true
	}
	if cal, ok := h.Calendar[leaf.Field]; ok && (leaf.Value.Kind == event.KindDateTime || leaf.Value.Kind == event.KindDate) {
		return Intersect(cal.ZonesForRange(leaf.Value.Int, leaf.Value.Int), allZones), true
	}
	if tfi, ok := h.Temporal[leaf.Field]; ok && (leaf.Value.Kind == event.KindDateTime || leaf.Value.Kind == event.KindDate) {
		return filterZoneSet(allZones, func(zoneID uint32) bool { return tfi.MayMatchEq(zoneID, leaf.Value.Int) }), true
	}
	if zx, ok := h.ZoneXOR[leaf.Field]; ok {
		hash := HashKey(key)
		return filterZoneSet(allZones, func(zoneID uint32) bool { return zx.MayMatch(zoneID, hash) }), true
	}
	if xf, ok := h.XOR[leaf.Field]; ok {
		if !xf.Contains(HashKey(key)) {
			return NewZoneSet(), true
		}
	}
	return nil, false
}

func (h *Handles) zonesMatchingRange(leaf filter.Node, allZones ZoneSet) (ZoneSet, bool) {
	if tfi, ok := h.Temporal[leaf.Field]; ok && (leaf.Value.Kind == event.KindDateTime || leaf.Value.Kind == event.KindDate) {
		lo, hi := rangeBounds(leaf.LeafOp, leaf.Value.Int)
		return filterZoneSet(allZones, func(zoneID uint32) bool { return tfi.MayMatchRange(zoneID, lo, hi) }), true
	}
	if srf, ok := h.ZoneSuRF[leaf.Field]; ok {
		op := toRangeOp(leaf.LeafOp)
		key := ValueKey(leaf.Value)
		return filterZoneSet(allZones, func(zoneID uint32) bool { return srf.MayMatchRange(zoneID, op, key) }), true
	}
	return nil, false
}

func rangeBounds(op filter.Op, v int64) (int64, int64) {
	switch op {
	case filter.Lt:
		return minInt64, v - 1
	case filter.Lte:
		return minInt64, v
	case filter.Gt:
		return v + 1, maxInt64
	case filter.Gte:
		return v, maxInt64
	default:
		return minInt64, maxInt64
	}
}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)

func toRangeOp(op filter.Op) RangeOp {
	switch op {
	case filter.Lt:
		return RangeLt
	case filter.Lte:
		return RangeLte
	case filter.Gt:
		return RangeGt
	default:
		return RangeGte
	}
}

func zoneIDsToSet(ids []uint32) ZoneSet {
	s := NewZoneSet()
	for _, id := range ids {
		s.Add(ZoneRef{ZoneID: id})
	}
	return s
}

func filterZoneSet(all ZoneSet, keep func(zoneID uint32) bool) ZoneSet {
	result := NewZoneSet()
	for ref := range all {
		if keep(ref.ZoneID) {
			result.Add(ref)
		}
	}
	return result
}
