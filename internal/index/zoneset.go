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

// Package index implements the per-UID, per-segment pruning structures of
// spec §4.4: ZoneIndex, XOR filter, Zone XOR, ZoneSuRF, Enum Bitmap,
// Calendar and Temporal Slab. Every kind exposes the same small capability
// set (build/open/zones_matching, spec §9 "polymorphism without
// inheritance"). Each kind is its own concrete struct, with no shared
// interface or class hierarchy; Handles.ZonesMatching (catalog.go) picks
// which of them answer a given filter leaf.
package index

// ZoneRef identifies one zone within one segment.
type ZoneRef struct {
	SegmentID uint64
	ZoneID    uint32
}

// ZoneSet is a candidate zone set, deduplicated by (segment_id, zone_id)
// (spec §4.6 "Zone combination").
type ZoneSet map[ZoneRef]struct{}

func NewZoneSet() ZoneSet { return make(ZoneSet) }

func (z ZoneSet) Add(ref ZoneRef) { z[ref] = struct{}{} }

func (z ZoneSet) Has(ref ZoneRef) bool { _, ok := z[ref]; return ok }

func (z ZoneSet) Slice() []ZoneRef {
	out := make([]ZoneRef, 0, len(z))
	for ref := range z {
		out = append(out, ref)
	}
	return out
}

// Intersect returns the zones present in every set (spec §4.6 "And:
// intersection by (segment_id, zone_id); early-empty short-circuit").
func Intersect(sets ...ZoneSet) ZoneSet {
	if len(sets) == 0 {
		return NewZoneSet()
	}
	result := NewZoneSet()
	for ref := range sets[0] {
		result.Add(ref)
	}
	for _, s := range sets[1:] {
		if len(result) == 0 {
			return result // early-empty short-circuit
		}
		for ref := range result {
			if !s.Has(ref) {
				delete(result, ref)
			}
		}
	}
	return result
}

// Union returns the zones present in any set, deduplicated (spec §4.6 "Or").
func Union(sets ...ZoneSet) ZoneSet {
	result := NewZoneSet()
	for _, s := range sets {
		for ref := range s {
			result.Add(ref)
		}
	}
	return result
}

// Difference returns all \ matching (spec §4.6 "Not(leaf): all_zones_of_uid
// \ matching_zones(leaf)").
func Difference(all, matching ZoneSet) ZoneSet {
	result := NewZoneSet()
	for ref := range all {
		if !matching.Has(ref) {
			result.Add(ref)
		}
	}
	return result
}
