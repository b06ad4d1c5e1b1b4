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

// TemporalSlab gives exact timestamp equality and boundary pruning finer
// than Calendar's day/hour buckets (spec §4.4, the ".tfi" file): per zone,
// min/max timestamp, a stride (the most common delta between consecutive
// sorted timestamps, 0 when irregular), and fence samples — a handful of
// evenly-spaced timestamps recorded at build time. When a zone has fewer
// timestamps than temporalFenceCount, its fences are all of them, and
// MayMatchEq rules out the zone without hydrating its column when the
// target falls strictly between two fences no further apart than stride.
type TemporalSlab struct {
	Field string
	zones map[uint32]*temporalZone
	order []uint32
}

type temporalZone struct {
	Min, Max int64
	Stride   int64
	Fences   []int64 // sorted, sampled timestamps within the zone
}

func NewTemporalSlabBuilder(field string) *temporalSlabBuilder {
	return &temporalSlabBuilder{field: field, byZone: make(map[uint32][]int64)}
}

type temporalSlabBuilder struct {
	field  string
	byZone map[uint32][]int64
}

// Add records a row's timestamp for zoneID, in any order: Finish sorts each
// zone's timestamps before deriving stride and fences.
func (b *temporalSlabBuilder) Add(zoneID uint32, ts int64) {
	b.byZone[zoneID] = append(b.byZone[zoneID], ts)
}

const temporalFenceCount = 16

func (b *temporalSlabBuilder) Finish() *TemporalSlab {
	slab := &TemporalSlab{Field: b.field, zones: make(map[uint32]*temporalZone)}
	for zoneID, rawTs := range b.byZone {
		ts := append([]int64(nil), rawTs...)
		sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
		if len(ts) == 0 {
			continue
		}

		stride := int64(0)
		if len(ts) > 1 {
			counts := make(map[int64]int)
			best := int64(0)
			for i := 1; i < len(ts); i++ {
				d := ts[i] - ts[i-1]
				counts[d]++
				if counts[d] > counts[best] {
					best = d
				}
			}
			stride = best
		}

		fences := sampleFences(ts, temporalFenceCount)
		slab.zones[zoneID] = &temporalZone{Min: ts[0], Max: ts[len(ts)-1], Stride: stride, Fences: fences}
		slab.order = append(slab.order, zoneID)
	}
	sort.Slice(slab.order, func(i, j int) bool { return slab.order[i] < slab.order[j] })
	return slab
}

func sampleFences(sortedTs []int64, n int) []int64 {
	if len(sortedTs) <= n {
		return sortedTs
	}
	step := float64(len(sortedTs)-1) / float64(n-1)
	fences := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		idx := int(float64(i) * step)
		fences = append(fences, sortedTs[idx])
	}
	return fences
}

// MayMatchEq reports whether zoneID could contain a row at exactly ts.
func (t *TemporalSlab) MayMatchEq(zoneID uint32, ts int64) bool {
	z, ok := t.zones[zoneID]
	if !ok {
		return true
	}
	if ts < z.Min || ts > z.Max {
		return false
	}
	if len(z.Fences) < 2 {
		return true
	}
	// find the bracketing fence pair; if the fences are every timestamp of
	// the zone (fewer than temporalFenceCount) and ts falls strictly inside a
	// gap no wider than the observed stride, it can't land on a real row.
	// Sampled fences skip rows, so a narrow gap between them proves nothing.
	i := sort.Search(len(z.Fences), func(i int) bool { return z.Fences[i] >= ts })
	if i < len(z.Fences) && z.Fences[i] == ts {
		return true
	}
	if i == 0 || i == len(z.Fences) {
		return true
	}
	gap := z.Fences[i] - z.Fences[i-1]
	if len(z.Fences) < temporalFenceCount && z.Stride > 0 && gap <= z.Stride {
		return false
	}
	return true
}

// MayMatchRange reports whether zoneID could hold a value in [lo, hi].
func (t *TemporalSlab) MayMatchRange(zoneID uint32, lo, hi int64) bool {
	z, ok := t.zones[zoneID]
	if !ok {
		return true
	}
	return z.Max >= lo && z.Min <= hi
}

// WriteTo persists: header, zone count(u32), then per zone: zoneID(u32),
// Min(i64), Max(i64), Stride(i64), fence count(u32), fences(i64*).
func (t *TemporalSlab) WriteTo(w io.Writer) error {
	if err := binfmt.WriteHeader(w, binfmt.MagicTemporal, 0); err != nil {
		return err
	}
	var cnt [4]byte
	binary.LittleEndian.PutUint32(cnt[:], uint32(len(t.order)))
	if _, err := w.Write(cnt[:]); err != nil {
		return err
	}
	for _, zoneID := range t.order {
		z := t.zones[zoneID]
		var head [32]byte
		binary.LittleEndian.PutUint32(head[0:4], zoneID)
		binary.LittleEndian.PutUint64(head[4:12], uint64(z.Min))
		binary.LittleEndian.PutUint64(head[12:20], uint64(z.Max))
		binary.LittleEndian.PutUint64(head[20:28], uint64(z.Stride))
		binary.LittleEndian.PutUint32(head[28:32], uint32(len(z.Fences)))
		if _, err := w.Write(head[:]); err != nil {
			return err
		}
		for _, fence := range z.Fences {
			var fbuf [8]byte
			binary.LittleEndian.PutUint64(fbuf[:], uint64(fence))
			if _, err := w.Write(fbuf[:]); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadTemporalSlab opens a persisted ".tfi" file for reads.
func ReadTemporalSlab(path, field string) (*TemporalSlab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := binfmt.ReadHeader(f, binfmt.MagicTemporal); err != nil {
		return nil, err
	}
	var cnt [4]byte
	if _, err := io.ReadFull(f, cnt[:]); err != nil {
		return nil, fmt.Errorf("index: truncated temporal slab zone count: %w", err)
	}
	zoneCount := binary.LittleEndian.Uint32(cnt[:])

	slab := &TemporalSlab{Field: field, zones: make(map[uint32]*temporalZone)}
	for i := uint32(0); i < zoneCount; i++ {
		var head [32]byte
		if _, err := io.ReadFull(f, head[:]); err != nil {
			break
		}
		zoneID := binary.LittleEndian.Uint32(head[0:4])
		z := &temporalZone{
			Min:    int64(binary.LittleEndian.Uint64(head[4:12])),
			Max:    int64(binary.LittleEndian.Uint64(head[12:20])),
			Stride: int64(binary.LittleEndian.Uint64(head[20:28])),
		}
		fenceCount := binary.LittleEndian.Uint32(head[28:32])
		truncated := false
		for j := uint32(0); j < fenceCount; j++ {
			var fbuf [8]byte
			if _, err := io.ReadFull(f, fbuf[:]); err != nil {
				truncated = true
				break
			}
			z.Fences = append(z.Fences, int64(binary.LittleEndian.Uint64(fbuf[:])))
		}
		slab.zones[zoneID] = z
		slab.order = append(slab.order, zoneID)
		if truncated {
			break
		}
	}
	return slab, nil
}
