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

// EnumBitmap answers eq/neq on an enum field (spec §4.4, the ".ebm" file):
// one packed bit per (zone, variant) pair, set when that variant occurs
// anywhere in the zone.
type EnumBitmap struct {
	Field    string
	Variants []string // schema-declared order; bit position == index here
	bits     map[uint32]uint64
	order    []uint32
}

func NewEnumBitmapBuilder(field string, variants []string) *enumBitmapBuilder {
	if len(variants) > 64 {
		variants = variants[:64] // a single word covers at most 64 variants; see DESIGN.md
	}
	pos := make(map[string]int, len(variants))
	for i, v := range variants {
		pos[v] = i
	}
	return &enumBitmapBuilder{field: field, variants: variants, pos: pos, bits: make(map[uint32]uint64)}
}

type enumBitmapBuilder struct {
	field    string
	variants []string
	pos      map[string]int
	bits     map[uint32]uint64
}

// Add marks that variant occurs in zoneID. Unknown variants are ignored.
func (b *enumBitmapBuilder) Add(zoneID uint32, variant string) {
	i, ok := b.pos[variant]
	if !ok {
		return
	}
	b.bits[zoneID] |= 1 << uint(i)
}

func (b *enumBitmapBuilder) Finish() *EnumBitmap {
	order := make([]uint32, 0, len(b.bits))
	for zoneID := range b.bits {
		order = append(order, zoneID)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	return &EnumBitmap{Field: b.field, Variants: b.variants, bits: b.bits, order: order}
}

// MayMatchEq reports whether zoneID could contain a row equal to variant.
func (e *EnumBitmap) MayMatchEq(zoneID uint32, variant string) bool {
	word, known := e.bits[zoneID]
	if !known {
		return true
	}
	for i, v := range e.Variants {
		if v == variant {
			return word&(1<<uint(i)) != 0
		}
	}
	return true // unknown variant to this index: can't rule out
}

// MayMatchNeq reports whether zoneID could contain a row not equal to
// variant — false only when the zone is known and every set bit is exactly
// that variant's bit.
func (e *EnumBitmap) MayMatchNeq(zoneID uint32, variant string) bool {
	word, known := e.bits[zoneID]
	if !known {
		return true
	}
	for i, v := range e.Variants {
		if v == variant {
			return word &^ (1 << uint(i)) != 0
		}
	}
	return true
}

// WriteTo persists: header, variant count(u16) + u16-len-prefixed variants,
// zone count(u32), then per zone: zoneID(u32) + bitword(u64).
func (e *EnumBitmap) WriteTo(w io.Writer) error {
	if err := binfmt.WriteHeader(w, binfmt.MagicEnumBM, 0); err != nil {
		return err
	}
	var vcnt [2]byte
	binary.LittleEndian.PutUint16(vcnt[:], uint16(len(e.Variants)))
	if _, err := w.Write(vcnt[:]); err != nil {
		return err
	}
	for _, v := range e.Variants {
		if err := binfmt.WriteU16LenPrefixed(w, []byte(v)); err != nil {
			return err
		}
	}
	var zcnt [4]byte
	binary.LittleEndian.PutUint32(zcnt[:], uint32(len(e.order)))
	if _, err := w.Write(zcnt[:]); err != nil {
		return err
	}
	for _, zoneID := range e.order {
		var rec [12]byte
		binary.LittleEndian.PutUint32(rec[0:4], zoneID)
		binary.LittleEndian.PutUint64(rec[4:12], e.bits[zoneID])
		if _, err := w.Write(rec[:]); err != nil {
			return err
		}
	}
	return nil
}

// ReadEnumBitmap opens a persisted ".ebm" file for reads.
func ReadEnumBitmap(path, field string) (*EnumBitmap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := binfmt.ReadHeader(f, binfmt.MagicEnumBM); err != nil {
		return nil, err
	}
	var vcnt [2]byte
	if _, err := io.ReadFull(f, vcnt[:]); err != nil {
		return nil, fmt.Errorf("index: truncated enum bitmap variant count: %w", err)
	}
	nVariants := binary.LittleEndian.Uint16(vcnt[:])
	variants := make([]string, 0, nVariants)
	for i := uint16(0); i < nVariants; i++ {
		raw, err := binfmt.ReadU16LenPrefixed(f)
		if err != nil {
			return nil, fmt.Errorf("index: truncated enum bitmap variants: %w", err)
		}
		variants = append(variants, string(raw))
	}

	eb := &EnumBitmap{Field: field, Variants: variants, bits: make(map[uint32]uint64)}
	var zcnt [4]byte
	if _, err := io.ReadFull(f, zcnt[:]); err != nil {
		return eb, nil
	}
	zoneCount := binary.LittleEndian.Uint32(zcnt[:])
	for i := uint32(0); i < zoneCount; i++ {
		var rec [12]byte
		if _, err := io.ReadFull(f, rec[:]); err != nil {
			break
		}
		zoneID := binary.LittleEndian.Uint32(rec[0:4])
		eb.bits[zoneID] = binary.LittleEndian.Uint64(rec[4:12])
		eb.order = append(eb.order, zoneID)
	}
	return eb, nil
}
