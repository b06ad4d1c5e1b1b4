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
	"hash/fnv"
	"io"
	"os"

	"github.com/sneldb/sneldb/internal/binfmt"
)

// XORFilter is a per-UID, per-field membership filter over the distinct
// values one field takes in a segment (spec §4.4, the "<uid>_<field>.xf"
// file): a 3-hash XOR fingerprint filter
// (Graf & Lemire), not available in any library across the retrieval pack —
// hand-rolled the way the teacher hand-rolls its own columnar codecs
// (storage-int.go, storage-string.go) rather than reaching for a dependency.
type XORFilter struct {
	Seed         uint64
	BlockLength  uint32
	Fingerprints []uint8
}

const xorMaxIterations = 100

// HashKey folds a value key (ValueKey of a field value) into the uint64
// domain the filter hashes over.
// FNV-1a, the same stable hash picked for shard routing (spec's context-hash
// Open Question).
func HashKey(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// BuildXORFilter constructs a filter over a set of already-hashed keys.
// Duplicate keys must be removed by the caller (the segment writer collects
// each field's hashed keys in a set before building).
func BuildXORFilter(keys []uint64) (*XORFilter, error) {
	size := uint32(len(keys))
	if size == 0 {
		return &XORFilter{}, nil
	}

	capacity := uint32(32 + int(1.23*float64(size)))
	capacity = (capacity / 3) * 3
	blockLength := capacity / 3

	t2count := make([]uint8, capacity)
	t2hash := make([]uint64, capacity)
	queue := make([]uint32, capacity)
	reverseOrder := make([]uint64, size)
	reverseSlot := make([]uint8, size)

	seed := splitmix64(uint64(size))

	for attempt := 0; attempt < xorMaxIterations; attempt++ {
		for i := range t2count {
			t2count[i] = 0
			t2hash[i] = 0
		}

		for _, k := range keys {
			hash := mixSplit(k, seed)
			h0, h1, h2 := xorSlots(hash, blockLength)
			for _, h := range [3]uint32{h0, h1, h2} {
				t2count[h]++
				t2hash[h] ^= hash
			}
		}

		qSize := uint32(0)
		for i := uint32(0); i < capacity; i++ {
			if t2count[i] == 1 {
				queue[qSize] = i
				qSize++
			}
		}

		var reverseLen uint32
		for qSize > 0 {
			qSize--
			idx := queue[qSize]
			if t2count[idx] != 1 {
				continue
			}
			hash := t2hash[idx]
			h0, h1, h2 := xorSlots(hash, blockLength)
			slot := whichXorSlot(idx, blockLength)

			reverseOrder[reverseLen] = hash
			reverseSlot[reverseLen] = slot
			reverseLen++

			for _, h := range [3]uint32{h0, h1, h2} {
				if h == idx {
					continue
				}
				t2count[h]--
				t2hash[h] ^= hash
				if t2count[h] == 1 {
					queue[qSize] = h
					qSize++
				}
			}
		}

		if reverseLen != size {
			seed = splitmix64(seed + 1)
			continue
		}

		fp := make([]uint8, capacity)
		for i := int(reverseLen) - 1; i >= 0; i-- {
			hash := reverseOrder[i]
			h0, h1, h2 := xorSlots(hash, blockLength)
			slot := reverseSlot[i]

			var target uint32
			x := xorFingerprint(hash)
			switch slot {
			case 0:
				target = h0
				x ^= fp[h1] ^ fp[h2]
			case 1:
				target = h1
				x ^= fp[h0] ^ fp[h2]
			default:
				target = h2
				x ^= fp[h0] ^ fp[h1]
			}
			fp[target] = x
		}

		return &XORFilter{Seed: seed, BlockLength: blockLength, Fingerprints: fp}, nil
	}

	return nil, fmt.Errorf("index: xor filter construction did not converge after %d attempts", xorMaxIterations)
}

// Contains reports possible membership; false positives are possible but
// false negatives are not (spec §4.4 "XOR filter" role: reject non-members,
// never reject a member).
func (f *XORFilter) Contains(key uint64) bool {
	if len(f.Fingerprints) == 0 {
		return false
	}
	hash := mixSplit(key, f.Seed)
	h0, h1, h2 := xorSlots(hash, f.BlockLength)
	return xorFingerprint(hash) == f.Fingerprints[h0]^f.Fingerprints[h1]^f.Fingerprints[h2]
}

func xorSlots(hash uint64, blockLength uint32) (uint32, uint32, uint32) {
	r0 := uint32(hash)
	r1 := uint32(rotl64(hash, 21))
	r2 := uint32(rotl64(hash, 42))
	h0 := reduce32(r0, blockLength)
	h1 := reduce32(r1, blockLength) + blockLength
	h2 := reduce32(r2, blockLength) + 2*blockLength
	return h0, h1, h2
}

func whichXorSlot(idx, blockLength uint32) uint8 {
	switch {
	case idx < blockLength:
		return 0
	case idx < 2*blockLength:
		return 1
	default:
		return 2
	}
}

func xorFingerprint(hash uint64) uint8 { return uint8(hash ^ (hash >> 32)) }

func reduce32(x, n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return uint32((uint64(x) * uint64(n)) >> 32)
}

func rotl64(x uint64, r uint) uint64 { return (x << r) | (x >> (64 - r)) }

func mixSplit(key, seed uint64) uint64 {
	h := key + seed
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	z := x
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// WriteTo persists the filter: header, Seed(u64), BlockLength(u32),
// fingerprint count(u32), raw fingerprint bytes.
func (f *XORFilter) WriteTo(w io.Writer) error {
	if err := binfmt.WriteHeader(w, binfmt.MagicXOR, 0); err != nil {
		return err
	}
	var head [16]byte
	binary.LittleEndian.PutUint64(head[0:8], f.Seed)
	binary.LittleEndian.PutUint32(head[8:12], f.BlockLength)
	binary.LittleEndian.PutUint32(head[12:16], uint32(len(f.Fingerprints)))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	_, err := w.Write(f.Fingerprints)
	return err
}

// ReadXORFilter opens a persisted ".xf" file for reads.
func ReadXORFilter(path string) (*XORFilter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := binfmt.ReadHeader(f, binfmt.MagicXOR); err != nil {
		return nil, err
	}
	var head [16]byte
	if _, err := io.ReadFull(f, head[:]); err != nil {
		return nil, fmt.Errorf("index: truncated xor filter header: %w", err)
	}
	filter := &XORFilter{
		Seed:        binary.LittleEndian.Uint64(head[0:8]),
		BlockLength: binary.LittleEndian.Uint32(head[8:12]),
	}
	n := binary.LittleEndian.Uint32(head[12:16])
	filter.Fingerprints = make([]uint8, n)
	if _, err := io.ReadFull(f, filter.Fingerprints); err != nil {
		return nil, fmt.Errorf("index: truncated xor filter body: %w", err)
	}
	return filter, nil
}
