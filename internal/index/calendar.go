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

const (
	secondsPerDay  = 86400
	secondsPerHour = 3600
)

// Calendar does coarse time pruning (spec §4.4, the ".cal" file): a
// day-bucket to zone-bitmap map for day-level pruning, plus a finer
// hour-bucket to zone-list map. Each bucket's zone set is kept as a sorted
// run of zone ids rather than a general-purpose roaring bitmap container —
// no roaring-bitmap library is present anywhere in the retrieval pack, and a
// sorted run is already a compact, soundly-mergeable representation for the
// append-only, low-cardinality-per-day zone sets this index actually holds.
type Calendar struct {
	Field string
	days  map[int64]map[uint32]struct{}
	hours map[int64]map[uint32]struct{}
}

func NewCalendarBuilder(field string) *Calendar {
	return &Calendar{
		Field: field,
		days:  make(map[int64]map[uint32]struct{}),
		hours: make(map[int64]map[uint32]struct{}),
	}
}

// DayBucket and HourBucket expose the bucketing so callers (segment build,
// query evaluation) agree on the same truncation the index was built with.
func DayBucket(ts int64) int64  { return ts / secondsPerDay }
func HourBucket(ts int64) int64 { return ts / secondsPerHour }

// Add records that zoneID has a row at timestamp ts.
func (c *Calendar) Add(zoneID uint32, ts int64) {
	addZone(c.days, DayBucket(ts), zoneID)
	addZone(c.hours, HourBucket(ts), zoneID)
}

func addZone(m map[int64]map[uint32]struct{}, bucket int64, zoneID uint32) {
	set, ok := m[bucket]
	if !ok {
		set = make(map[uint32]struct{})
		m[bucket] = set
	}
	set[zoneID] = struct{}{}
}

// ZonesForRange returns the union of zones touching [tsMin, tsMax], pruned
// at day granularity only (spec's "coarse time pruning"): every zone with a
// row on any day from tsMin's to tsMax's is returned. The hour buckets are
// persisted alongside the day buckets but are not consulted here.
func (c *Calendar) ZonesForRange(tsMin, tsMax int64) ZoneSet {
	result := NewZoneSet()
	dMin, dMax := DayBucket(tsMin), DayBucket(tsMax)
	for d := dMin; d <= dMax; d++ {
		for zoneID := range c.days[d] {
			result.Add(ZoneRef{ZoneID: zoneID})
		}
	}
	return result
}

// WriteTo persists: header, day-bucket count(u32) then [bucket(i64),
// zone-count(u32), zone ids(u32*)]*, followed by the same shape for hours.
func (c *Calendar) WriteTo(w io.Writer) error {
	if err := binfmt.WriteHeader(w, binfmt.MagicCalendar, 0); err != nil {
		return err
	}
	if err := writeBucketMap(w, c.days); err != nil {
		return err
	}
	return writeBucketMap(w, c.hours)
}

func writeBucketMap(w io.Writer, m map[int64]map[uint32]struct{}) error {
	buckets := make([]int64, 0, len(m))
	for b := range m {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	var cnt [4]byte
	binary.LittleEndian.PutUint32(cnt[:], uint32(len(buckets)))
	if _, err := w.Write(cnt[:]); err != nil {
		return err
	}
	for _, b := range buckets {
		zones := m[b]
		ids := make([]uint32, 0, len(zones))
		for z := range zones {
			ids = append(ids, z)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		var head [12]byte
		binary.LittleEndian.PutUint64(head[0:8], uint64(b))
		binary.LittleEndian.PutUint32(head[8:12], uint32(len(ids)))
		if _, err := w.Write(head[:]); err != nil {
			return err
		}
		for _, id := range ids {
			var idBuf [4]byte
			binary.LittleEndian.PutUint32(idBuf[:], id)
			if _, err := w.Write(idBuf[:]); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadCalendar opens a persisted ".cal" file for reads.
func ReadCalendar(path, field string) (*Calendar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := binfmt.ReadHeader(f, binfmt.MagicCalendar); err != nil {
		return nil, err
	}
	c := NewCalendarBuilder(field)
	days, err := readBucketMap(f)
	if err != nil {
		return c, nil // tolerate truncation
	}
	c.days = days
	hours, err := readBucketMap(f)
	if err != nil {
		return c, nil
	}
	c.hours = hours
	return c, nil
}

func readBucketMap(r io.Reader) (map[int64]map[uint32]struct{}, error) {
	m := make(map[int64]map[uint32]struct{})
	var cnt [4]byte
	if _, err := io.ReadFull(r, cnt[:]); err != nil {
		return nil, fmt.Errorf("index: truncated calendar bucket count: %w", err)
	}
	n := binary.LittleEndian.Uint32(cnt[:])
	for i := uint32(0); i < n; i++ {
		var head [12]byte
		if _, err := io.ReadFull(r, head[:]); err != nil {
			return m, nil
		}
		bucket := int64(binary.LittleEndian.Uint64(head[0:8]))
		zcount := binary.LittleEndian.Uint32(head[8:12])
		set := make(map[uint32]struct{}, zcount)
		for z := uint32(0); z < zcount; z++ {
			var idBuf [4]byte
			if _, err := io.ReadFull(r, idBuf[:]); err != nil {
				return m, nil
			}
			set[binary.LittleEndian.Uint32(idBuf[:])] = struct{}{}
		}
		m[bucket] = set
	}
	return m, nil
}
