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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/sneldb/sneldb/internal/binfmt"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/filter"
	"github.com/sneldb/sneldb/internal/index"
)

// Segment is one UID's read-side view of a segment directory (spec §4.5).
// Column files are mapped lazily: opening a Segment only reads ".zones" and
// ".icx"; per-field index files load on first use via loadField.
type Segment struct {
	SegmentID uint64
	UID       string
	Dir       string

	zones   []ZoneMeta
	catalog *index.Catalog
	zoneIdx *index.ZoneIndex

	fieldsLoaded map[string]struct{}
	handles      index.Handles

	blockCache *BlockCache
}

// Open implements spec §4.5's "open(segment_dir, uid) -> Segment": reads
// ".zones" and ".icx", loads the ZoneIndex eagerly (it is needed for every
// context_id-keyed query), and leaves per-field filters/indexes for
// loadField to pull in on demand.
func Open(segmentID uint64, dir, uid string, blockCache *BlockCache) (*Segment, error) {
	zones, err := readZonesFile(zonesFile(dir, uid))
	if err != nil {
		return nil, fmt.Errorf("segment: open zones for %s: %w", uid, err)
	}
	catalog, err := index.ReadCatalog(icxFile(dir, uid), uid)
	if err != nil {
		return nil, fmt.Errorf("segment: open catalog for %s: %w", uid, err)
	}
	var zi *index.ZoneIndex
	if catalog.HasZoneIdx {
		zi, err = index.ReadZoneIndex(idxFile(dir, uid), uid)
		if err != nil {
			return nil, fmt.Errorf("segment: open zone index for %s: %w", uid, err)
		}
	}

	return &Segment{
		SegmentID:    segmentID,
		UID:          uid,
		Dir:          dir,
		zones:        zones,
		catalog:      catalog,
		zoneIdx:      zi,
		fieldsLoaded: make(map[string]struct{}),
		handles:      index.Handles{ZoneIdx: zi},
		blockCache:   blockCache,
	}, nil
}

func readZonesFile(path string) ([]ZoneMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := binfmt.ReadHeader(f, binfmt.MagicZones); err != nil {
		return nil, err
	}
	var cnt [4]byte
	if _, err := io.ReadFull(f, cnt[:]); err != nil {
		return nil, fmt.Errorf("segment: truncated zones count: %w", err)
	}
	n := binary.LittleEndian.Uint32(cnt[:])
	zones := make([]ZoneMeta, 0, n)
	for i := uint32(0); i < n; i++ {
		var rec [28]byte
		if _, err := io.ReadFull(f, rec[:]); err != nil {
			break // tail truncation tolerated
		}
		zones = append(zones, ZoneMeta{
			ZoneID:   binary.LittleEndian.Uint32(rec[0:4]),
			RowStart: binary.LittleEndian.Uint32(rec[4:8]),
			RowCount: binary.LittleEndian.Uint32(rec[8:12]),
			TsMin:    int64(binary.LittleEndian.Uint64(rec[12:20])),
			TsMax:    int64(binary.LittleEndian.Uint64(rec[20:28])),
		})
	}
	return zones, nil
}

// allZones is the universe used for Not(leaf) and for any predicate with no
// usable index (spec §4.6 "all_zones_of_uid").
func (s *Segment) allZones() index.ZoneSet {
	set := index.NewZoneSet()
	for _, z := range s.zones {
		set.Add(index.ZoneRef{SegmentID: s.SegmentID, ZoneID: z.ZoneID})
	}
	return set
}

// loadField lazily opens whichever per-field index files the catalog says
// exist for field, memoizing so repeated predicates on the same field in
// one query don't re-read from disk.
func (s *Segment) loadField(field string) error {
	if _, done := s.fieldsLoaded[field]; done {
		return nil
	}
	fk, ok := s.catalog.Fields[field]
	if !ok {
		s.fieldsLoaded[field] = struct{}{}
		return nil
	}
	if fk.XOR {
		xf, err := index.ReadXORFilter(xorFile(s.Dir, s.UID, field))
		if err != nil {
			return err
		}
		if s.handles.XOR == nil {
			s.handles.XOR = make(map[string]*index.XORFilter)
		}
		s.handles.XOR[field] = xf
	}
	if fk.ZoneXOR {
		zx, err := index.ReadZoneXORIndex(zoneXorFile(s.Dir, s.UID, field), field)
		if err != nil {
			return err
		}
		if s.handles.ZoneXOR == nil {
			s.handles.ZoneXOR = make(map[string]*index.ZoneXORIndex)
		}
		s.handles.ZoneXOR[field] = zx
	}
	if fk.ZoneSuRF {
		srf, err := index.ReadZoneSuRFIndex(surfFile(s.Dir, s.UID, field), field)
		if err != nil {
			return err
		}
		if s.handles.ZoneSuRF == nil {
			s.handles.ZoneSuRF = make(map[string]*index.ZoneSuRFIndex)
		}
		s.handles.ZoneSuRF[field] = srf
	}
	if fk.EnumBitmap {
		eb, err := index.ReadEnumBitmap(enumFile(s.Dir, s.UID, field), field)
		if err != nil {
			return err
		}
		if s.handles.EnumBM == nil {
			s.handles.EnumBM = make(map[string]*index.EnumBitmap)
		}
		s.handles.EnumBM[field] = eb
	}
	if fk.Calendar {
		cal, err := index.ReadCalendar(calFile(s.Dir, s.UID, field), field)
		if err != nil {
			return err
		}
		if s.handles.Calendar == nil {
			s.handles.Calendar = make(map[string]*index.Calendar)
		}
		s.handles.Calendar[field] = cal
	}
	if fk.Temporal {
		tfi, err := index.ReadTemporalSlab(temporalFile(s.Dir, s.UID, field), field)
		if err != nil {
			return err
		}
		if s.handles.Temporal == nil {
			s.handles.Temporal = make(map[string]*index.TemporalSlab)
		}
		s.handles.Temporal[field] = tfi
	}
	s.fieldsLoaded[field] = struct{}{}
	return nil
}

// CandidateZones implements spec §4.5's "candidate_zones(filter_tree) ->
// [ZoneRef]": combine each compiled leaf's candidate set per §4.6 (And =
// intersect, Or = union, Not(leaf) = all \ matching), falling back to every
// zone of the UID when no leaf in the tree has a usable index.
func (s *Segment) CandidateZones(tree filter.Node) (index.ZoneSet, error) {
	if err := s.preloadFields(tree); err != nil {
		return nil, err
	}
	return s.candidateZones(tree), nil
}

func (s *Segment) preloadFields(n filter.Node) error {
	switch n.Kind {
	case filter.KindLeaf:
		return s.loadField(n.Field)
	default:
		for _, c := range n.Children {
			if err := s.preloadFields(c); err != nil {
				return err
			}
		}
		return nil
	}
}

func (s *Segment) candidateZones(n filter.Node) index.ZoneSet {
	all := s.allZones()
	switch n.Kind {
	case filter.KindLeaf:
		zones, ok := s.handles.ZonesMatching(n, s.allZonesUnstamped())
		if !ok {
			return all
		}
		return s.stamp(zones)
	case filter.KindAnd:
		sets := make([]index.ZoneSet, 0, len(n.Children))
		for _, c := range n.Children {
			sets = append(sets, s.candidateZones(c))
		}
		return index.Intersect(sets...)
	case filter.KindOr:
		sets := make([]index.ZoneSet, 0, len(n.Children))
		for _, c := range n.Children {
			sets = append(sets, s.candidateZones(c))
		}
		return index.Union(sets...)
	case filter.KindNot:
		matching := s.candidateZones(n.Children[0])
		return index.Difference(all, matching)
	default:
		return all
	}
}

// allZonesUnstamped mirrors allZones but leaves SegmentID 0, matching the
// convention index.Handles.ZonesMatching expects of its `allZones` argument.
func (s *Segment) allZonesUnstamped() index.ZoneSet {
	set := index.NewZoneSet()
	for _, z := range s.zones {
		set.Add(index.ZoneRef{ZoneID: z.ZoneID})
	}
	return set
}

func (s *Segment) stamp(zones index.ZoneSet) index.ZoneSet {
	out := index.NewZoneSet()
	for ref := range zones {
		out.Add(index.ZoneRef{SegmentID: s.SegmentID, ZoneID: ref.ZoneID})
	}
	return out
}

// ColumnBatch is hydrate()'s result: one zone's decoded values per requested
// field, row-aligned (spec §4.5).
type ColumnBatch struct {
	ZoneID uint32
	Rows   []filter.MapRow
}

// Hydrate implements spec §4.5's "hydrate(zone_ref, fields[]) ->
// ColumnBatch": seeks each requested column to the zone's byte offset (from
// ".zfc") and decodes RowCount values. Column blocks are cached by
// (uid, field, zone) key so repeat predicates on an already-hydrated zone
// don't re-read from disk.
func (s *Segment) Hydrate(zoneID uint32, fields []string) (*ColumnBatch, error) {
	var zm *ZoneMeta
	for i := range s.zones {
		if s.zones[i].ZoneID == zoneID {
			zm = &s.zones[i]
			break
		}
	}
	if zm == nil {
		return nil, fmt.Errorf("segment: unknown zone %d for uid %s", zoneID, s.UID)
	}

	rows := make([]filter.MapRow, zm.RowCount)
	for i := range rows {
		rows[i] = make(filter.MapRow, len(fields))
	}

	for _, field := range fields {
		values, err := s.hydrateField(field, *zm)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			rows[i][field] = v
		}
	}
	return &ColumnBatch{ZoneID: zoneID, Rows: rows}, nil
}

func (s *Segment) hydrateField(field string, zm ZoneMeta) ([]event.Value, error) {
	cacheKey := fmt.Sprintf("%s/%s/%s/%d", s.Dir, s.UID, field, zm.ZoneID)
	if s.blockCache != nil {
		if cached, ok := s.blockCache.Get(cacheKey); ok {
			return cached.([]event.Value), nil
		}
	}

	offset, err := s.zoneOffset(field, zm.ZoneID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(colFile(s.Dir, s.UID, field))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(int64(binfmt.HeaderSize)+int64(offset), io.SeekStart); err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	values := make([]event.Value, 0, zm.RowCount)
	var size int64
	for i := uint32(0); i < zm.RowCount; i++ {
		v, err := readValue(br)
		if err != nil {
			return nil, fmt.Errorf("segment: hydrate %s zone %d: %w", field, zm.ZoneID, err)
		}
		values = append(values, v)
		size += int64(valueEncodedSize(v))
	}

	if s.blockCache != nil {
		s.blockCache.Put(cacheKey, values, size)
	}
	return values, nil
}

func (s *Segment) zoneOffset(field string, zoneID uint32) (uint64, error) {
	f, err := os.Open(zfcFile(s.Dir, s.UID, field))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if _, err := binfmt.ReadHeader(f, binfmt.MagicZoneFC); err != nil {
		return 0, err
	}
	br := bufio.NewReader(f)
	for {
		var rec [12]byte
		if _, err := io.ReadFull(br, rec[:]); err != nil {
			return 0, fmt.Errorf("segment: no zfc record for zone %d of %s", zoneID, field)
		}
		if zoneID == 0 {
			return binary.LittleEndian.Uint64(rec[4:12]), nil
		}
		zoneID--
	}
}

// Evaluate implements spec §4.5's "evaluate(filter, batch) -> row_mask" by
// delegating to the shared filter evaluator (internal/filter).
func Evaluate(tree filter.Node, batch *ColumnBatch) []bool {
	mask := make([]bool, len(batch.Rows))
	for i, row := range batch.Rows {
		mask[i] = filter.Matches(tree, row)
	}
	return mask
}

// HydrateEvents hydrates a zone's meta columns (context_id, timestamp)
// alongside the given payload fields and reconstructs full event.Event
// values, row-aligned with Evaluate's mask. Used by QUERY/REPLAY, which
// need the original event shape rather than a bare column batch.
func (s *Segment) HydrateEvents(zoneID uint32, eventType string, fields []string) ([]event.Event, error) {
	all := append([]string{MetaContextIDField, MetaTimestampField}, fields...)
	batch, err := s.Hydrate(zoneID, all)
	if err != nil {
		return nil, err
	}
	events := make([]event.Event, len(batch.Rows))
	for i, row := range batch.Rows {
		payload := make(map[string]event.Value, len(fields))
		for _, f := range fields {
			payload[f] = row[f]
		}
		events[i] = event.Event{
			EventType: eventType,
			ContextID: row[MetaContextIDField].Str,
			Timestamp: row[MetaTimestampField].Int,
			Payload:   payload,
		}
	}
	return events, nil
}
