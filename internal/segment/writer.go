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
	"os"
	"sort"

	"github.com/sneldb/sneldb/internal/binfmt"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/index"
	"github.com/sneldb/sneldb/internal/schema"
)

// WriteConfig carries the knobs the flush algorithm needs from
// config.Engine (spec §4.3b "Z = events_per_zone * fill_factor * (level+1)").
type WriteConfig struct {
	EventsPerZone int
	FillFactor    float64
}

func zoneSize(cfg WriteConfig, level int) int {
	z := int(float64(cfg.EventsPerZone) * cfg.FillFactor * float64(level+1))
	if z < 1 {
		z = 1
	}
	return z
}

// WriteSegment implements spec §4.3's flush algorithm, steps 1-3: partition
// by UID, sort by context_id, write columns/zones/index files, verify. The
// caller (the shard's segment lifecycle tracker, §4.9) performs step 4
// (atomic publish) once WriteSegment returns successfully.
func WriteSegment(dataDir string, shardID int, segmentID uint64, level int, cfg WriteConfig, registry *schema.Registry, events []event.Event) (*Manifest, error) {
	dir := Dir(dataDir, shardID, segmentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("segment: create dir: %w", err)
	}

	byUID := make(map[string][]event.Event)
	uidToType := make(map[string]string)
	for _, e := range events {
		s, ok := registry.Lookup(e.EventType)
		if !ok {
			return nil, fmt.Errorf("segment: no schema registered for event type %q", e.EventType)
		}
		byUID[s.UID] = append(byUID[s.UID], e)
		uidToType[s.UID] = s.EventType
	}

	manifest := &Manifest{SegmentID: segmentID, Level: level, Dir: dir}
	z := zoneSize(cfg, level)

	for uid, rows := range byUID {
		s, _ := registry.Lookup(uidToType[uid])
		um, err := writeUID(dir, uid, s, rows, z)
		if err != nil {
			return nil, err
		}
		manifest.UIDs = append(manifest.UIDs, *um)
	}

	sort.Slice(manifest.UIDs, func(i, j int) bool { return manifest.UIDs[i].UID < manifest.UIDs[j].UID })

	if err := verifySegment(manifest); err != nil {
		return nil, fmt.Errorf("segment: verify failed, abandoning %s: %w", dir, err)
	}
	if err := WriteManifestFile(manifest); err != nil {
		return nil, fmt.Errorf("segment: write manifest: %w", err)
	}
	return manifest, nil
}

func writeUID(dir, uid string, s *schema.Schema, rows []event.Event, zoneTarget int) (*UIDManifest, error) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ContextID < rows[j].ContextID })

	zones := buildZoneMeta(rows, zoneTarget)

	zi := index.NewZoneIndexBuilder(s.EventType)
	for _, z := range zones {
		for i := z.RowStart; i < z.RowStart+z.RowCount; i++ {
			zi.Add(rows[i].ContextID, z.ZoneID)
		}
	}

	catalog := index.NewCatalog(uid)
	catalog.HasZoneIdx = true

	if err := writeFieldColumn(dir, uid, MetaContextIDField, rows, zones, func(e event.Event) event.Value {
		return event.FromString(e.ContextID)
	}); err != nil {
		return nil, err
	}
	if err := writeFieldColumn(dir, uid, MetaTimestampField, rows, zones, func(e event.Event) event.Value {
		return event.FromDateTime(e.Timestamp)
	}); err != nil {
		return nil, err
	}

	for _, f := range s.Fields {
		name := f.Name
		if err := writeFieldColumn(dir, uid, name, rows, zones, func(e event.Event) event.Value {
			return e.Payload[name]
		}); err != nil {
			return nil, err
		}
		fk, err := buildFieldIndexes(dir, uid, f, rows, zones)
		if err != nil {
			return nil, err
		}
		catalog.Set(fk)
	}

	if err := writeZonesFile(dir, uid, zones); err != nil {
		return nil, err
	}
	if err := writeHeaderFile(idxFile(dir, uid), func(w *bufio.Writer) error { return zi.WriteTo(w) }); err != nil {
		return nil, err
	}
	if err := writeHeaderFile(icxFile(dir, uid), func(w *bufio.Writer) error { return catalog.WriteTo(w) }); err != nil {
		return nil, err
	}

	return &UIDManifest{UID: uid, EventType: s.EventType, Zones: zones, RowCount: len(rows)}, nil
}

func buildZoneMeta(rows []event.Event, zoneTarget int) []ZoneMeta {
	var zones []ZoneMeta
	var zoneID uint32
	for start := 0; start < len(rows); start += zoneTarget {
		end := start + zoneTarget
		if end > len(rows) {
			end = len(rows)
		}
		tsMin, tsMax := rows[start].Timestamp, rows[start].Timestamp
		for i := start; i < end; i++ {
			if rows[i].Timestamp < tsMin {
				tsMin = rows[i].Timestamp
			}
			if rows[i].Timestamp > tsMax {
				tsMax = rows[i].Timestamp
			}
		}
		zones = append(zones, ZoneMeta{
			ZoneID:   zoneID,
			RowStart: uint32(start),
			RowCount: uint32(end - start),
			TsMin:    tsMin,
			TsMax:    tsMax,
		})
		zoneID++
	}
	if len(zones) == 0 {
		zones = []ZoneMeta{{ZoneID: 0}}
	}
	return zones
}

func writeFieldColumn(dir, uid, field string, rows []event.Event, zones []ZoneMeta, valueFor func(event.Event) event.Value) error {
	colPath := colFile(dir, uid, field)
	f, err := os.Create(colPath)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	if err := binfmt.WriteHeader(bw, binfmt.MagicColumn, 0); err != nil {
		return err
	}

	zfcPath := zfcFile(dir, uid, field)
	zf, err := os.Create(zfcPath)
	if err != nil {
		return err
	}
	defer zf.Close()
	zbw := bufio.NewWriter(zf)
	if err := binfmt.WriteHeader(zbw, binfmt.MagicZoneFC, 0); err != nil {
		return err
	}

	var offset uint64
	for _, z := range zones {
		var rec [12]byte
		binary.LittleEndian.PutUint32(rec[0:4], z.RowCount)
		binary.LittleEndian.PutUint64(rec[4:12], offset)
		if _, err := zbw.Write(rec[:]); err != nil {
			return err
		}
		for i := z.RowStart; i < z.RowStart+z.RowCount; i++ {
			v := valueFor(rows[i])
			if err := writeValue(bw, v); err != nil {
				return err
			}
			offset += uint64(valueEncodedSize(v))
		}
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	return zbw.Flush()
}

func buildFieldIndexes(dir, uid string, f schema.FieldDef, rows []event.Event, zones []ZoneMeta) (index.FieldKinds, error) {
	fk := index.FieldKinds{Field: f.Name}

	xorBuilder := make(map[uint64]struct{})
	zxBuilder := index.NewZoneXORBuilder(f.Name)

	isOrderable := f.Type == event.KindString || f.Type == event.KindInt || f.Type == event.KindFloat
	isTime := f.Type == event.KindDateTime || f.Type == event.KindDate
	isEnum := f.Type == event.KindEnum

	surfBuilder := index.NewZoneSuRFBuilder(f.Name)
	enumBuilder := index.NewEnumBitmapBuilder(f.Name, f.Variants)
	calBuilder := index.NewCalendarBuilder(f.Name)
	temporalBuilder := index.NewTemporalSlabBuilder(f.Name)

	for _, z := range zones {
		for i := z.RowStart; i < z.RowStart+z.RowCount; i++ {
			v := rows[i].Payload[f.Name]
			if v.IsNull() {
				continue
			}
			key := index.ValueKey(v)
			xorBuilder[index.HashKey(key)] = struct{}{}
			zxBuilder.Add(z.ZoneID, index.HashKey(key))
			if isOrderable {
				surfBuilder.Add(z.ZoneID, key)
			}
			if isEnum {
				enumBuilder.Add(z.ZoneID, v.Str)
			}
			if isTime {
				calBuilder.Add(z.ZoneID, v.Int)
				temporalBuilder.Add(z.ZoneID, v.Int)
			}
		}
	}

	xorKeys := make([]uint64, 0, len(xorBuilder))
	for k := range xorBuilder {
		xorKeys = append(xorKeys, k)
	}
	xf, err := index.BuildXORFilter(xorKeys)
	if err != nil {
		return fk, fmt.Errorf("segment: xor filter for %s.%s: %w", uid, f.Name, err)
	}
	if err := writeHeaderFile(xorFile(dir, uid, f.Name), func(w *bufio.Writer) error { return xf.WriteTo(w) }); err != nil {
		return fk, err
	}
	fk.XOR = true

	zx, err := zxBuilder.Finish()
	if err != nil {
		return fk, fmt.Errorf("segment: zone xor for %s.%s: %w", uid, f.Name, err)
	}
	if err := writeHeaderFile(zoneXorFile(dir, uid, f.Name), func(w *bufio.Writer) error { return zx.WriteTo(w) }); err != nil {
		return fk, err
	}
	fk.ZoneXOR = true

	if isOrderable {
		srf := surfBuilder.Finish()
		if err := writeHeaderFile(surfFile(dir, uid, f.Name), func(w *bufio.Writer) error { return srf.WriteTo(w) }); err != nil {
			return fk, err
		}
		fk.ZoneSuRF = true
	}
	if isEnum {
		eb := enumBuilder.Finish()
		if err := writeHeaderFile(enumFile(dir, uid, f.Name), func(w *bufio.Writer) error { return eb.WriteTo(w) }); err != nil {
			return fk, err
		}
		fk.EnumBitmap = true
	}
	if isTime {
		if err := writeHeaderFile(calFile(dir, uid, f.Name), func(w *bufio.Writer) error { return calBuilder.WriteTo(w) }); err != nil {
			return fk, err
		}
		fk.Calendar = true
		tfi := temporalBuilder.Finish()
		if err := writeHeaderFile(temporalFile(dir, uid, f.Name), func(w *bufio.Writer) error { return tfi.WriteTo(w) }); err != nil {
			return fk, err
		}
		fk.Temporal = true
	}

	return fk, nil
}

func writeZonesFile(dir, uid string, zones []ZoneMeta) error {
	return writeHeaderFile(zonesFile(dir, uid), func(w *bufio.Writer) error {
		if err := binfmt.WriteHeader(w, binfmt.MagicZones, 0); err != nil {
			return err
		}
		var cnt [4]byte
		binary.LittleEndian.PutUint32(cnt[:], uint32(len(zones)))
		if _, err := w.Write(cnt[:]); err != nil {
			return err
		}
		for _, z := range zones {
			var rec [28]byte
			binary.LittleEndian.PutUint32(rec[0:4], z.ZoneID)
			binary.LittleEndian.PutUint32(rec[4:8], z.RowStart)
			binary.LittleEndian.PutUint32(rec[8:12], z.RowCount)
			binary.LittleEndian.PutUint64(rec[12:20], uint64(z.TsMin))
			binary.LittleEndian.PutUint64(rec[20:28], uint64(z.TsMax))
			if _, err := w.Write(rec[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeHeaderFile writes a ".zones"-style header-prefixed file: the magic
// header is written by body itself (each index/zones encoder calls
// binfmt.WriteHeader first), this helper just owns the file lifecycle.
func writeHeaderFile(path string, body func(w *bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	if err := body(bw); err != nil {
		return err
	}
	return bw.Flush()
}
