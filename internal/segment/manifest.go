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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ZoneMeta is one row of a UID's ".zones" file: a contiguous row range and
// its timestamp bounds (spec §4.3d, §4.5 "zone min/max timestamps are
// exact").
type ZoneMeta struct {
	ZoneID   uint32
	RowStart uint32
	RowCount uint32
	TsMin    int64
	TsMax    int64
}

// UIDManifest is everything the writer produced for one event-type UID
// within a segment.
type UIDManifest struct {
	UID       string
	EventType string
	Zones     []ZoneMeta
	RowCount  int
}

// Manifest is the full result of one WriteSegment call, used by the caller
// (the shard's segment lifecycle tracker, §4.9) to verify and publish.
type Manifest struct {
	SegmentID uint64
	Level     int
	Dir       string
	UIDs      []UIDManifest
}

func manifestFile(dir string) string { return filepath.Join(dir, "manifest.json") }

// WriteManifestFile persists m as dir/manifest.json, so a reader that only
// needs to know a segment's level and UID set (the compactor's planner,
// §4.10 "group segments by (UID, level)") doesn't have to open every UID's
// ".zones"/".icx" files just to discover them.
func WriteManifestFile(m *Manifest) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("segment: marshal manifest: %w", err)
	}
	tmp := manifestFile(m.Dir) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o640); err != nil {
		return fmt.Errorf("segment: write manifest tmp: %w", err)
	}
	return os.Rename(tmp, manifestFile(m.Dir))
}

// ReadManifestFile loads dir/manifest.json.
func ReadManifestFile(dir string) (*Manifest, error) {
	raw, err := os.ReadFile(manifestFile(dir))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("segment: parse manifest %s: %w", dir, err)
	}
	return &m, nil
}
