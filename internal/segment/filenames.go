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

// Package segment implements the immutable on-disk flush unit (spec §4.3,
// §4.5): the flush algorithm that partitions a memtable snapshot into
// per-UID columns, zones and indexes, and the reader that prunes zones
// before hydrating column data.
package segment

import (
	"fmt"
	"path/filepath"
)

// Dir returns the segment directory for one shard's segment id, e.g.
// "<dataDir>/shard-3/00042".
func Dir(dataDir string, shardID int, segmentID uint64) string {
	return filepath.Join(dataDir, fmt.Sprintf("shard-%d", shardID), fmt.Sprintf("%05d", segmentID))
}

// MetaContextIDField and MetaTimestampField are reserved column names for
// the two fields every event carries regardless of schema, named to match
// the literal "context_id" field name index.Handles.ZonesMatching special-
// cases for its ZoneIndex shortcut (internal/index/catalog.go) — a filter
// leaf on "context_id" must hit that shortcut whether it came from a user
// query or from REPLAY's generated context equality leaf. Written as plain
// columns alongside schema fields so Query/Replay can reconstruct a full
// event.Event from a hydrated row, and so REPLAY's SINCE boundary (spec
// §4.5 "zone min/max timestamps are exact ... precise on invariant edges")
// can be checked at row granularity, not just zone granularity.
const (
	MetaContextIDField = "context_id"
	MetaTimestampField = "timestamp"
)

func colFile(dir, uid, field string) string    { return filepath.Join(dir, uid+"_"+field+".col") }
func zfcFile(dir, uid, field string) string     { return filepath.Join(dir, uid+"_"+field+".zfc") }
func zonesFile(dir, uid string) string          { return filepath.Join(dir, uid+".zones") }
func idxFile(dir, uid string) string            { return filepath.Join(dir, uid+".idx") }
func icxFile(dir, uid string) string            { return filepath.Join(dir, uid+".icx") }
func xorFile(dir, uid, field string) string     { return filepath.Join(dir, uid+"_"+field+".xf") }
func zoneXorFile(dir, uid, field string) string { return filepath.Join(dir, uid+"_"+field+".zxf") }
func surfFile(dir, uid, field string) string    { return filepath.Join(dir, uid+"_"+field+".zsrf") }
func enumFile(dir, uid, field string) string    { return filepath.Join(dir, uid+"_"+field+".ebm") }
func calFile(dir, uid, field string) string     { return filepath.Join(dir, uid+"_"+field+".cal") }
func temporalFile(dir, uid, field string) string { return filepath.Join(dir, uid+"_"+field+".tfi") }
