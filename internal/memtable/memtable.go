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

// Package memtable implements the in-memory write buffer (spec §4.2):
// MemTable insert/scan/rotate, and the read-only PassiveBuffer produced by
// rotation.
//
// Grounded on the teacher's storage/shard.go: storageShard keeps its delta
// rows in an append-only slice under a mutex (t.inserts, t.mu) and snapshots
// it for a rebuild. Here the same shape is split into an explicit "active"
// (MemTable) and "frozen snapshot" (PassiveBuffer) pair instead of rebuilding
// in place, since a PassiveBuffer must stay visible to readers until its
// segment is verified (spec §4.2 invariant).
package memtable

import (
	"sync"

	"github.com/sneldb/sneldb/internal/event"
)

// MemTable is the mutable, per-shard write buffer. Insertion order per
// context is preserved (spec §3).
type MemTable struct {
	mu     sync.RWMutex
	events []event.Event
}

// New returns an empty MemTable.
func New() *MemTable {
	return &MemTable{}
}

// Insert appends one event to the active buffer.
func (m *MemTable) Insert(e event.Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

// Len returns the current number of buffered events.
func (m *MemTable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Scan returns every event matching pred, in insertion order, honoring
// limit (0 means unlimited). pred is nil-safe: a nil pred matches everything.
func (m *MemTable) Scan(pred func(event.Event) bool, limit int) []event.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []event.Event
	for _, e := range m.events {
		if pred == nil || pred(e) {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// Rotate snapshots the current contents into a PassiveBuffer and resets the
// MemTable to empty, returning the snapshot. segmentID is the id reserved
// for the segment that will eventually hold this snapshot (spec §4.2
// "rotate() -> PassiveBuffer", paired with a freshly reserved segment id).
func (m *MemTable) Rotate(segmentID uint64) *PassiveBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.events
	m.events = nil
	return &PassiveBuffer{SegmentID: segmentID, Events: snapshot}
}

// PassiveBuffer is a read-only snapshot of a memtable rotated out but not
// yet durably written to a verified segment (spec §3).
type PassiveBuffer struct {
	SegmentID uint64
	Events    []event.Event
}

// Scan mirrors MemTable.Scan over the frozen snapshot.
func (p *PassiveBuffer) Scan(pred func(event.Event) bool, limit int) []event.Event {
	var out []event.Event
	for _, e := range p.Events {
		if pred == nil || pred(e) {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}
