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
package memtable

import (
	"sync"

	"github.com/sneldb/sneldb/internal/event"
)

// PassiveBufferSet holds every passive buffer not yet released. Readers must
// see the active memtable AND every live passive buffer (spec §4.2
// invariant); a buffer is released — removed from this set — at exactly the
// moment its segment transitions to Verified (spec §3 "Passive buffer"
// lifecycle).
type PassiveBufferSet struct {
	mu      sync.RWMutex
	buffers map[uint64]*PassiveBuffer // segmentID -> buffer
}

// NewPassiveBufferSet returns an empty set.
func NewPassiveBufferSet() *PassiveBufferSet {
	return &PassiveBufferSet{buffers: make(map[uint64]*PassiveBuffer)}
}

// Add registers a newly rotated buffer.
func (s *PassiveBufferSet) Add(buf *PassiveBuffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers[buf.SegmentID] = buf
}

// Release drops the buffer for segmentID once its segment is Verified.
func (s *PassiveBufferSet) Release(segmentID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, segmentID)
}

// Get returns the live buffer for segmentID, if any.
func (s *PassiveBufferSet) Get(segmentID uint64) (*PassiveBuffer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buffers[segmentID]
	return b, ok
}

// Scan runs pred over every event in every live buffer, in segment-id order
// (ascending), each buffer's events in insertion order — the ordering the
// segment they will become would have on disk.
func (s *PassiveBufferSet) Scan(pred func(event.Event) bool, limit int) []event.Event {
	s.mu.RLock()
	ids := make([]uint64, 0, len(s.buffers))
	for id := range s.buffers {
		ids = append(ids, id)
	}
	bufs := s.buffers
	s.mu.RUnlock()

	sortUint64(ids)
	var out []event.Event
	for _, id := range ids {
		for _, e := range bufs[id].Events {
			if pred == nil || pred(e) {
				out = append(out, e)
				if limit > 0 && len(out) >= limit {
					return out
				}
			}
		}
	}
	return out
}

// All returns every live buffer, ordered ascending by segment id.
func (s *PassiveBufferSet) All() []*PassiveBuffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint64, 0, len(s.buffers))
	for id := range s.buffers {
		ids = append(ids, id)
	}
	sortUint64(ids)
	out := make([]*PassiveBuffer, len(ids))
	for i, id := range ids {
		out[i] = s.buffers[id]
	}
	return out
}

func sortUint64(ids []uint64) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
