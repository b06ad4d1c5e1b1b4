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
package shard

import (
	"sync"

	"github.com/sneldb/sneldb/internal/memtable"
)

// Lifecycle tracks every in-flight segment's phase (spec §4.9:
// Flushing -> Written -> Verified) and releases its passive buffer from
// PassiveBufferSet at the exact moment it reaches Verified — the point at
// which readers may stop consulting the buffer and trust the on-disk
// segment instead.
//
// All mutation happens on the owning Worker's goroutine (the actor mailbox
// loop), so Lifecycle itself needs no locking for writes; Phase is exposed
// with a mutex only because a caller outside the actor (AwaitFlush) may
// want to read it for diagnostics without racing the detector.
type Lifecycle struct {
	mu      sync.Mutex
	phases  map[uint64]Phase
	passive *memtable.PassiveBufferSet
}

// NewLifecycle returns a tracker bound to one shard's passive buffer set.
func NewLifecycle(passive *memtable.PassiveBufferSet) *Lifecycle {
	return &Lifecycle{
		phases:  make(map[uint64]Phase),
		passive: passive,
	}
}

// Track registers a newly rotated segment as Flushing.
func (l *Lifecycle) Track(segmentID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phases[segmentID] = PhaseFlushing
}

// Advance moves segmentID to phase. Reaching PhaseVerified releases its
// passive buffer (spec §3 "Passive buffer" lifecycle) and forgets the
// segment — there is nothing further to track once it is durable and readers
// no longer need the in-memory fallback.
func (l *Lifecycle) Advance(segmentID uint64, phase Phase) {
	l.mu.Lock()
	l.phases[segmentID] = phase
	l.mu.Unlock()

	if phase == PhaseVerified {
		l.passive.Release(segmentID)
		l.mu.Lock()
		delete(l.phases, segmentID)
		l.mu.Unlock()
	}
}

// Phase returns the tracked phase for segmentID, or false if it is unknown
// (either never tracked, or already verified and forgotten).
func (l *Lifecycle) Phase(segmentID uint64) (Phase, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.phases[segmentID]
	return p, ok
}
