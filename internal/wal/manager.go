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
package wal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sneldb/sneldb/internal/archivestore"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/logging"
)

// ManagerConfig is the subset of config.WAL a Manager needs.
type ManagerConfig struct {
	Dir               string
	ArchiveDir        string
	Writer            Config
	ConservativeMode  bool
	CompressionAlgo   string
	CompressionLevel  int
}

// Manager owns every WAL file for one shard: the active writer plus every
// not-yet-archived prior log file, and performs archiving/deletion once a
// segment covering those log ids has been verified (§4.1
// "mark_segment_published").
type Manager struct {
	mu      sync.Mutex
	cfg     ManagerConfig
	shardID int
	active  *Writer
	logIDs  []uint64 // ascending, includes the active writer's id
	archive archivestore.Store
}

// Open scans dir for existing wal-*.log files and opens (or creates) the
// writer for the highest id, ready to accept further appends after replay.
func Open(cfg ManagerConfig, shardID int, nextLogID uint64) (*Manager, error) {
	ids, err := ListLogIDs(cfg.Dir)
	if err != nil {
		return nil, err
	}
	activeID := nextLogID
	if len(ids) > 0 && ids[len(ids)-1] >= activeID {
		activeID = ids[len(ids)-1]
	} else {
		ids = append(ids, activeID)
	}
	w, err := OpenWriter(cfg.Dir, shardID, activeID, cfg.Writer)
	if err != nil {
		return nil, err
	}
	var archive archivestore.Store
	if cfg.ConservativeMode {
		archive, err = archivestore.Open(cfg.ArchiveDir)
		if err != nil {
			return nil, fmt.Errorf("wal: open archive store: %w", err)
		}
	}
	return &Manager{cfg: cfg, shardID: shardID, active: w, logIDs: ids, archive: archive}, nil
}

// ReplayAll replays every on-disk log file in id order (§4.1 "replay()").
func (m *Manager) ReplayAll() ([]event.Event, error) {
	m.mu.Lock()
	ids := append([]uint64(nil), m.logIDs...)
	m.mu.Unlock()

	var all []event.Event
	for _, id := range ids {
		events, err := Replay(m.cfg.Dir, m.shardID, id)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}
	return all, nil
}

// Append durably appends to the active log file.
func (m *Manager) Append(events []event.Event) error {
	m.mu.Lock()
	w := m.active
	m.mu.Unlock()
	return w.Append(events)
}

// Rotate closes the active writer and opens a new one for nextLogID,
// called when the memtable rotates and a new segment id is reserved
// (§4.1 "A WAL file is associated with the next segment id to be produced").
func (m *Manager) Rotate(nextLogID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.active.Close(); err != nil {
		return fmt.Errorf("wal: close on rotate: %w", err)
	}
	w, err := OpenWriter(m.cfg.Dir, m.shardID, nextLogID, m.cfg.Writer)
	if err != nil {
		return err
	}
	m.active = w
	m.logIDs = append(m.logIDs, nextLogID)
	return nil
}

// MarkSegmentPublished archives and deletes every WAL file with id <
// segmentID (§4.1). If archiving fails for a file, that file is left in
// place and not removed from the in-memory id list, so a future call
// retries it.
func (m *Manager) MarkSegmentPublished(segmentID uint64) {
	m.mu.Lock()
	var toArchive []uint64
	var remaining []uint64
	for _, id := range m.logIDs {
		if id < segmentID && id != m.active.LogID() {
			toArchive = append(toArchive, id)
		} else {
			remaining = append(remaining, id)
		}
	}
	m.mu.Unlock()

	stillPresent := make([]uint64, 0, len(toArchive))
	for _, id := range toArchive {
		if m.archiveAndDelete(id) {
			continue
		}
		stillPresent = append(stillPresent, id)
	}

	m.mu.Lock()
	m.logIDs = mergeSortedUnique(remaining, stillPresent)
	m.mu.Unlock()
}

func (m *Manager) archiveAndDelete(logID uint64) bool {
	events, err := Replay(m.cfg.Dir, m.shardID, logID)
	if err != nil {
		logging.L().Errorw("wal: replay before archive failed, keeping log", "log_id", logID, "err", err)
		return false
	}
	if m.cfg.ConservativeMode {
		if _, err := WriteArchiveToStore(context.Background(), m.archive, m.shardID, logID, m.cfg.CompressionAlgo, m.cfg.CompressionLevel, events); err != nil {
			logging.L().Errorw("wal: archive failed, not deleting log", "log_id", logID, "err", err)
			return false
		}
	}
	path := filepath.Join(m.cfg.Dir, FileName(logID))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.L().Errorw("wal: delete after archive failed", "log_id", logID, "err", err)
		return false
	}
	return true
}

func mergeSortedUnique(a, b []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(a)+len(b))
	out := make([]uint64, 0, len(a)+len(b))
	for _, id := range append(append([]uint64{}, a...), b...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sortUint64(out)
	return out
}

// Close closes the active writer.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.Close()
}
