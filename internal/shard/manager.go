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
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sync"

	"github.com/sneldb/sneldb/internal/config"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/filter"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/segment"
	"github.com/sneldb/sneldb/internal/wal"
)

// Manager owns every shard worker and the routing table spec §4.8
// describes: "Hashes context_id (stable hash, e.g. 64-bit non-cryptographic)
// modulo N to pick a shard. Broadcasts Query/Flush to all shards. Routes
// Store per event by its context_id, and routes Replay to the single shard
// owning the context." FNV-1a (stdlib hash/fnv) is the stable 64-bit hash
// used here, the same family the teacher already pulls in for its own
// lookup structures.
type Manager struct {
	shardCount int
	workers    []*Worker
}

// Open starts one Worker per shard, each replaying its own WAL before the
// manager returns (spec §6.2 "on restart, each shard replays its WAL(s)
// ... into a fresh memtable before accepting requests").
func Open(cfg *config.Config, registry *schema.Registry, cache *segment.BlockCache) (*Manager, error) {
	n := cfg.Engine.ShardCount
	if n <= 0 {
		n = 1
	}
	m := &Manager{shardCount: n, workers: make([]*Worker, n)}

	for i := 0; i < n; i++ {
		shardWalDir := filepath.Join(cfg.WAL.Dir, fmt.Sprintf("shard-%d", i))
		shardArchiveDir := filepath.Join(cfg.WAL.ArchiveDir, fmt.Sprintf("shard-%d", i))
		shardSegDir := filepath.Join(cfg.Engine.IndexDir, fmt.Sprintf("shard-%d", i))

		segIdx, err := OpenSegmentIndex(shardSegDir)
		if err != nil {
			return nil, fmt.Errorf("shard: open segment index for shard %d: %w", i, err)
		}
		var nextSegmentID uint64
		if ids := segIdx.All(); len(ids) > 0 {
			nextSegmentID = ids[len(ids)-1] + 1
		}

		walCfg := wal.ManagerConfig{
			Dir:              shardWalDir,
			ArchiveDir:       shardArchiveDir,
			ConservativeMode: cfg.WAL.ConservativeMode,
			CompressionAlgo:  cfg.WAL.CompressionAlgo,
			CompressionLevel: cfg.WAL.CompressionLevel,
			Writer: wal.Config{
				Fsync:          cfg.WAL.Fsync,
				Buffered:       cfg.WAL.Buffered,
				FlushEachWrite: cfg.WAL.FlushEachWrite,
				FsyncEveryN:    cfg.WAL.FsyncEveryN,
			},
		}
		walMgr, err := wal.Open(walCfg, i, nextSegmentID)
		if err != nil {
			return nil, fmt.Errorf("shard: open wal for shard %d: %w", i, err)
		}
		replayed, err := walMgr.ReplayAll()
		if err != nil {
			return nil, fmt.Errorf("shard: replay wal for shard %d: %w", i, err)
		}

		workerCfg := Config{
			ShardID:         i,
			DataDir:         cfg.Engine.DataDir,
			EventsPerZone:   cfg.Engine.EventsPerZone,
			FillFactor:      cfg.Engine.FillFactor,
			RotateThreshold: cfg.Engine.MemtableRotateThreshold,
		}
		w := NewWorker(workerCfg, registry, walMgr, segIdx, cache, nextSegmentID)
		w.SeedFromReplay(replayed)
		go w.Run()
		m.workers[i] = w
	}
	return m, nil
}

// shardFor hashes contextID with FNV-1a (spec §4.8) to its owning shard
// index.
func (m *Manager) shardFor(contextID string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(contextID)) // hash.Hash never errors on Write
	return int(h.Sum64() % uint64(m.shardCount))
}

// Store routes e to the single shard owning e.ContextID.
func (m *Manager) Store(e event.Event) error {
	idx := m.shardFor(e.ContextID)
	return m.workers[idx].Store(e)
}

// Replay routes to the single shard owning contextID (spec §4.8).
func (m *Manager) Replay(eventType, contextID string, since int64) ([]event.Event, error) {
	idx := m.shardFor(contextID)
	return m.workers[idx].Replay(eventType, contextID, since)
}

// Query fans out to every shard concurrently and merges results (spec §4.8
// "Broadcasts Query ... to all shards").
func (m *Manager) Query(eventType string, tree filter.Node, limit int) ([]event.Event, error) {
	type shardResult struct {
		events []event.Event
		err    error
	}
	results := make([]shardResult, len(m.workers))

	var wg sync.WaitGroup
	for i, w := range m.workers {
		wg.Add(1)
		go func(i int, w *Worker) {
			defer wg.Done()
			events, err := w.Query(eventType, tree, limit)
			results[i] = shardResult{events: events, err: err}
		}(i, w)
	}
	wg.Wait()

	var out []event.Event
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		out = append(out, r.events...)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// QueryShard runs a query against a single shard by index, letting a
// streaming coordinator fan out shard-by-shard instead of waiting for
// every shard to finish (spec §6.1 streaming result).
func (m *Manager) QueryShard(i int, eventType string, tree filter.Node, limit int) ([]event.Event, error) {
	return m.workers[i].Query(eventType, tree, limit)
}

// Flush broadcasts a forced rotate-and-flush to every shard and waits for
// all of them to reach PhaseVerified — used by graceful shutdown and by
// tests that need a durable, query-visible-on-disk snapshot.
func (m *Manager) Flush() {
	tickets := make([]uint64, len(m.workers))
	for i, w := range m.workers {
		tickets[i] = w.Flush()
	}
	for i, w := range m.workers {
		w.AwaitFlush(tickets[i])
	}
}

// SegmentManifests returns shard i's segment planner view (spec §4.10's
// "group segments by (UID, level)" needs exactly this, without opening a
// full Segment per candidate).
func (m *Manager) SegmentManifests(i int) ([]SegmentMeta, error) {
	return m.workers[i].SegmentManifests()
}

// Compact merges a batch of shard i's segments into a new segment one level
// up, returning a ticket AwaitCompact can wait on.
func (m *Manager) Compact(i int, inputIDs []uint64, level int) (uint64, error) {
	return m.workers[i].Compact(inputIDs, level)
}

// AwaitCompact blocks until shard i's compaction identified by ticket has
// published.
func (m *Manager) AwaitCompact(i int, ticket uint64) {
	m.workers[i].AwaitCompact(ticket)
}

// Close stops every shard worker and its WAL manager.
func (m *Manager) Close() error {
	var firstErr error
	for _, w := range m.workers {
		w.Close()
		if err := w.walMgr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ShardCount returns the configured number of shards.
func (m *Manager) ShardCount() int { return m.shardCount }
