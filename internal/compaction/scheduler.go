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
package compaction

import (
	"sync"
	"time"

	"github.com/sneldb/sneldb/internal/logging"
	"github.com/sneldb/sneldb/internal/shard"
)

// Config carries the slice of config.Engine the compactor needs.
type Config struct {
	Interval            time.Duration
	SegmentsPerMerge    int
	MaxShardConcurrency int
	SysIOThreshold      float64
	SysMemoryThreshold  float64
}

// Scheduler runs the compactor on a timer (spec §4.10 "Coordination"):
// every Interval, it samples system load, skips the cycle if either
// threshold is exceeded, then plans and runs merges across shards with at
// most MaxShardConcurrency shards compacting at once. Grounded on the
// teacher's settings-driven background behaviour (storage/settings.go's
// onexit-registered shutdown hooks show the same "one goroutine, one stop
// channel" shape used here) though the teacher has no periodic compaction
// of its own to imitate directly.
type Scheduler struct {
	mgr *shard.Manager
	cfg Config
	sem chan struct{}

	stop chan struct{}
	done chan struct{}
}

// NewScheduler returns a Scheduler bound to mgr, not yet started.
func NewScheduler(mgr *shard.Manager, cfg Config) *Scheduler {
	if cfg.MaxShardConcurrency <= 0 {
		cfg.MaxShardConcurrency = 1
	}
	if cfg.SegmentsPerMerge <= 0 {
		cfg.SegmentsPerMerge = 4
	}
	return &Scheduler{
		mgr:  mgr,
		cfg:  cfg,
		sem:  make(chan struct{}, cfg.MaxShardConcurrency),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the ticker loop in its own goroutine.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop signals the loop to exit and waits for it to actually stop. Foreground
// reads/writes never wait on this — only the caller managing the
// scheduler's own lifecycle does (spec §4.10 "foreground reads/writes must
// never block waiting for a compaction").
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// RunOnce runs exactly one compaction cycle synchronously, independent of
// the ticker — used by tests and by an operator-triggered manual compact.
func (s *Scheduler) RunOnce() {
	s.runCycle()
}

func (s *Scheduler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.runCycle()
		}
	}
}

func (s *Scheduler) runCycle() {
	sample, err := SampleResources()
	if err != nil {
		logging.L().Warnw("compaction: resource sample failed, proceeding without a gate", "err", err)
	} else if sample.ExceedsThresholds(s.cfg.SysIOThreshold, s.cfg.SysMemoryThreshold) {
		logging.L().Infow("compaction: skipping cycle, resource threshold exceeded",
			"io_busy_fraction", sample.IOBusyFraction, "mem_used_fraction", sample.MemoryUsedFraction)
		return
	}

	var wg sync.WaitGroup
	for i := 0; i < s.mgr.ShardCount(); i++ {
		shardIdx := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.sem <- struct{}{}
			defer func() { <-s.sem }()
			s.compactShard(shardIdx)
		}()
	}
	wg.Wait()
}

// compactShard plans and runs every eligible batch for one shard,
// sequentially — batches within a shard share that shard's segment index,
// so running them one at a time keeps the atomic index swap trivially
// race-free without an extra lock.
func (s *Scheduler) compactShard(i int) {
	segs, err := s.mgr.SegmentManifests(i)
	if err != nil {
		logging.L().Errorw("compaction: read segment manifests failed", "shard_id", i, "err", err)
		return
	}
	batches := Plan(segs, s.cfg.SegmentsPerMerge)
	for _, b := range batches {
		ticket, err := s.mgr.Compact(i, b.InputIDs, b.Level+1)
		if err != nil {
			logging.L().Errorw("compaction: compact failed", "shard_id", i, "level", b.Level, "inputs", b.InputIDs, "err", err)
			continue
		}
		s.mgr.AwaitCompact(i, ticket)
	}
}
