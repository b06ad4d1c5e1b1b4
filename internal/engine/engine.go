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

// Package engine wires the storage layer's component graph together into
// one process-wide object (config, schema registry, shard manager,
// streaming coordinator, background compactor) and exposes the single
// entry point the upstream parser/dispatcher calls: Execute. Commands reach
// shard, segment and wal only through it, the same "one god object wires
// everything" shape the teacher uses for its top-level Database
// (storage/database.go). The layers it wires (stream, compaction) hold the
// shard manager themselves, and cmd/sneldbd's archives subcommand reads WAL
// archives through wal and archivestore without an Engine.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dc0d/onexit"

	"github.com/sneldb/sneldb/internal/command"
	"github.com/sneldb/sneldb/internal/compaction"
	"github.com/sneldb/sneldb/internal/config"
	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/filter"
	"github.com/sneldb/sneldb/internal/logging"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/segment"
	"github.com/sneldb/sneldb/internal/shard"
	"github.com/sneldb/sneldb/internal/stream"
)

// Engine is the single owner of every live component of one SnelDB
// process. Open builds the whole graph; Execute is the only operation
// callers need afterward.
type Engine struct {
	cfg      *config.Config
	registry *schema.Registry
	cache    *segment.BlockCache
	shards   *shard.Manager
	coord    *stream.Coordinator
	sched    *compaction.Scheduler
	pool     *blockingPool
	watcher  *schemaWatcher
}

// Open builds and starts every component named above: schema registry,
// block cache, shard manager (which itself replays every shard's WAL),
// streaming coordinator, background compaction scheduler, the blocking-
// task pool, and the schema-definition hot-reload watcher. A graceful
// shutdown hook is registered with onexit the same way the teacher
// registers its own single shutdown hook (storage/settings.go).
func Open(cfg *config.Config) (*Engine, error) {
	schemaDir := filepath.Join(cfg.Engine.DataDir, "schema")
	registry, err := schema.Open(schemaDir)
	if err != nil {
		return nil, fmt.Errorf("engine: open schema registry: %w", err)
	}

	cache := segment.NewBlockCache(cfg.Query.ColumnBlockCacheMaxBytes.Bytes())

	shards, err := shard.Open(cfg, registry, cache)
	if err != nil {
		registry.Close()
		return nil, fmt.Errorf("engine: open shard manager: %w", err)
	}

	coord := stream.NewCoordinator(registry, shards, cfg.Query.StreamingBatchSize)

	sched := compaction.NewScheduler(shards, compaction.Config{
		Interval:            time.Duration(cfg.Engine.CompactionInterval.D),
		SegmentsPerMerge:    cfg.Engine.SegmentsPerMerge,
		MaxShardConcurrency: cfg.Engine.CompactionMaxShardConcurrency,
		SysIOThreshold:      cfg.Engine.SysIOThreshold,
		SysMemoryThreshold:  cfg.Engine.SysMemoryThreshold,
	})
	sched.Start()

	poolSize := cfg.Engine.MaxInflightPassives
	if poolSize <= 0 {
		poolSize = 4
	}
	pool := newBlockingPool(poolSize)

	e := &Engine{
		cfg:      cfg,
		registry: registry,
		cache:    cache,
		shards:   shards,
		coord:    coord,
		sched:    sched,
		pool:     pool,
	}

	watcher, err := newSchemaWatcher(cfg.Schema.DefDir, registry)
	if err != nil {
		logging.L().Warnw("engine: schema hot-reload disabled", "def_dir", cfg.Schema.DefDir, "err", err)
	} else {
		e.watcher = watcher
		watcher.Start()
	}

	onexit.Register(func() {
		if err := e.Close(); err != nil {
			logging.L().Errorw("engine: shutdown error", "err", err)
		}
	})

	return e, nil
}

// Close stops the background compactor and the schema watcher, waits for
// any in-flight blocking-pool work to drain, and closes every shard and
// the schema registry. Safe to call once; onexit also calls it on process
// exit so normal shutdown paths (signal handlers) don't have to remember
// to.
func (e *Engine) Close() error {
	if e.watcher != nil {
		e.watcher.Stop()
	}
	e.sched.Stop()
	e.pool.Wait()
	if err := e.shards.Close(); err != nil {
		return err
	}
	e.cache.Close()
	return e.registry.Close()
}

// Execute validates cmd and runs it, returning a stream of Frames per the
// generic streaming-result contract (spec §6.1): every command kind,
// not just Query, ends in a SchemaSnapshot/.../End sequence so a caller
// can treat all five uniformly.
func (e *Engine) Execute(ctx context.Context, cmd command.Command) (<-chan stream.Frame, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	switch {
	case cmd.Query != nil:
		return e.coord.Query(ctx, cmd.Query.EventType, e.queryFilter(*cmd.Query), cmd.Query.Limit), nil
	case cmd.Replay != nil:
		r := cmd.Replay
		return e.coord.Replay(ctx, r.EventType, r.ContextID, r.Since), nil
	case cmd.Define != nil:
		return e.executeDefine(cmd.Define)
	case cmd.Store != nil:
		return e.executeStore(cmd.Store)
	case cmd.Flush != nil:
		return e.executeFlush()
	default:
		return nil, errs.New(errs.Protocol, "engine: command carries no variant")
	}
}

// queryFilter ANDs the context_id and since scoping of a Query command
// into its predicate tree, since shard.Manager.Query/QueryShard only
// understands one flat filter.Node (spec §4.6's predicate tree is the
// single place scoping lives; ContextID/Since are sugar the caller folds
// in rather than separate parameters threaded through every layer).
func (e *Engine) queryFilter(q command.Query) filter.Node {
	tree := q.Filter
	if isEmptyFilter(tree) {
		tree = filter.And() // vacuously true: Matches short-circuits an empty AND to true
	}
	if q.ContextID != "" {
		tree = filter.And(tree, filter.Leaf("context_id", filter.Eq, event.FromString(q.ContextID)))
	}
	if q.Since > 0 {
		field := q.UsingTimeField
		if field == "" {
			field = "timestamp"
		}
		tree = filter.And(tree, filter.Leaf(field, filter.Gte, event.FromDateTime(q.Since)))
	}
	return tree
}

// isEmptyFilter reports whether q.Filter was left at its zero value,
// meaning the caller supplied no predicate at all rather than a leaf that
// genuinely compares against an empty field name.
func isEmptyFilter(n filter.Node) bool {
	return n.Kind == filter.KindLeaf && n.Field == "" && len(n.Children) == 0
}

func (e *Engine) executeDefine(d *command.Define) (<-chan stream.Frame, error) {
	fields := make([]schema.FieldDef, len(d.Fields))
	for i, f := range d.Fields {
		fields[i] = schema.FieldDef{Name: f.Name, Type: f.Type, Nullable: f.Nullable, Variants: f.Variants}
	}
	if _, err := e.registry.Define(d.EventType, fields); err != nil {
		return nil, err
	}
	return minimalStream(0), nil
}

func (e *Engine) executeStore(s *command.Store) (<-chan stream.Frame, error) {
	var storeErr error
	e.pool.Submit(func() {
		storeErr = e.shards.Store(event.Event{
			EventType: s.EventType,
			ContextID: s.ContextID,
			Timestamp: s.Timestamp,
			Payload:   s.Payload,
		})
	})
	if storeErr != nil {
		return nil, storeErr
	}
	return minimalStream(1), nil
}

func (e *Engine) executeFlush() (<-chan stream.Frame, error) {
	e.pool.Submit(e.shards.Flush)
	return minimalStream(0), nil
}

// minimalStream produces the smallest valid Frame sequence the streaming
// contract allows: an empty schema snapshot followed by a terminal End,
// used by the three command kinds that have no rows of their own to
// report (spec §6.1's contract is written generically, not scoped to
// Query alone).
func minimalStream(n int) <-chan stream.Frame {
	out := make(chan stream.Frame, 2)
	out <- stream.Frame{Schema: &stream.SchemaSnapshot{}}
	out <- stream.Frame{End: &stream.End{RowCount: n}}
	close(out)
	return out
}
