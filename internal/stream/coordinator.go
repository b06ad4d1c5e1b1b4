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

package stream

import (
	"context"
	"fmt"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/filter"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/segment"
	"github.com/sneldb/sneldb/internal/shard"
)

const defaultBatchSize = 1024

// Coordinator turns the shard manager's batch-returning Query/Replay into
// the core's streaming result contract (spec §6.1). It is the Go
// realisation of "coroutine-style streaming" (spec §9): a bounded channel
// fed by per-shard goroutines, the same shape as the teacher's
// storage/scan.go parallel scan over a `chan scm.Scmer`, with panics
// caught per-goroutine instead of cascaded.
type Coordinator struct {
	registry  *schema.Registry
	mgr       *shard.Manager
	batchSize int
}

// NewCoordinator builds a Coordinator. batchSize is the query config's
// streaming_batch_size; a non-positive value falls back to a sane default.
func NewCoordinator(registry *schema.Registry, mgr *shard.Manager, batchSize int) *Coordinator {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Coordinator{registry: registry, mgr: mgr, batchSize: batchSize}
}

func snapshotOf(s *schema.Schema) SchemaSnapshot {
	cols := make([]ColumnDef, 0, len(s.Fields)+2)
	cols = append(cols, ColumnDef{Name: segment.MetaContextIDField, Type: event.KindString})
	cols = append(cols, ColumnDef{Name: segment.MetaTimestampField, Type: event.KindDateTime})
	for _, f := range s.Fields {
		cols = append(cols, ColumnDef{Name: f.Name, Type: f.Type})
	}
	return SchemaSnapshot{Columns: cols}
}

func sendFrame(ctx context.Context, out chan<- Frame, f Frame) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// Query fans the filter tree out to every shard concurrently (spec §4.8
// "broadcasts Query to all shards") and streams the merged rows as a
// SchemaSnapshot, zero or more RowBatches, then a terminal End or Error.
// Cross-shard merge order is unspecified (spec line "Ordered/unordered
// merge across shards"), so batches are emitted in whichever order shards
// finish. Cancelling ctx stops the stream from accepting new frames; the
// shard goroutines already in flight are left to finish on their own,
// since their result channel is sized to never block on a stranded send.
func (c *Coordinator) Query(ctx context.Context, eventType string, tree filter.Node, limit int) <-chan Frame {
	out := make(chan Frame, 4)

	s, ok := c.registry.Lookup(eventType)
	if !ok {
		go func() {
			defer close(out)
			sendFrame(ctx, out, errFrame(errs.Schema, fmt.Sprintf("stream: unknown event_type %q", eventType)))
		}()
		return out
	}

	go c.runQuery(ctx, out, s, eventType, tree, limit)
	return out
}

type shardQueryResult struct {
	shard  int
	events []event.Event
	err    error
}

func (c *Coordinator) runQuery(ctx context.Context, out chan Frame, s *schema.Schema, eventType string, tree filter.Node, limit int) {
	defer close(out)
	if !sendFrame(ctx, out, schemaFrame(snapshotOf(s))) {
		return
	}

	n := c.mgr.ShardCount()
	results := make(chan shardQueryResult, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer func() {
				if r := recover(); r != nil {
					results <- shardQueryResult{shard: i, err: fmt.Errorf("stream: shard %d: panic: %v", i, r)}
				}
			}()
			events, err := c.mgr.QueryShard(i, eventType, tree, limit)
			results <- shardQueryResult{shard: i, events: events, err: err}
		}(i)
	}

	sent := 0
	for i := 0; i < n; i++ {
		r := <-results
		if r.err != nil {
			sendFrame(ctx, out, errFrame(errs.Storage, fmt.Sprintf("stream: shard %d query: %v", r.shard, r.err)))
			return
		}

		rows := r.events
		if limit > 0 {
			remaining := limit - sent
			if remaining <= 0 {
				rows = nil
			} else if len(rows) > remaining {
				rows = rows[:remaining]
			}
		}
		for len(rows) > 0 {
			batchLen := c.batchSize
			if batchLen > len(rows) {
				batchLen = len(rows)
			}
			if !sendFrame(ctx, out, rowsFrame(rows[:batchLen])) {
				return
			}
			sent += batchLen
			rows = rows[batchLen:]
		}
		if limit > 0 && sent >= limit {
			break
		}
	}
	sendFrame(ctx, out, endFrame(sent))
}

// Replay streams a single context's events in write order (spec §8
// Ordering invariant), routed to the one shard owning contextID. Unlike
// Query, rows are never reordered or fanned across goroutines — ordering
// is already guaranteed by Manager.Replay, so Replay only needs to chunk
// that single ordered slice into RowBatches.
func (c *Coordinator) Replay(ctx context.Context, eventType, contextID string, since int64) <-chan Frame {
	out := make(chan Frame, 4)

	var snap SchemaSnapshot
	if eventType != "" {
		s, ok := c.registry.Lookup(eventType)
		if !ok {
			go func() {
				defer close(out)
				sendFrame(ctx, out, errFrame(errs.Schema, fmt.Sprintf("stream: unknown event_type %q", eventType)))
			}()
			return out
		}
		snap = snapshotOf(s)
	} else {
		snap = SchemaSnapshot{Columns: []ColumnDef{
			{Name: segment.MetaContextIDField, Type: event.KindString},
			{Name: segment.MetaTimestampField, Type: event.KindDateTime},
		}}
	}

	go c.runReplay(ctx, out, snap, eventType, contextID, since)
	return out
}

func (c *Coordinator) runReplay(ctx context.Context, out chan Frame, snap SchemaSnapshot, eventType, contextID string, since int64) {
	defer close(out)
	if !sendFrame(ctx, out, schemaFrame(snap)) {
		return
	}

	events, err := c.mgr.Replay(eventType, contextID, since)
	if err != nil {
		sendFrame(ctx, out, errFrame(errs.Storage, fmt.Sprintf("stream: replay %s/%s: %v", eventType, contextID, err)))
		return
	}

	sent := 0
	for len(events) > 0 {
		batchLen := c.batchSize
		if batchLen > len(events) {
			batchLen = len(events)
		}
		if !sendFrame(ctx, out, rowsFrame(events[:batchLen])) {
			return
		}
		sent += batchLen
		events = events[batchLen:]
	}
	sendFrame(ctx, out, endFrame(sent))
}
