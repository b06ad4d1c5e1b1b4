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
	"os"
	"sort"

	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/filter"
	"github.com/sneldb/sneldb/internal/logging"
	"github.com/sneldb/sneldb/internal/memtable"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/segment"
	"github.com/sneldb/sneldb/internal/wal"
)

// Config carries everything a Worker needs to own one shard's state, the
// slice of config.Engine/config.WAL a shard actually consumes.
type Config struct {
	ShardID          int
	DataDir          string
	EventsPerZone    int
	FillFactor       float64
	RotateThreshold  int
	MailboxSize      int
}

// Worker is the per-shard actor (spec §4.7, §5): a single goroutine owns the
// memtable, the WAL manager, the passive buffer set and every open segment
// handle, and every mutation is serialised through its mailbox. Grounded on
// the teacher's storageShard (storage/shard.go), which reaches the same
// single-writer property with a mutex instead of a channel; a mailbox is
// used here so Store/Query/Replay/rotate requests queue in arrival order
// without a reader ever blocking a concurrent writer's lock acquisition.
type Worker struct {
	cfg      Config
	registry *schema.Registry
	walMgr   *wal.Manager
	cache    *segment.BlockCache

	mem      *memtable.MemTable
	passive  *memtable.PassiveBufferSet
	life     *Lifecycle
	segIdx   *SegmentIndex
	progress *FlushProgress

	// compactProgress is a second, independent instance of the same
	// submitted/completed ticket counter FlushProgress implements for
	// flushes — the type is generic enough ("some background work was
	// queued, wait until it's done") to reuse verbatim for the compactor's
	// barrier instead of inventing a parallel CompactProgress type.
	compactProgress *FlushProgress

	nextSegmentID uint64
	openSegments  map[segKey]*segment.Segment

	mailbox chan any
	stopped chan struct{}
}

type segKey struct {
	id  uint64
	uid string
}

type storeMsg struct {
	event event.Event
	done  chan error
}

type queryMsg struct {
	eventType string
	tree      filter.Node
	limit     int
	resp      chan queryResult
}

type queryResult struct {
	events []event.Event
	err    error
}

type replayMsg struct {
	eventType string // empty means every registered type
	contextID string
	since     int64 // 0 means no lower bound
	resp      chan queryResult
}

type rotateMsg struct {
	resp chan uint64
}

type flushDoneMsg struct {
	ticket    uint64
	segmentID uint64
	manifest  *segment.Manifest
	err       error
}

type compactMsg struct {
	inputIDs []uint64
	level    int
	resp     chan compactTicketResult
}

type compactTicketResult struct {
	ticket uint64
	err    error
}

type compactDoneMsg struct {
	ticket       uint64
	newSegmentID uint64
	inputIDs     []uint64
	manifest     *segment.Manifest
	err          error
}

// SegmentMeta is the planner-facing view of one persisted segment: its id,
// compaction level, and the UIDs it holds data for (spec §4.10 "group
// segments by (UID, level)").
type SegmentMeta struct {
	ID    uint64
	Level int
	UIDs  []string
}

// NewWorker wires a shard's memtable, WAL manager and segment index
// together. startSegmentID is the next id WriteSegment should use, derived
// at startup from the shard's persisted SegmentIndex.
func NewWorker(cfg Config, registry *schema.Registry, walMgr *wal.Manager, segIdx *SegmentIndex, cache *segment.BlockCache, startSegmentID uint64) *Worker {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 256
	}
	passive := memtable.NewPassiveBufferSet()
	return &Worker{
		cfg:           cfg,
		registry:      registry,
		walMgr:        walMgr,
		cache:         cache,
		mem:           memtable.New(),
		passive:       passive,
		life:          NewLifecycle(passive),
		segIdx:          segIdx,
		progress:        NewFlushProgress(),
		compactProgress: NewFlushProgress(),
		nextSegmentID:   startSegmentID,
		openSegments:  make(map[segKey]*segment.Segment),
		mailbox:       make(chan any, cfg.MailboxSize),
		stopped:       make(chan struct{}),
	}
}

// SeedFromReplay inserts events recovered from WAL replay directly into the
// memtable, bypassing the mailbox — called once at startup before Run, when
// no concurrent access is possible yet (spec §6.2 "on restart, each shard
// replays its WAL(s) ... into a fresh memtable before accepting requests").
func (w *Worker) SeedFromReplay(events []event.Event) {
	for _, e := range events {
		w.mem.Insert(e)
	}
}

// Run is the actor's mailbox loop; call it in its own goroutine. It returns
// once Close's sentinel has drained the mailbox.
func (w *Worker) Run() {
	for msg := range w.mailbox {
		switch m := msg.(type) {
		case storeMsg:
			m.done <- w.handleStore(m.event)
		case queryMsg:
			events, err := w.handleQuery(m.eventType, m.tree, m.limit)
			m.resp <- queryResult{events: events, err: err}
		case replayMsg:
			events, err := w.handleReplay(m)
			m.resp <- queryResult{events: events, err: err}
		case rotateMsg:
			m.resp <- w.doRotateAndFlush()
		case flushDoneMsg:
			w.handleFlushDone(m)
		case compactMsg:
			m.resp <- w.handleCompactReserve(m)
		case compactDoneMsg:
			w.handleCompactDone(m)
		}
	}
	close(w.stopped)
}

// Close waits for in-flight flushes and compactions to finish, then stops
// accepting new work and waits for the mailbox to drain.
func (w *Worker) Close() {
	<-w.progress.AwaitTarget(w.progress.Submitted())
	<-w.compactProgress.AwaitTarget(w.compactProgress.Submitted())
	close(w.mailbox)
	<-w.stopped
}

// Store appends e durably to the WAL, inserts it into the memtable, and — if
// the memtable has crossed RotateThreshold — kicks off an asynchronous
// rotate-and-flush (spec §4.2 "STORE ... WAL append -> MemTable insert").
// Store returns once the insert (not the background flush) has completed.
func (w *Worker) Store(e event.Event) error {
	done := make(chan error, 1)
	w.mailbox <- storeMsg{event: e, done: done}
	return <-done
}

func (w *Worker) handleStore(e event.Event) error {
	if err := w.walMgr.Append([]event.Event{e}); err != nil {
		return fmt.Errorf("shard: wal append: %w", err)
	}
	w.mem.Insert(e)
	if w.mem.Len() >= w.cfg.RotateThreshold {
		w.doRotateAndFlush()
	}
	return nil
}

// Flush forces an immediate rotate-and-flush regardless of RotateThreshold
// and returns the ticket AwaitFlush needs to wait for exactly this flush
// (and no later one) to complete.
func (w *Worker) Flush() uint64 {
	resp := make(chan uint64, 1)
	w.mailbox <- rotateMsg{resp: resp}
	return <-resp
}

// AwaitFlush blocks until the flush identified by ticket (Flush's return
// value) has reached PhaseVerified. This deliberately does NOT go through
// the mailbox: FlushProgress is independently synchronised so a caller can
// wait on it from its own goroutine without occupying a mailbox slot that
// the very flushDoneMsg satisfying the wait needs to pass through — waiting
// inside Run's loop would deadlock the actor against itself.
func (w *Worker) AwaitFlush(ticket uint64) {
	<-w.progress.AwaitTarget(ticket)
}

// doRotateAndFlush reserves the next segment id, rotates the memtable into
// a passive buffer, rotates the WAL onto that same id, and launches the
// (potentially slow) segment write in its own goroutine so the actor's
// mailbox keeps serving Store/Query/Replay while the flush runs (spec §4.9
// "flush runs in the background; the memtable is NOT blocked").
func (w *Worker) doRotateAndFlush() uint64 {
	if w.mem.Len() == 0 {
		return w.progress.Submitted()
	}

	segmentID := w.nextSegmentID
	w.nextSegmentID++

	buf := w.mem.Rotate(segmentID)
	w.passive.Add(buf)
	w.life.Track(segmentID)

	if err := w.walMgr.Rotate(w.nextSegmentID); err != nil {
		logging.L().Errorw("shard: wal rotate failed", "shard_id", w.cfg.ShardID, "segment_id", segmentID, "err", err)
	}

	ticket := w.progress.NextID()

	go w.runFlush(ticket, segmentID, buf.Events)

	return ticket
}

func (w *Worker) runFlush(ticket, segmentID uint64, events []event.Event) {
	level := 0
	cfg := segment.WriteConfig{EventsPerZone: w.cfg.EventsPerZone, FillFactor: w.cfg.FillFactor}
	manifest, err := segment.WriteSegment(w.cfg.DataDir, w.cfg.ShardID, segmentID, level, cfg, w.registry, events)
	w.mailbox <- flushDoneMsg{ticket: ticket, segmentID: segmentID, manifest: manifest, err: err}
}

// handleFlushDone runs on the actor goroutine: it performs the atomic
// publish step (spec §4.9 step 4) — append to the persisted segment index —
// then marks the WAL segment published and releases the passive buffer.
// On failure, the passive buffer is kept so reads stay correct; the ticket
// is still marked completed so a caller waiting on AwaitFlush is not stuck
// forever on a flush that will need operator attention rather than a retry
// loop this package doesn't implement.
func (w *Worker) handleFlushDone(m flushDoneMsg) {
	defer w.progress.MarkCompleted(m.ticket)

	if m.err != nil {
		logging.L().Errorw("shard: segment flush failed", "shard_id", w.cfg.ShardID, "segment_id", m.segmentID, "err", m.err)
		return
	}

	w.life.Advance(m.segmentID, PhaseWritten)
	logging.L().Infow("shard: segment written", "shard_id", w.cfg.ShardID, "segment_id", m.segmentID, "uids", len(m.manifest.UIDs))

	if err := w.segIdx.Publish(m.segmentID); err != nil {
		logging.L().Errorw("shard: publish segment index failed", "shard_id", w.cfg.ShardID, "segment_id", m.segmentID, "err", err)
		return
	}
	w.walMgr.MarkSegmentPublished(m.segmentID)
	w.life.Advance(m.segmentID, PhaseVerified)
}

// SegmentManifests returns the planner-facing view (SegmentMeta) of every
// segment this shard has published, read from each segment's manifest.json
// rather than by opening the full Segment (catalog, zone index, etc.) the
// planner doesn't need. Safe to call from any goroutine: segIdx is
// independently synchronised and manifest.json is append-only/immutable
// once a segment is published.
func (w *Worker) SegmentManifests() ([]SegmentMeta, error) {
	ids := w.segIdx.All()
	out := make([]SegmentMeta, 0, len(ids))
	for _, id := range ids {
		dir := segment.Dir(w.cfg.DataDir, w.cfg.ShardID, id)
		m, err := segment.ReadManifestFile(dir)
		if err != nil {
			return nil, fmt.Errorf("shard: read manifest for segment %d: %w", id, err)
		}
		uids := make([]string, len(m.UIDs))
		for i, um := range m.UIDs {
			uids[i] = um.UID
		}
		out = append(out, SegmentMeta{ID: id, Level: m.Level, UIDs: uids})
	}
	return out, nil
}

// Compact merges inputIDs into a new segment at level (the caller — the
// compactor's planner — passes inputLevel+1, since the inputs themselves
// are all one level below the segment this produces), returning a ticket
// AwaitCompact can wait on (spec §4.10). Reserving the new segment id
// happens synchronously on the actor so it can never collide with a
// concurrent flush's reservation; the merge itself (segment reads, k-way
// merge, segment write+verify) runs in its own goroutine so it never stalls
// Store/Query/Replay, the same split doRotateAndFlush/runFlush uses.
func (w *Worker) Compact(inputIDs []uint64, level int) (uint64, error) {
	if len(inputIDs) == 0 {
		return 0, fmt.Errorf("shard: compact: empty input batch")
	}
	resp := make(chan compactTicketResult, 1)
	w.mailbox <- compactMsg{inputIDs: inputIDs, level: level, resp: resp}
	r := <-resp
	return r.ticket, r.err
}

// AwaitCompact blocks until the merge identified by ticket has published —
// deliberately bypassing the mailbox for the same reason AwaitFlush does.
func (w *Worker) AwaitCompact(ticket uint64) {
	<-w.compactProgress.AwaitTarget(ticket)
}

func (w *Worker) handleCompactReserve(m compactMsg) compactTicketResult {
	newSegmentID := w.nextSegmentID
	w.nextSegmentID++
	ticket := w.compactProgress.NextID()
	go w.runCompact(ticket, newSegmentID, m.inputIDs, m.level)
	return compactTicketResult{ticket: ticket}
}

func (w *Worker) runCompact(ticket, newSegmentID uint64, inputIDs []uint64, level int) {
	cfg := segment.WriteConfig{EventsPerZone: w.cfg.EventsPerZone, FillFactor: w.cfg.FillFactor}
	manifest, err := segment.WriteMergedSegment(w.cfg.DataDir, w.cfg.ShardID, newSegmentID, level, cfg, w.registry, w.cache, inputIDs)
	w.mailbox <- compactDoneMsg{ticket: ticket, newSegmentID: newSegmentID, inputIDs: inputIDs, manifest: manifest, err: err}
}

// handleCompactDone performs the compactor's atomic index update (spec
// §4.10 step 5): append the output segment id and remove the input ids from
// the shard's persisted segment list in one critical section, then delete
// the input directories — only once the index swap is durable, so a crash
// mid-delete still leaves the index pointing only at surviving directories
// (never a mixture, per §4.10's invariant). On failure the input set is
// left untouched: no partial index mutation ever happens.
func (w *Worker) handleCompactDone(m compactDoneMsg) {
	defer w.compactProgress.MarkCompleted(m.ticket)

	if m.err != nil {
		logging.L().Errorw("shard: compaction merge failed", "shard_id", w.cfg.ShardID, "inputs", m.inputIDs, "err", m.err)
		return
	}

	removed := make(map[uint64]bool, len(m.inputIDs))
	for _, id := range m.inputIDs {
		removed[id] = true
	}
	kept := make([]uint64, 0, len(w.segIdx.All()))
	for _, id := range w.segIdx.All() {
		if !removed[id] {
			kept = append(kept, id)
		}
	}
	kept = append(kept, m.newSegmentID)

	if err := w.segIdx.Replace(kept); err != nil {
		logging.L().Errorw("shard: publish compacted segment index failed", "shard_id", w.cfg.ShardID, "new_segment_id", m.newSegmentID, "err", err)
		return
	}
	logging.L().Infow("shard: compaction published", "shard_id", w.cfg.ShardID, "new_segment_id", m.newSegmentID, "inputs", m.inputIDs)

	for key := range w.openSegments {
		if removed[key.id] {
			delete(w.openSegments, key)
		}
	}
	for _, id := range m.inputIDs {
		dir := segment.Dir(w.cfg.DataDir, w.cfg.ShardID, id)
		if err := os.RemoveAll(dir); err != nil {
			logging.L().Errorw("shard: remove compacted input dir failed", "shard_id", w.cfg.ShardID, "segment_id", id, "dir", dir, "err", err)
		}
	}
}

// ShardID returns the shard index this worker owns.
func (w *Worker) ShardID() int { return w.cfg.ShardID }

// Query runs tree (already schema-bound to eventType) against the memtable,
// every live passive buffer, and every persisted segment for eventType's
// UID, returning matches merged in no particular cross-source order (spec
// §4.8 "per-shard: MemTable scan ∪ pruned segment scan ∪ merge"; ordering
// across sources is QUERY's job to resolve via order_by, not this layer's).
func (w *Worker) Query(eventType string, tree filter.Node, limit int) ([]event.Event, error) {
	resp := make(chan queryResult, 1)
	w.mailbox <- queryMsg{eventType: eventType, tree: tree, limit: limit, resp: resp}
	r := <-resp
	return r.events, r.err
}

func (w *Worker) handleQuery(eventType string, tree filter.Node, limit int) ([]event.Event, error) {
	s, ok := w.registry.Lookup(eventType)
	if !ok {
		return nil, fmt.Errorf("shard: no schema registered for event type %q", eventType)
	}
	compiled := filter.Compile(tree)

	pred := func(e event.Event) bool {
		if e.EventType != eventType {
			return false
		}
		return filter.Matches(compiled, eventRow(e))
	}

	var out []event.Event
	out = append(out, w.mem.Scan(pred, 0)...)
	out = append(out, w.passive.Scan(pred, 0)...)

	segEvents, err := w.scanSegments(s, compiled, eventType)
	if err != nil {
		return nil, err
	}
	out = append(out, segEvents...)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Replay returns every event for contextID (optionally restricted to
// eventType, optionally bounded below by since), in append order: oldest
// persisted segment first, then passive buffers oldest-first, then the
// active memtable (spec §3.1 line 36, §4.8 "Replay(ctx, [type], [since])").
func (w *Worker) Replay(eventType, contextID string, since int64) ([]event.Event, error) {
	resp := make(chan queryResult, 1)
	w.mailbox <- replayMsg{eventType: eventType, contextID: contextID, since: since, resp: resp}
	r := <-resp
	return r.events, r.err
}

func (w *Worker) handleReplay(m replayMsg) ([]event.Event, error) {
	ctxLeaf := filter.Leaf(segment.MetaContextIDField, filter.Eq, event.FromString(m.contextID))
	tree := ctxLeaf
	if m.since > 0 {
		tree = filter.And(ctxLeaf, filter.Leaf(segment.MetaTimestampField, filter.Gte, event.FromDateTime(m.since)))
	}
	compiled := filter.Compile(tree)

	pred := func(e event.Event) bool {
		if e.ContextID != m.contextID {
			return false
		}
		if m.eventType != "" && e.EventType != m.eventType {
			return false
		}
		if m.since > 0 && e.Timestamp < m.since {
			return false
		}
		return true
	}

	schemas, err := w.replaySchemas(m.eventType)
	if err != nil {
		return nil, err
	}

	var out []event.Event
	for _, s := range schemas {
		events, err := w.scanSegments(s, compiled, s.EventType)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			if pred(e) {
				out = append(out, e)
			}
		}
	}

	out = append(out, w.passive.Scan(pred, 0)...)
	out = append(out, w.mem.Scan(pred, 0)...)
	return out, nil
}

func (w *Worker) replaySchemas(eventType string) ([]*schema.Schema, error) {
	if eventType != "" {
		s, ok := w.registry.Lookup(eventType)
		if !ok {
			return nil, fmt.Errorf("shard: no schema registered for event type %q", eventType)
		}
		return []*schema.Schema{s}, nil
	}
	return w.registry.AllCurrent(), nil
}

// scanSegments walks every persisted segment (oldest id first) for one
// schema's UID, pruning zones with CandidateZones before hydrating.
func (w *Worker) scanSegments(s *schema.Schema, compiled filter.Node, eventType string) ([]event.Event, error) {
	ids := w.segIdx.All()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fields := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = f.Name
	}
	// maskFields additionally carries the meta columns so a filter leaf on
	// context_id/timestamp (REPLAY's generated leaves, or a user QUERY
	// predicate on either) resolves during Evaluate; HydrateEvents pulls
	// those same two columns in on its own, so fields alone is enough there.
	maskFields := append([]string{segment.MetaContextIDField, segment.MetaTimestampField}, fields...)

	var out []event.Event
	for _, id := range ids {
		seg, err := w.openSegment(id, s.UID)
		if err != nil {
			continue // a segment with no data for this UID never wrote files; skip it
		}
		zones, err := seg.CandidateZones(compiled)
		if err != nil {
			return nil, fmt.Errorf("shard: candidate zones: %w", err)
		}
		zoneIDs := make([]uint32, 0, len(zones))
		for ref := range zones {
			zoneIDs = append(zoneIDs, ref.ZoneID)
		}
		sort.Slice(zoneIDs, func(i, j int) bool { return zoneIDs[i] < zoneIDs[j] })
		for _, zoneID := range zoneIDs {
			batch, err := seg.Hydrate(zoneID, maskFields)
			if err != nil {
				return nil, fmt.Errorf("shard: hydrate: %w", err)
			}
			mask := segment.Evaluate(compiled, batch)
			events, err := seg.HydrateEvents(zoneID, eventType, fields)
			if err != nil {
				return nil, fmt.Errorf("shard: hydrate events: %w", err)
			}
			for i, ok := range mask {
				if ok {
					out = append(out, events[i])
				}
			}
		}
	}
	return out, nil
}

func (w *Worker) openSegment(segmentID uint64, uid string) (*segment.Segment, error) {
	key := segKey{id: segmentID, uid: uid}
	if seg, ok := w.openSegments[key]; ok {
		return seg, nil
	}
	dir := segment.Dir(w.cfg.DataDir, w.cfg.ShardID, segmentID)
	seg, err := segment.Open(segmentID, dir, uid, w.cache)
	if err != nil {
		return nil, err
	}
	w.openSegments[key] = seg
	return seg, nil
}

// eventRow adapts an event.Event to filter.MapRow the same way the segment
// writer addresses meta columns, so a filter tree may reference
// "context_id"/"timestamp" alongside schema fields.
func eventRow(e event.Event) filter.MapRow {
	row := make(filter.MapRow, len(e.Payload)+2)
	for k, v := range e.Payload {
		row[k] = v
	}
	row[segment.MetaContextIDField] = event.FromString(e.ContextID)
	row[segment.MetaTimestampField] = event.FromDateTime(e.Timestamp)
	return row
}
