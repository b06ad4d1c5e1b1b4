package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/filter"
)

func writeTestSegment(t *testing.T, n int) (dataDir string, uid string, cache *BlockCache) {
	t.Helper()
	reg, s := testRegistry(t)
	rows := mkRows(s, n)

	dataDir = t.TempDir()
	_, err := WriteSegment(dataDir, 0, 1, 0, WriteConfig{EventsPerZone: 10, FillFactor: 1.0}, reg, rows)
	require.NoError(t, err)

	cache = NewBlockCache(1 << 20)
	t.Cleanup(cache.Close)
	return dataDir, s.UID, cache
}

func TestSegmentOpenAndCandidateZonesByContextID(t *testing.T) {
	dataDir, uid, cache := writeTestSegment(t, 50)
	dir := Dir(dataDir, 0, 1)

	seg, err := Open(1, dir, uid, cache)
	require.NoError(t, err)

	tree := filter.Leaf("context_id", filter.Eq, event.FromString("ctx-a"))
	zones, err := seg.CandidateZones(tree)
	require.NoError(t, err)
	assert.NotEmpty(t, zones)
}

func TestSegmentCandidateZonesByEnumEq(t *testing.T) {
	dataDir, uid, cache := writeTestSegment(t, 50)
	dir := Dir(dataDir, 0, 1)

	seg, err := Open(1, dir, uid, cache)
	require.NoError(t, err)

	tree := filter.Leaf("status", filter.Eq, event.FromEnum("active"))
	zones, err := seg.CandidateZones(tree)
	require.NoError(t, err)
	assert.NotEmpty(t, zones)

	// EnumBitmap tracks exact per-zone variant presence, so every candidate
	// zone must contain at least one row where status == active.
	for ref := range zones {
		batch, err := seg.Hydrate(ref.ZoneID, []string{"status"})
		require.NoError(t, err)
		mask := Evaluate(tree, batch)
		found := false
		for _, m := range mask {
			if m {
				found = true
				break
			}
		}
		assert.True(t, found, "zone %d returned as candidate but no row matched", ref.ZoneID)
	}
}

func TestSegmentCandidateZonesByDatetimeRange(t *testing.T) {
	dataDir, uid, cache := writeTestSegment(t, 50)
	dir := Dir(dataDir, 0, 1)

	seg, err := Open(1, dir, uid, cache)
	require.NoError(t, err)

	tree := filter.And(
		filter.Leaf("created_at", filter.Gte, event.FromDateTime(1000)),
		filter.Leaf("created_at", filter.Lt, event.FromDateTime(1100)),
	)
	zones, err := seg.CandidateZones(tree)
	require.NoError(t, err)
	assert.NotEmpty(t, zones)
}

func TestSegmentHydrateAndEvaluateRoundTrip(t *testing.T) {
	dataDir, uid, cache := writeTestSegment(t, 20)
	dir := Dir(dataDir, 0, 1)

	seg, err := Open(1, dir, uid, cache)
	require.NoError(t, err)

	tree := filter.Leaf("amount", filter.Gte, event.FromInt(5))
	zones, err := seg.CandidateZones(tree)
	require.NoError(t, err)
	require.NotEmpty(t, zones)

	var totalMatches int
	for ref := range zones {
		batch, err := seg.Hydrate(ref.ZoneID, []string{"amount"})
		require.NoError(t, err)
		mask := Evaluate(tree, batch)
		for _, m := range mask {
			if m {
				totalMatches++
			}
		}
	}
	assert.Greater(t, totalMatches, 0)
}

func TestSegmentCandidateZonesByPlainStringEq(t *testing.T) {
	dataDir, uid, cache := writeTestSegment(t, 20)
	dir := Dir(dataDir, 0, 1)

	seg, err := Open(1, dir, uid, cache)
	require.NoError(t, err)

	// plan is a plain string field, indexed by XOR, Zone XOR and ZoneSuRF;
	// equality resolves through those indexes without error.
	tree := filter.Leaf("plan", filter.Eq, event.FromString("gold"))
	zones, err := seg.CandidateZones(tree)
	require.NoError(t, err)
	assert.NotEmpty(t, zones)
}

func TestSegmentHydrateEventsReconstructsContextAndTimestamp(t *testing.T) {
	dataDir, uid, cache := writeTestSegment(t, 20)
	dir := Dir(dataDir, 0, 1)

	seg, err := Open(1, dir, uid, cache)
	require.NoError(t, err)

	events, err := seg.HydrateEvents(0, "signup", []string{"amount"})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	for _, e := range events {
		assert.NotEmpty(t, e.ContextID)
		assert.Greater(t, e.Timestamp, int64(0))
		assert.Equal(t, "signup", e.EventType)
		_, ok := e.Payload["amount"]
		assert.True(t, ok)
	}
}
