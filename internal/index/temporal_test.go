package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemporalSlabMayMatchEqOutsideBounds(t *testing.T) {
	b := NewTemporalSlabBuilder("created_at")
	for ts := int64(1000); ts < 1100; ts += 10 {
		b.Add(0, ts)
	}
	slab := b.Finish()

	assert.False(t, slab.MayMatchEq(0, 500))  // before min
	assert.False(t, slab.MayMatchEq(0, 5000)) // after max
	assert.True(t, slab.MayMatchEq(0, 1000))  // exact min
	assert.True(t, slab.MayMatchEq(0, 1090))  // exact max
	assert.True(t, slab.MayMatchEq(99, 1000)) // unknown zone: can't rule out
}

func TestTemporalSlabMayMatchRange(t *testing.T) {
	b := NewTemporalSlabBuilder("created_at")
	b.Add(0, 1000)
	b.Add(0, 2000)
	slab := b.Finish()

	assert.True(t, slab.MayMatchRange(0, 1500, 2500))
	assert.False(t, slab.MayMatchRange(0, 3000, 4000))
}

func TestTemporalSlabWriteReadRoundTrip(t *testing.T) {
	b := NewTemporalSlabBuilder("created_at")
	b.Add(0, 1000)
	b.Add(0, 1010)
	b.Add(0, 1020)
	slab := b.Finish()

	path := filepath.Join(t.TempDir(), "uid_created_at.tfi")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, slab.WriteTo(f))
	require.NoError(t, f.Close())

	reopened, err := ReadTemporalSlab(path, "created_at")
	require.NoError(t, err)
	assert.True(t, reopened.MayMatchRange(0, 1000, 1020))
	assert.False(t, reopened.MayMatchEq(0, 900))
}
