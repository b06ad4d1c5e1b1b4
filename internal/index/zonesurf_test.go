package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZoneSuRFMayMatchRange(t *testing.T) {
	b := NewZoneSuRFBuilder("plan")
	b.Add(0, "bronze")
	b.Add(0, "gold")
	b.Add(1, "silver")

	idx := b.Finish()

	assert.True(t, idx.MayMatchRange(0, RangeGte, "bronze"))
	assert.False(t, idx.MayMatchRange(0, RangeGt, "gold"))
	assert.True(t, idx.MayMatchRange(1, RangeLte, "silver"))
	assert.True(t, idx.MayMatchRange(99, RangeLt, "anything")) // unknown zone: can't rule out
}

func TestZoneSuRFWriteReadRoundTrip(t *testing.T) {
	b := NewZoneSuRFBuilder("plan")
	b.Add(0, "bronze")
	b.Add(0, "gold")
	idx := b.Finish()

	path := filepath.Join(t.TempDir(), "uid_plan.zsrf")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, idx.WriteTo(f))
	require.NoError(t, f.Close())

	reopened, err := ReadZoneSuRFIndex(path, "plan")
	require.NoError(t, err)
	assert.True(t, reopened.MayMatchRange(0, RangeGte, "bronze"))
}
