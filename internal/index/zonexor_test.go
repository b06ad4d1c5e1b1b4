package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZoneXORBuildAndMayMatch(t *testing.T) {
	b := NewZoneXORBuilder("status")
	b.Add(0, HashKey("active"))
	b.Add(0, HashKey("inactive"))
	b.Add(1, HashKey("pending"))

	idx, err := b.Finish()
	require.NoError(t, err)

	assert.True(t, idx.MayMatch(0, HashKey("active")))
	assert.True(t, idx.MayMatch(1, HashKey("pending")))
	assert.False(t, idx.MayMatch(1, HashKey("active")))
	// unknown zone: sound, never rules it out
	assert.True(t, idx.MayMatch(99, HashKey("active")))
}

func TestZoneXORWriteReadRoundTrip(t *testing.T) {
	b := NewZoneXORBuilder("status")
	b.Add(0, HashKey("active"))
	b.Add(2, HashKey("archived"))
	idx, err := b.Finish()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "uid_status.zxf")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, idx.WriteTo(f))
	require.NoError(t, f.Close())

	reopened, err := ReadZoneXORIndex(path, "status")
	require.NoError(t, err)
	assert.True(t, reopened.MayMatch(0, HashKey("active")))
	assert.True(t, reopened.MayMatch(2, HashKey("archived")))
}
