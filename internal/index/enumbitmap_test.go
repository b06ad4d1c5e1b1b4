package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumBitmapMayMatchEqAndNeq(t *testing.T) {
	b := NewEnumBitmapBuilder("status", []string{"active", "inactive", "pending"})
	b.Add(0, "active")
	b.Add(0, "active")
	b.Add(1, "pending")

	eb := b.Finish()

	assert.True(t, eb.MayMatchEq(0, "active"))
	assert.False(t, eb.MayMatchEq(0, "pending"))
	assert.True(t, eb.MayMatchEq(1, "pending"))

	assert.False(t, eb.MayMatchNeq(0, "active")) // zone 0 is only ever "active"
	assert.True(t, eb.MayMatchNeq(1, "active"))  // zone 1 has "pending" != "active"
	assert.True(t, eb.MayMatchEq(99, "active"))  // unknown zone: can't rule out
}

func TestEnumBitmapWriteReadRoundTrip(t *testing.T) {
	b := NewEnumBitmapBuilder("status", []string{"active", "inactive"})
	b.Add(0, "active")
	b.Add(1, "inactive")
	eb := b.Finish()

	path := filepath.Join(t.TempDir(), "uid_status.ebm")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, eb.WriteTo(f))
	require.NoError(t, f.Close())

	reopened, err := ReadEnumBitmap(path, "status")
	require.NoError(t, err)
	assert.True(t, reopened.MayMatchEq(0, "active"))
	assert.False(t, reopened.MayMatchEq(1, "active"))
}
