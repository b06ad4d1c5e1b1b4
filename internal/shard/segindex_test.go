package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentIndexPublishPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	idx, err := OpenSegmentIndex(dir)
	require.NoError(t, err)
	assert.Empty(t, idx.All())

	require.NoError(t, idx.Publish(0))
	require.NoError(t, idx.Publish(1))

	reopened, err := OpenSegmentIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1}, reopened.All())
}

func TestSegmentIndexReplaceSwapsFullList(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenSegmentIndex(dir)
	require.NoError(t, err)

	require.NoError(t, idx.Publish(0))
	require.NoError(t, idx.Publish(1))
	require.NoError(t, idx.Publish(2))

	require.NoError(t, idx.Replace([]uint64{3, 2}))
	assert.Equal(t, []uint64{2, 3}, idx.All())
}
