package index

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXORFilterNoFalseNegatives(t *testing.T) {
	keys := make([]uint64, 0, 500)
	for i := 0; i < 500; i++ {
		keys = append(keys, HashKey(fmt.Sprintf("ctx-%d", i)))
	}
	filter, err := BuildXORFilter(keys)
	require.NoError(t, err)

	for _, k := range keys {
		assert.True(t, filter.Contains(k))
	}
}

func TestXORFilterRejectsMostNonMembers(t *testing.T) {
	keys := make([]uint64, 0, 200)
	for i := 0; i < 200; i++ {
		keys = append(keys, HashKey(fmt.Sprintf("member-%d", i)))
	}
	filter, err := BuildXORFilter(keys)
	require.NoError(t, err)

	falsePositives := 0
	for i := 0; i < 1000; i++ {
		k := HashKey(fmt.Sprintf("nonmember-%d", i))
		if filter.Contains(k) {
			falsePositives++
		}
	}
	assert.Less(t, falsePositives, 50) // ~0.4% expected rate for 8-bit fingerprints
}

func TestXORFilterEmptyNeverMatches(t *testing.T) {
	filter, err := BuildXORFilter(nil)
	require.NoError(t, err)
	assert.False(t, filter.Contains(HashKey("anything")))
}

func TestXORFilterWriteReadRoundTrip(t *testing.T) {
	keys := []uint64{HashKey("a"), HashKey("b"), HashKey("c")}
	filter, err := BuildXORFilter(keys)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "uid.xf")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, filter.WriteTo(f))
	require.NoError(t, f.Close())

	reopened, err := ReadXORFilter(path)
	require.NoError(t, err)
	for _, k := range keys {
		assert.True(t, reopened.Contains(k))
	}
}
