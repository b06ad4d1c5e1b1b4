package archivestore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorePutGetRoundTrip(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "wal-00001-0-100.wal.zst", strings.NewReader("payload")))

	rc, err := s.Get(ctx, "wal-00001-0-100.wal.zst")
	require.NoError(t, err)
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(raw))
}

func TestLocalStoreGetMissingKeyErrors(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	_, err := s.Get(context.Background(), "nope")
	assert.Error(t, err)
}

func TestLocalStoreListFiltersByPrefixAndSorts(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "wal-00002.wal.zst", strings.NewReader("b")))
	require.NoError(t, s.Put(ctx, "wal-00001.wal.zst", strings.NewReader("a")))
	require.NoError(t, s.Put(ctx, "other.txt", strings.NewReader("c")))

	names, err := s.List(ctx, "wal-")
	require.NoError(t, err)
	assert.Equal(t, []string{"wal-00001.wal.zst", "wal-00002.wal.zst"}, names)
}

func TestParseS3URL(t *testing.T) {
	bucket, prefix, ok := parseS3URL("s3://my-bucket/archives/shard-0")
	require.True(t, ok)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "archives/shard-0", prefix)

	bucket, prefix, ok = parseS3URL("s3://my-bucket")
	require.True(t, ok)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "", prefix)

	_, _, ok = parseS3URL("/var/lib/sneldb/archive")
	assert.False(t, ok)
}

func TestOpenDispatchesOnURLScheme(t *testing.T) {
	local, err := Open(t.TempDir())
	require.NoError(t, err)
	_, isLocal := local.(*LocalStore)
	assert.True(t, isLocal)

	remote, err := Open("s3://bucket/prefix")
	require.NoError(t, err)
	_, isS3 := remote.(*S3Store)
	assert.True(t, isS3)
}
