package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/filter"
)

func TestCatalogWriteReadRoundTrip(t *testing.T) {
	c := NewCatalog("uid-1")
	c.Set(FieldKinds{Field: "status", EnumBitmap: true})
	c.Set(FieldKinds{Field: "amount", ZoneXOR: true, ZoneSuRF: true})

	path := filepath.Join(t.TempDir(), "uid-1.icx")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, c.WriteTo(f))
	require.NoError(t, f.Close())

	reopened, err := ReadCatalog(path, "uid-1")
	require.NoError(t, err)
	assert.True(t, reopened.Fields["status"].EnumBitmap)
	assert.True(t, reopened.Fields["amount"].ZoneXOR)
	assert.True(t, reopened.Fields["amount"].ZoneSuRF)
	assert.False(t, reopened.Fields["amount"].EnumBitmap)
}

func TestHandlesZonesMatchingContextID(t *testing.T) {
	zi := NewZoneIndexBuilder("signup")
	zi.Add("ctx-a", 0)
	zi.Add("ctx-a", 2)

	h := &Handles{ZoneIdx: zi}
	leaf := filter.Leaf("context_id", filter.Eq, event.FromString("ctx-a"))

	zones, ok := h.ZonesMatching(leaf, nil)
	require.True(t, ok)
	assert.True(t, zones.Has(ZoneRef{ZoneID: 0}))
	assert.True(t, zones.Has(ZoneRef{ZoneID: 2}))
	assert.False(t, zones.Has(ZoneRef{ZoneID: 1}))
}

func TestHandlesZonesMatchingEnumEq(t *testing.T) {
	b := NewEnumBitmapBuilder("status", []string{"active", "inactive"})
	b.Add(0, "active")
	b.Add(1, "inactive")
	eb := b.Finish()

	h := &Handles{EnumBM: map[string]*EnumBitmap{"status": eb}}
	all := zoneIDsToSet([]uint32{0, 1})

	leaf := filter.Leaf("status", filter.Eq, event.FromEnum("active"))
	zones, ok := h.ZonesMatching(leaf, all)
	require.True(t, ok)
	assert.True(t, zones.Has(ZoneRef{ZoneID: 0}))
	assert.False(t, zones.Has(ZoneRef{ZoneID: 1}))
}

func TestHandlesZonesMatchingFallsBackWithNoIndex(t *testing.T) {
	h := &Handles{}
	leaf := filter.Leaf("unindexed_field", filter.Eq, event.FromInt(5))
	_, ok := h.ZonesMatching(leaf, nil)
	assert.False(t, ok)
}

func TestHandlesZonesMatchingXORRejectsNonMember(t *testing.T) {
	filterObj, err := BuildXORFilter([]uint64{HashKey("42")})
	require.NoError(t, err)

	h := &Handles{XOR: map[string]*XORFilter{"amount": filterObj}}
	leaf := filter.Leaf("amount", filter.Eq, event.FromInt(999))
	zones, ok := h.ZonesMatching(leaf, nil)
	require.True(t, ok)
	assert.Empty(t, zones)
}
