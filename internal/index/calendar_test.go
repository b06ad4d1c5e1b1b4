package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarZonesForRange(t *testing.T) {
	cal := NewCalendarBuilder("created_at")
	cal.Add(0, 1000)             // day 0
	cal.Add(1, secondsPerDay+10) // day 1
	cal.Add(2, secondsPerDay*5)  // day 5

	zones := cal.ZonesForRange(0, secondsPerDay+100)
	assert.True(t, zones.Has(ZoneRef{ZoneID: 0}))
	assert.True(t, zones.Has(ZoneRef{ZoneID: 1}))
	assert.False(t, zones.Has(ZoneRef{ZoneID: 2}))
}

func TestCalendarWriteReadRoundTrip(t *testing.T) {
	cal := NewCalendarBuilder("created_at")
	cal.Add(0, 1000)
	cal.Add(1, secondsPerDay*3)

	path := filepath.Join(t.TempDir(), "uid_created_at.cal")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, cal.WriteTo(f))
	require.NoError(t, f.Close())

	reopened, err := ReadCalendar(path, "created_at")
	require.NoError(t, err)
	zones := reopened.ZonesForRange(0, secondsPerDay*4)
	assert.True(t, zones.Has(ZoneRef{ZoneID: 0}))
	assert.True(t, zones.Has(ZoneRef{ZoneID: 1}))
}
