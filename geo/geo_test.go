package geo

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Distance(t *testing.T) {
	paris := Coordinate{Lat: 48.85, Lon: 2.35}
	newyork := Coordinate{Lat: 40.71, Lon: -74.0}

	d := Distance(paris, newyork)
	assert.InDelta(t, 5830, d, 50)

	assert.Zero(t, Distance(paris, paris))
	assert.InDelta(t, Distance(paris, newyork), Distance(newyork, paris), 0.001)
}

func Test_ParseTag(t *testing.T) {
	c, ok := ParseTag("weu")
	assert.True(t, ok)
	assert.Equal(t, Regions["weu"], c)

	c, ok = ParseTag("48.85,2.35")
	assert.True(t, ok)
	assert.InDelta(t, 48.85, c.Lat, 0.001)
	assert.InDelta(t, 2.35, c.Lon, 0.001)

	_, ok = ParseTag("")
	assert.False(t, ok)
	_, ok = ParseTag("atlantis")
	assert.False(t, ok)
	_, ok = ParseTag("100,200")
	assert.False(t, ok)
}

func Test_Bucket(t *testing.T) {
	c := Coordinate{Lat: 48.85, Lon: 2.35}

	assert.Equal(t, "40/0", Bucket(c, true, 10))
	assert.Equal(t, UnknownBucket, Bucket(c, false, 10))

	// Nearby clients share a bucket, remote clients do not.
	assert.Equal(t, Bucket(Coordinate{Lat: 41, Lon: 3}, true, 10), Bucket(c, true, 10))
	assert.NotEqual(t, Bucket(Coordinate{Lat: -30, Lon: 150}, true, 10), Bucket(c, true, 10))
}

func writeGeoDB(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "geo.db")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func Test_IndexLocate(t *testing.T) {
	path := writeGeoDB(t, t.TempDir(), `
# test database
192.0.2.0/24 48.85 2.35
198.51.100.0/24 40.71 -74.0
198.51.100.128/25 34.05 -118.24
bogus line here ignored
`)

	ix, err := Open(path)
	require.NoError(t, err)
	defer ix.Close()

	c, ok := ix.Locate(net.ParseIP("192.0.2.10"))
	require.True(t, ok)
	assert.InDelta(t, 48.85, c.Lat, 0.001)

	// Most specific prefix wins.
	c, ok = ix.Locate(net.ParseIP("198.51.100.200"))
	require.True(t, ok)
	assert.InDelta(t, 34.05, c.Lat, 0.001)

	// Unknown addresses degrade to not-found, never an error.
	_, ok = ix.Locate(net.ParseIP("203.0.113.77"))
	assert.False(t, ok)
	_, ok = ix.Locate(nil)
	assert.False(t, ok)
}

func Test_IndexReload(t *testing.T) {
	dir := t.TempDir()
	path := writeGeoDB(t, dir, "192.0.2.0/24 48.85 2.35\n")

	ix, err := Open(path)
	require.NoError(t, err)
	defer ix.Close()

	_, ok := ix.Locate(net.ParseIP("203.0.113.5"))
	assert.False(t, ok)

	writeGeoDB(t, dir, "203.0.113.0/24 -33.87 151.21\n")
	require.NoError(t, ix.reload())

	c, ok := ix.Locate(net.ParseIP("203.0.113.5"))
	require.True(t, ok)
	assert.InDelta(t, -33.87, c.Lat, 0.001)

	// The old prefix is gone after the swap.
	_, ok = ix.Locate(net.ParseIP("192.0.2.10"))
	assert.False(t, ok)
}
