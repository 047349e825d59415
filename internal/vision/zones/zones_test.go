package zones

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quadrantZones splits a 1000x1000 frame into four triangular quadrants
// meeting at the center, the usual intersection calibration.
func quadrantZones() []Zone {
	return []Zone{
		{Name: ZoneNorth, Polygon: []Point{{0, 0}, {1000, 0}, {500, 500}}},
		{Name: ZoneSouth, Polygon: []Point{{0, 1000}, {1000, 1000}, {500, 500}}},
		{Name: ZoneEast, Polygon: []Point{{1000, 0}, {1000, 1000}, {500, 500}}},
		{Name: ZoneWest, Polygon: []Point{{0, 0}, {0, 1000}, {500, 500}}},
	}
}

func TestZoneContains(t *testing.T) {
	t.Parallel()

	z := Zone{Name: ZoneNorth, Polygon: []Point{{0, 0}, {100, 0}, {100, 100}, {0, 100}}}
	assert.True(t, z.Contains(50, 50))
	assert.False(t, z.Contains(150, 50))
	assert.False(t, z.Contains(50, -10))

	// Concave polygon (C shape opening right).
	c := Zone{Name: ZoneWest, Polygon: []Point{
		{0, 0}, {100, 0}, {100, 20}, {20, 20}, {20, 80}, {100, 80}, {100, 100}, {0, 100},
	}}
	assert.True(t, c.Contains(10, 50))
	assert.False(t, c.Contains(60, 50), "point in the concave notch is outside")

	degenerate := Zone{Name: ZoneEast, Polygon: []Point{{0, 0}, {1, 1}}}
	assert.False(t, degenerate.Contains(0, 0))
}

func TestNewSetValidation(t *testing.T) {
	t.Parallel()

	t.Run("valid set with default priority", func(t *testing.T) {
		t.Parallel()
		set, err := NewSet(quadrantZones(), nil)
		require.NoError(t, err)
		assert.Equal(t, CanonicalOrder, set.Names())
	})

	t.Run("missing zone", func(t *testing.T) {
		t.Parallel()
		_, err := NewSet(quadrantZones()[:3], nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing zone")
	})

	t.Run("duplicate zone", func(t *testing.T) {
		t.Parallel()
		zs := quadrantZones()
		zs[1].Name = ZoneNorth
		_, err := NewSet(zs, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("bad polygon", func(t *testing.T) {
		t.Parallel()
		zs := quadrantZones()
		zs[0].Polygon = zs[0].Polygon[:2]
		_, err := NewSet(zs, nil)
		assert.Error(t, err)
	})

	t.Run("bad priority", func(t *testing.T) {
		t.Parallel()
		_, err := NewSet(quadrantZones(), []string{"N", "S", "E"})
		assert.Error(t, err)
		_, err = NewSet(quadrantZones(), []string{"N", "S", "E", "E"})
		assert.Error(t, err)
		_, err = NewSet(quadrantZones(), []string{"N", "S", "E", "X"})
		assert.Error(t, err)
	})
}

func TestLocate(t *testing.T) {
	t.Parallel()

	set, err := NewSet(quadrantZones(), nil)
	require.NoError(t, err)

	assert.Equal(t, ZoneNorth, set.Locate(500, 100))
	assert.Equal(t, ZoneSouth, set.Locate(500, 900))
	assert.Equal(t, ZoneEast, set.Locate(900, 500))
	assert.Equal(t, ZoneWest, set.Locate(100, 500))
	assert.Equal(t, "", set.Locate(5000, 5000))
}

func TestLocateOverlapResolvesByPriority(t *testing.T) {
	t.Parallel()

	// N and E share the region around (700, 300).
	overlapping := []Zone{
		{Name: ZoneNorth, Polygon: []Point{{0, 0}, {1000, 0}, {1000, 400}, {0, 400}}},
		{Name: ZoneEast, Polygon: []Point{{600, 0}, {1000, 0}, {1000, 1000}, {600, 1000}}},
		{Name: ZoneSouth, Polygon: []Point{{0, 600}, {600, 600}, {600, 1000}, {0, 1000}}},
		{Name: ZoneWest, Polygon: []Point{{0, 400}, {300, 400}, {300, 600}, {0, 600}}},
	}

	nFirst, err := NewSet(overlapping, []string{"N", "S", "E", "W"})
	require.NoError(t, err)
	eFirst, err := NewSet(overlapping, []string{"E", "W", "N", "S"})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		assert.Equal(t, ZoneNorth, nFirst.Locate(700, 300))
		assert.Equal(t, ZoneEast, eFirst.Locate(700, 300))
	}
}

func TestClassifierEdgeTriggering(t *testing.T) {
	t.Parallel()

	set, err := NewSet(quadrantZones(), nil)
	require.NoError(t, err)
	c := NewClassifier(set)

	// Outside everything: no event.
	_, fired := c.Observe(1, 5000, 5000, 0)
	assert.False(t, fired)

	// Entering N fires once.
	ev, fired := c.Observe(1, 500, 100, 1)
	require.True(t, fired)
	assert.Equal(t, CrossingEvent{TrackID: 1, Zone: ZoneNorth, FromZone: "", FrameIdx: 1}, ev)

	// Lingering in N stays silent.
	for frame := 2; frame < 10; frame++ {
		_, fired = c.Observe(1, 480+float64(frame), 120, frame)
		assert.False(t, fired, "frame %d", frame)
	}
	assert.Equal(t, ZoneNorth, c.CurrentZone(1))

	// Direct transition N → W fires with the previous zone recorded.
	ev, fired = c.Observe(1, 100, 500, 10)
	require.True(t, fired)
	assert.Equal(t, ZoneWest, ev.Zone)
	assert.Equal(t, ZoneNorth, ev.FromZone)

	// Leaving all zones emits nothing but clears state, so re-entry fires.
	_, fired = c.Observe(1, 5000, 5000, 11)
	assert.False(t, fired)
	assert.Equal(t, "", c.CurrentZone(1))

	ev, fired = c.Observe(1, 100, 500, 12)
	require.True(t, fired)
	assert.Equal(t, ZoneWest, ev.Zone)
	assert.Equal(t, "", ev.FromZone)
}

func TestClassifierForget(t *testing.T) {
	t.Parallel()

	set, err := NewSet(quadrantZones(), nil)
	require.NoError(t, err)
	c := NewClassifier(set)

	_, fired := c.Observe(7, 500, 100, 0)
	require.True(t, fired)

	c.Forget(7)
	assert.Equal(t, "", c.CurrentZone(7))
}

func TestLoadSet(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "zones.json")
		data := `{"zones": [
			{"name": "N", "polygon": [{"x": 0, "y": 0}, {"x": 1000, "y": 0}, {"x": 500, "y": 500}]},
			{"name": "S", "polygon": [{"x": 0, "y": 1000}, {"x": 1000, "y": 1000}, {"x": 500, "y": 500}]},
			{"name": "E", "polygon": [{"x": 1000, "y": 0}, {"x": 1000, "y": 1000}, {"x": 500, "y": 500}]},
			{"name": "W", "polygon": [{"x": 0, "y": 0}, {"x": 0, "y": 1000}, {"x": 500, "y": 500}]}
		]}`
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

		set, err := LoadSet(path, []string{"S", "N", "W", "E"})
		require.NoError(t, err)
		assert.Equal(t, ZoneNorth, set.Locate(500, 100))
		assert.Equal(t, []string{"S", "N", "W", "E"}, set.Names())
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadSet(filepath.Join(t.TempDir(), "nope.json"), nil)
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"zones": [`), 0o644))
		_, err := LoadSet(path, nil)
		assert.Error(t, err)
	})
}
