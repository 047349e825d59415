package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junction-data/crossing.report/internal/vision/detect"
	"github.com/junction-data/crossing.report/internal/vision/pipeline"
	"github.com/junction-data/crossing.report/internal/vision/zones"
)

const frameW, frameH = 1280, 720

func snapshotWithOneCar(t *testing.T) pipeline.Snapshot {
	t.Helper()

	set, err := zones.NewSet([]zones.Zone{
		{Name: zones.ZoneNorth, Polygon: []zones.Point{{X: 0, Y: 0}, {X: 1280, Y: 0}, {X: 1280, Y: 100}, {X: 0, Y: 100}}},
		{Name: zones.ZoneSouth, Polygon: []zones.Point{{X: 0, Y: 620}, {X: 1280, Y: 620}, {X: 1280, Y: 720}, {X: 0, Y: 720}}},
		{Name: zones.ZoneEast, Polygon: []zones.Point{{X: 1180, Y: 100}, {X: 1280, Y: 100}, {X: 1280, Y: 620}, {X: 1180, Y: 620}}},
		{Name: zones.ZoneWest, Polygon: []zones.Point{{X: 0, Y: 100}, {X: 100, Y: 100}, {X: 100, Y: 620}, {X: 0, Y: 620}}},
	}, nil)
	require.NoError(t, err)

	s := pipeline.NewSession(nil, set, frameW, frameH, nil)
	for i := 0; i < 10; i++ {
		y := 400 - 35*float64(i)
		if y < 60 {
			y = 60
		}
		frame := detect.Frame{Index: i, Detections: []detect.Detection{{
			Box:        detect.Box{X: 600, Y: y - 15, W: 40, H: 30},
			ClassID:    2,
			Label:      detect.LabelCar,
			Confidence: 0.9,
		}}}
		require.NoError(t, s.ProcessFrame(frame))
	}
	return s.Snapshot()
}

func TestBuildOverlay(t *testing.T) {
	t.Parallel()

	snap := snapshotWithOneCar(t)
	ov := Build(snap, frameW, frameH, DefaultOptions())

	// Two guide lines crossing at the frame center.
	require.Len(t, ov.Lines, 2)
	assert.Equal(t, float64(frameW)/2, ov.Lines[0].X1)

	// One box per live track, colored for the majority class.
	require.Len(t, ov.Rects, 1)
	assert.Equal(t, colorCar, ov.Rects[0].Color)

	var texts []string
	for _, txt := range ov.Texts {
		texts = append(texts, txt.Value)
	}
	joined := strings.Join(texts, "\n")
	assert.Contains(t, joined, "ID:1 car")
	assert.Contains(t, joined, "North: 1")
	assert.Contains(t, joined, "South: 0")
	assert.Contains(t, joined, "East: 0")
	assert.Contains(t, joined, "West: 0")
	assert.Contains(t, joined, "FPS:")
}

func TestBuildOverlayOptions(t *testing.T) {
	t.Parallel()

	snap := snapshotWithOneCar(t)
	ov := Build(snap, frameW, frameH, Options{})

	assert.Empty(t, ov.Lines)
	require.Len(t, ov.Rects, 1)
	for _, txt := range ov.Texts {
		assert.NotContains(t, txt.Value, "ID:")
		assert.NotContains(t, txt.Value, "FPS:")
	}
}

func TestClassColor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, colorCar, ClassColor(detect.LabelCar))
	assert.Equal(t, colorTruck, ClassColor(detect.LabelTruck))
	assert.Equal(t, colorBus, ClassColor(detect.LabelBus))
	assert.Equal(t, colorMotorcycle, ClassColor(detect.LabelMotorcycle))
	assert.Equal(t, colorPerson, ClassColor(detect.LabelPerson))
	assert.Equal(t, colorDefault, ClassColor("zeppelin"))
}
