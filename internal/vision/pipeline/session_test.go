package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junction-data/crossing.report/internal/config"
	"github.com/junction-data/crossing.report/internal/timeutil"
	"github.com/junction-data/crossing.report/internal/vision/detect"
	"github.com/junction-data/crossing.report/internal/vision/tracks"
	"github.com/junction-data/crossing.report/internal/vision/zones"
)

const frameW, frameH = 1000, 1000

// testZones places the four approach zones as edge bands with an open
// center, so tracks can exist outside every zone.
func testZones(t *testing.T) *zones.Set {
	t.Helper()
	set, err := zones.NewSet([]zones.Zone{
		{Name: zones.ZoneNorth, Polygon: []zones.Point{{X: 0, Y: 0}, {X: 1000, Y: 0}, {X: 1000, Y: 200}, {X: 0, Y: 200}}},
		{Name: zones.ZoneSouth, Polygon: []zones.Point{{X: 0, Y: 800}, {X: 1000, Y: 800}, {X: 1000, Y: 1000}, {X: 0, Y: 1000}}},
		{Name: zones.ZoneEast, Polygon: []zones.Point{{X: 800, Y: 200}, {X: 1000, Y: 200}, {X: 1000, Y: 800}, {X: 800, Y: 800}}},
		{Name: zones.ZoneWest, Polygon: []zones.Point{{X: 0, Y: 200}, {X: 200, Y: 200}, {X: 200, Y: 800}, {X: 0, Y: 800}}},
	}, nil)
	require.NoError(t, err)
	return set
}

func carAt(x, y float64) detect.Detection {
	return detect.Detection{
		Box:        detect.Box{X: x - 20, Y: y - 15, W: 40, H: 30},
		ClassID:    2,
		Label:      detect.LabelCar,
		Confidence: 0.9,
	}
}

// northboundFrames produces a track starting in the open center and driving
// straight into the north zone, then lingering there.
func northboundFrames(n int) []detect.Frame {
	frames := make([]detect.Frame, n)
	for i := range frames {
		y := 500 - 30*float64(i)
		if y < 100 {
			y = 100 // linger inside N
		}
		frames[i] = detect.Frame{Index: i, Detections: []detect.Detection{carAt(500, y)}}
	}
	return frames
}

type recordingSink struct {
	crossings []zones.CrossingEvent
	counted   []bool
	ended     []int64
}

func (r *recordingSink) RecordCrossing(_ string, ev zones.CrossingEvent, _ string, counted bool) error {
	r.crossings = append(r.crossings, ev)
	r.counted = append(r.counted, counted)
	return nil
}

func (r *recordingSink) RecordTrackEnd(_ string, t *tracks.Track) error {
	r.ended = append(r.ended, t.ID)
	return nil
}

func TestSessionStraightLineNorthCountsOnce(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	s := NewSession(nil, testZones(t), frameW, frameH, sink)

	for _, f := range northboundFrames(30) {
		require.NoError(t, s.ProcessFrame(f))
	}
	summary := s.Finalize()

	assert.Equal(t, int64(1), summary.Counts.ByZone[zones.ZoneNorth])
	assert.Zero(t, summary.Counts.ByZone[zones.ZoneSouth])
	assert.Zero(t, summary.Counts.ByZone[zones.ZoneEast])
	assert.Zero(t, summary.Counts.ByZone[zones.ZoneWest])
	assert.Equal(t, int64(1), summary.TracksCounted)
	assert.Equal(t, int64(1), summary.TracksCreated)

	// Exactly one crossing event fired despite many frames inside the zone.
	require.Len(t, sink.crossings, 1)
	assert.Equal(t, zones.ZoneNorth, sink.crossings[0].Zone)
	assert.True(t, sink.counted[0])
	// Finalize flushed the still-live track.
	assert.Equal(t, []int64{sink.crossings[0].TrackID}, sink.ended)
}

func TestSessionTwoSimultaneousCrossings(t *testing.T) {
	t.Parallel()

	s := NewSession(nil, testZones(t), frameW, frameH, nil)

	// One car northbound on the left lane, one southbound on the right.
	for i := 0; i < 30; i++ {
		yN := 500 - 30*float64(i)
		if yN < 100 {
			yN = 100
		}
		yS := 500 + 30*float64(i)
		if yS > 900 {
			yS = 900
		}
		frame := detect.Frame{Index: i, Detections: []detect.Detection{
			carAt(300, yN),
			carAt(700, yS),
		}}
		require.NoError(t, s.ProcessFrame(frame))
	}
	summary := s.Finalize()

	assert.Equal(t, int64(2), summary.TracksCreated)
	assert.Equal(t, int64(1), summary.Counts.ByZone[zones.ZoneNorth])
	assert.Equal(t, int64(1), summary.Counts.ByZone[zones.ZoneSouth])
	assert.Equal(t, int64(2), summary.Counts.Total)
}

func TestSessionDeterministicReplay(t *testing.T) {
	t.Parallel()

	log := func() []detect.Frame {
		var frames []detect.Frame
		for i := 0; i < 40; i++ {
			var dets []detect.Detection
			yN := 500 - 25*float64(i)
			if yN < 100 {
				yN = 100
			}
			dets = append(dets, carAt(300, yN))
			if i >= 5 {
				xE := 500 + 20*float64(i-5)
				if xE > 900 {
					xE = 900
				}
				dets = append(dets, detect.Detection{
					Box:        detect.Box{X: xE - 25, Y: 380, W: 50, H: 40},
					ClassID:    7,
					Label:      detect.LabelTruck,
					Confidence: 0.8,
				})
			}
			frames = append(frames, detect.Frame{Index: i, Detections: dets})
		}
		return frames
	}

	run := func() Summary {
		s := NewSession(nil, testZones(t), frameW, frameH, nil)
		for _, f := range log() {
			require.NoError(t, s.ProcessFrame(f))
		}
		return s.Finalize()
	}

	a, b := run(), run()
	assert.Empty(t, cmp.Diff(a.Counts, b.Counts))
	assert.Equal(t, a.TracksCreated, b.TracksCreated)
	assert.Equal(t, a.TracksCounted, b.TracksCounted)
	assert.Empty(t, cmp.Diff(a.Samples, b.Samples))
}

func TestSessionSkipFrameAges(t *testing.T) {
	t.Parallel()

	miss := 3
	cfg := &config.SessionConfig{MissThreshold: &miss}
	sink := &recordingSink{}
	s := NewSession(cfg, testZones(t), frameW, frameH, sink)

	require.NoError(t, s.ProcessFrame(detect.Frame{Index: 0, Detections: []detect.Detection{carAt(500, 500)}}))

	// Three consecutive dropped frames purge the track.
	for i := 1; i <= 3; i++ {
		s.SkipFrame(i)
	}
	summary := s.Finalize()

	assert.Equal(t, 3, summary.FramesDropped)
	assert.Equal(t, int64(1), summary.TracksLost)
	require.Len(t, sink.ended, 1)
}

func TestSessionDroppedFrameViaSource(t *testing.T) {
	t.Parallel()

	s := NewSession(nil, testZones(t), frameW, frameH, nil)

	require.NoError(t, s.ProcessFrame(detect.Frame{Index: 0, Detections: []detect.Detection{carAt(500, 500)}}))
	require.NoError(t, s.ProcessFrame(detect.Frame{Index: 1, Dropped: true}))
	require.NoError(t, s.ProcessFrame(detect.Frame{Index: 2, Detections: []detect.Detection{carAt(500, 470)}}))

	summary := s.Finalize()
	assert.Equal(t, 2, summary.FramesProcessed)
	assert.Equal(t, 1, summary.FramesDropped)
	assert.Equal(t, int64(1), summary.TracksCreated, "track survives the gap")
}

// Snapshot is the contract between the frame loop and concurrent HTTP
// readers; the race detector verifies every track mutation, including the
// zone and counted flags, stays behind the tracker's lock.
func TestSessionConcurrentSnapshots(t *testing.T) {
	t.Parallel()

	s := NewSession(nil, testZones(t), frameW, frameH, nil)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.Snapshot()
				}
			}
		}()
	}

	for _, f := range northboundFrames(60) {
		require.NoError(t, s.ProcessFrame(f))
	}
	close(stop)
	wg.Wait()

	snap := s.Snapshot()
	require.Len(t, snap.Tracks, 1)
	assert.True(t, snap.Tracks[0].Counted)
	assert.Equal(t, zones.ZoneNorth, snap.Tracks[0].Zone)
	assert.Equal(t, int64(1), snap.Counts.ByZone[zones.ZoneNorth])
}

func TestSessionMovingTrackSurvivesDroppedFrames(t *testing.T) {
	t.Parallel()

	s := NewSession(nil, testZones(t), frameW, frameH, nil)

	// Eight frames northbound at 25 px/frame, enough for the velocity
	// estimate to settle.
	for i := 0; i <= 7; i++ {
		f := detect.Frame{Index: i, Detections: []detect.Detection{carAt(500, 500-25*float64(i))}}
		require.NoError(t, s.ProcessFrame(f))
	}
	// Three dropped frames while the car keeps moving.
	for i := 8; i <= 10; i++ {
		require.NoError(t, s.ProcessFrame(detect.Frame{Index: i, Dropped: true}))
	}
	// Reappears at its true position: same identity, no second track.
	require.NoError(t, s.ProcessFrame(detect.Frame{Index: 11, Detections: []detect.Detection{carAt(500, 500-25*11)}}))

	summary := s.Finalize()
	assert.Equal(t, int64(1), summary.TracksCreated, "coasted track re-associates after the gap")
	assert.Equal(t, 3, summary.FramesDropped)
	assert.Zero(t, summary.TracksLost)
}

func TestSessionRejectsMalformedDetection(t *testing.T) {
	t.Parallel()

	s := NewSession(nil, testZones(t), frameW, frameH, nil)

	frame := detect.Frame{Index: 0, Detections: []detect.Detection{
		carAt(500, 500),
		{Box: detect.Box{X: -500, Y: 10, W: 50, H: 50}, Confidence: 0.9}, // outside frame
		{Box: detect.Box{X: 10, Y: 10, W: 0, H: 50}, Confidence: 0.9},    // degenerate
	}}
	require.NoError(t, s.ProcessFrame(frame))

	summary := s.Finalize()
	assert.Equal(t, 2, summary.DetectionsRejected)
	assert.Equal(t, int64(1), summary.TracksCreated)
}

func TestSessionSnapshotAndSamples(t *testing.T) {
	t.Parallel()

	interval := 5
	cfg := &config.SessionConfig{CountSampleInterval: &interval}
	s := NewSession(cfg, testZones(t), frameW, frameH, nil)

	for _, f := range northboundFrames(21) {
		require.NoError(t, s.ProcessFrame(f))
	}

	snap := s.Snapshot()
	assert.Equal(t, s.ID(), snap.SessionID)
	assert.Equal(t, 20, snap.FrameIdx)
	require.Len(t, snap.Tracks, 1)
	assert.Equal(t, int64(1), snap.Counts.ByZone[zones.ZoneNorth])

	// Mutating the snapshot must not leak into the session.
	snap.Tracks[0].Zone = "garbage"
	assert.NotEqual(t, "garbage", s.Snapshot().Tracks[0].Zone)

	samples := s.Samples()
	require.NotEmpty(t, samples)
	assert.Equal(t, 0, samples[0].FrameIdx%interval)

	trails, labels := s.Trails()
	require.Len(t, trails, 1)
	for id, trail := range trails {
		assert.NotEmpty(t, trail)
		assert.Equal(t, detect.LabelCar, labels[id])
	}
}

func TestSessionFPSUsesClock(t *testing.T) {
	t.Parallel()

	s := NewSession(nil, testZones(t), frameW, frameH, nil)
	clock := timeutil.NewManualClock(time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC))
	s.clock = clock
	s.started = clock.Now()

	for _, f := range northboundFrames(30) {
		require.NoError(t, s.ProcessFrame(f))
	}
	clock.Advance(2 * time.Second)

	snap := s.Snapshot()
	assert.InDelta(t, 15.0, snap.FPS, 1e-9)

	summary := s.Finalize()
	assert.Equal(t, 2*time.Second, summary.Elapsed)
}

func TestRunCancellation(t *testing.T) {
	t.Parallel()

	s := NewSession(nil, testZones(t), frameW, frameH, nil)
	src := &detect.SliceSource{Frames: northboundFrames(30)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	frames, err := Run(ctx, s, src)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, frames)
}

func TestRunToCompletion(t *testing.T) {
	t.Parallel()

	s := NewSession(nil, testZones(t), frameW, frameH, nil)
	src := &detect.SliceSource{Frames: northboundFrames(30)}

	frames, err := Run(context.Background(), s, src)
	require.NoError(t, err)
	assert.Equal(t, 30, frames)

	summary := s.Finalize()
	assert.Equal(t, 30, summary.FramesProcessed)
	assert.Equal(t, int64(1), summary.Counts.ByZone[zones.ZoneNorth])
}
