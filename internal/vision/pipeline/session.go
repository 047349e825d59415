// Package pipeline owns the per-session frame loop: detections in, tracks
// maintained, zone crossings classified, counters updated, results handed to
// persistence and rendering. Sessions are independent; running two sessions
// concurrently shares nothing but code.
package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/junction-data/crossing.report/internal/config"
	"github.com/junction-data/crossing.report/internal/timeutil"
	"github.com/junction-data/crossing.report/internal/vision/counting"
	"github.com/junction-data/crossing.report/internal/vision/detect"
	"github.com/junction-data/crossing.report/internal/vision/tracks"
	"github.com/junction-data/crossing.report/internal/vision/zones"
)

// Sink receives session results as they become final. Implementations must
// tolerate being called once per frame; errors are logged, never fatal to
// the frame loop.
type Sink interface {
	// RecordCrossing is called for every crossing event, counted or not.
	RecordCrossing(sessionID string, ev zones.CrossingEvent, label string, counted bool) error
	// RecordTrackEnd is called once per track, when it is purged or when the
	// session finalizes with the track still live.
	RecordTrackEnd(sessionID string, t *tracks.Track) error
}

// CountSample is one point of the counts-over-time series.
type CountSample struct {
	FrameIdx int
	ByZone   map[string]int64
}

// TrailPoint is one smoothed center position of a track, kept for the
// trajectory plot.
type TrailPoint struct {
	X, Y float64
}

// Snapshot is a consistent read-only view of the session mid-run, the
// contract between the frame loop and the overlay renderer / HTTP API.
type Snapshot struct {
	SessionID string
	FrameIdx  int
	Tracks    []*tracks.Track
	Counts    counting.Snapshot
	FPS       float64
}

// Summary is the final result of a session.
type Summary struct {
	SessionID          string
	FramesProcessed    int
	FramesDropped      int
	DetectionsSeen     int
	DetectionsRejected int
	TracksCreated      int64
	TracksLost         int64
	TracksCounted      int64
	Counts             counting.Snapshot
	Samples            []CountSample
	Elapsed            time.Duration
}

// maxTrailPoints bounds the per-track trail kept for plotting.
const maxTrailPoints = 600

// Session drives one detection stream through the counting core. Frame
// processing is strictly sequential on a single goroutine; Snapshot may be
// called concurrently from HTTP handlers.
type Session struct {
	id     string
	frameW int
	frameH int

	tracker    *tracks.Tracker
	classifier *zones.Classifier
	counter    *counting.Engine
	sink       Sink
	clock      timeutil.Clock

	sampleInterval int

	mu                 sync.RWMutex
	started            time.Time
	lastFrame          int
	framesProcessed    int
	framesDropped      int
	detectionsSeen     int
	detectionsRejected int
	tracksCounted      int64
	samples            []CountSample
	trails             map[int64][]TrailPoint
	trailLabels        map[int64]string
	finalized          bool
}

// NewSession assembles a session from a validated config and zone geometry.
// sink may be nil when persistence is disabled.
func NewSession(cfg *config.SessionConfig, set *zones.Set, frameW, frameH int, sink Sink) *Session {
	if cfg == nil {
		cfg = config.DefaultSessionConfig()
	}
	trackerCfg := tracks.Config{
		HistoryWindow:    cfg.GetTrackHistoryWindow(),
		MissThreshold:    cfg.GetMissThreshold(),
		MatchCostGate:    cfg.GetMatchCostGate(),
		MaxCenterJumpPx:  cfg.GetMaxCenterJumpPx(),
		ProcessNoisePos:  cfg.GetProcessNoisePos(),
		ProcessNoiseVel:  cfg.GetProcessNoiseVel(),
		MeasurementNoise: cfg.GetMeasurementNoise(),
	}
	countCfg := counting.Config{
		ExcludePedestrians:   cfg.GetExcludePedestrians(),
		ClassifyVehicleTypes: cfg.GetClassifyVehicleTypes(),
	}

	clock := timeutil.Clock(timeutil.RealClock{})
	s := &Session{
		id:             uuid.New().String(),
		frameW:         frameW,
		frameH:         frameH,
		tracker:        tracks.NewTracker(trackerCfg),
		classifier:     zones.NewClassifier(set),
		counter:        counting.NewEngine(countCfg, set.Names()),
		sink:           sink,
		clock:          clock,
		sampleInterval: cfg.GetCountSampleInterval(),
		started:        clock.Now(),
		lastFrame:      -1,
		trails:         make(map[int64][]TrailPoint),
		trailLabels:    make(map[int64]string),
	}
	diagf("session %s: tracker window=%d misses=%d gate=%.2f jump=%.0fpx",
		s.id, trackerCfg.HistoryWindow, trackerCfg.MissThreshold,
		trackerCfg.MatchCostGate, trackerCfg.MaxCenterJumpPx)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Counter exposes the counting engine for reporting.
func (s *Session) Counter() *counting.Engine { return s.counter }

// ZoneSet returns the session's zone geometry.
func (s *Session) ZoneSet() *zones.Set { return s.classifier.Set() }

// ProcessFrame runs one frame through the core. Frames must arrive in
// strictly ascending index order; a dropped frame (no decodable detections)
// ages every active track instead of associating.
func (s *Session) ProcessFrame(frame detect.Frame) error {
	if frame.Dropped {
		s.SkipFrame(frame.Index)
		return nil
	}

	// Per-frame validation: malformed detections are dropped and logged,
	// never fatal.
	valid := frame.Detections[:0:0]
	for _, d := range frame.Detections {
		if err := detect.Validate(d, s.frameW, s.frameH); err != nil {
			s.mu.Lock()
			s.detectionsRejected++
			s.mu.Unlock()
			opsf("frame %d: dropping detection: %v", frame.Index, err)
			continue
		}
		valid = append(valid, d)
	}

	res, err := s.tracker.Update(frame.Index, valid)
	if err != nil {
		return fmt.Errorf("frame %d: %w", frame.Index, err)
	}
	tracef("frame %d: %d detections, %d matched, %d spawned, %d lost",
		frame.Index, len(valid), res.Matched, len(res.Spawned), len(res.Lost))

	// Classify and count in ascending track ID order so event and counter
	// sequences are identical across replays.
	for _, track := range s.tracker.ActiveTracks() {
		if track.LastSeenFrame != frame.Index {
			continue // Coasting tracks keep their last classified zone
		}
		ev, fired := s.classifier.Observe(track.ID, track.X, track.Y, frame.Index)
		s.tracker.SetZone(track.ID, s.classifier.CurrentZone(track.ID))
		if fired {
			label := track.MajorityLabel()
			counted := s.counter.OnCrossing(ev, label, s.tracker)
			if counted {
				s.mu.Lock()
				s.tracksCounted++
				s.mu.Unlock()
				diagf("frame %d: track %d (%s) counted entering %s",
					frame.Index, track.ID, label, ev.Zone)
			}
			s.recordCrossing(ev, label, counted)
		}
		s.appendTrail(track)
	}

	s.retireLost(res.Lost)

	s.mu.Lock()
	s.lastFrame = frame.Index
	s.framesProcessed++
	s.detectionsSeen += len(frame.Detections)
	s.mu.Unlock()

	s.maybeSample(frame.Index)
	return nil
}

// SkipFrame treats a frame as undecodable: every active track takes one
// miss, nothing is associated.
func (s *Session) SkipFrame(frameIdx int) {
	lost := s.tracker.AgeAndPrune(frameIdx)
	s.retireLost(lost)

	s.mu.Lock()
	s.lastFrame = frameIdx
	s.framesDropped++
	s.mu.Unlock()

	tracef("frame %d: dropped, %d tracks aged, %d lost", frameIdx, s.tracker.Count(), len(lost))
	s.maybeSample(frameIdx)
}

// retireLost hands purged tracks to the sink and releases classifier state.
func (s *Session) retireLost(lost []*tracks.Track) {
	for _, track := range lost {
		s.classifier.Forget(track.ID)
		if s.sink != nil {
			if err := s.sink.RecordTrackEnd(s.id, track); err != nil {
				opsf("persist track %d: %v", track.ID, err)
			}
		}
	}
}

func (s *Session) recordCrossing(ev zones.CrossingEvent, label string, counted bool) {
	if s.sink == nil {
		return
	}
	if err := s.sink.RecordCrossing(s.id, ev, label, counted); err != nil {
		opsf("persist crossing track %d zone %s: %v", ev.TrackID, ev.Zone, err)
	}
}

func (s *Session) appendTrail(track *tracks.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trail := append(s.trails[track.ID], TrailPoint{X: track.X, Y: track.Y})
	if len(trail) > maxTrailPoints {
		trail = trail[len(trail)-maxTrailPoints:]
	}
	s.trails[track.ID] = trail
	s.trailLabels[track.ID] = track.MajorityLabel()
}

func (s *Session) maybeSample(frameIdx int) {
	if s.sampleInterval <= 0 || frameIdx%s.sampleInterval != 0 {
		return
	}
	snap := s.counter.Snapshot()
	s.mu.Lock()
	s.samples = append(s.samples, CountSample{FrameIdx: frameIdx, ByZone: snap.ByZone})
	s.mu.Unlock()
}

// Snapshot returns a consistent copy of session state for the renderer and
// the HTTP API. Tracks are deep copies; mutating them affects nothing.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	frameIdx := s.lastFrame
	processed := s.framesProcessed
	started := s.started
	s.mu.RUnlock()

	var fps float64
	if elapsed := s.clock.Since(started).Seconds(); elapsed > 0 {
		fps = float64(processed) / elapsed
	}

	return Snapshot{
		SessionID: s.id,
		FrameIdx:  frameIdx,
		Tracks:    s.tracker.SnapshotTracks(),
		Counts:    s.counter.Snapshot(),
		FPS:       fps,
	}
}

// Trails returns a deep copy of every track's recorded trail with its
// majority label, including tracks already purged. Used by the trajectory
// plot at session end.
func (s *Session) Trails() (map[int64][]TrailPoint, map[int64]string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trails := make(map[int64][]TrailPoint, len(s.trails))
	for id, trail := range s.trails {
		copied := make([]TrailPoint, len(trail))
		copy(copied, trail)
		trails[id] = copied
	}
	labels := make(map[int64]string, len(s.trailLabels))
	for id, label := range s.trailLabels {
		labels[id] = label
	}
	return trails, labels
}

// Samples returns a copy of the counts-over-time series.
func (s *Session) Samples() []CountSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CountSample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Finalize closes the session: remaining live tracks are flushed to the
// sink and the run summary is computed. Idempotent; only the first call
// flushes.
func (s *Session) Finalize() Summary {
	s.mu.Lock()
	alreadyDone := s.finalized
	s.finalized = true
	s.mu.Unlock()

	if !alreadyDone && s.sink != nil {
		for _, track := range s.tracker.ActiveTracks() {
			if err := s.sink.RecordTrackEnd(s.id, track); err != nil {
				opsf("persist track %d at finalize: %v", track.ID, err)
			}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := Summary{
		SessionID:          s.id,
		FramesProcessed:    s.framesProcessed,
		FramesDropped:      s.framesDropped,
		DetectionsSeen:     s.detectionsSeen,
		DetectionsRejected: s.detectionsRejected,
		TracksCreated:      s.tracker.TracksCreated,
		TracksLost:         s.tracker.TracksLost,
		TracksCounted:      s.tracksCounted,
		Counts:             s.counter.Snapshot(),
		Samples:            append([]CountSample(nil), s.samples...),
		Elapsed:            s.clock.Since(s.started),
	}
	opsf("session %s finished: %d frames (%d dropped), %d tracks, %d counted",
		s.id, summary.FramesProcessed, summary.FramesDropped,
		summary.TracksCreated, summary.TracksCounted)
	return summary
}
