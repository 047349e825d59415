package tracks

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/junction-data/crossing.report/internal/vision/detect"
)

// Internal numerical stability constants — not user-tunable.
const (
	// minDeterminantThreshold is the minimum determinant for innovation
	// covariance inversion.
	minDeterminantThreshold = 1e-9
	// boxSmoothingAlpha is the EMA weight of a new detection's dimensions
	// when updating the track's smoothed box size.
	boxSmoothingAlpha = 0.3
)

// Config holds the tracker's tunable parameters. Distances are in pixels,
// velocities in pixels per frame.
type Config struct {
	HistoryWindow   int     // Bounded observation history per track
	MissThreshold   int     // Consecutive misses before a track is purged
	MatchCostGate   float64 // Association cost above which a pairing is rejected
	MaxCenterJumpPx float64 // Maximum center displacement between frames

	// Kalman constant-velocity model noise (σ², pixel units)
	ProcessNoisePos  float64
	ProcessNoiseVel  float64
	MeasurementNoise float64
}

// DefaultConfig returns tracker parameters matching the session defaults.
func DefaultConfig() Config {
	return Config{
		HistoryWindow:    30,
		MissThreshold:    15,
		MatchCostGate:    0.7,
		MaxCenterJumpPx:  150,
		ProcessNoisePos:  1.0,
		ProcessNoiseVel:  0.5,
		MeasurementNoise: 4.0,
	}
}

// UpdateResult reports what one frame of association changed.
type UpdateResult struct {
	Matched int      // Detections matched to existing tracks
	Spawned []int64  // New track IDs created this frame
	Lost    []*Track // Tracks purged this frame (terminal state)
}

// Tracker turns per-frame detections into identity-persistent tracks. It is
// the combined track store and association engine: it owns every live track,
// matches detections to tracks with a gated optimal assignment, and ages out
// tracks the detector stopped seeing.
//
// Processing is frame-sequential; the mutex only guards concurrent readers
// (HTTP snapshots) against the single writer.
type Tracker struct {
	mu     sync.RWMutex
	tracks map[int64]*Track
	nextID int64 // Next track ID; IDs are monotone and never reused
	cfg    Config

	lastFrame int // Highest frame index processed, -1 before first frame

	// Session-lifetime counters
	TracksCreated int64
	TracksLost    int64
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		tracks:    make(map[int64]*Track),
		nextID:    1,
		cfg:       cfg,
		lastFrame: -1,
	}
}

// Config returns the tracker's configuration.
func (tr *Tracker) Config() Config { return tr.cfg }

// Update processes one frame of detections: predict, associate, update
// matched tracks, age unmatched ones, and spawn tracks for unmatched
// detections. frameIdx must be strictly greater than the previous frame's.
func (tr *Tracker) Update(frameIdx int, dets []detect.Detection) (UpdateResult, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if frameIdx <= tr.lastFrame {
		return UpdateResult{}, fmt.Errorf("frame %d out of order (last processed %d)", frameIdx, tr.lastFrame)
	}
	dt := float64(frameIdx - tr.lastFrame)
	if tr.lastFrame < 0 {
		dt = 1
	}
	tr.lastFrame = frameIdx

	// Step 1: Predict all tracks to the current frame.
	for _, track := range tr.tracks {
		tr.predict(track, dt)
		track.Age++
	}

	// Step 2: Order detections by confidence descending (ties keep the
	// detector's order) so the assignment tie-breaks deterministically,
	// and order tracks by ascending ID.
	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dets[order[a]].Confidence > dets[order[b]].Confidence
	})

	trackIDs := make([]int64, 0, len(tr.tracks))
	for id := range tr.tracks {
		trackIDs = append(trackIDs, id)
	}
	sort.Slice(trackIDs, func(a, b int) bool { return trackIDs[a] < trackIDs[b] })

	// Step 3: Build the gated cost matrix and solve the assignment.
	cost := make([][]float64, len(order))
	for row, di := range order {
		cost[row] = make([]float64, len(trackIDs))
		for col, id := range trackIDs {
			cost[row][col] = tr.matchCost(tr.tracks[id], dets[di])
		}
	}
	assign := HungarianAssign(cost)

	var result UpdateResult
	matched := make(map[int64]bool, len(trackIDs))
	for row, di := range order {
		col := -1
		if row < len(assign) {
			col = assign[row]
		}
		if col >= 0 {
			id := trackIDs[col]
			tr.observe(tr.tracks[id], dets[di], frameIdx)
			matched[id] = true
			result.Matched++
		} else {
			id := tr.spawn(dets[di], frameIdx)
			result.Spawned = append(result.Spawned, id)
		}
	}

	// Step 4: Age unmatched tracks and purge the ones past the miss budget.
	result.Lost = tr.ageUnmatched(matched)

	return result, nil
}

// Upsert updates an existing track's history with one observation, bounded
// to the configured history window. Referencing a purged or never-assigned
// ID returns ErrUnknownTrack.
func (tr *Tracker) Upsert(trackID int64, box detect.Box, label string, confidence float64, frameIdx int) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	track, ok := tr.tracks[trackID]
	if !ok {
		return fmt.Errorf("upsert track %d: %w", trackID, ErrUnknownTrack)
	}
	tr.observe(track, detect.Detection{Box: box, Label: label, Confidence: confidence}, frameIdx)
	return nil
}

// AgeAndPrune increments the miss count for every track not updated at
// frameIdx and purges tracks whose consecutive misses reach the configured
// threshold. Returns the tracks lost by this call. Used directly for
// dropped/undecodable frames, where every active track is a miss.
func (tr *Tracker) AgeAndPrune(frameIdx int) []*Track {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	dt := float64(frameIdx - tr.lastFrame)
	if tr.lastFrame < 0 || dt < 1 {
		dt = 1
	}
	if frameIdx > tr.lastFrame {
		tr.lastFrame = frameIdx
	}
	matched := make(map[int64]bool, len(tr.tracks))
	for id, track := range tr.tracks {
		if track.LastSeenFrame == frameIdx {
			matched[id] = true
		} else {
			// Coast the constant-velocity prediction across the gap, same as
			// a detector miss inside Update; a moving object must stay near
			// its true position so it re-associates when it reappears.
			tr.predict(track, dt)
		}
		track.Age++
	}
	return tr.ageUnmatched(matched)
}

// ageUnmatched applies one miss to every track not in matched, coasting the
// position estimate, and purges tracks past the miss budget. Caller holds
// the lock.
func (tr *Tracker) ageUnmatched(matched map[int64]bool) []*Track {
	var lost []*Track
	for id, track := range tr.tracks {
		if matched[id] {
			continue
		}
		track.Misses++
		track.Hits = 0

		// Inflate position covariance during the gap so re-association is
		// easier when the object reappears.
		track.P[0*4+0] += tr.cfg.ProcessNoisePos
		track.P[1*4+1] += tr.cfg.ProcessNoisePos

		if track.Misses >= tr.cfg.MissThreshold {
			track.State = StateLost
			lost = append(lost, track)
			delete(tr.tracks, id)
			tr.TracksLost++
		}
	}
	// Deterministic order for downstream persistence and events.
	sort.Slice(lost, func(a, b int) bool { return lost[a].ID < lost[b].ID })
	return lost
}

// matchCost computes the association cost between a predicted track position
// and a detection: an equal blend of (1 − IoU) and normalised center
// distance. Implausible pairings (center jump beyond the configured limit)
// and costs beyond the gate are forbidden.
func (tr *Tracker) matchCost(track *Track, det detect.Detection) float64 {
	dx := det.Box.CenterX() - track.X
	dy := det.Box.CenterY() - track.Y
	dist := math.Hypot(dx, dy)
	if dist > tr.cfg.MaxCenterJumpPx {
		return forbiddenCost
	}

	iouCost := 1 - detect.IoU(track.Box(), det.Box)
	distCost := dist / tr.cfg.MaxCenterJumpPx

	cost := 0.5*iouCost + 0.5*distCost
	if cost > tr.cfg.MatchCostGate {
		return forbiddenCost
	}
	return cost
}

// predict applies the Kalman prediction step with a constant velocity model.
func (tr *Tracker) predict(track *Track, dt float64) {
	// State transition F for constant velocity:
	// F = [1 0 dt 0; 0 1 0 dt; 0 0 1 0; 0 0 0 1]
	track.X += track.VX * dt
	track.Y += track.VY * dt

	// Covariance: P' = F * P * F^T + Q
	P := track.P
	var FP [16]float64
	for j := 0; j < 4; j++ {
		FP[0*4+j] = P[0*4+j] + dt*P[2*4+j]
		FP[1*4+j] = P[1*4+j] + dt*P[3*4+j]
		FP[2*4+j] = P[2*4+j]
		FP[3*4+j] = P[3*4+j]
	}
	for i := 0; i < 4; i++ {
		track.P[i*4+0] = FP[i*4+0] + dt*FP[i*4+2]
		track.P[i*4+1] = FP[i*4+1] + dt*FP[i*4+3]
		track.P[i*4+2] = FP[i*4+2]
		track.P[i*4+3] = FP[i*4+3]
	}

	// Process noise, scaled by dt so uncertainty growth is frame-rate
	// independent across dropped-frame gaps.
	track.P[0*4+0] += tr.cfg.ProcessNoisePos * dt
	track.P[1*4+1] += tr.cfg.ProcessNoisePos * dt
	track.P[2*4+2] += tr.cfg.ProcessNoiseVel * dt
	track.P[3*4+3] += tr.cfg.ProcessNoiseVel * dt
}

// observe applies the Kalman update step with a matched detection and
// refreshes the track's history, votes and speed statistics. Caller holds
// the lock.
func (tr *Tracker) observe(track *Track, det detect.Detection, frameIdx int) {
	zX := det.Box.CenterX()
	zY := det.Box.CenterY()

	// Innovation
	yX := zX - track.X
	yY := zY - track.Y

	// Innovation covariance S = H * P * H^T + R with H extracting position.
	S00 := track.P[0*4+0] + tr.cfg.MeasurementNoise
	S01 := track.P[0*4+1]
	S10 := track.P[1*4+0]
	S11 := track.P[1*4+1] + tr.cfg.MeasurementNoise

	det2 := S00*S11 - S01*S10
	if det2 > minDeterminantThreshold {
		invS00 := S11 / det2
		invS01 := -S01 / det2
		invS10 := -S10 / det2
		invS11 := S00 / det2

		// Kalman gain K = P * H^T * S^-1 (4x2)
		var K [8]float64
		for i := 0; i < 4; i++ {
			K[i*2+0] = track.P[i*4+0]*invS00 + track.P[i*4+1]*invS10
			K[i*2+1] = track.P[i*4+0]*invS01 + track.P[i*4+1]*invS11
		}

		track.X += K[0*2+0]*yX + K[0*2+1]*yY
		track.Y += K[1*2+0]*yX + K[1*2+1]*yY
		track.VX += K[2*2+0]*yX + K[2*2+1]*yY
		track.VY += K[3*2+0]*yX + K[3*2+1]*yY

		// P' = (I - K*H) * P
		var IminusKH [16]float64
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				identity := 0.0
				if i == j {
					identity = 1
				}
				var kh float64
				if j == 0 {
					kh = K[i*2+0]
				} else if j == 1 {
					kh = K[i*2+1]
				}
				IminusKH[i*4+j] = identity - kh
			}
		}
		var newP [16]float64
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				var sum float64
				for k := 0; k < 4; k++ {
					sum += IminusKH[i*4+k] * track.P[k*4+j]
				}
				newP[i*4+j] = sum
			}
		}
		track.P = newP
	}
	// Singular covariance: skip the gain computation and snap to the
	// measurement below via the smoothed box only.

	// Lifecycle
	track.Hits++
	track.Misses = 0
	track.LastSeenFrame = frameIdx
	track.ObservationCount++
	if track.State == StateNew && track.Hits >= 2 {
		track.State = StateTracking
	}

	// Smoothed box dimensions
	if track.ObservationCount <= 1 {
		track.W = det.Box.W
		track.H = det.Box.H
	} else {
		track.W = (1-boxSmoothingAlpha)*track.W + boxSmoothingAlpha*det.Box.W
		track.H = (1-boxSmoothingAlpha)*track.H + boxSmoothingAlpha*det.Box.H
	}

	// Class vote and confidence
	track.recordVote(det.Label)
	track.LastConfidence = det.Confidence

	// Bounded history
	track.History = append(track.History, Observation{Box: det.Box, FrameIdx: frameIdx, Confidence: det.Confidence})
	if len(track.History) > tr.cfg.HistoryWindow {
		track.History = track.History[len(track.History)-tr.cfg.HistoryWindow:]
	}

	// Speed statistics
	speed := track.Speed()
	track.speedHistory = append(track.speedHistory, speed)
	if len(track.speedHistory) > tr.cfg.HistoryWindow {
		track.speedHistory = track.speedHistory[1:]
	}
	n := float64(track.ObservationCount)
	track.AvgSpeedPx = ((n-1)*track.AvgSpeedPx + speed) / n
	if speed > track.PeakSpeedPx {
		track.PeakSpeedPx = speed
	}
}

// spawn creates a new track from an unmatched detection. Track IDs are
// assigned monotonically and never reused within a session, so an ID
// identifies exactly one physical-object hypothesis for the session's
// lifetime. Caller holds the lock.
func (tr *Tracker) spawn(det detect.Detection, frameIdx int) int64 {
	id := tr.nextID
	tr.nextID++

	track := &Track{
		ID:            id,
		State:         StateNew,
		Hits:          1,
		FirstFrame:    frameIdx,
		LastSeenFrame: frameIdx,

		X: det.Box.CenterX(),
		Y: det.Box.CenterY(),
		W: det.Box.W,
		H: det.Box.H,

		// High initial position uncertainty, lower velocity uncertainty.
		P: [16]float64{
			10, 0, 0, 0,
			0, 10, 0, 0,
			0, 0, 1, 0,
			0, 0, 0, 1,
		},

		ObservationCount: 1,
		History:          []Observation{{Box: det.Box, FrameIdx: frameIdx, Confidence: det.Confidence}},
		LastConfidence:   det.Confidence,
	}
	track.recordVote(det.Label)

	tr.tracks[id] = track
	tr.TracksCreated++
	return id
}

// SetZone records the classifier's current zone for a track under the write
// lock, so concurrent snapshot readers never observe a torn update. Unknown
// IDs are ignored; the track may have been purged this frame.
func (tr *Tracker) SetZone(trackID int64, zone string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if track, ok := tr.tracks[trackID]; ok {
		track.Zone = zone
	}
}

// MarkCounted sets a track's set-once Counted flag under the write lock.
// Returns false when the ID is unknown or the flag was already set.
func (tr *Tracker) MarkCounted(trackID int64) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	track, ok := tr.tracks[trackID]
	if !ok {
		return false
	}
	return track.MarkCounted()
}

// GetTrack returns the live track for an ID. Referencing a purged or
// never-assigned ID returns ErrUnknownTrack.
func (tr *Tracker) GetTrack(trackID int64) (*Track, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	track, ok := tr.tracks[trackID]
	if !ok {
		return nil, fmt.Errorf("get track %d: %w", trackID, ErrUnknownTrack)
	}
	return track, nil
}

// ActiveTracks returns the live tracks ordered by ascending ID. The
// returned pointers are owned by the tracker and must be treated as
// read-only; flag mutations go through SetZone and MarkCounted so they are
// synchronized with concurrent snapshot readers.
func (tr *Tracker) ActiveTracks() []*Track {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	out := make([]*Track, 0, len(tr.tracks))
	for _, track := range tr.tracks {
		out = append(out, track)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// SnapshotTracks returns deep copies of the live tracks ordered by ID, safe
// for concurrent readers.
func (tr *Tracker) SnapshotTracks() []*Track {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	out := make([]*Track, 0, len(tr.tracks))
	for _, track := range tr.tracks {
		out = append(out, track.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Count returns the number of live tracks.
func (tr *Tracker) Count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.tracks)
}
