package tracks

import (
	"errors"
	"math"
	"sort"

	"github.com/junction-data/crossing.report/internal/vision/detect"
)

// State represents the lifecycle state of a track.
type State string

const (
	StateNew      State = "new"      // Created this frame, single observation
	StateTracking State = "tracking" // Matched at least one subsequent frame
	StateLost     State = "lost"     // Miss budget exhausted, terminal
)

// ErrUnknownTrack is returned for operations referencing a track ID that was
// never assigned or has been purged. Purged IDs are never reused, so this
// always signals a caller bug rather than a transient condition.
var ErrUnknownTrack = errors.New("unknown track")

// Observation is one entry in a track's bounded history window.
type Observation struct {
	Box        detect.Box
	FrameIdx   int
	Confidence float64
}

// Track is the persistent identity for one physical object across frames.
// Tracks are owned exclusively by the Tracker; callers get copies or must
// treat pointers as read-only between Update calls.
type Track struct {
	ID    int64
	State State

	// Counted is the set-once flag that guarantees a track increments at
	// most one directional counter exactly once. It is orthogonal to the
	// lifecycle state and survives until the track is purged.
	Counted bool

	// Zone is the identifier of the directional zone the track currently
	// occupies, or "" while outside all zones.
	Zone string

	// Lifecycle counters
	Hits   int // Consecutive successful associations
	Misses int // Consecutive missed associations
	Age    int // Frames since creation

	FirstFrame    int
	LastSeenFrame int

	// Kalman state (pixel frame): [x, y, vx, vy], center of the box.
	// Velocities are in pixels per frame.
	X, Y, VX, VY float64

	// Kalman covariance (4x4, row-major)
	P [16]float64

	// Smoothed box dimensions (EMA over matched detections)
	W, H float64

	// History of matched observations, bounded to the configured window.
	History []Observation

	ObservationCount int

	// Class-label vote tally across the track's lifetime.
	labelVotes     map[string]int
	LastLabel      string
	LastConfidence float64

	// Speed statistics (pixels per frame)
	speedHistory []float64
	AvgSpeedPx   float64
	PeakSpeedPx  float64
}

// Box returns the track's current bounding box, centred on the Kalman
// position estimate with the smoothed dimensions.
func (t *Track) Box() detect.Box {
	return detect.Box{X: t.X - t.W/2, Y: t.Y - t.H/2, W: t.W, H: t.H}
}

// Center returns the track's current center position.
func (t *Track) Center() (x, y float64) { return t.X, t.Y }

// Speed returns the current speed magnitude in pixels per frame.
func (t *Track) Speed() float64 {
	return math.Hypot(t.VX, t.VY)
}

// MarkCounted sets the Counted flag. Returns false if the flag was already
// set (the transition is irreversible) or the track is lost.
func (t *Track) MarkCounted() bool {
	if t.Counted || t.State == StateLost {
		return false
	}
	t.Counted = true
	return true
}

// recordVote accumulates one class-label observation.
func (t *Track) recordVote(label string) {
	if label == "" {
		return
	}
	if t.labelVotes == nil {
		t.labelVotes = make(map[string]int)
	}
	t.labelVotes[label]++
	t.LastLabel = label
}

// MajorityLabel returns the class label with the most votes across the
// track's lifetime. Ties resolve alphabetically so repeated runs over the
// same input classify identically.
func (t *Track) MajorityLabel() string {
	if len(t.labelVotes) == 0 {
		return detect.LabelUnknown
	}
	labels := make([]string, 0, len(t.labelVotes))
	for label := range t.labelVotes {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	best := labels[0]
	for _, label := range labels[1:] {
		if t.labelVotes[label] > t.labelVotes[best] {
			best = label
		}
	}
	return best
}

// VoteCount returns the number of votes recorded for a label.
func (t *Track) VoteCount(label string) int {
	return t.labelVotes[label]
}

// SpeedHistory returns a copy of the per-frame speed samples.
func (t *Track) SpeedHistory() []float64 {
	if t.speedHistory == nil {
		return nil
	}
	out := make([]float64, len(t.speedHistory))
	copy(out, t.speedHistory)
	return out
}

// Clone returns a deep copy safe to hand outside the tracker.
func (t *Track) Clone() *Track {
	copied := *t
	if len(t.History) > 0 {
		copied.History = make([]Observation, len(t.History))
		copy(copied.History, t.History)
	}
	if len(t.speedHistory) > 0 {
		copied.speedHistory = make([]float64, len(t.speedHistory))
		copy(copied.speedHistory, t.speedHistory)
	}
	if len(t.labelVotes) > 0 {
		copied.labelVotes = make(map[string]int, len(t.labelVotes))
		for k, v := range t.labelVotes {
			copied.labelVotes[k] = v
		}
	}
	return &copied
}
