package zones

// CrossingEvent records one track entering a zone. Events are edge-triggered:
// a track lingering inside a zone produces no further events until it leaves
// and re-enters.
type CrossingEvent struct {
	TrackID  int64
	Zone     string // Zone entered
	FromZone string // Previous zone, "" when entering from open road
	FrameIdx int
}

// Classifier tracks which zone each live track currently occupies and emits
// crossing events on zone entry. One classifier per session; not safe for
// concurrent use (the pipeline is frame-sequential).
type Classifier struct {
	set     *Set
	current map[int64]string
}

// NewClassifier creates a classifier over a zone set.
func NewClassifier(set *Set) *Classifier {
	return &Classifier{
		set:     set,
		current: make(map[int64]string),
	}
}

// Set returns the underlying zone geometry.
func (c *Classifier) Set() *Set { return c.set }

// Observe classifies a track's current center position. It returns a
// crossing event (and true) only on the frame the track enters a zone it was
// not in on the previous observation. Leaving all zones updates state but
// emits nothing.
func (c *Classifier) Observe(trackID int64, x, y float64, frameIdx int) (CrossingEvent, bool) {
	zone := c.set.Locate(x, y)
	prev := c.current[trackID]
	if zone == prev {
		return CrossingEvent{}, false
	}

	if zone == "" {
		delete(c.current, trackID)
		return CrossingEvent{}, false
	}
	c.current[trackID] = zone
	return CrossingEvent{
		TrackID:  trackID,
		Zone:     zone,
		FromZone: prev,
		FrameIdx: frameIdx,
	}, true
}

// CurrentZone returns the zone a track last occupied, or "" if outside all
// zones or unknown.
func (c *Classifier) CurrentZone(trackID int64) string {
	return c.current[trackID]
}

// Forget discards per-track state. Called when the tracker purges a track;
// without it a reused map entry could suppress a fresh track's first entry
// event. Track IDs are never reused, so this is purely a memory bound.
func (c *Classifier) Forget(trackID int64) {
	delete(c.current, trackID)
}
