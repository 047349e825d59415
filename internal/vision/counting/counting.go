// Package counting turns crossing events into per-direction vehicle counts.
// A track increments exactly one counter exactly once, at its first zone
// entry; everything after that is analysis data, not a count.
package counting

import (
	"sort"
	"sync"

	"github.com/junction-data/crossing.report/internal/vision/detect"
	"github.com/junction-data/crossing.report/internal/vision/zones"
)

// Marker is the set-once Counted flag over the track store. MarkCounted must
// flip the flag under the store's own lock and report whether this call
// flipped it; unknown and already-counted IDs return false. The indirection
// keeps the flag write synchronized with concurrent track snapshot readers.
type Marker interface {
	MarkCounted(trackID int64) bool
}

// Config controls counting behaviour.
type Config struct {
	// ExcludePedestrians drops person-class tracks from every counter.
	ExcludePedestrians bool
	// ClassifyVehicleTypes adds per-class tallies alongside the per-zone
	// counters.
	ClassifyVehicleTypes bool
}

// Snapshot is a consistent read-only copy of the engine's counters.
type Snapshot struct {
	ByZone  map[string]int64            `json:"by_zone"`
	ByClass map[string]map[string]int64 `json:"by_class,omitempty"` // zone → class → count
	Total   int64                       `json:"total"`
}

// Engine accumulates directional counts from crossing events. Counters only
// ever increase; the sum over zones never exceeds the number of tracks the
// session created.
type Engine struct {
	mu      sync.RWMutex
	cfg     Config
	byZone  map[string]int64
	byClass map[string]map[string]int64
	total   int64
}

// NewEngine creates an engine with zeroed counters for the given zones.
func NewEngine(cfg Config, zoneNames []string) *Engine {
	e := &Engine{
		cfg:     cfg,
		byZone:  make(map[string]int64, len(zoneNames)),
		byClass: make(map[string]map[string]int64),
	}
	for _, name := range zoneNames {
		e.byZone[name] = 0
	}
	return e
}

// OnCrossing applies one crossing event. The track is counted only if the
// marker reports its set-once Counted flag was still clear, so replaying or
// re-delivering an event can never double count. Returns true when a counter
// was incremented.
//
// label must be the majority vote over the track's lifetime of label
// observations, not the label of the triggering frame. An excluded
// pedestrian is rejected before marking, so its flag stays clear.
func (e *Engine) OnCrossing(ev zones.CrossingEvent, label string, marker Marker) bool {
	if marker == nil {
		return false
	}

	if e.cfg.ExcludePedestrians && label == detect.LabelPerson {
		return false
	}

	if !marker.MarkCounted(ev.TrackID) {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.byZone[ev.Zone]++
	e.total++
	if e.cfg.ClassifyVehicleTypes {
		perClass := e.byClass[ev.Zone]
		if perClass == nil {
			perClass = make(map[string]int64)
			e.byClass[ev.Zone] = perClass
		}
		perClass[label]++
	}
	return true
}

// Count returns the current counter for one zone.
func (e *Engine) Count(zone string) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.byZone[zone]
}

// Total returns the sum over all zones.
func (e *Engine) Total() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.total
}

// Snapshot returns a deep copy of all counters, safe for concurrent readers.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{
		ByZone: make(map[string]int64, len(e.byZone)),
		Total:  e.total,
	}
	for zone, n := range e.byZone {
		snap.ByZone[zone] = n
	}
	if len(e.byClass) > 0 {
		snap.ByClass = make(map[string]map[string]int64, len(e.byClass))
		for zone, perClass := range e.byClass {
			copied := make(map[string]int64, len(perClass))
			for label, n := range perClass {
				copied[label] = n
			}
			snap.ByClass[zone] = copied
		}
	}
	return snap
}

// Zones returns the zone names with counters, sorted for stable output.
func (e *Engine) Zones() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.byZone))
	for name := range e.byZone {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
