// Package zones maps pixel positions to the four directional approach zones
// of an intersection. Zone geometry is calibrated per camera and loaded once
// per session; classification is pure geometry with deterministic ambiguity
// resolution.
package zones

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Canonical zone identifiers. The four approaches of a standard intersection.
const (
	ZoneNorth = "N"
	ZoneSouth = "S"
	ZoneEast  = "E"
	ZoneWest  = "W"
)

// CanonicalOrder is the default priority permutation.
var CanonicalOrder = []string{ZoneNorth, ZoneSouth, ZoneEast, ZoneWest}

// Point is a vertex in pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Zone is one directional approach region, a simple polygon in pixel space.
type Zone struct {
	Name    string  `json:"name"`
	Polygon []Point `json:"polygon"`
}

// Contains reports whether p lies inside the zone polygon, using the
// even-odd ray casting rule. Points exactly on an edge may resolve either
// way; calibrated zones leave margin so this never matters in practice.
func (z *Zone) Contains(x, y float64) bool {
	poly := z.Polygon
	n := len(poly)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi, pj := poly[i], poly[j]
		if (pi.Y > y) != (pj.Y > y) {
			crossX := (pj.X-pi.X)*(y-pi.Y)/(pj.Y-pi.Y) + pi.X
			if x < crossX {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// validate checks a zone is usable: a known name and a non-degenerate
// polygon with finite vertices.
func (z *Zone) validate() error {
	switch z.Name {
	case ZoneNorth, ZoneSouth, ZoneEast, ZoneWest:
	default:
		return fmt.Errorf("zone name %q not one of N, S, E, W", z.Name)
	}
	if len(z.Polygon) < 3 {
		return fmt.Errorf("zone %s: polygon needs at least 3 vertices, got %d", z.Name, len(z.Polygon))
	}
	for i, p := range z.Polygon {
		if math.IsNaN(p.X) || math.IsInf(p.X, 0) || math.IsNaN(p.Y) || math.IsInf(p.Y, 0) {
			return fmt.Errorf("zone %s: vertex %d is not finite", z.Name, i)
		}
	}
	return nil
}

// Set holds the session's four zones plus the priority order that resolves
// points falling inside more than one polygon. Geometry is immutable after
// construction.
type Set struct {
	zones    map[string]*Zone
	priority []string
}

// NewSet builds a zone set from exactly four zones (one per direction) and a
// priority permutation of N, S, E, W. Geometry errors are fatal: a session
// must not start with a broken calibration.
func NewSet(zones []Zone, priority []string) (*Set, error) {
	if len(priority) == 0 {
		priority = CanonicalOrder
	}
	if err := validatePriority(priority); err != nil {
		return nil, err
	}

	byName := make(map[string]*Zone, len(zones))
	for i := range zones {
		z := zones[i]
		if err := z.validate(); err != nil {
			return nil, err
		}
		if _, dup := byName[z.Name]; dup {
			return nil, fmt.Errorf("duplicate zone %s", z.Name)
		}
		byName[z.Name] = &z
	}
	for _, name := range CanonicalOrder {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("missing zone %s", name)
		}
	}

	ordered := make([]string, len(priority))
	copy(ordered, priority)
	return &Set{zones: byName, priority: ordered}, nil
}

func validatePriority(priority []string) error {
	if len(priority) != 4 {
		return fmt.Errorf("priority order must list all four zones, got %d", len(priority))
	}
	seen := make(map[string]bool, 4)
	for _, name := range priority {
		switch name {
		case ZoneNorth, ZoneSouth, ZoneEast, ZoneWest:
		default:
			return fmt.Errorf("priority order: unknown zone %q", name)
		}
		if seen[name] {
			return fmt.Errorf("priority order: duplicate zone %q", name)
		}
		seen[name] = true
	}
	return nil
}

// Locate returns the zone containing (x, y), or "" if the point is outside
// all zones. When polygons overlap, the first containing zone in priority
// order wins, so repeated runs classify identically.
func (s *Set) Locate(x, y float64) string {
	for _, name := range s.priority {
		if s.zones[name].Contains(x, y) {
			return name
		}
	}
	return ""
}

// Zone returns the named zone, or nil if unknown.
func (s *Set) Zone(name string) *Zone {
	return s.zones[name]
}

// Names returns the zone names in priority order.
func (s *Set) Names() []string {
	out := make([]string, len(s.priority))
	copy(out, s.priority)
	return out
}

// geometryFile is the on-disk calibration format: the four polygons for one
// camera view.
type geometryFile struct {
	Zones []Zone `json:"zones"`
}

// LoadSet reads zone geometry from a JSON calibration file and builds a set
// with the given priority order.
func LoadSet(path string, priority []string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone geometry: %w", err)
	}
	var file geometryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse zone geometry %s: %w", path, err)
	}
	set, err := NewSet(file.Zones, priority)
	if err != nil {
		return nil, fmt.Errorf("zone geometry %s: %w", path, err)
	}
	return set, nil
}
