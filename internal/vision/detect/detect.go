// Package detect defines the per-frame detection inputs to the counting core.
//
// Detections are the ephemeral output of an external object detector: one
// pixel-space bounding box with a class label and a confidence score per
// observed object. The core never calls the detector directly — it consumes
// an ordered sequence of detections per frame through the Source interface,
// which keeps the pipeline deterministic and testable without video input.
package detect

import (
	"fmt"
	"math"
)

// Class labels produced by the upstream detector (COCO vocabulary subset).
const (
	LabelPerson     = "person"
	LabelBicycle    = "bicycle"
	LabelCar        = "car"
	LabelMotorcycle = "motorcycle"
	LabelBus        = "bus"
	LabelTruck      = "truck"
	LabelUnknown    = "unknown"
)

// cocoClassNames maps detector class IDs to labels. Only the classes the
// counting core cares about are mapped; everything else is LabelUnknown.
var cocoClassNames = map[int]string{
	0: LabelPerson,
	1: LabelBicycle,
	2: LabelCar,
	3: LabelMotorcycle,
	5: LabelBus,
	7: LabelTruck,
}

// ClassName returns the label for a detector class ID.
func ClassName(classID int) string {
	if name, ok := cocoClassNames[classID]; ok {
		return name
	}
	return LabelUnknown
}

// VehicleLabels is the set of labels eligible for vehicle counters.
var VehicleLabels = map[string]bool{
	LabelBicycle:    true,
	LabelCar:        true,
	LabelMotorcycle: true,
	LabelBus:        true,
	LabelTruck:      true,
}

// Box is an axis-aligned bounding box in pixel space.
type Box struct {
	X float64 `json:"x"` // Left edge
	Y float64 `json:"y"` // Top edge
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// CenterX returns the horizontal center of the box.
func (b Box) CenterX() float64 { return b.X + b.W/2 }

// CenterY returns the vertical center of the box.
func (b Box) CenterY() float64 { return b.Y + b.H/2 }

// Right returns the right edge of the box.
func (b Box) Right() float64 { return b.X + b.W }

// Bottom returns the bottom edge of the box.
func (b Box) Bottom() float64 { return b.Y + b.H }

// Area returns the box area in square pixels.
func (b Box) Area() float64 { return b.W * b.H }

// IoU computes the intersection-over-union of two boxes. Returns 0 when
// either box is degenerate or the boxes do not overlap.
func IoU(a, b Box) float64 {
	if a.W <= 0 || a.H <= 0 || b.W <= 0 || b.H <= 0 {
		return 0
	}
	ix := math.Max(0, math.Min(a.Right(), b.Right())-math.Max(a.X, b.X))
	iy := math.Max(0, math.Min(a.Bottom(), b.Bottom())-math.Max(a.Y, b.Y))
	inter := ix * iy
	if inter <= 0 {
		return 0
	}
	return inter / (a.Area() + b.Area() - inter)
}

// Detection is a single observation in a single frame. It is produced and
// consumed within one frame cycle; tracks carry the persistent state.
type Detection struct {
	Box        Box     `json:"box"`
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// MalformedDetectionError reports a detection that cannot be used: a
// degenerate or out-of-frame box, or a nonsensical confidence. Malformed
// detections are dropped and logged; the frame continues.
type MalformedDetectionError struct {
	Reason string
	Det    Detection
}

func (e *MalformedDetectionError) Error() string {
	return fmt.Sprintf("malformed detection (%s): box=%+v conf=%.3f", e.Reason, e.Det.Box, e.Det.Confidence)
}

// Validate checks a detection against the frame geometry. frameW and frameH
// are the pixel dimensions of the video frames for this session.
func Validate(d Detection, frameW, frameH int) error {
	b := d.Box
	switch {
	case math.IsNaN(b.X) || math.IsNaN(b.Y) || math.IsNaN(b.W) || math.IsNaN(b.H):
		return &MalformedDetectionError{Reason: "non-finite box", Det: d}
	case b.W <= 0 || b.H <= 0:
		return &MalformedDetectionError{Reason: "degenerate box", Det: d}
	case b.Right() <= 0 || b.Bottom() <= 0 || b.X >= float64(frameW) || b.Y >= float64(frameH):
		return &MalformedDetectionError{Reason: "box outside frame", Det: d}
	case d.Confidence < 0 || d.Confidence > 1 || math.IsNaN(d.Confidence):
		return &MalformedDetectionError{Reason: "confidence out of range", Det: d}
	}
	return nil
}

// Frame is one frame's worth of detections, ordered as the detector
// produced them.
type Frame struct {
	Index      int
	Detections []Detection
	// Dropped marks a frame the decoder could not produce. The pipeline
	// treats it as a miss for every active track.
	Dropped bool
}

// Source supplies frames in strictly ascending order. Next returns the next
// frame, or ok=false when the stream is exhausted. Implementations must be
// deterministic: replaying the same input yields the same frame sequence.
type Source interface {
	Next() (frame Frame, ok bool, err error)
}
