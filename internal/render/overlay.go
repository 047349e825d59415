// Package render builds the overlay drawn on top of each video frame:
// track boxes, IDs, live counters and FPS. It emits drawing primitives
// rather than pixels, so the actual video writer stays an external
// collaborator and everything here is testable as pure data.
package render

import (
	"fmt"
	"image/color"

	"github.com/junction-data/crossing.report/internal/vision/detect"
	"github.com/junction-data/crossing.report/internal/vision/pipeline"
	"github.com/junction-data/crossing.report/internal/vision/zones"
)

// Class colors (RGB).
var (
	colorCar        = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	colorTruck      = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	colorBus        = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	colorMotorcycle = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	colorPerson     = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	colorDefault    = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorGuide      = color.RGBA{R: 200, G: 200, B: 200, A: 255}
)

// ClassColor returns the overlay color for a class label.
func ClassColor(label string) color.RGBA {
	switch label {
	case detect.LabelCar:
		return colorCar
	case detect.LabelTruck:
		return colorTruck
	case detect.LabelBus:
		return colorBus
	case detect.LabelMotorcycle:
		return colorMotorcycle
	case detect.LabelPerson:
		return colorPerson
	default:
		return colorDefault
	}
}

// Rect is one bounding box primitive.
type Rect struct {
	Box       detect.Box
	Color     color.RGBA
	Thickness int
}

// Line is one line-segment primitive.
type Line struct {
	X1, Y1, X2, Y2 float64
	Color          color.RGBA
	Thickness      int
}

// Text is one label primitive. Scale follows the conventional overlay font
// scaling where 1.0 is the base size.
type Text struct {
	X, Y  float64
	Value string
	Color color.RGBA
	Scale float64
}

// Overlay is everything to draw on one frame, in draw order.
type Overlay struct {
	Lines []Line
	Rects []Rect
	Texts []Text
}

// Options controls overlay content.
type Options struct {
	ShowIDs    bool
	ShowGuides bool // Center cross-hair lines
	ShowFPS    bool
}

// DefaultOptions shows everything.
func DefaultOptions() Options {
	return Options{ShowIDs: true, ShowGuides: true, ShowFPS: true}
}

// Build produces the overlay for one session snapshot. Pure function: the
// same snapshot always yields the same primitives (FPS text aside, which
// renders whatever the snapshot carries).
func Build(snap pipeline.Snapshot, frameW, frameH int, opts Options) Overlay {
	var ov Overlay

	if opts.ShowGuides {
		cx := float64(frameW) / 2
		cy := float64(frameH) / 2
		ov.Lines = append(ov.Lines,
			Line{X1: cx, Y1: 0, X2: cx, Y2: float64(frameH), Color: colorGuide, Thickness: 1},
			Line{X1: 0, Y1: cy, X2: float64(frameW), Y2: cy, Color: colorGuide, Thickness: 1},
		)
	}

	for _, track := range snap.Tracks {
		label := track.MajorityLabel()
		c := ClassColor(label)
		box := track.Box()
		ov.Rects = append(ov.Rects, Rect{Box: box, Color: c, Thickness: 2})

		if opts.ShowIDs {
			text := fmt.Sprintf("ID:%d", track.ID)
			if label != detect.LabelUnknown {
				text += " " + label
			}
			ov.Texts = append(ov.Texts, Text{
				X: box.X, Y: box.Y - 6, Value: text, Color: c, Scale: 0.45,
			})
		}
	}

	// Live counters, top-left, fixed N/S/E/W order.
	y := 20.0
	for _, zone := range zones.CanonicalOrder {
		ov.Texts = append(ov.Texts, Text{
			X: 10, Y: y,
			Value: fmt.Sprintf("%s: %d", zoneDisplayName(zone), snap.Counts.ByZone[zone]),
			Color: colorDefault, Scale: 0.6,
		})
		y += 20
	}

	if opts.ShowFPS {
		ov.Texts = append(ov.Texts, Text{
			X: float64(frameW) - 120, Y: 20,
			Value: fmt.Sprintf("FPS: %.1f", snap.FPS),
			Color: colorGuide, Scale: 0.6,
		})
	}

	return ov
}

func zoneDisplayName(zone string) string {
	switch zone {
	case zones.ZoneNorth:
		return "North"
	case zones.ZoneSouth:
		return "South"
	case zones.ZoneEast:
		return "East"
	case zones.ZoneWest:
		return "West"
	default:
		return zone
	}
}
