package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/junction-data/crossing.report/internal/render"
	"github.com/junction-data/crossing.report/internal/vision/pipeline"
	"github.com/junction-data/crossing.report/internal/vision/zones"
)

var zoneFill = color.RGBA{R: 220, G: 220, B: 220, A: 60}

// WriteTrajectoryPlot renders every recorded track trail over the zone
// polygons to a PNG and returns its path. Image coordinates have Y growing
// downward, so the Y axis is inverted to match the camera view.
func WriteTrajectoryPlot(outputDir, sessionID string, set *zones.Set, trails map[int64][]pipeline.TrailPoint, labels map[int64]string, frameW, frameH int) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Track trajectories — session %s", sessionID)
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"
	p.X.Min, p.X.Max = 0, float64(frameW)
	// Inverted Y so the plot matches the frame orientation.
	p.Y.Min, p.Y.Max = float64(frameH), 0

	for _, name := range set.Names() {
		zone := set.Zone(name)
		if zone == nil {
			continue
		}
		xys := make(plotter.XYs, len(zone.Polygon))
		for i, pt := range zone.Polygon {
			xys[i] = plotter.XY{X: pt.X, Y: pt.Y}
		}
		poly, err := plotter.NewPolygon(xys)
		if err != nil {
			return "", fmt.Errorf("zone %s polygon: %w", name, err)
		}
		poly.Color = zoneFill
		poly.LineStyle.Color = color.Gray{Y: 128}
		poly.LineStyle.Width = vg.Points(1)
		p.Add(poly)
	}

	ids := make([]int64, 0, len(trails))
	for id := range trails {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	for _, id := range ids {
		trail := trails[id]
		if len(trail) < 2 {
			continue
		}
		xys := make(plotter.XYs, len(trail))
		for i, pt := range trail {
			xys[i] = plotter.XY{X: pt.X, Y: pt.Y}
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return "", fmt.Errorf("track %d trail: %w", id, err)
		}
		line.Width = vg.Points(1)
		line.Color = render.ClassColor(labels[id])
		p.Add(line)
	}

	path := filepath.Join(outputDir, fmt.Sprintf("trajectories_%s.png", sessionID))
	if err := p.Save(10*vg.Inch, 10*vg.Inch*vg.Length(frameH)/vg.Length(frameW), path); err != nil {
		return "", fmt.Errorf("save trajectory plot: %w", err)
	}
	return path, nil
}
