// Package report writes the post-run analysis artifacts: an HTML chart of
// counts over time and a PNG of track trajectories over the zone geometry.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/junction-data/crossing.report/internal/vision/pipeline"
	"github.com/junction-data/crossing.report/internal/vision/zones"
)

// WriteCountsChart renders the per-direction counts-over-time series to an
// HTML file and returns its path.
func WriteCountsChart(outputDir string, summary pipeline.Summary) (string, error) {
	if len(summary.Samples) == 0 {
		return "", fmt.Errorf("no count samples recorded")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	x := make([]string, 0, len(summary.Samples))
	series := make(map[string][]opts.LineData, 4)
	for _, sample := range summary.Samples {
		x = append(x, strconv.Itoa(sample.FrameIdx))
		for _, zone := range zones.CanonicalOrder {
			series[zone] = append(series[zone], opts.LineData{Value: sample.ByZone[zone]})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Directional counts over time",
			Subtitle: fmt.Sprintf("session %s", summary.SessionID),
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "vehicles"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)

	line.SetXAxis(x)
	for _, zone := range zones.CanonicalOrder {
		line.AddSeries(zone, series[zone])
	}

	path := filepath.Join(outputDir, fmt.Sprintf("counts_%s.html", summary.SessionID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create chart file: %w", err)
	}
	defer f.Close()

	if err := line.Render(f); err != nil {
		return "", fmt.Errorf("render counts chart: %w", err)
	}
	return path, nil
}
