package tracks

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// SpeedSummary aggregates a track's per-frame speed samples (pixels/frame).
type SpeedSummary struct {
	Avg  float64
	Peak float64
	P50  float64
	P85  float64
	P95  float64
}

// SpeedSummary computes average, peak and percentile speeds over the track's
// recorded speed history.
func (t *Track) SpeedSummary() SpeedSummary {
	s := SpeedSummary{Avg: t.AvgSpeedPx, Peak: t.PeakSpeedPx}
	if len(t.speedHistory) == 0 {
		return s
	}

	sorted := make([]float64, len(t.speedHistory))
	copy(sorted, t.speedHistory)
	sort.Float64s(sorted)

	s.P50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	s.P85 = stat.Quantile(0.85, stat.Empirical, sorted, nil)
	s.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	return s
}
