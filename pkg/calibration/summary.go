package calibration

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the accuracy of a calibration log in pixels.
type Summary struct {
	Count   int     `json:"count"`
	Missing int     `json:"missing"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	Median  float64 `json:"median"`
	P90     float64 `json:"p90"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Summarize computes distance statistics over the entries that have one.
// Statistics are zero when no entry has a distance.
func Summarize(entries []Entry) Summary {
	s := Summary{Count: len(entries)}

	distances := make([]float64, 0, len(entries))
	for _, e := range entries {
		if e.Missing() {
			s.Missing++
			continue
		}
		distances = append(distances, *e.Distance)
	}
	if len(distances) == 0 {
		return s
	}

	sort.Float64s(distances)
	s.Mean = stat.Mean(distances, nil)
	if len(distances) > 1 {
		s.StdDev = stat.StdDev(distances, nil)
	}
	s.Median = stat.Quantile(0.5, stat.Empirical, distances, nil)
	s.P90 = stat.Quantile(0.9, stat.Empirical, distances, nil)
	s.Min = floats.Min(distances)
	s.Max = floats.Max(distances)
	if math.IsNaN(s.StdDev) {
		s.StdDev = 0
	}
	return s
}
