package util

import (
	"math"
	"sort"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

// Stats summarizes a set of samples
type Stats struct {
	Count        int     `json:"count"`
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	Median       float64 `json:"median"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes the summary of values. The population standard deviation is used.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	var squares float64
	for _, v := range sorted {
		d := v - mean
		squares += d * d
	}

	min, max := sorted[0], sorted[len(sorted)-1]
	ratio := 1.0
	if max > 0 {
		ratio = min / max
	}

	return Stats{
		Count:        len(sorted),
		StdDeviation: math.Sqrt(squares / float64(len(sorted))),
		Min:          min,
		Max:          max,
		Mean:         mean,
		Median:       median(sorted),
		MinMaxRatio:  ratio,
	}
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// DistributionStats rates how evenly work is spread over a set of participants
type DistributionStats struct {
	Stats
	Fairness float64 `json:"fairness"` // 1 for a perfectly even spread, towards 0 for a skewed one
}

// NewDistributionStats computes the fairness of the per participant amounts in values
func NewDistributionStats(values []float64) DistributionStats {
	stats := NewStats(values)

	// coefficient of variation, capped at 1
	var cv float64
	if stats.Mean > 0 {
		cv = math.Min(1, stats.StdDeviation/stats.Mean)
	}

	return DistributionStats{
		Stats:    stats,
		Fairness: (1-cv)*0.5 + stats.MinMaxRatio*0.5,
	}
}
