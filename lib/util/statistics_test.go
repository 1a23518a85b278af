package util

import (
	"math"
	"testing"
)

func TestNewStats(t *testing.T) {
	s := NewStats([]float64{4, 2, 8, 6})
	if s.Count != 4 || s.Min != 2 || s.Max != 8 {
		t.Errorf("Expected count 4, min 2, max 8, got %+v", s)
	}
	if s.Mean != 5 || s.Median != 5 {
		t.Errorf("Expected mean and median 5, got %v and %v", s.Mean, s.Median)
	}
	if math.Abs(s.StdDeviation-math.Sqrt(5)) > 1e-9 {
		t.Errorf("Expected std deviation sqrt(5), got %v", s.StdDeviation)
	}
	if s.MinMaxRatio != 0.25 {
		t.Errorf("Expected min max ratio 0.25, got %v", s.MinMaxRatio)
	}

	if empty := NewStats(nil); empty.Count != 0 {
		t.Errorf("Expected empty stats, got %+v", empty)
	}
}

func TestDistributionStats(t *testing.T) {
	even := NewDistributionStats([]float64{10, 10, 10})
	if even.Fairness != 1 {
		t.Errorf("Expected fairness 1 for an even spread, got %v", even.Fairness)
	}

	skewed := NewDistributionStats([]float64{0, 0, 30})
	if skewed.Fairness >= even.Fairness {
		t.Errorf("Expected skewed spread to be less fair, got %v", skewed.Fairness)
	}
}

func TestWorkerSeed(t *testing.T) {
	if WorkerSeed(1, 0) == WorkerSeed(1, 1) {
		t.Errorf("Expected different workers to get different seeds")
	}
	if WorkerSeed(7, 3) != WorkerSeed(7, 3) {
		t.Errorf("Expected worker seeds to be deterministic")
	}
	if GenerateSeed() < 0 {
		t.Errorf("Expected non-negative seed")
	}
}
