// Package anomaly scores observations against a fixed historical window.
package anomaly

import "math"

// Scorer maps a value to its z-score within the fitted window. The zero value
// is the neutral scorer and always returns 0.
type Scorer struct {
	mean   float64
	stdDev float64
	n      int
}

// Fit builds a scorer from the whole sample window. Windows smaller than two
// samples, or with zero variance, yield the neutral scorer.
func Fit(samples []float64) Scorer {
	n := len(samples)
	if n < 2 {
		return Scorer{}
	}
	sum := 0.0
	for _, v := range samples {
		sum += v
	}
	mean := sum / float64(n)

	sq := 0.0
	for _, v := range samples {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(n-1))
	if std == 0 || math.IsNaN(std) {
		return Scorer{}
	}
	return Scorer{mean: mean, stdDev: std, n: n}
}

// FitLast fits a scorer on the trailing n samples.
func FitLast(samples []float64, n int) Scorer {
	if n < 2 || len(samples) < n {
		return Scorer{}
	}
	return Fit(samples[len(samples)-n:])
}

// Score returns (x-mean)/stddev, or 0 for the neutral scorer.
func (s Scorer) Score(x float64) float64 {
	if s.stdDev == 0 {
		return 0
	}
	return (x - s.mean) / s.stdDev
}

// Neutral reports whether the scorer degrades to a constant 0.
func (s Scorer) Neutral() bool { return s.stdDev == 0 }

// Mean and StdDev expose the fitted window moments.
func (s Scorer) Mean() float64   { return s.mean }
func (s Scorer) StdDev() float64 { return s.stdDev }

// Samples is the window size the scorer was fitted on.
func (s Scorer) Samples() int { return s.n }

// Set groups the three scorers the bar clusterer relies on.
type Set struct {
	Volume     Scorer
	PositiveVD Scorer
	NegativeVD Scorer
}
