// Package periodsearch builds period-search frequency grids and runs
// pluggable search backends over batches of light curves.
package periodsearch

import (
	"math"
)

// Grid is a linearly spaced set of candidate frequencies, shared by every
// source in a batch.
type Grid struct {
	Fmin  float64
	Fmax  float64
	Df    float64
	Freqs []float64
}

// Frequency ceilings in cycles per day. Long-period mode trades the
// high-frequency end for denser coverage of slow variables; the default
// ceiling sits near the sampling limit for rapid variables.
const (
	fmaxLongPeriod  = 48.0
	fmaxShortPeriod = 480.0
)

// BuildGrid derives the search grid from the largest time baseline in the
// batch. The floor of two cycles per baseline makes anything slower
// unmeasurable; spacing follows the standard oversampled periodogram rule.
func BuildGrid(baseline, samplesPerPeak float64, longPeriod bool) Grid {
	fmax := fmaxShortPeriod
	if longPeriod {
		fmax = fmaxLongPeriod
	}
	// A degenerate baseline admits no measurable frequency; backends
	// treat an empty grid as "no search".
	if baseline <= 0 {
		return Grid{Fmax: fmax}
	}

	fmin := 2.0 / baseline
	df := 1.0 / (samplesPerPeak * baseline)

	n := int(math.Ceil((fmax - fmin) / df))
	if n < 0 {
		n = 0
	}
	freqs := make([]float64, n)
	for i := range freqs {
		freqs[i] = fmin + df*float64(i)
	}
	return Grid{Fmin: fmin, Fmax: fmax, Df: df, Freqs: freqs}
}

// TerrestrialBands returns the frequency bands (cycles/day) polluted by
// harmonics and aliases of the solar day, for exclusion from peak
// selection.
func TerrestrialBands() [][2]float64 {
	return [][2]float64{
		{3e-2, 4e-2},
		{3.95, 4.05},
		{2.95, 3.05},
		{1.95, 2.05},
		{0.95, 1.05},
		{0.48, 0.52},
		{0.32, 0.34},
	}
}

// inBands reports whether f falls inside any of the bands.
func inBands(f float64, bands [][2]float64) bool {
	for _, b := range bands {
		if f >= b[0] && f <= b[1] {
			return true
		}
	}
	return false
}
