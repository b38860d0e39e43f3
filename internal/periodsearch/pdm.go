package periodsearch

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/skyward-obs/features-cli/internal/lightcurve"
)

// phaseBins is the number of phase bins for the dispersion statistic.
const phaseBins = 20

// phaseDispersion is a phase-dispersion-minimization search, the batched
// backend behind the accelerated mode. Its inner loop is branch-light
// integer binning, which is what makes it fast on wide batches.
type phaseDispersion struct{}

func (phaseDispersion) Name() string { return "PDM" }

func (phaseDispersion) FindPeriods(ctx context.Context, series []lightcurve.TimeSeries, grid Grid, opts Options) ([]Result, error) {
	return perSource(ctx, series, opts, func(s lightcurve.TimeSeries) Result {
		return pdmOne(s, grid, opts.ExcludeBands)
	})
}

func pdmOne(s lightcurve.TimeSeries, grid Grid, exclude [][2]float64) Result {
	n := s.Len()
	if n < 2*phaseBins || len(grid.Freqs) == 0 {
		return pdmSmall(s, grid, exclude)
	}
	return pdmScan(s, grid, exclude)
}

// pdmSmall relaxes the bin count for short series so the statistic stays
// defined.
func pdmSmall(s lightcurve.TimeSeries, grid Grid, exclude [][2]float64) Result {
	if s.Len() < 6 || len(grid.Freqs) == 0 {
		return Result{Period: 1.0}
	}
	return scanThetas(s, grid, exclude, s.Len()/3)
}

func pdmScan(s lightcurve.TimeSeries, grid Grid, exclude [][2]float64) Result {
	return scanThetas(s, grid, exclude, phaseBins)
}

func scanThetas(s lightcurve.TimeSeries, grid Grid, exclude [][2]float64, bins int) Result {
	variance := stat.Variance(s.M, nil)
	if variance == 0 {
		return Result{Period: 1.0}
	}

	sums := make([]float64, bins)
	sqs := make([]float64, bins)
	counts := make([]int, bins)

	thetas := make([]float64, 0, len(grid.Freqs))
	bestTheta := math.Inf(1)
	bestFreq := grid.Freqs[0]

	for _, f := range grid.Freqs {
		if inBands(f, exclude) {
			continue
		}
		for b := 0; b < bins; b++ {
			sums[b], sqs[b], counts[b] = 0, 0, 0
		}
		for i, t := range s.T {
			phase := t*f - math.Floor(t*f)
			b := int(phase * float64(bins))
			if b == bins {
				b = bins - 1
			}
			sums[b] += s.M[i]
			sqs[b] += s.M[i] * s.M[i]
			counts[b]++
		}

		// Pooled within-bin variance over the overall variance.
		var pooled float64
		dof := 0
		for b := 0; b < bins; b++ {
			if counts[b] < 2 {
				continue
			}
			nb := float64(counts[b])
			pooled += sqs[b] - sums[b]*sums[b]/nb
			dof += counts[b] - 1
		}
		if dof == 0 {
			continue
		}
		theta := (pooled / float64(dof)) / variance
		thetas = append(thetas, theta)
		if theta < bestTheta {
			bestTheta = theta
			bestFreq = f
		}
	}
	if len(thetas) == 0 {
		return Result{Period: 1.0}
	}

	mean := stat.Mean(thetas, nil)
	std := math.Sqrt(stat.Variance(thetas, nil))
	sig := 0.0
	if std > 0 {
		sig = (mean - bestTheta) / std
	}
	return Result{Period: 1.0 / bestFreq, Significance: sig}
}
