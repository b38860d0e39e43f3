package periodsearch

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/skyward-obs/features-cli/internal/lightcurve"
)

// lombScargle is the generalized (floating-mean) Lomb-Scargle periodogram,
// the CPU-bound search mode.
type lombScargle struct{}

func init() {
	Register(lombScargle{})
	Register(phaseDispersion{})
}

func (lombScargle) Name() string { return "LS" }

func (lombScargle) FindPeriods(ctx context.Context, series []lightcurve.TimeSeries, grid Grid, opts Options) ([]Result, error) {
	return perSource(ctx, series, opts, func(s lightcurve.TimeSeries) Result {
		return lsOne(s, grid, opts.ExcludeBands)
	})
}

func lsOne(s lightcurve.TimeSeries, grid Grid, exclude [][2]float64) Result {
	n := s.Len()
	if n < 3 || len(grid.Freqs) == 0 {
		return Result{Period: 1.0}
	}

	// Normalized weights and weighted moments of the magnitudes.
	w := make([]float64, n)
	var wsum float64
	for i, e := range s.E {
		w[i] = 1.0 / (e * e)
		wsum += w[i]
	}
	for i := range w {
		w[i] /= wsum
	}

	var ybar float64
	for i, m := range s.M {
		ybar += w[i] * m
	}
	var yy float64
	for i, m := range s.M {
		d := m - ybar
		yy += w[i] * d * d
	}
	// A constant series leaves yy at floating-point noise level rather
	// than exactly zero; compare against the mean's scale.
	if yy <= 1e-12*ybar*ybar {
		return Result{Period: 1.0}
	}

	// Under regular sampling, aliases of the true frequency carry the
	// same power up to floating-point noise. The grid ascends, so the
	// fundamental is scanned first; a later peak must beat it by a real
	// margin to take over.
	const tieTol = 1e-4

	powers := make([]float64, 0, len(grid.Freqs))
	bestPower := math.Inf(-1)
	bestFreq := grid.Freqs[0]

	for _, f := range grid.Freqs {
		if inBands(f, exclude) {
			continue
		}
		omega := 2.0 * math.Pi * f

		var c, sn, cc, ss, cs, yc, ys float64
		for i := range s.T {
			cosx := math.Cos(omega * s.T[i])
			sinx := math.Sin(omega * s.T[i])
			wi := w[i]
			c += wi * cosx
			sn += wi * sinx
			cc += wi * cosx * cosx
			ss += wi * sinx * sinx
			cs += wi * cosx * sinx
			d := s.M[i] - ybar
			yc += wi * d * cosx
			ys += wi * d * sinx
		}
		cc -= c * c
		ss -= sn * sn
		cs -= c * sn

		det := cc*ss - cs*cs
		if det == 0 {
			continue
		}
		p := (ss*yc*yc + cc*ys*ys - 2.0*cs*yc*ys) / (yy * det)
		powers = append(powers, p)
		if p > bestPower*(1.0+tieTol) {
			bestPower = p
			bestFreq = f
		}
	}
	if len(powers) == 0 {
		return Result{Period: 1.0}
	}

	// Significance as the peak's z-score over the periodogram.
	mean := stat.Mean(powers, nil)
	std := math.Sqrt(stat.Variance(powers, nil))
	sig := 0.0
	if std > 0 {
		sig = (bestPower - mean) / std
	}
	return Result{Period: 1.0 / bestFreq, Significance: sig}
}
