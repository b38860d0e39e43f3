// Package lcstats computes the statistical features of a cleaned light
// curve: the basic battery, Fourier statistics at a fixed period, and the
// dmdt histogram.
package lcstats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// BasicStats is the fixed tuple of per-source statistics computed from a
// cleaned time series.
type BasicStats struct {
	N                 int
	Median            float64
	WMean             float64
	Chi2Red           float64
	RoMS              float64
	WStd              float64
	NormPeakToPeakAmp float64
	NormExcessVar     float64
	MedianAbsDev      float64
	IQR               float64
	I60R              float64
	I70R              float64
	I80R              float64
	I90R              float64
	Skew              float64
	SmallKurt         float64
	InvNeumann        float64
	WelchI            float64
	StetsonJ          float64
	StetsonK          float64
	AD                float64
	SW                float64
}

// CalcBasicStats computes the basic statistics battery. The three columns
// must have equal length of at least two samples.
func CalcBasicStats(t, m, e []float64) BasicStats {
	n := len(m)
	nf := float64(n)

	w := make([]float64, n)
	for i, ei := range e {
		w[i] = 1.0 / (ei * ei)
	}

	sorted := append([]float64(nil), m...)
	sort.Float64s(sorted)
	quant := func(p float64) float64 {
		return stat.Quantile(p, stat.LinInterp, sorted, nil)
	}

	median := quant(0.5)
	wmean := stat.Mean(m, w)

	var chi2, wvar, wsum, roms, excess float64
	for i, mi := range m {
		d := mi - wmean
		chi2 += w[i] * d * d
		wvar += w[i] * d * d
		wsum += w[i]
		roms += math.Abs(mi-median) / e[i]
		excess += d*d - e[i]*e[i]
	}

	// Peak-to-peak amplitude using error-adjusted extremes.
	loAdj, hiAdj := m[0]+e[0], m[0]-e[0]
	for i := 1; i < n; i++ {
		loAdj = math.Min(loAdj, m[i]+e[i])
		hiAdj = math.Max(hiAdj, m[i]-e[i])
	}

	absDev := make([]float64, n)
	for i, mi := range m {
		absDev[i] = math.Abs(mi - median)
	}
	sort.Float64s(absDev)

	// von Neumann ratio against the sample variance.
	variance := stat.Variance(m, nil)
	var eta float64
	for i := 0; i < n-1; i++ {
		d := m[i+1] - m[i]
		eta += d * d
	}
	eta /= (nf - 1) * variance

	return BasicStats{
		N:                 n,
		Median:            median,
		WMean:             wmean,
		Chi2Red:           chi2 / (nf - 1),
		RoMS:              roms / (nf - 1),
		WStd:              math.Sqrt(wvar / wsum),
		NormPeakToPeakAmp: (hiAdj - loAdj) / (hiAdj + loAdj),
		NormExcessVar:     excess / (nf * wmean * wmean),
		MedianAbsDev:      stat.Quantile(0.5, stat.LinInterp, absDev, nil),
		IQR:               quant(0.75) - quant(0.25),
		I60R:              quant(0.80) - quant(0.20),
		I70R:              quant(0.85) - quant(0.15),
		I80R:              quant(0.90) - quant(0.10),
		I90R:              quant(0.95) - quant(0.05),
		Skew:              stat.Skew(m, nil),
		SmallKurt:         stat.ExKurtosis(m, nil),
		InvNeumann:        1.0 / eta,
		WelchI:            welchI(m, e, wmean),
		StetsonJ:          stetsonJ(m, e, wmean),
		StetsonK:          stetsonK(m, e, wmean),
		AD:                andersonDarling(m),
		SW:                shapiroFrancia(sorted),
	}
}

// welchI is the Welch/Stetson variability index over consecutive sample
// pairs of a single band.
func welchI(m, e []float64, wmean float64) float64 {
	n := len(m)
	var sum float64
	for i := 0; i < n-1; i++ {
		sum += (m[i] - wmean) / e[i] * ((m[i+1] - wmean) / e[i+1])
	}
	return math.Sqrt(1.0/(float64(n)*float64(n-1))) * sum
}

func stetsonJ(m, e []float64, wmean float64) float64 {
	n := len(m)
	scale := math.Sqrt(float64(n) / float64(n-1))
	var sum float64
	for i := 0; i < n-1; i++ {
		di := scale * (m[i] - wmean) / e[i]
		dj := scale * (m[i+1] - wmean) / e[i+1]
		p := di * dj
		sum += math.Copysign(math.Sqrt(math.Abs(p)), p)
	}
	return sum / float64(n-1)
}

func stetsonK(m, e []float64, wmean float64) float64 {
	n := len(m)
	scale := math.Sqrt(float64(n) / float64(n-1))
	var sumAbs, sumSq float64
	for i := range m {
		d := scale * (m[i] - wmean) / e[i]
		sumAbs += math.Abs(d)
		sumSq += d * d
	}
	nf := float64(n)
	return (sumAbs / nf) / math.Sqrt(sumSq/nf)
}

// andersonDarling computes the A-squared statistic of the standardized
// magnitudes against a unit normal.
func andersonDarling(m []float64) float64 {
	n := len(m)
	nf := float64(n)
	mean := stat.Mean(m, nil)
	std := math.Sqrt(stat.Variance(m, nil))
	if std == 0 {
		return 0
	}

	z := make([]float64, n)
	for i, mi := range m {
		z[i] = (mi - mean) / std
	}
	sort.Float64s(z)

	norm := distuv.UnitNormal
	var s float64
	for i := 0; i < n; i++ {
		lo := clampProb(norm.CDF(z[i]))
		hi := clampProb(1.0 - norm.CDF(z[n-1-i]))
		s += float64(2*i+1) * (math.Log(lo) + math.Log(hi))
	}
	return -nf - s/nf
}

// shapiroFrancia approximates the Shapiro-Wilk W using normal scores
// (Royston's exact coefficients are not worth carrying for a feature that
// only ranks normality). Input must be sorted ascending.
func shapiroFrancia(sorted []float64) float64 {
	n := len(sorted)
	nf := float64(n)
	norm := distuv.UnitNormal

	scores := make([]float64, n)
	var ssScores float64
	for i := range scores {
		scores[i] = norm.Quantile((float64(i+1) - 0.375) / (nf + 0.25))
		ssScores += scores[i] * scores[i]
	}

	mean := stat.Mean(sorted, nil)
	var num, ss float64
	for i, x := range sorted {
		num += scores[i] * x
		ss += (x - mean) * (x - mean)
	}
	if ss == 0 || ssScores == 0 {
		return 0
	}
	return num * num / (ssScores * ss)
}

func clampProb(p float64) float64 {
	const eps = 1e-15
	return math.Min(math.Max(p, eps), 1-eps)
}
