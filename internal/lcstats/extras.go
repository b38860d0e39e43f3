package lcstats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ExtraFeatures computes the optional supplementary feature set, the
// analogue of the third-party featurizer the original tool could enable.
// Keys become table columns as-is.
func ExtraFeatures(t, m []float64) map[string]float64 {
	n := len(m)
	if n < 2 {
		return nil
	}

	lo, hi := m[0], m[0]
	for _, mi := range m[1:] {
		lo = math.Min(lo, mi)
		hi = math.Max(hi, mi)
	}

	mean := stat.Mean(m, nil)
	std := math.Sqrt(stat.Variance(m, nil))
	var beyond float64
	if std > 0 {
		for _, mi := range m {
			if math.Abs(mi-mean) > std {
				beyond++
			}
		}
		beyond /= float64(n)
	}

	var maxSlope float64
	for i := 0; i < n-1; i++ {
		dt := t[i+1] - t[i]
		if dt == 0 {
			continue
		}
		if s := math.Abs((m[i+1] - m[i]) / dt); s > maxSlope {
			maxSlope = s
		}
	}

	med := stat.Quantile(0.5, stat.LinInterp, sortedCopy(m), nil)
	percentAmp := math.Max(math.Abs(hi-med), math.Abs(lo-med))
	if med != 0 {
		percentAmp /= math.Abs(med)
	}

	return map[string]float64{
		"amplitude":            (hi - lo) / 2.0,
		"percent_beyond_1_std": beyond,
		"max_slope":            maxSlope,
		"percent_amplitude":    percentAmp,
	}
}

func sortedCopy(x []float64) []float64 {
	out := append([]float64(nil), x...)
	sort.Float64s(out)
	return out
}
