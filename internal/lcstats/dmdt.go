package lcstats

import (
	"sort"
)

// DefaultDmdtBins returns the standard time-difference (days) and
// magnitude-difference bin edges used for the dmdt variability histogram.
func DefaultDmdtBins() (dt, dm []float64) {
	dt = []float64{
		1.0 / 145, 2.0 / 145, 3.0 / 145, 4.0 / 145,
		1.0 / 25, 2.0 / 25, 3.0 / 25,
		1.5, 2.5, 3.5, 4.5, 5.5, 7, 10, 20, 30, 60, 90, 120, 240, 600, 960, 2000, 4000,
	}
	dm = []float64{
		-8, -5, -3, -2.5, -2, -1.5, -1, -0.5, -0.3, -0.2, -0.1, -0.05,
		0, 0.05, 0.1, 0.2, 0.3, 0.5, 1, 1.5, 2, 2.5, 3, 5, 8,
	}
	return dt, dm
}

// ComputeDmdt builds the 2-D histogram of (time difference, magnitude
// difference) over all ordered sample pairs, normalized so the fullest
// cell equals one. The result has len(dtEdges)-1 rows and len(dmEdges)-1
// columns. Pairs outside the edges are discarded.
func ComputeDmdt(t, m, dtEdges, dmEdges []float64) [][]float64 {
	rows := len(dtEdges) - 1
	cols := len(dmEdges) - 1
	hist := make([][]float64, rows)
	for i := range hist {
		hist[i] = make([]float64, cols)
	}

	var peak float64
	for i := 0; i < len(t); i++ {
		for j := i + 1; j < len(t); j++ {
			r := binIndex(dtEdges, t[j]-t[i])
			c := binIndex(dmEdges, m[j]-m[i])
			if r < 0 || c < 0 {
				continue
			}
			hist[r][c]++
			if hist[r][c] > peak {
				peak = hist[r][c]
			}
		}
	}

	if peak > 0 {
		for i := range hist {
			for j := range hist[i] {
				hist[i][j] /= peak
			}
		}
	}
	return hist
}

// binIndex locates v among the edges, half-open [lo, hi) per bin; -1 when
// out of range. An exact edge hit belongs to the bin starting at it.
func binIndex(edges []float64, v float64) int {
	if v < edges[0] || v >= edges[len(edges)-1] {
		return -1
	}
	i := sort.SearchFloat64s(edges, v)
	if i < len(edges) && edges[i] == v {
		return i
	}
	return i - 1
}
