// Package lightcurve holds the time-series representation of a source's
// photometry and the cleaning steps applied before feature extraction.
package lightcurve

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/skyward-obs/features-cli/pkg/kowalski"
)

// TimeSeries is an ordered set of (time, magnitude, magnitude error)
// triples for one source. The three columns always have equal length.
type TimeSeries struct {
	T []float64
	M []float64
	E []float64
}

// Len returns the number of samples.
func (s TimeSeries) Len() int {
	return len(s.T)
}

// Baseline returns the span between the earliest and latest sample, in the
// time unit of the series (days for survey HJD).
func (s TimeSeries) Baseline() float64 {
	if len(s.T) == 0 {
		return 0
	}
	lo, hi := s.T[0], s.T[0]
	for _, t := range s.T[1:] {
		if t < lo {
			lo = t
		}
		if t > hi {
			hi = t
		}
	}
	return hi - lo
}

// FromEpochs builds a TimeSeries from raw per-epoch records, keeping only
// samples with a zero quality flag. A record with a non-finite time,
// magnitude, or error makes the whole series malformed.
func FromEpochs(epochs []kowalski.Epoch) (TimeSeries, error) {
	var s TimeSeries
	for _, ep := range epochs {
		if ep.CatFlags != 0 {
			continue
		}
		if !isFinite(ep.HJD) || !isFinite(ep.Mag) || !isFinite(ep.MagErr) {
			return TimeSeries{}, eris.Errorf("lightcurve: non-finite sample at hjd=%v", ep.HJD)
		}
		s.T = append(s.T, ep.HJD)
		s.M = append(s.M, ep.Mag)
		s.E = append(s.E, ep.MagErr)
	}
	return s, nil
}

// CollapseHighCadence suppresses over-sampled clusters: within any run of
// consecutive samples spaced closer than cadenceMinutes, only the first is
// kept. Assumes the series is sorted by time, which the catalog guarantees.
func (s TimeSeries) CollapseHighCadence(cadenceMinutes float64) TimeSeries {
	if len(s.T) == 0 {
		return s
	}
	windowDays := cadenceMinutes / (60.0 * 24.0)

	out := TimeSeries{
		T: []float64{s.T[0]},
		M: []float64{s.M[0]},
		E: []float64{s.E[0]},
	}
	last := s.T[0]
	for i := 1; i < len(s.T); i++ {
		if s.T[i]-last < windowDays {
			continue
		}
		out.T = append(out.T, s.T[i])
		out.M = append(out.M, s.M[i])
		out.E = append(out.E, s.E[i])
		last = s.T[i]
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
