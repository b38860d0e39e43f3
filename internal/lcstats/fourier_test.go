package lcstats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// sineSeries samples a pure sinusoid with the given period.
func sineSeries(n int, period, amp float64) (t, m, e []float64) {
	t = make([]float64, n)
	m = make([]float64, n)
	e = make([]float64, n)
	for i := range t {
		t[i] = float64(i) * 0.137 // irregular-ish but dense sampling
		m[i] = 15.0 + amp*math.Sin(2.0*math.Pi*t[i]/period)
		e[i] = 0.01
	}
	return t, m, e
}

func TestCalcFourierStats_RecoversSinusoid(t *testing.T) {
	tt, mm, ee := sineSeries(300, 2.5, 0.4)
	fs := CalcFourierStats(tt, mm, ee, 2.5)

	assert.InDelta(t, 0.4, fs.Amp, 0.01)
	// A pure sinusoid at the true period is explained almost entirely.
	assert.Greater(t, fs.Power, 0.99)
	// Higher harmonics are negligible.
	for _, ra := range fs.RelAmp {
		assert.Less(t, ra, 0.05)
	}
}

func TestCalcFourierStats_WrongPeriodLowPower(t *testing.T) {
	tt, mm, ee := sineSeries(300, 2.5, 0.4)
	fs := CalcFourierStats(tt, mm, ee, 0.618)
	assert.Less(t, fs.Power, 0.2)
}

func TestCalcFourierStats_Degenerate(t *testing.T) {
	tt, mm, ee := sineSeries(5, 2.5, 0.4)
	assert.Equal(t, FourierStats{}, CalcFourierStats(tt, mm, ee, 2.5))
	assert.Equal(t, FourierStats{}, CalcFourierStats(nil, nil, nil, 0))
}

func TestWrapPhase(t *testing.T) {
	assert.InDelta(t, 0.0, wrapPhase(2*math.Pi), 1e-12)
	assert.InDelta(t, math.Pi, wrapPhase(math.Pi), 1e-12)
	assert.InDelta(t, -math.Pi/2, wrapPhase(3*math.Pi/2), 1e-12)
}

func TestComputeDmdt_NormalizedPeak(t *testing.T) {
	dtE, dmE := DefaultDmdtBins()
	tt := []float64{0, 1, 2, 3, 4}
	mm := []float64{15.0, 15.1, 15.0, 15.1, 15.0}
	h := ComputeDmdt(tt, mm, dtE, dmE)

	assert.Len(t, h, len(dtE)-1)
	assert.Len(t, h[0], len(dmE)-1)

	var peak float64
	for _, row := range h {
		for _, v := range row {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
			peak = math.Max(peak, v)
		}
	}
	assert.Equal(t, 1.0, peak)
}

func TestComputeDmdt_EmptySeries(t *testing.T) {
	dtE, dmE := DefaultDmdtBins()
	h := ComputeDmdt(nil, nil, dtE, dmE)
	for _, row := range h {
		for _, v := range row {
			assert.Zero(t, v)
		}
	}
}
