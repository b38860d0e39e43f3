package periodsearch

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyward-obs/features-cli/internal/lightcurve"
)

// periodicSeries samples a sinusoid of the given period over ~20 days.
func periodicSeries(period float64) lightcurve.TimeSeries {
	var s lightcurve.TimeSeries
	for i := 0; i < 400; i++ {
		t := float64(i) * 0.05
		s.T = append(s.T, t)
		s.M = append(s.M, 15.0+0.5*math.Sin(2.0*math.Pi*t/period))
		s.E = append(s.E, 0.02)
	}
	return s
}

func TestRegistry(t *testing.T) {
	ls, ok := Lookup("LS")
	require.True(t, ok)
	assert.Equal(t, "LS", ls.Name())

	_, ok = Lookup("GPU-CE")
	assert.False(t, ok)

	assert.Equal(t, []string{"LS", "PDM"}, Names())
}

func TestLombScargle_FindsKnownPeriod(t *testing.T) {
	series := []lightcurve.TimeSeries{periodicSeries(1.31)}
	grid := BuildGrid(20.0, 10.0, true)

	ls, _ := Lookup("LS")
	results, err := ls.FindPeriods(context.Background(), series, grid, Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.31, results[0].Period, 0.01)
	assert.Greater(t, results[0].Significance, 5.0)
}

func TestLombScargle_PrefersFundamentalOverSamplingAlias(t *testing.T) {
	// Regular 0.1-day sampling at HJD-scale timestamps: the alias of the
	// true frequency carries near-identical power, and phase roundoff at
	// t ~ 2.4e6 makes the two differ only in the noise. The reported
	// period must still be the fundamental, not the alias near 0.05 d.
	var s lightcurve.TimeSeries
	for i := 0; i < 60; i++ {
		ti := 2458000.0 + float64(i)*0.1
		s.T = append(s.T, ti)
		s.M = append(s.M, 16.0+0.4*math.Sin(2.0*math.Pi*ti/1.31))
		s.E = append(s.E, 0.02)
	}
	grid := BuildGrid(s.T[len(s.T)-1]-s.T[0], 2.0, true)

	ls, _ := Lookup("LS")
	results, err := ls.FindPeriods(context.Background(), []lightcurve.TimeSeries{s}, grid, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 1.31, results[0].Period, 0.05)
}

func TestLombScargle_ConstantSeriesWithRoundoffNoise(t *testing.T) {
	// The weighted variance of a flat series comes out around 1e-30, not
	// exactly zero; it must still be treated as degenerate.
	var s lightcurve.TimeSeries
	for i := 0; i < 50; i++ {
		s.T = append(s.T, 2458000.0+float64(i)*0.3)
		s.M = append(s.M, 16.123)
		s.E = append(s.E, 0.02)
	}
	grid := BuildGrid(s.T[len(s.T)-1]-s.T[0], 2.0, true)

	ls, _ := Lookup("LS")
	results, err := ls.FindPeriods(context.Background(), []lightcurve.TimeSeries{s}, grid, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, results[0].Period)
}

func TestLombScargle_ParallelMatchesSequential(t *testing.T) {
	series := []lightcurve.TimeSeries{
		periodicSeries(1.31),
		periodicSeries(0.71),
		periodicSeries(2.03),
	}
	grid := BuildGrid(20.0, 5.0, true)
	ls, _ := Lookup("LS")

	seq, err := ls.FindPeriods(context.Background(), series, grid, Options{})
	require.NoError(t, err)
	par, err := ls.FindPeriods(context.Background(), series, grid, Options{Parallel: true, Ncore: 4})
	require.NoError(t, err)
	assert.Equal(t, seq, par)
}

func TestLombScargle_TerrestrialMasking(t *testing.T) {
	// A signal right at one cycle per day is masked away, so the reported
	// period must not land inside the one-day band.
	series := []lightcurve.TimeSeries{periodicSeries(1.0)}
	grid := BuildGrid(20.0, 10.0, true)

	ls, _ := Lookup("LS")
	results, err := ls.FindPeriods(context.Background(), series, grid, Options{ExcludeBands: TerrestrialBands()})
	require.NoError(t, err)
	f := 1.0 / results[0].Period
	assert.False(t, inBands(f, TerrestrialBands()))
}

func TestPhaseDispersion_FindsKnownPeriod(t *testing.T) {
	series := []lightcurve.TimeSeries{periodicSeries(1.31)}
	grid := BuildGrid(20.0, 10.0, true)

	pdm, ok := Lookup("PDM")
	require.True(t, ok)
	results, err := pdm.FindPeriods(context.Background(), series, grid, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 1.31, results[0].Period, 0.01)
	assert.Greater(t, results[0].Significance, 1.0)
}

func TestBackends_DegenerateSeries(t *testing.T) {
	flat := lightcurve.TimeSeries{T: []float64{0, 1, 2}, M: []float64{15, 15, 15}, E: []float64{.1, .1, .1}}
	grid := BuildGrid(2.0, 2.0, true)

	for _, name := range Names() {
		s, _ := Lookup(name)
		results, err := s.FindPeriods(context.Background(), []lightcurve.TimeSeries{flat}, grid, Options{})
		require.NoError(t, err, name)
		assert.Equal(t, 1.0, results[0].Period, name)
	}
}

func TestPerSource_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	series := []lightcurve.TimeSeries{periodicSeries(1.31)}
	grid := BuildGrid(20.0, 10.0, true)
	ls, _ := Lookup("LS")
	_, err := ls.FindPeriods(ctx, series, grid, Options{})
	assert.Error(t, err)
}
