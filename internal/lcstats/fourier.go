package lcstats

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// nHarmonics is the order of the harmonic series fitted at the search
// period: the fundamental plus four higher harmonics.
const nHarmonics = 5

// FourierStats describes the weighted harmonic-series fit of a light curve
// folded at a fixed period.
type FourierStats struct {
	// Power is the fraction of weighted variance explained by the fit.
	Power float64
	// BIC compares the harmonic model to the constant model.
	BIC float64
	// A and B are the fundamental's cosine and sine coefficients; Amp and
	// Phi0 their polar form.
	A    float64
	B    float64
	Amp  float64
	Phi0 float64
	// RelAmp[k] and RelPhi[k] are the amplitude of harmonic k+2 relative
	// to the fundamental and its phase offset from k+2 times the
	// fundamental phase.
	RelAmp [nHarmonics - 1]float64
	RelPhi [nHarmonics - 1]float64
}

// CalcFourierStats fits a five-harmonic series at the given period by
// weighted least squares and returns the fit statistics. A degenerate fit
// (period <= 0 or too few points) returns the zero value.
func CalcFourierStats(t, m, e []float64, period float64) FourierStats {
	n := len(t)
	nCols := 1 + 2*nHarmonics
	if period <= 0 || n <= nCols {
		return FourierStats{}
	}

	omega := 2.0 * math.Pi / period

	// Weighted design matrix: rows scaled by 1/e.
	x := mat.NewDense(n, nCols, nil)
	y := mat.NewVecDense(n, nil)
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		wi := 1.0 / e[i]
		w[i] = wi * wi
		x.Set(i, 0, wi)
		for k := 1; k <= nHarmonics; k++ {
			phase := float64(k) * omega * t[i]
			x.Set(i, 2*k-1, wi*math.Cos(phase))
			x.Set(i, 2*k, wi*math.Sin(phase))
		}
		y.SetVec(i, wi*m[i])
	}

	var qr mat.QR
	qr.Factorize(x)
	beta := mat.NewVecDense(nCols, nil)
	if err := qr.SolveVecTo(beta, false, y); err != nil {
		return FourierStats{}
	}

	// Weighted residual chi-square of the fit and of the constant model.
	wmean := stat.Mean(m, w)
	var chi2Fit, chi2Const float64
	for i := 0; i < n; i++ {
		model := beta.AtVec(0)
		for k := 1; k <= nHarmonics; k++ {
			phase := float64(k) * omega * t[i]
			model += beta.AtVec(2*k-1)*math.Cos(phase) + beta.AtVec(2*k)*math.Sin(phase)
		}
		rf := m[i] - model
		rc := m[i] - wmean
		chi2Fit += w[i] * rf * rf
		chi2Const += w[i] * rc * rc
	}

	fs := FourierStats{
		A: beta.AtVec(1),
		B: beta.AtVec(2),
	}
	fs.Amp = math.Hypot(fs.A, fs.B)
	fs.Phi0 = math.Atan2(fs.B, fs.A)
	if chi2Const > 0 {
		fs.Power = (chi2Const - chi2Fit) / chi2Const
	}
	fs.BIC = chi2Fit + float64(nCols)*math.Log(float64(n)) - chi2Const - math.Log(float64(n))

	for k := 2; k <= nHarmonics; k++ {
		a := beta.AtVec(2*k - 1)
		b := beta.AtVec(2 * k)
		amp := math.Hypot(a, b)
		phi := math.Atan2(b, a)
		if fs.Amp > 0 {
			fs.RelAmp[k-2] = amp / fs.Amp
		}
		fs.RelPhi[k-2] = wrapPhase(phi - float64(k)*fs.Phi0)
	}
	return fs
}

// wrapPhase maps an angle into (-pi, pi].
func wrapPhase(p float64) float64 {
	for p <= -math.Pi {
		p += 2 * math.Pi
	}
	for p > math.Pi {
		p -= 2 * math.Pi
	}
	return p
}
