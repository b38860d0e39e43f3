// Package astro holds the small pieces of celestial geometry and
// photometric conversion the pipeline needs.
package astro

import (
	"math"

	"github.com/golang/geo/s2"

	"github.com/skyward-obs/features-cli/internal/model"
)

const arcsecPerRadian = 180.0 * 3600.0 / math.Pi

// Separation returns the angular separation between two sky positions in
// arcseconds. Both positions must use the same shifted-longitude
// convention; great-circle distance on the sphere makes the 0/360 wrap a
// non-issue.
func Separation(a, b model.SkyPosition) float64 {
	pa := s2.LatLngFromDegrees(a.Dec, a.Lon)
	pb := s2.LatLngFromDegrees(b.Dec, b.Lon)
	return pa.Distance(pb).Radians() * arcsecPerRadian
}

// TychoBVFromGaia converts a Gaia G magnitude and BP-RP color into Tycho
// B and V magnitudes using the Gaia EDR3 photometric relationships. The
// polynomial fits are only good for G < 13. ok is false when the color is
// missing (NaN), in which case no conversion exists.
func TychoBVFromGaia(g, bpRp float64) (b, v float64, ok bool) {
	if math.IsNaN(g) || math.IsNaN(bpRp) {
		return 0, 0, false
	}
	x := bpRp
	// G - V and G - B as cubic polynomials in BP-RP.
	gmv := -0.02704 + 0.01424*x - 0.2156*x*x + 0.01426*x*x*x
	gmb := -0.04749 - 0.9119*x - 0.1524*x*x + 0.01955*x*x*x
	v = g - gmv
	b = g - gmb
	return b, v, true
}

// ExcludeRadius returns the angular radius in arcseconds within which a
// bright star is expected to corrupt photometry of a neighbour, after
// Drake's bright-star halo measurements. Blue stars scatter more light
// into the B band, red stars into V, so the governing magnitude follows
// the color. Stars fainter than magnitude 13 get no exclusion. The radius
// is capped at 300 arcsec, the largest halo observed.
func ExcludeRadius(b, v float64) float64 {
	const (
		faintLimit = 13.0
		maxRadius  = 300.0
		slope      = 22.5 // arcsec per magnitude below the faint limit
	)
	mag := b
	if b-v > 0.8 {
		mag = v
	}
	if mag >= faintLimit {
		return 0
	}
	r := slope * (faintLimit - mag)
	return math.Min(r, maxRadius)
}
