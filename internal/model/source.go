package model

import (
	"fmt"
	"time"
)

// SkyPosition is a point on the celestial sphere using the GeoJSON
// longitude convention of the source catalog: Lon = RA - 180 degrees.
// Adding 180 recovers the right ascension; cone-search payloads apply the
// same shift to every coordinate so the 0/360 wrap never produces negative
// longitudes on the wire. Dec is in plain degrees.
type SkyPosition struct {
	Lon float64 `json:"lon"`
	Dec float64 `json:"dec"`
}

// PositionFromRA builds a SkyPosition from a right ascension in degrees.
func PositionFromRA(ra, dec float64) SkyPosition {
	return SkyPosition{Lon: ra - 180.0, Dec: dec}
}

// RA compensates the longitude shift back to a right ascension in degrees.
func (p SkyPosition) RA() float64 {
	return p.Lon + 180.0
}

// Unit identifies one survey tile: a field, a CCD on the camera, and a
// readout quadrant of that CCD.
type Unit struct {
	Field int `json:"field"`
	CCD   int `json:"ccd"`
	Quad  int `json:"quad"`
}

func (u Unit) String() string {
	return fmt.Sprintf("(%d, %d, %d)", u.Field, u.CCD, u.Quad)
}

// Source is one point source returned by a region query. Its identifier is
// unique within a region batch.
type Source struct {
	ID     uint64      `json:"id"`
	Pos    SkyPosition `json:"pos"`
	Unit   Unit        `json:"unit"`
	Filter int         `json:"filter"`
}

// CandidateMatch is a catalog record returned near a source during
// bright-star filtering. Color is NaN when the catalog carries no color
// index for the star.
type CandidateMatch struct {
	Mag   float64
	Color float64
	Pos   SkyPosition
}

// RunMeta is the provenance record for one processed unit.
type RunMeta struct {
	Unit          Unit      `json:"unit"`
	MinPoints     int       `json:"min_points"`
	Start         time.Time `json:"start_time_utc"`
	End           time.Time `json:"end_time_utc"`
	SourceCatalog string    `json:"source_catalog"`
	AlertsCatalog string    `json:"alerts_catalog"`
	GaiaCatalog   string    `json:"gaia_catalog"`
	Rows          int       `json:"total"`
	CodeVersion   string    `json:"code_version"`
}
