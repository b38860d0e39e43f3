package pipeline

import (
	"context"
	"math"

	"github.com/skyward-obs/features-cli/internal/model"
	"github.com/skyward-obs/features-cli/pkg/kowalski"
)

// mockClient is a canned-response kowalski.Client for pipeline tests.
type mockClient struct {
	coneResults map[string][]kowalski.Record
	coneErr     error
	coneCalls   int
	coneReqs    []kowalski.ConeSearchRequest

	fieldSources []kowalski.FieldSource
	fieldErr     error

	lightcurves []kowalski.Lightcurve
	lcErr       error
}

func (m *mockClient) ConeSearch(ctx context.Context, req kowalski.ConeSearchRequest) (map[string][]kowalski.Record, error) {
	m.coneCalls++
	m.coneReqs = append(m.coneReqs, req)
	if m.coneErr != nil {
		return nil, m.coneErr
	}
	if m.coneResults == nil {
		// Echo every input id with no matches.
		out := make(map[string][]kowalski.Record, len(req.Positions))
		for id := range req.Positions {
			out[id] = nil
		}
		return out, nil
	}
	return m.coneResults, nil
}

func (m *mockClient) FieldSources(ctx context.Context, catalog string, field, ccd, quad, pageSize, minObs int, stopEarly bool) ([]kowalski.FieldSource, error) {
	return m.fieldSources, m.fieldErr
}

func (m *mockClient) Lightcurves(ctx context.Context, catalog string, ids []uint64, batchSize int) ([]kowalski.Lightcurve, error) {
	return m.lightcurves, m.lcErr
}

// periodicCurve builds a clean sinusoidal light curve with n samples at a
// tenth-of-a-day cadence.
func periodicCurve(id uint64, n int, period float64) kowalski.Lightcurve {
	lc := kowalski.Lightcurve{ID: id, Filter: 2}
	for i := 0; i < n; i++ {
		t := float64(i) * 0.1
		lc.Data = append(lc.Data, kowalski.Epoch{
			HJD:    2458000.0 + t,
			Mag:    16.0 + 0.4*math.Sin(2.0*math.Pi*t/period),
			MagErr: 0.02,
		})
	}
	return lc
}

func testSources(unit model.Unit, ids ...uint64) map[uint64]model.Source {
	sources := make(map[uint64]model.Source, len(ids))
	for i, id := range ids {
		sources[id] = model.Source{
			ID:   id,
			Pos:  model.PositionFromRA(215.0+float64(i)*0.01, -12.5),
			Unit: unit,
		}
	}
	return sources
}
