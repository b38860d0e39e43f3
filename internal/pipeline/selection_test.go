package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyward-obs/features-cli/internal/match"
	"github.com/skyward-obs/features-cli/pkg/kowalski"
)

func TestSelectSources_KeepsCleanSources(t *testing.T) {
	src := &mockClient{fieldSources: []kowalski.FieldSource{
		{ID: 1, Lon: 35.0, Dec: -12.5},
		{ID: 2, Lon: 35.01, Dec: -12.5},
	}}
	gaia := &mockClient{}

	sources, err := SelectSources(context.Background(), src, gaia, SelectOptions{
		Unit:          testUnit,
		SourceCatalog: "ZTF_sources_20210401",
		PageSize:      10000,
		Match:         match.DefaultParams("Gaia_EDR3"),
	})
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, testUnit, sources[1].Unit)
	assert.InDelta(t, 215.0, sources[1].Pos.RA(), 1e-9)
}

func TestSelectSources_ListError(t *testing.T) {
	src := &mockClient{fieldErr: assert.AnError}
	_, err := SelectSources(context.Background(), src, &mockClient{}, SelectOptions{
		Unit:          testUnit,
		SourceCatalog: "ZTF_sources_20210401",
		Match:         match.DefaultParams("Gaia_EDR3"),
	})
	assert.Error(t, err)
}

func TestSelectSources_BrightStarDrops(t *testing.T) {
	// A 9th magnitude neighbor 50 arcsec away contaminates source 1;
	// source 2 has no neighbors and survives.
	src := &mockClient{fieldSources: []kowalski.FieldSource{
		{ID: 1, Lon: 35.0, Dec: 0.0},
		{ID: 2, Lon: 36.0, Dec: 0.0},
	}}

	neighborLon := 35.0 + 50.0/3600.0
	gaia := &mockClient{coneResults: map[string][]kowalski.Record{
		"1": {catalogRecord(neighborLon, 0.0, map[string]any{
			"phot_g_mean_mag": 9.0,
			"bp_rp":           0.5,
		})},
		"2": {},
	}}

	sources, err := SelectSources(context.Background(), src, gaia, SelectOptions{
		Unit:          testUnit,
		SourceCatalog: "ZTF_sources_20210401",
		Match:         match.DefaultParams("Gaia_EDR3"),
	})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Contains(t, sources, uint64(2))
}
