package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyward-obs/features-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testMeta(field, ccd, quad, rows int) model.RunMeta {
	return model.RunMeta{
		Unit:          model.Unit{Field: field, CCD: ccd, Quad: quad},
		MinPoints:     50,
		Start:         time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC),
		End:           time.Date(2023, 4, 1, 12, 30, 0, 0, time.UTC),
		SourceCatalog: "ZTF_sources_20210401",
		AlertsCatalog: "ZTF_alerts",
		GaiaCatalog:   "Gaia_EDR3",
		Rows:          rows,
		CodeVersion:   "test",
	}
}

func TestSQLite_RecordAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.RecordRun(ctx, testMeta(296, 1, 1, 42))
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, 42, run.Meta.Rows)

	runs, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, model.Unit{Field: 296, CCD: 1, Quad: 1}, runs[0].Meta.Unit)
	assert.Equal(t, "ZTF_sources_20210401", runs[0].Meta.SourceCatalog)
}

func TestSQLite_ListRuns_FilterByUnit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.RecordRun(ctx, testMeta(296, 1, 1, 10))
	require.NoError(t, err)
	_, err = st.RecordRun(ctx, testMeta(296, 2, 1, 20))
	require.NoError(t, err)
	_, err = st.RecordRun(ctx, testMeta(297, 1, 1, 30))
	require.NoError(t, err)

	runs, err := st.ListRuns(ctx, RunFilter{Field: 296})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = st.ListRuns(ctx, RunFilter{Field: 296, CCD: 2})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 20, runs[0].Meta.Rows)

	runs, err = st.ListRuns(ctx, RunFilter{Field: 999})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSQLite_ListRuns_LimitOffset(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := st.RecordRun(ctx, testMeta(296, 1, 1, i))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := st.ListRuns(ctx, RunFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	rest, err := st.ListRuns(ctx, RunFilter{Limit: 10, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 3)
}

func TestSQLite_LatestForUnit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	unit := model.Unit{Field: 296, CCD: 1, Quad: 1}

	latest, err := st.LatestForUnit(ctx, unit)
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = st.RecordRun(ctx, testMeta(296, 1, 1, 10))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := st.RecordRun(ctx, testMeta(296, 1, 1, 25))
	require.NoError(t, err)

	latest, err = st.LatestForUnit(ctx, unit)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, 25, latest.Meta.Rows)
}

func TestSQLite_AppendOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// Reprocessing a unit adds a run instead of replacing the old one.
	_, err := st.RecordRun(ctx, testMeta(296, 1, 1, 10))
	require.NoError(t, err)
	_, err = st.RecordRun(ctx, testMeta(296, 1, 1, 11))
	require.NoError(t, err)

	runs, err := st.ListRuns(ctx, RunFilter{Field: 296, CCD: 1, Quad: 1})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Migrate(context.Background()))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn")
	assert.Error(t, err)
}
