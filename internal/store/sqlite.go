package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/skyward-obs/features-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	field      INTEGER NOT NULL,
	ccd        INTEGER NOT NULL,
	quad       INTEGER NOT NULL,
	meta       TEXT NOT NULL,
	total_rows INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_unit ON runs(field, ccd, quad);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordRun(ctx context.Context, meta model.RunMeta) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal meta")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, field, ccd, quad, meta, total_rows, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, meta.Unit.Field, meta.Unit.CCD, meta.Unit.Quad, string(metaJSON), meta.Rows, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &Run{ID: id, Meta: meta, CreatedAt: now}, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, meta, created_at FROM runs WHERE 1=1`
	var args []any

	if filter.Field > 0 {
		query += ` AND field = ?`
		args = append(args, filter.Field)
	}
	if filter.CCD > 0 {
		query += ` AND ccd = ?`
		args = append(args, filter.CCD)
	}
	if filter.Quad > 0 {
		query += ` AND quad = ?`
		args = append(args, filter.Quad)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) LatestForUnit(ctx context.Context, unit model.Unit) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, meta, created_at FROM runs
		 WHERE field = ? AND ccd = ? AND quad = ?
		 ORDER BY created_at DESC LIMIT 1`,
		unit.Field, unit.CCD, unit.Quad,
	)

	r, err := scanRun(row)
	if err == errRunNotFound {
		return nil, nil
	}
	return r, err
}

// helpers

var errRunNotFound = eris.New("run not found")

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var metaJSON string

	err := row.Scan(&r.ID, &metaJSON, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(metaJSON), &r.Meta); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal meta")
	}
	return &r, nil
}
