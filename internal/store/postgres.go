package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/skyward-obs/features-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. Tests substitute a
// pgxmock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	field      INTEGER NOT NULL,
	ccd        INTEGER NOT NULL,
	quad       INTEGER NOT NULL,
	meta       JSONB NOT NULL,
	total_rows INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_unit ON runs(field, ccd, quad);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) RecordRun(ctx context.Context, meta model.RunMeta) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal meta")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, field, ccd, quad, meta, total_rows, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, meta.Unit.Field, meta.Unit.CCD, meta.Unit.Quad, metaJSON, meta.Rows, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &Run{ID: id, Meta: meta, CreatedAt: now}, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, meta, created_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Field > 0 {
		query += fmt.Sprintf(` AND field = $%d`, argIdx)
		args = append(args, filter.Field)
		argIdx++
	}
	if filter.CCD > 0 {
		query += fmt.Sprintf(` AND ccd = $%d`, argIdx)
		args = append(args, filter.CCD)
		argIdx++
	}
	if filter.Quad > 0 {
		query += fmt.Sprintf(` AND quad = $%d`, argIdx)
		args = append(args, filter.Quad)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var metaJSON []byte

		if err := rows.Scan(&r.ID, &metaJSON, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(metaJSON, &r.Meta); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal meta")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) LatestForUnit(ctx context.Context, unit model.Unit) (*Run, error) {
	var r Run
	var metaJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, meta, created_at FROM runs
		 WHERE field = $1 AND ccd = $2 AND quad = $3
		 ORDER BY created_at DESC LIMIT 1`,
		unit.Field, unit.CCD, unit.Quad,
	).Scan(&r.ID, &metaJSON, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: latest run for %s", unit)
	}

	if err := json.Unmarshal(metaJSON, &r.Meta); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal meta")
	}
	return &r, nil
}
