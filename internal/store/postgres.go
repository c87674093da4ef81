package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/model"
)

// pgPool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    pgPool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = 1
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
CREATE TABLE IF NOT EXISTS reports (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	company_name TEXT NOT NULL DEFAULT '',
	location     TEXT NOT NULL DEFAULT '',
	degraded     BOOLEAN NOT NULL DEFAULT false,
	error_count  INTEGER NOT NULL DEFAULT 0,
	body         JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_reports_url ON reports(url);
CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

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

func (s *PostgresStore) SaveReport(ctx context.Context, a *model.Analysis) (*ReportSummary, error) {
	rec, err := newRecord(a)
	if err != nil {
		return nil, err
	}
	sum := rec.summary
	_, err = s.pool.Exec(ctx,
		`INSERT INTO reports (id, url, company_name, location, degraded, error_count, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET degraded = EXCLUDED.degraded, error_count = EXCLUDED.error_count, body = EXCLUDED.body`,
		sum.ID, sum.URL, sum.CompanyName, sum.Location, sum.Degraded, sum.ErrorCount, rec.body, sum.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: save report %s", sum.ID)
	}
	return &sum, nil
}

func (s *PostgresStore) GetReport(ctx context.Context, id string) (*StoredReport, error) {
	var (
		r    StoredReport
		body []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, url, company_name, location, degraded, error_count, created_at, body FROM reports WHERE id = $1`, id,
	).Scan(&r.ID, &r.URL, &r.CompanyName, &r.Location, &r.Degraded, &r.ErrorCount, &r.CreatedAt, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get report %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get report %s", id)
	}
	if r.Analysis, err = decodeAnalysis(body); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]ReportSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, url, company_name, location, degraded, error_count, created_at FROM reports
		 WHERE ($1 = '' OR url = $1) AND (NOT $2 OR degraded) AND created_at >= $3
		 ORDER BY created_at DESC, id LIMIT $4 OFFSET $5`,
		filter.CompanyURL, filter.DegradedOnly, filter.Since.UTC(), limitOf(filter), filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	out := []ReportSummary{}
	for rows.Next() {
		var r ReportSummary
		if err := rows.Scan(&r.ID, &r.URL, &r.CompanyName, &r.Location, &r.Degraded, &r.ErrorCount, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate reports")
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE degraded), COUNT(DISTINCT url), MAX(created_at) FROM reports`,
	).Scan(&st.Total, &st.Degraded, &st.Companies, &st.Latest)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	return &st, nil
}
