package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/insight-cli/internal/model"
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
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS reports (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	company_name TEXT NOT NULL DEFAULT '',
	location     TEXT NOT NULL DEFAULT '',
	degraded     INTEGER NOT NULL DEFAULT 0,
	error_count  INTEGER NOT NULL DEFAULT 0,
	body         TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_url ON reports(url);
CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveReport(ctx context.Context, a *model.Analysis) (*ReportSummary, error) {
	rec, err := newRecord(a)
	if err != nil {
		return nil, err
	}
	sum := rec.summary
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (id, url, company_name, location, degraded, error_count, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET degraded = excluded.degraded, error_count = excluded.error_count, body = excluded.body`,
		sum.ID, sum.URL, sum.CompanyName, sum.Location, sum.Degraded, sum.ErrorCount, string(rec.body), sum.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: save report %s", sum.ID)
	}
	return &sum, nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*StoredReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, company_name, location, degraded, error_count, created_at, body FROM reports WHERE id = ?`, id)

	var (
		r    StoredReport
		body string
	)
	err := row.Scan(&r.ID, &r.URL, &r.CompanyName, &r.Location, &r.Degraded, &r.ErrorCount, &r.CreatedAt, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get report %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report %s", id)
	}
	if r.Analysis, err = decodeAnalysis([]byte(body)); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportFilter) ([]ReportSummary, error) {
	query := `SELECT id, url, company_name, location, degraded, error_count, created_at FROM reports WHERE 1=1`
	var args []any

	if filter.CompanyURL != "" {
		query += ` AND url = ?`
		args = append(args, filter.CompanyURL)
	}
	if filter.DegradedOnly {
		query += ` AND degraded = 1`
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limitOf(filter), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close() //nolint:errcheck

	out := []ReportSummary{}
	for rows.Next() {
		var r ReportSummary
		if err := rows.Scan(&r.ID, &r.URL, &r.CompanyName, &r.Location, &r.Degraded, &r.ErrorCount, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate reports")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var (
		st     Stats
		latest sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(degraded), 0), COUNT(DISTINCT url), MAX(created_at) FROM reports`,
	).Scan(&st.Total, &st.Degraded, &st.Companies, &latest)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	if latest.Valid && latest.String != "" {
		if t, perr := parseSQLiteTime(latest.String); perr == nil {
			st.Latest = &t
		}
	}
	return &st, nil
}

// parseSQLiteTime reads the text form an aggregate returns for a DATETIME
// column.
func parseSQLiteTime(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("sqlite: unrecognized time %q", s)
}
