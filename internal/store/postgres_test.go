package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS reports`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveReport(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO reports .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("r1", "https://acme.example.com", "Acme", "Ohio", true, 1, pgxmock.AnyArg(), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	sum, err := s.SaveReport(context.Background(), sampleAnalysis("r1", "https://acme.example.com", true, at))
	require.NoError(t, err)
	assert.Equal(t, "r1", sum.ID)
	assert.True(t, sum.Degraded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveReport_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`INSERT INTO reports`).WillReturnError(errors.New("connection lost"))

	_, err := s.SaveReport(context.Background(), sampleAnalysis("r1", "https://acme.example.com", false, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save report r1")
}

func TestPostgresStore_GetReport(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	body, err := json.Marshal(sampleAnalysis("r1", "https://acme.example.com", false, at))
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id, url, company_name, location, degraded, error_count, created_at, body FROM reports WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "company_name", "location", "degraded", "error_count", "created_at", "body"}).
			AddRow("r1", "https://acme.example.com", "Acme", "Ohio", false, 1, at, body))

	got, err := s.GetReport(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.CompanyName)
	assert.Equal(t, "Present on G2.", got.Analysis.Insights.ReviewSitePresence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetReport_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT .* FROM reports WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetReport(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListReports(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, url, company_name, location, degraded, error_count, created_at FROM reports`).
		WithArgs("https://acme.example.com", true, time.Time{}, 50, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "company_name", "location", "degraded", "error_count", "created_at"}).
			AddRow("r2", "https://acme.example.com", "Acme", "Ohio", true, 3, at))

	got, err := s.ListReports(context.Background(), ReportFilter{CompanyURL: "https://acme.example.com", DegradedOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r2", got[0].ID)
	assert.Equal(t, 3, got[0].ErrorCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).WillReturnError(errors.New("timeout"))

	_, err := s.Stats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: stats")
}

func TestPostgresStore_Ping(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	mock.ExpectPing().WillReturnError(errors.New("down"))

	err = (&PostgresStore{pool: mock}).Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: ping")
	assert.NoError(t, mock.ExpectationsWereMet())
}
