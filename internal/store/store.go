// Package store persists analysis reports.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/model"
)

// ErrNotFound is returned when a report does not exist.
var ErrNotFound = eris.New("store: report not found")

// ReportFilter specifies criteria for listing reports.
type ReportFilter struct {
	CompanyURL   string    `json:"company_url,omitempty"`
	DegradedOnly bool      `json:"degraded_only,omitempty"`
	Since        time.Time `json:"since,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// ReportSummary is the listing view of a stored report.
type ReportSummary struct {
	ID          string    `json:"id" yaml:"id"`
	URL         string    `json:"url" yaml:"url"`
	CompanyName string    `json:"company_name" yaml:"company_name"`
	Location    string    `json:"location,omitempty" yaml:"location,omitempty"`
	Degraded    bool      `json:"degraded" yaml:"degraded"`
	ErrorCount  int       `json:"error_count" yaml:"error_count"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// StoredReport is a persisted analysis.
type StoredReport struct {
	ReportSummary `yaml:",inline"`
	Analysis      *model.Analysis `json:"analysis" yaml:"analysis"`
}

// Stats summarizes the stored reports.
type Stats struct {
	Total     int        `json:"total" yaml:"total"`
	Degraded  int        `json:"degraded" yaml:"degraded"`
	Companies int        `json:"companies" yaml:"companies"`
	Latest    *time.Time `json:"latest,omitempty" yaml:"latest,omitempty"`
}

// Store defines report persistence.
type Store interface {
	// SaveReport persists an analysis, assigning an ID when it has none.
	SaveReport(ctx context.Context, a *model.Analysis) (*ReportSummary, error)
	GetReport(ctx context.Context, id string) (*StoredReport, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]ReportSummary, error)
	Stats(ctx context.Context) (*Stats, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg, migrated and ready. The "none"
// driver returns a nil Store.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, cfg.MaxConns)
	case "sqlite", "":
		st, err = NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// record is the row form of an analysis.
type record struct {
	summary ReportSummary
	body    []byte
}

func newRecord(a *model.Analysis) (*record, error) {
	if a == nil || a.Scrape == nil {
		return nil, eris.New("store: analysis has no scrape document")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	body, err := json.Marshal(a)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal analysis")
	}
	p := a.Scrape.InputParameters
	created := p.AnalysisTimestamp.UTC()
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return &record{
		summary: ReportSummary{
			ID:          a.ID,
			URL:         p.URL,
			CompanyName: p.CompanyName,
			Location:    p.Location,
			Degraded:    a.Insights == nil || a.Insights.Degraded(),
			ErrorCount:  len(a.Scrape.OverallErrors),
			CreatedAt:   created,
		},
		body: body,
	}, nil
}

func decodeAnalysis(body []byte) (*model.Analysis, error) {
	var a model.Analysis
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal analysis")
	}
	return &a, nil
}

func limitOf(f ReportFilter) int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}
