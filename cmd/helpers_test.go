package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/store"
)

func sampleAnalysis(id string, degraded bool) *model.Analysis {
	doc := model.NewScrapeDocument(model.InputParameters{
		URL:               "https://acme.example.com",
		CompanyName:       "Acme Industrial",
		Location:          "Columbus, OH",
		AnalysisTimestamp: time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC),
	})
	doc.MainPage.Title = "Acme Industrial | Precision Parts"

	report := (&model.InsightReport{
		SWOT:              model.SWOT{Strengths: []string{"Forty years in precision machining"}},
		SpeculationCaveat: model.DefaultSpeculationCaveat,
	}).Normalize()
	if degraded {
		doc.OverallErrors = []string{"reviews: transient_network: timeout"}
		report = model.NewDegradedReport("model service unavailable", nil)
	}
	return &model.Analysis{ID: id, Scrape: doc, Insights: report}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}
