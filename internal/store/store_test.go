package store

import (
	"time"

	"github.com/sells-group/insight-cli/internal/model"
)

func sampleAnalysis(id, url string, degraded bool, at time.Time) *model.Analysis {
	doc := model.NewScrapeDocument(model.InputParameters{
		URL:               url,
		CompanyName:       "Acme",
		Location:          "Ohio",
		AnalysisTimestamp: at,
	})
	doc.MainPage.Title = "Acme Industrial"
	doc.OverallErrors = []string{"leadership: transient_network: timeout"}

	report := &model.InsightReport{
		SWOT:               model.SWOT{Strengths: []string{"Long history"}},
		ReviewSitePresence: "Present on G2.",
		SpeculationCaveat:  model.DefaultSpeculationCaveat,
	}
	report.Normalize()
	if degraded {
		report = model.NewDegradedReport("model service unavailable", []string{"No review data found on third-party review sites."})
	}
	return &model.Analysis{ID: id, Scrape: doc, Insights: report}
}
