package aggregate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/model"
)

var params = model.InputParameters{
	URL:               "https://acme.example.com",
	CompanyName:       "Acme",
	Location:          "Ohio",
	AnalysisTimestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
}

func outcomes() []model.PassOutcome {
	return []model.PassOutcome{
		{Kind: model.PassMain, Partial: model.PartialResult{Main: &model.MainPage{Title: "Acme", Paragraphs: []string{"We make widgets."}}}},
		{Kind: model.PassLeadership, Fault: model.NewFault(model.FaultRenderTimeout, "leadership", eris.New("render timed out"))},
		{Kind: model.PassReviews, Partial: model.PartialResult{
			Reviews: []model.ReviewSnippet{{Source: "g2", Snippet: "Great", URL: "https://g2.com/acme"}},
			Notes:   []string{"reviews: capterra search failed: 503"},
		}},
		{Kind: model.PassTechnology, Partial: model.PartialResult{Technology: &model.TechnologyInfo{Categories: map[string][]string{"CMS": {"WordPress"}}}}},
		{Kind: model.PassSubPages, Partial: model.PartialResult{SubPages: map[model.PageType]model.SubPage{
			model.PageTypeCareers: {URL: "https://acme.example.com/careers", Content: "Hiring"},
		}}},
	}
}

func TestAggregate_MergesEachField(t *testing.T) {
	doc := Aggregate(params, nil, outcomes()...)

	assert.Equal(t, params, doc.InputParameters)
	assert.Equal(t, "Acme", doc.MainPage.Title)
	assert.Equal(t, "https://acme.example.com", doc.MainPage.URL)
	assert.Equal(t, []string{}, doc.MainPage.Headings)
	assert.Empty(t, doc.LeadershipTeam)
	assert.NotNil(t, doc.LeadershipTeam)
	assert.Len(t, doc.ReviewSnippets, 1)
	assert.Equal(t, []string{"WordPress"}, doc.TechnologyInfo.Categories["CMS"])
	assert.Contains(t, doc.SubPages, model.PageTypeCareers)
	assert.Equal(t, []string{
		"leadership: render_timeout: render timed out",
		"reviews: capterra search failed: 503",
	}, doc.OverallErrors)
}

func TestAggregate_NothingSucceeded(t *testing.T) {
	doc := Aggregate(params, nil)
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, []any{}, m["leadership_team"])
	assert.Equal(t, []any{}, m["review_snippets"])
	assert.Equal(t, []any{}, m["overall_errors"])
	assert.Equal(t, map[string]any{}, m["sub_pages"])
}

func TestAggregate_LocatedMainURL(t *testing.T) {
	lp := &model.LocatedPages{MainPage: &model.FetchResult{
		URL: "https://acme.example.com", FinalURL: "https://www.acme.example.com/", Status: model.FetchSuccess,
	}}
	doc := Aggregate(params, lp)
	assert.Equal(t, "https://www.acme.example.com/", doc.MainPage.URL)
}

func TestAggregate_FieldIsolation(t *testing.T) {
	// A pass only writes the field matching its kind.
	doc := Aggregate(params, nil, model.PassOutcome{
		Kind:    model.PassLeadership,
		Partial: model.PartialResult{Main: &model.MainPage{Title: "intruder"}, Leadership: []model.Executive{{Name: "Jane Doe", Title: "CEO"}}},
	})
	assert.Empty(t, doc.MainPage.Title)
	assert.Len(t, doc.LeadershipTeam, 1)
}

func TestAggregate_OrderIndependent(t *testing.T) {
	base := outcomes()
	want := Aggregate(params, nil, base...)

	perms := [][]int{{4, 3, 2, 1, 0}, {2, 0, 4, 1, 3}, {1, 2, 3, 4, 0}}
	for _, perm := range perms {
		ordered := make([]model.PassOutcome, len(perm))
		for i, j := range perm {
			ordered[i] = base[j]
		}
		got := Aggregate(params, nil, ordered...)

		assert.ElementsMatch(t, want.OverallErrors, got.OverallErrors)

		w, g := *want, *got
		w.OverallErrors, g.OverallErrors = nil, nil
		wb, err := json.Marshal(w)
		require.NoError(t, err)
		gb, err := json.Marshal(g)
		require.NoError(t, err)
		assert.JSONEq(t, string(wb), string(gb))
	}
}

func TestAggregator_AddFault(t *testing.T) {
	a := New(params, nil)
	a.AddFault(nil)
	a.AddFault(model.NewFault(model.FaultTransientNetwork, "locator", eris.New("connection reset")))
	assert.Equal(t, []string{"locator: transient_network: connection reset"}, a.Document().OverallErrors)
}
