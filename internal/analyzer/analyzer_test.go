package analyzer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/resilience"
	"github.com/sells-group/insight-cli/pkg/anthropic"
	"github.com/sells-group/insight-cli/pkg/anthropic/mocks"
)

const validReport = `{
  "swot": {"strengths": ["Long operating history"], "weaknesses": ["None apparent from text"], "opportunities": ["Aerospace demand"], "threats": []},
  "transformation_angles": ["Digitize quoting"],
  "key_executives": [{"name": "Jane Doe", "title": "CEO"}],
  "career_page_themes": [],
  "contact_points": ["Office of the CEO"],
  "funding_mentions": [],
  "technology_flags": ["WordPress suggests a marketing-led site"],
  "review_site_presence": "Present on G2.",
  "data_completeness_notes": ["Investor page not found"],
  "speculation_caveat": ""
}`

func testAI() config.AnthropicConfig {
	return config.AnthropicConfig{Model: "claude-sonnet-4-5-20250929", MaxTokens: 4096, Temperature: 0.4}
}

func testCfg() config.AnalyzerConfig {
	return config.AnalyzerConfig{
		MaxInputChars:     20000,
		SnippetChars:      500,
		ParagraphChars:    1500,
		SubPageChars:      2500,
		MaxParagraphs:     12,
		MaxHeadings:       20,
		MaxLeaders:        15,
		MaxReviewSnippets: 10,
		MaxAttempts:       3,
		BackoffInitialMs:  1,
		BreakerThreshold:  5,
		BreakerResetSecs:  60,
	}
}

func response(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 1200, OutputTokens: 300},
	}
}

func acmeDoc() *model.ScrapeDocument {
	doc := model.NewScrapeDocument(model.InputParameters{
		URL:               "https://acme.example.com",
		CompanyName:       "Acme",
		Location:          "Ohio",
		AnalysisTimestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	doc.MainPage.Title = "Acme Industrial"
	doc.MainPage.Paragraphs = []string{"Acme manufactures precision parts for aerospace customers."}
	return doc
}

func TestAnalyze_Success(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-sonnet-4-5-20250929" &&
			req.Temperature != nil && *req.Temperature == 0.4 &&
			len(req.Messages) == 1 && req.System != ""
	})).Return(response(validReport), nil).Once()

	r := New(client, testAI(), testCfg(), nil).Analyze(context.Background(), acmeDoc())

	require.NotNil(t, r)
	assert.Nil(t, r.Error)
	assert.False(t, r.Degraded())
	assert.Equal(t, []string{"Long operating history"}, r.SWOT.Strengths)
	assert.Equal(t, []string{}, r.SWOT.Threats)
	assert.Equal(t, []model.Executive{{Name: "Jane Doe", Title: "CEO"}}, r.KeyExecutives)
	assert.Equal(t, model.DefaultSpeculationCaveat, r.SpeculationCaveat)
	assert.Contains(t, r.DataCompletenessNotes, "No leadership team information found.")
	assert.Contains(t, r.DataCompletenessNotes, "Investor page not found")
}

func TestAnalyze_FencedAndWrapped(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(response("```json\n{\"llm_analysis\": "+validReport+"}\n```"), nil).Once()

	r := New(client, testAI(), testCfg(), nil).Analyze(context.Background(), acmeDoc())
	assert.Nil(t, r.Error)
	assert.Equal(t, []string{"Digitize quoting"}, r.TransformationAngles)
}

func TestAnalyze_SalvagesEmbeddedObject(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(response("Here is the analysis you asked for:\n"+validReport+"\nLet me know if you need more."), nil).Once()

	r := New(client, testAI(), testCfg(), nil).Analyze(context.Background(), acmeDoc())
	assert.Nil(t, r.Error)
	assert.Equal(t, "Present on G2.", r.ReviewSitePresence)
}

func TestAnalyze_RegeneratesOnce(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 1
	})).Return(response(`{"swot": "not an object"}`), nil).Once()
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.Messages) == 3 &&
			req.Messages[1].Role == "assistant" &&
			req.Messages[2].Role == "user"
	})).Return(response(validReport), nil).Once()

	r := New(client, testAI(), testCfg(), nil).Analyze(context.Background(), acmeDoc())
	assert.Nil(t, r.Error)
	assert.Equal(t, []string{"Office of the CEO"}, r.ContactPoints)
}

func TestAnalyze_MalformedTwiceDegrades(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(response("I cannot help with that."), nil).Twice()

	r := New(client, testAI(), testCfg(), nil).Analyze(context.Background(), acmeDoc())

	require.NotNil(t, r.Error)
	assert.Contains(t, *r.Error, "schema validation")
	assert.Equal(t, model.DegradedSpeculationCaveat, r.SpeculationCaveat)
	assert.NotEmpty(t, r.DataCompletenessNotes)

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	for _, key := range []string{"transformation_angles", "key_executives", "career_page_themes", "contact_points", "funding_mentions", "technology_flags"} {
		assert.Equal(t, []any{}, m[key], key)
	}
	swot := m["swot"].(map[string]any)
	for _, q := range []string{"strengths", "weaknesses", "opportunities", "threats"} {
		assert.Equal(t, []any{}, swot[q], q)
	}
}

func TestAnalyze_TransientExhaustedDegrades(t *testing.T) {
	client := mocks.NewMockClient(t)
	overloaded := resilience.NewTransientError(eris.New("anthropic: create message: overloaded"), 529)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, overloaded).Times(3)

	r := New(client, testAI(), testCfg(), nil).Analyze(context.Background(), acmeDoc())
	require.NotNil(t, r.Error)
	assert.Contains(t, *r.Error, "model service unavailable")
}

func TestAnalyze_TransientThenSuccess(t *testing.T) {
	client := mocks.NewMockClient(t)
	limited := resilience.NewTransientError(eris.New("rate limited"), 429)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, limited).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(response(validReport), nil).Once()

	r := New(client, testAI(), testCfg(), nil).Analyze(context.Background(), acmeDoc())
	assert.Nil(t, r.Error)
}

func TestAnalyze_BadRequestNotRetried(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, eris.New("anthropic: create message: 400 invalid_request_error")).Once()

	r := New(client, testAI(), testCfg(), nil).Analyze(context.Background(), acmeDoc())
	require.NotNil(t, r.Error)
}

func TestAnalyze_BreakerOpens(t *testing.T) {
	client := mocks.NewMockClient(t)
	overloaded := resilience.NewTransientError(eris.New("overloaded"), 529)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, overloaded).Once()

	cfg := testCfg()
	cfg.MaxAttempts = 1
	cfg.BreakerThreshold = 1
	a := New(client, testAI(), cfg, nil)

	first := a.Analyze(context.Background(), acmeDoc())
	require.NotNil(t, first.Error)
	assert.Equal(t, resilience.StateOpen, a.Breaker().State())

	second := a.Analyze(context.Background(), acmeDoc())
	require.NotNil(t, second.Error)
	assert.Contains(t, *second.Error, "circuit open")
}

func TestAnalyze_NoClient(t *testing.T) {
	r := New(nil, testAI(), testCfg(), nil).Analyze(context.Background(), acmeDoc())
	require.NotNil(t, r.Error)
	assert.Equal(t, "model service not configured", *r.Error)
	assert.NotEmpty(t, r.DataCompletenessNotes)
	assert.NotEmpty(t, r.SpeculationCaveat)
}

func TestAnalyze_ContextDone(t *testing.T) {
	client := mocks.NewMockClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(client, testAI(), testCfg(), nil).Analyze(ctx, acmeDoc())
	require.NotNil(t, r.Error)
	assert.Equal(t, DeadlineReason, *r.Error)
}

func TestAnalyze_NilDocument(t *testing.T) {
	client := mocks.NewMockClient(t)
	r := New(client, testAI(), testCfg(), nil).Analyze(context.Background(), nil)
	require.NotNil(t, r.Error)
	assert.Equal(t, []string{"No scraped data was available."}, r.DataCompletenessNotes)
}
