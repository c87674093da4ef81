package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/analyzer"
	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/extract"
	"github.com/sells-group/insight-cli/internal/fetcher"
	"github.com/sells-group/insight-cli/internal/locator"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/pkg/anthropic/mocks"
)

const acmeHome = `<html><head><title>Acme Industrial</title>
<meta name="description" content="Precision parts for aerospace."></head>
<body><main>
<h1>Precision Parts Since 1952</h1>
<p>Acme Industrial manufactures precision machined parts for aerospace and defense customers across North America.</p>
<p>Our ISO certified facility in Dayton, Ohio runs three shifts and employs more than two hundred machinists.</p>
<a href="/products">Products</a>
</main></body></html>`

var fastWorkflow = config.WorkflowConfig{
	DeadlineSecs:        10,
	LocateTimeoutSecs:   2,
	PassTimeoutSecs:     5,
	AnalysisReserveSecs: 1,
	MinAnalysisSecs:     1,
}

func acmeRequest() model.AnalysisRequest {
	return model.AnalysisRequest{URL: "https://acme.example.com", CompanyName: "Acme", Location: "Ohio"}
}

func testExtractCfg() config.ExtractConfig {
	return config.ExtractConfig{
		MaxHeadings:       40,
		MaxParagraphs:     75,
		MinParagraphChars: 50,
		MinParagraphWords: 5,
		MaxLeaders:        15,
		MaxReviewResults:  18,
		SubPageChars:      4000,
	}
}

func testAnalyzerCfg() config.AnalyzerConfig {
	return config.AnalyzerConfig{MaxAttempts: 1, BackoffInitialMs: 1, BreakerThreshold: 5, BreakerResetSecs: 60}
}

// pages serves fixed HTML per URL; anything else is a network failure.
func pages(site map[string]string) fetcher.Fetcher {
	return fetcher.Func(func(_ context.Context, req model.FetchRequest) (*model.FetchResult, error) {
		html, ok := site[req.URL]
		if !ok {
			err := &fetcher.Error{Kind: fetcher.KindNetwork, Mode: req.Mode, URL: req.URL, Err: eris.New("connection refused")}
			return &model.FetchResult{URL: req.URL, Mode: req.Mode, Status: model.FetchNetworkError, Error: err.Error()}, err
		}
		return &model.FetchResult{URL: req.URL, Mode: req.Mode, Status: model.FetchSuccess, StatusCode: 200, HTML: html}, nil
	})
}

func realPipeline(f fetcher.Fetcher, an Analyzer) *Pipeline {
	fetchCfg := config.FetchConfig{TimeoutSecs: 2}
	loc := locator.New(f, config.LocatorConfig{Threshold: 0.8}, fetchCfg)
	passes := extract.All(extract.Deps{Fetcher: f, Fetch: fetchCfg, Extract: testExtractCfg()})
	return New(loc, passes, an, fastWorkflow)
}

type analyzerFunc func(ctx context.Context, doc *model.ScrapeDocument) *model.InsightReport

func (f analyzerFunc) Analyze(ctx context.Context, doc *model.ScrapeDocument) *model.InsightReport {
	return f(ctx, doc)
}

type stubPass struct {
	kind    model.PassKind
	delay   time.Duration
	partial model.PartialResult
	err     error
	// ignoreCtx makes the pass keep running after cancellation.
	ignoreCtx bool
}

func (s stubPass) Kind() model.PassKind { return s.kind }

func (s stubPass) Extract(ctx context.Context, _ extract.Input) (model.PartialResult, error) {
	if s.ignoreCtx {
		time.Sleep(s.delay)
		return s.partial, s.err
	}
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return model.PartialResult{}, ctx.Err()
	}
	return s.partial, s.err
}

type noLocator struct{}

func (noLocator) Locate(_ context.Context, baseURL string, _ model.FetchMode) (*model.LocatedPages, error) {
	return &model.LocatedPages{MainURL: baseURL, Pages: map[model.PageType]model.PageMatch{}}, nil
}

func TestRun_EveryCollaboratorFails(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, eris.New("anthropic: create message: 401 unauthorized")).Once()
	an := analyzer.New(client, config.AnthropicConfig{Model: "claude-sonnet-4-5-20250929"}, testAnalyzerCfg(), nil)

	start := time.Now()
	got := realPipeline(pages(nil), an).Run(context.Background(), acmeRequest())

	assert.Less(t, time.Since(start), time.Duration(fastWorkflow.DeadlineSecs)*time.Second)
	require.NotNil(t, got.Scrape)
	require.NotNil(t, got.Insights)
	assert.NotEmpty(t, got.ID)

	r := got.Insights
	require.NotNil(t, r.Error)
	assert.Contains(t, *r.Error, "model service unavailable")
	assert.Empty(t, r.SWOT.Strengths)
	assert.Empty(t, r.KeyExecutives)
	assert.Contains(t, r.DataCompletenessNotes, "Main page content unavailable.")

	require.NotEmpty(t, got.Scrape.OverallErrors)
	assert.True(t, strings.HasPrefix(got.Scrape.OverallErrors[0], "locator: transient_network"), got.Scrape.OverallErrors[0])

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"leadership_team":[]`)
	assert.Contains(t, string(raw), `"key_executives":[]`)
}

func TestRun_AcmeMainPageOnly(t *testing.T) {
	an := analyzer.New(nil, config.AnthropicConfig{}, testAnalyzerCfg(), nil)
	got := realPipeline(pages(map[string]string{"https://acme.example.com": acmeHome}), an).
		Run(context.Background(), acmeRequest())

	doc := got.Scrape
	assert.Equal(t, "Acme Industrial", doc.MainPage.Title)
	assert.Len(t, doc.MainPage.Paragraphs, 2)
	assert.Empty(t, doc.LeadershipTeam)
	assert.Empty(t, doc.ReviewSnippets)
	for _, e := range doc.OverallErrors {
		assert.False(t, strings.HasPrefix(e, "locator:"), e)
	}

	notes := got.Insights.DataCompletenessNotes
	assert.Contains(t, notes, "No leadership team information found.")
	assert.Contains(t, notes, "No review data found on third-party review sites.")
}

func TestRun_DeadlineExhaustedOnEntry(t *testing.T) {
	var called atomic.Bool
	an := analyzerFunc(func(context.Context, *model.ScrapeDocument) *model.InsightReport {
		called.Store(true)
		return &model.InsightReport{}
	})
	req := acmeRequest()
	req.Deadline = -time.Second

	got := New(noLocator{}, nil, an, fastWorkflow).Run(context.Background(), req)

	assert.False(t, called.Load())
	require.NotNil(t, got.Insights.Error)
	assert.Equal(t, analyzer.DeadlineReason, *got.Insights.Error)
	assert.NotEmpty(t, got.Insights.DataCompletenessNotes)
	require.Len(t, got.Scrape.OverallErrors, 1)
	assert.Contains(t, got.Scrape.OverallErrors[0], "deadline_exceeded")
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := New(noLocator{}, nil, nil, fastWorkflow).Run(ctx, acmeRequest())
	require.NotNil(t, got.Insights.Error)
	assert.Equal(t, analyzer.DeadlineReason, *got.Insights.Error)
}

func TestRun_AbandonsLatePasses(t *testing.T) {
	passes := []extract.Pass{
		stubPass{kind: model.PassMain, partial: model.PartialResult{Main: &model.MainPage{Title: "Acme"}}},
		stubPass{kind: model.PassLeadership, delay: time.Minute, ignoreCtx: true},
		stubPass{kind: model.PassReviews, delay: time.Minute},
	}
	var remaining time.Duration
	an := analyzerFunc(func(ctx context.Context, doc *model.ScrapeDocument) *model.InsightReport {
		d, _ := ctx.Deadline()
		remaining = time.Until(d)
		return analyzer.New(nil, config.AnthropicConfig{}, testAnalyzerCfg(), nil).Analyze(ctx, doc)
	})
	req := acmeRequest()
	req.Deadline = 2 * time.Second

	start := time.Now()
	got := New(noLocator{}, passes, an, fastWorkflow).Run(context.Background(), req)

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Greater(t, remaining, time.Duration(0))
	assert.Equal(t, "Acme", got.Scrape.MainPage.Title)
	assert.Equal(t, []model.Executive{}, got.Scrape.LeadershipTeam)

	var timeouts int
	for _, e := range got.Scrape.OverallErrors {
		if strings.Contains(e, "deadline_exceeded") {
			timeouts++
		}
	}
	assert.Equal(t, 2, timeouts)
}

func TestRun_PassFaultIsIsolated(t *testing.T) {
	passes := []extract.Pass{
		stubPass{kind: model.PassMain, partial: model.PartialResult{Main: &model.MainPage{Title: "Acme"}}},
		stubPass{kind: model.PassTechnology, err: model.NewFault(model.FaultExtraction, "technology", eris.New("boom"))},
	}
	an := analyzer.New(nil, config.AnthropicConfig{}, testAnalyzerCfg(), nil)

	got := New(noLocator{}, passes, an, fastWorkflow).Run(context.Background(), acmeRequest())
	assert.Equal(t, "Acme", got.Scrape.MainPage.Title)
	assert.Equal(t, []string{"technology: extraction_fault: boom"}, got.Scrape.OverallErrors)
}

func TestRun_OrderIndependent(t *testing.T) {
	partials := map[model.PassKind]model.PartialResult{
		model.PassMain:       {Main: &model.MainPage{Title: "Acme", Paragraphs: []string{"Acme makes parts."}}},
		model.PassLeadership: {Leadership: []model.Executive{{Name: "Jane Doe", Title: "CEO"}}},
		model.PassReviews:    {Reviews: []model.ReviewSnippet{{Source: "G2", Snippet: "Solid"}}},
		model.PassTechnology: {Technology: &model.TechnologyInfo{Categories: map[string][]string{"CMS": {"WordPress"}}}},
		model.PassSubPages:   {SubPages: map[model.PageType]model.SubPage{model.PageTypeCareers: {URL: "https://acme.example.com/careers", Content: "Hiring"}}},
	}
	run := func(delays map[model.PassKind]time.Duration) *model.ScrapeDocument {
		var passes []extract.Pass
		for _, kind := range model.AllPassKinds() {
			passes = append(passes, stubPass{kind: kind, delay: delays[kind], partial: partials[kind]})
		}
		an := analyzer.New(nil, config.AnthropicConfig{}, testAnalyzerCfg(), nil)
		doc := New(noLocator{}, passes, an, fastWorkflow).Run(context.Background(), acmeRequest()).Scrape
		doc.InputParameters.AnalysisTimestamp = time.Time{}
		return doc
	}

	forward := run(map[model.PassKind]time.Duration{
		model.PassMain: 0, model.PassLeadership: 10 * time.Millisecond, model.PassReviews: 20 * time.Millisecond,
		model.PassTechnology: 30 * time.Millisecond, model.PassSubPages: 40 * time.Millisecond,
	})
	backward := run(map[model.PassKind]time.Duration{
		model.PassMain: 40 * time.Millisecond, model.PassLeadership: 30 * time.Millisecond, model.PassReviews: 20 * time.Millisecond,
		model.PassTechnology: 10 * time.Millisecond, model.PassSubPages: 0,
	})

	a, err := json.Marshal(forward)
	require.NoError(t, err)
	b, err := json.Marshal(backward)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

// stallingLocator holds on to the request until its context ends.
type stallingLocator struct{}

func (stallingLocator) Locate(ctx context.Context, baseURL string, _ model.FetchMode) (*model.LocatedPages, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_SlowLocatorStillGathersAndAnalyzes(t *testing.T) {
	passes := []extract.Pass{
		stubPass{kind: model.PassMain, partial: model.PartialResult{Main: &model.MainPage{Title: "Acme"}}},
	}
	var calls atomic.Int32
	var remaining time.Duration
	an := analyzerFunc(func(ctx context.Context, doc *model.ScrapeDocument) *model.InsightReport {
		calls.Add(1)
		d, _ := ctx.Deadline()
		remaining = time.Until(d)
		return analyzer.New(nil, config.AnthropicConfig{}, testAnalyzerCfg(), nil).Analyze(ctx, doc)
	})
	req := acmeRequest()
	req.Deadline = 500 * time.Millisecond

	start := time.Now()
	got := New(stallingLocator{}, passes, an, fastWorkflow).Run(context.Background(), req)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Greater(t, remaining, 500*time.Millisecond)
	assert.Equal(t, "Acme", got.Scrape.MainPage.Title)

	require.NotNil(t, got.Insights.Error)
	assert.NotEqual(t, analyzer.DeadlineReason, *got.Insights.Error)
	require.NotEmpty(t, got.Scrape.OverallErrors)
	assert.True(t, strings.HasPrefix(got.Scrape.OverallErrors[0], "locator: deadline_exceeded"), got.Scrape.OverallErrors[0])
}

func TestRun_CallerCancelDuringWorkSkipsAnalysis(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	passes := []extract.Pass{
		stubPass{kind: model.PassMain, delay: time.Minute},
	}
	var called atomic.Bool
	an := analyzerFunc(func(context.Context, *model.ScrapeDocument) *model.InsightReport {
		called.Store(true)
		return &model.InsightReport{}
	})
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	got := New(noLocator{}, passes, an, fastWorkflow).Run(ctx, acmeRequest())

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, called.Load())
	require.NotNil(t, got.Insights.Error)
	assert.Equal(t, "analysis cancelled", *got.Insights.Error)
}

// crashingPool hands out browser sessions whose renders panic.
type crashingPool struct {
	inUse    atomic.Int32
	acquired atomic.Int32
}

type crashingSession struct{}

func (crashingSession) Render(context.Context, string) (*fetcher.Rendered, error) {
	panic("target crashed")
}

func (p *crashingPool) Acquire(ctx context.Context) (fetcher.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.inUse.Add(1)
	p.acquired.Add(1)
	return crashingSession{}, nil
}

func (p *crashingPool) Release(fetcher.Session) { p.inUse.Add(-1) }
func (p *crashingPool) InUse() int              { return int(p.inUse.Load()) }
func (p *crashingPool) Close() error            { return nil }

func TestRun_RenderCrashReleasesSessions(t *testing.T) {
	pool := &crashingPool{}
	browser := fetcher.New(fetcher.Options{HostRateLimit: 1000, BackoffInitial: time.Millisecond, BackoffMax: 2 * time.Millisecond}, pool)
	offline := pages(nil)
	// Dynamic fetches go through the crashing browser; static ones stay offline.
	f := fetcher.Func(func(ctx context.Context, req model.FetchRequest) (*model.FetchResult, error) {
		if req.Mode == model.FetchDynamic {
			return browser.Fetch(ctx, req)
		}
		return offline.Fetch(ctx, req)
	})
	an := analyzer.New(nil, config.AnthropicConfig{}, testAnalyzerCfg(), nil)
	req := acmeRequest()
	req.DynamicMain = true

	got := realPipeline(f, an).Run(context.Background(), req)

	assert.Positive(t, pool.acquired.Load())
	assert.Equal(t, 0, pool.InUse())
	require.NotNil(t, got.Insights)

	var crashes int
	for _, e := range got.Scrape.OverallErrors {
		if strings.Contains(e, "extraction_fault") && strings.Contains(e, "render panic") {
			crashes++
		}
	}
	assert.Positive(t, crashes, got.Scrape.OverallErrors)
	assert.True(t, strings.HasPrefix(got.Scrape.OverallErrors[0], "locator: extraction_fault"), got.Scrape.OverallErrors[0])
}
