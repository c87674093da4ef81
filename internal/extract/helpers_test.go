package extract

import (
	"context"
	"net/http"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/fetcher"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/pkg/jina"
)

var testFetchCfg = config.FetchConfig{TimeoutSecs: 5}

func testExtractCfg() config.ExtractConfig {
	return config.ExtractConfig{
		MaxHeadings:       40,
		MaxParagraphs:     75,
		MinParagraphChars: 50,
		MinParagraphWords: 5,
		MaxLeaders:        15,
		MaxReviewResults:  18,
		SubPageChars:      4000,
		ReviewSites:       config.DefaultReviewSites(),
	}
}

// sitePages serves fixed HTML per URL and fails everything else.
type sitePages struct {
	mu    sync.Mutex
	pages map[string]string
	calls []model.FetchRequest
}

func (s *sitePages) fetcher() fetcher.Fetcher {
	return fetcher.Func(func(_ context.Context, req model.FetchRequest) (*model.FetchResult, error) {
		s.mu.Lock()
		s.calls = append(s.calls, req)
		s.mu.Unlock()
		html, ok := s.pages[req.URL]
		if !ok {
			err := &fetcher.Error{Kind: fetcher.KindHTTP, Mode: req.Mode, URL: req.URL, StatusCode: http.StatusNotFound, Err: eris.New("not found")}
			return &model.FetchResult{URL: req.URL, Mode: req.Mode, Status: model.FetchHTTPError, StatusCode: 404, Error: err.Error()}, err
		}
		return &model.FetchResult{
			URL:        req.URL,
			Mode:       req.Mode,
			Status:     model.FetchSuccess,
			StatusCode: 200,
			HTML:       html,
			Headers:    http.Header{"Server": {"nginx"}},
		}, nil
	})
}

func (s *sitePages) requested() []model.FetchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.FetchRequest(nil), s.calls...)
}

func located(main *model.FetchResult, pages map[model.PageType]string) *model.LocatedPages {
	lp := &model.LocatedPages{MainURL: "https://acme.example.com", MainPage: main, Pages: map[model.PageType]model.PageMatch{}}
	for pt, u := range pages {
		lp.Pages[pt] = model.PageMatch{URL: u, Score: 1}
	}
	return lp
}

func okPage(url, html string) *model.FetchResult {
	return &model.FetchResult{URL: url, Mode: model.FetchStatic, Status: model.FetchSuccess, StatusCode: 200, HTML: html, Headers: http.Header{"Server": {"nginx"}}}
}

// fakeSearch answers searches per site filter.
type fakeSearch struct {
	mu     sync.Mutex
	bySite map[string][]jina.SearchResult
	errs   map[string]error
	sites  []string
	reads  map[string]*jina.ReadResponse
}

func (f *fakeSearch) Search(_ context.Context, _ string, opts ...jina.SearchOption) (*jina.SearchResponse, error) {
	site := jina.SiteFilterOf(opts...)
	f.mu.Lock()
	f.sites = append(f.sites, site)
	f.mu.Unlock()
	if err := f.errs[site]; err != nil {
		return nil, err
	}
	return &jina.SearchResponse{Code: 200, Data: f.bySite[site]}, nil
}

func (f *fakeSearch) Read(_ context.Context, url string) (*jina.ReadResponse, error) {
	if r, ok := f.reads[url]; ok {
		return r, nil
	}
	return nil, eris.New("jina: read unexpected status 451")
}
