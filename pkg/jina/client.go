// Package jina provides a client for the Jina AI search and reader APIs.
package jina

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/resilience"
)

// Client defines the Jina AI operations.
type Client interface {
	// Search performs a web search and returns the top results.
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
	// Read fetches a URL through the Jina reader and returns it as markdown.
	Read(ctx context.Context, targetURL string) (*ReadResponse, error)
}

// SearchResponse is the parsed search API response.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

// SearchResult represents a single search hit.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// ReadResponse is the parsed reader API response.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData holds the page content returned by the reader.
type ReadData struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// SearchOption configures a search request.
type SearchOption func(*searchOpts)

type searchOpts struct {
	siteFilter string
}

// WithSiteFilter restricts results to one domain.
func WithSiteFilter(domain string) SearchOption {
	return func(o *searchOpts) {
		o.siteFilter = domain
	}
}

// SiteFilterOf returns the site filter set by opts, or "".
func SiteFilterOf(opts ...SearchOption) string {
	so := &searchOpts{}
	for _, opt := range opts {
		opt(so)
	}
	return so.siteFilter
}

// Option configures the client.
type Option func(*httpClient)

// WithSearchBaseURL sets the search endpoint.
func WithSearchBaseURL(u string) Option {
	return func(c *httpClient) {
		c.searchBaseURL = u
	}
}

// WithReadBaseURL sets the reader endpoint.
func WithReadBaseURL(u string) Option {
	return func(c *httpClient) {
		c.readBaseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey        string
	searchBaseURL string
	readBaseURL   string
	http          *http.Client
	retry         resilience.RetryConfig
}

// NewClient creates a Jina client.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.InitialBackoff = time.Second
	retry.OnRetry = resilience.RetryLogger("jina", "request")

	c := &httpClient{
		apiKey:        apiKey,
		searchBaseURL: "https://s.jina.ai",
		readBaseURL:   "https://r.jina.ai",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: retry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type reply struct {
	status int
	body   []byte
}

// do executes a GET, retrying transport errors and transient statuses. The
// final non-transient reply is returned as-is for the caller to interpret.
func (c *httpClient) do(ctx context.Context, reqURL string, header http.Header) (*reply, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*reply, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "jina: create request")
		}
		req.Header = header.Clone()
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "jina: request"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "jina: read response body")
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(
				eris.Errorf("jina: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
		}
		return &reply{status: resp.StatusCode, body: body}, nil
	})
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	reqURL := fmt.Sprintf("%s/%s", c.searchBaseURL, url.PathEscape(query))
	if site := SiteFilterOf(opts...); site != "" {
		reqURL += "?site=" + url.QueryEscape(site)
	}

	r, err := c.do(ctx, reqURL, http.Header{})
	if err != nil {
		return nil, eris.Wrap(err, "jina: search")
	}

	// 422 means no results for the query.
	if r.status == http.StatusUnprocessableEntity {
		return &SearchResponse{Code: r.status, Data: []SearchResult{}}, nil
	}
	if r.status != http.StatusOK {
		return nil, eris.Errorf("jina: search unexpected status %d: %s", r.status, string(r.body))
	}

	var result SearchResponse
	if err := json.Unmarshal(r.body, &result); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal search response")
	}
	return &result, nil
}

func (c *httpClient) Read(ctx context.Context, targetURL string) (*ReadResponse, error) {
	header := http.Header{}
	header.Set("X-Return-Format", "markdown")

	r, err := c.do(ctx, c.readBaseURL+"/"+targetURL, header)
	if err != nil {
		return nil, eris.Wrap(err, "jina: read")
	}
	if r.status != http.StatusOK {
		return nil, eris.Errorf("jina: read unexpected status %d: %s", r.status, string(r.body))
	}

	var result ReadResponse
	if err := json.Unmarshal(r.body, &result); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal read response")
	}
	return &result, nil
}
