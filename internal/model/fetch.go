package model

import (
	"net/http"
	"time"
)

// FetchMode selects the retrieval strategy.
type FetchMode string

const (
	FetchStatic  FetchMode = "static"
	FetchDynamic FetchMode = "dynamic"
)

// FetchStatus is the terminal state of a fetch.
type FetchStatus string

const (
	FetchSuccess      FetchStatus = "success"
	FetchTimeout      FetchStatus = "timeout"
	FetchHTTPError    FetchStatus = "http-error"
	FetchRenderError  FetchStatus = "render-error"
	FetchNetworkError FetchStatus = "network-error"
)

// FetchRequest describes a single fetch. Retries is the number of additional
// attempts after the first one.
type FetchRequest struct {
	URL     string
	Mode    FetchMode
	Timeout time.Duration
	Retries int
}

// FetchResult holds the content and outcome of a fetch.
type FetchResult struct {
	URL        string      `json:"url"`
	FinalURL   string      `json:"final_url"`
	Mode       FetchMode   `json:"mode"`
	Status     FetchStatus `json:"status"`
	StatusCode int         `json:"status_code"`
	HTML       string      `json:"-"`
	Headers    http.Header `json:"-"`
	Blocked    string      `json:"blocked,omitempty"`
	Attempts   int         `json:"attempts"`
	Error      string      `json:"error,omitempty"`
}

// OK reports whether the fetch produced content.
func (r *FetchResult) OK() bool {
	return r != nil && r.Status == FetchSuccess
}

// BaseURL returns the URL relative links should resolve against.
func (r *FetchResult) BaseURL() string {
	if r == nil {
		return ""
	}
	if r.FinalURL != "" {
		return r.FinalURL
	}
	return r.URL
}
