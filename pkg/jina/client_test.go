package jina

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/resilience"
)

func fastRetry() Option {
	return WithRetry(resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
}

func TestSearch_Success(t *testing.T) {
	t.Parallel()

	want := SearchResponse{
		Code: 200,
		Data: []SearchResult{
			{Title: "Acme Reviews 2026 | G2", URL: "https://www.g2.com/products/acme/reviews", Description: "Acme is rated 4.5 stars"},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "/Acme Inc reviews", r.URL.Path)
		assert.Equal(t, "g2.com", r.URL.Query().Get("site"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithSearchBaseURL(srv.URL), fastRetry())
	got, err := client.Search(context.Background(), "Acme Inc reviews", WithSiteFilter("g2.com"))

	require.NoError(t, err)
	require.Len(t, got.Data, 1)
	assert.Equal(t, want.Data[0].URL, got.Data[0].URL)
}

func TestSearch_NoResults422(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	got, err := NewClient("k", WithSearchBaseURL(srv.URL), fastRetry()).Search(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, got.Data)
}

func TestSearch_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	_, err := NewClient("k", WithSearchBaseURL(srv.URL), fastRetry()).Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestSearch_RetryOn500(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(SearchResponse{Code: 200, Data: []SearchResult{{Title: "ok"}}})
	}))
	defer srv.Close()

	got, err := NewClient("k", WithSearchBaseURL(srv.URL), fastRetry()).Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, got.Data, 1)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestSearch_RetryExhausted(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient("k", WithSearchBaseURL(srv.URL), fastRetry()).Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestSearch_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := NewClient("k", WithSearchBaseURL(srv.URL), fastRetry()).Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestSearch_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := NewClient("k", WithSearchBaseURL(srv.URL), fastRetry()).Search(ctx, "q")
	require.Error(t, err)
}

func TestRead_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "markdown", r.Header.Get("X-Return-Format"))
		assert.Equal(t, "/https://acme.com/careers", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ReadResponse{Code: 200, Data: ReadData{Title: "Careers", Content: "# Join us"}})
	}))
	defer srv.Close()

	got, err := NewClient("k", WithReadBaseURL(srv.URL), fastRetry()).Read(context.Background(), "https://acme.com/careers")
	require.NoError(t, err)
	assert.Equal(t, "Careers", got.Data.Title)
	assert.Equal(t, "# Join us", got.Data.Content)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("k").(*httpClient)
	assert.Equal(t, "https://s.jina.ai", c.searchBaseURL)
	assert.Equal(t, "https://r.jina.ai", c.readBaseURL)
	assert.Equal(t, 30*time.Second, c.http.Timeout)

	hc := &http.Client{}
	assert.Same(t, hc, NewClient("k", WithHTTPClient(hc)).(*httpClient).http)
}

func TestSiteFilterOf(t *testing.T) {
	assert.Empty(t, SiteFilterOf())
	assert.Equal(t, "g2.com", SiteFilterOf(WithSiteFilter("g2.com")))
	assert.Equal(t, "b.com", SiteFilterOf(WithSiteFilter("a.com"), WithSiteFilter("b.com")))
}
