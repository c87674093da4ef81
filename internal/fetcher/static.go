package fetcher

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/insight-cli/internal/model"
)

// AdaptiveLimiter wraps a rate.Limiter that slows down on 429 responses and
// recovers on success. The rate moves between a quarter of and twice the
// initial rate.
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive limiter starting at initialRate.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	if burst < 1 {
		burst = 1
	}
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event or ctx is done.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate by 20%.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("fetcher: reducing host rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// hostLimiters lazily creates one AdaptiveLimiter per host.
type hostLimiters struct {
	mu    sync.Mutex
	rate  rate.Limit
	hosts map[string]*AdaptiveLimiter
}

func newHostLimiters(perSecond float64) *hostLimiters {
	if perSecond <= 0 {
		perSecond = 4
	}
	return &hostLimiters{rate: rate.Limit(perSecond), hosts: make(map[string]*AdaptiveLimiter)}
}

func (h *hostLimiters) get(rawURL string) *AdaptiveLimiter {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.hosts[host]
	if !ok {
		lim = NewAdaptiveLimiter(h.rate, int(h.rate)+1)
		h.hosts[host] = lim
	}
	return lim
}

// page is the raw content of one successful attempt.
type page struct {
	html       string
	finalURL   string
	statusCode int
	headers    http.Header
	blocked    BlockType
}

// staticClient performs plain HTTP GETs, optionally presenting a Chrome TLS
// fingerprint.
type staticClient struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	limiters  *hostLimiters
}

func newStaticClient(opts Options) *staticClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if opts.TLSFingerprint {
		transport.DialTLSContext = dialChrome
	}
	return &staticClient{
		client:    &http.Client{Transport: transport},
		userAgent: opts.UserAgent,
		maxBody:   opts.MaxBodyBytes,
		limiters:  newHostLimiters(opts.HostRateLimit),
	}
}

func (s *staticClient) get(ctx context.Context, rawURL string) (*page, error) {
	lim := s.limiters.get(rawURL)
	if err := lim.Wait(ctx); err != nil {
		return nil, classify(ctx, model.FetchStatic, rawURL, eris.Wrap(err, "fetcher: rate limiter wait"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Mode: model.FetchStatic, URL: rawURL, Err: eris.Wrap(err, "fetcher: build request")}
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classify(ctx, model.FetchStatic, rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	if err != nil {
		return nil, classify(ctx, model.FetchStatic, rawURL, eris.Wrap(err, "fetcher: read body"))
	}

	p := &page{
		html:       string(body),
		finalURL:   resp.Request.URL.String(),
		statusCode: resp.StatusCode,
		headers:    resp.Header,
		blocked:    DetectBlock(resp.StatusCode, resp.Header, body),
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		lim.OnRateLimit()
	}
	if resp.StatusCode >= 400 {
		return p, &Error{Kind: KindHTTP, Mode: model.FetchStatic, URL: rawURL, StatusCode: resp.StatusCode, Blocked: p.blocked}
	}
	lim.OnSuccess()
	return p, nil
}

// dialChrome opens a TLS connection with a Chrome ClientHello. ALPN is
// pinned to http/1.1 because net/http cannot speak h2 over a utls conn.
func dialChrome(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 15 * time.Second}
	raw, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
	if err != nil {
		_ = raw.Close()
		return nil, eris.Wrap(err, "fetcher: chrome hello spec")
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	conn := utls.UClient(raw, &utls.Config{ServerName: host}, utls.HelloCustom)
	if err := conn.ApplyPreset(&spec); err != nil {
		_ = raw.Close()
		return nil, eris.Wrap(err, "fetcher: apply chrome preset")
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return conn, nil
}
