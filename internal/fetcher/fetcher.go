// Package fetcher retrieves web pages either as served (static) or after
// executing scripts in a headless browser (dynamic).
package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/monitoring"
	"github.com/sells-group/insight-cli/internal/resilience"
)

// Fetcher retrieves one URL. The returned result is never nil; on failure its
// Status and Error describe what went wrong and the error is an *Error.
type Fetcher interface {
	Fetch(ctx context.Context, req model.FetchRequest) (*model.FetchResult, error)
}

// Func adapts a function to the Fetcher interface.
type Func func(ctx context.Context, req model.FetchRequest) (*model.FetchResult, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, req model.FetchRequest) (*model.FetchResult, error) {
	return f(ctx, req)
}

// Options configures a Client.
type Options struct {
	UserAgent       string
	MaxBodyBytes    int64
	TLSFingerprint  bool
	HostRateLimit   float64
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	EscalateOnBlock bool
}

// OptionsFromConfig builds Options from the fetch config section.
func OptionsFromConfig(cfg config.FetchConfig) Options {
	return Options{
		UserAgent:       cfg.UserAgent,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		TLSFingerprint:  cfg.TLSFingerprint,
		HostRateLimit:   cfg.HostRateLimit,
		BackoffInitial:  time.Duration(cfg.BackoffInitialMs) * time.Millisecond,
		BackoffMax:      time.Duration(cfg.BackoffMaxMs) * time.Millisecond,
		EscalateOnBlock: cfg.EscalateOnBlock,
	}
}

// Client implements Fetcher. A nil pool disables dynamic mode; dynamic
// requests then fall back to a static fetch.
type Client struct {
	opts   Options
	static *staticClient
	pool   SessionPool
	log    *zap.Logger
}

// New creates a Client.
func New(opts Options, pool SessionPool) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 << 20
	}
	return &Client{
		opts:   opts,
		static: newStaticClient(opts),
		pool:   pool,
		log:    zap.L().With(zap.String("component", "fetcher")),
	}
}

// Fetch retrieves req.URL in the requested mode, retrying transient
// failures up to req.Retries additional times.
func (c *Client) Fetch(ctx context.Context, req model.FetchRequest) (*model.FetchResult, error) {
	start := time.Now()
	mode := req.Mode
	if mode == "" {
		mode = model.FetchStatic
	}
	if mode == model.FetchDynamic && c.pool == nil {
		c.log.Debug("browser disabled, fetching statically", zap.String("url", req.URL))
		mode = model.FetchStatic
	}

	res := &model.FetchResult{URL: req.URL, Mode: mode}
	retry := resilience.RetryConfig{
		MaxAttempts:    req.Retries + 1,
		InitialBackoff: c.opts.BackoffInitial,
		MaxBackoff:     c.opts.BackoffMax,
		JitterFraction: 0.25,
		ShouldRetry:    Retryable,
		OnRetry:        resilience.RetryLogger("fetcher", string(mode)),
	}

	var last *page
	pg, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*page, error) {
		res.Attempts++
		p, err := c.attempt(ctx, mode, req.URL, req.Timeout)
		if p != nil {
			last = p
		}
		return p, err
	})

	if c.shouldEscalate(ctx, mode, last) {
		c.log.Info("static fetch blocked, escalating to browser",
			zap.String("url", req.URL),
			zap.String("block", string(last.blocked)),
		)
		esc := req
		esc.Mode = model.FetchDynamic
		esc.Retries = 0
		dyn, dynErr := c.Fetch(ctx, esc)
		if dynErr == nil {
			dyn.Attempts += res.Attempts
			return dyn, nil
		}
		c.log.Debug("escalation failed", zap.String("url", req.URL), zap.Error(dynErr))
	}

	if err != nil {
		fe := asFetchError(ctx, mode, req.URL, err)
		res.Status = fe.Status()
		res.StatusCode = fe.StatusCode
		res.Error = fe.Error()
		if last != nil {
			res.Blocked = string(last.blocked)
		}
		monitoring.ObserveFetch(string(mode), string(res.Status), time.Since(start))
		return res, fe
	}

	res.Status = model.FetchSuccess
	res.HTML = pg.html
	res.FinalURL = pg.finalURL
	res.StatusCode = pg.statusCode
	res.Headers = pg.headers
	res.Blocked = string(pg.blocked)
	monitoring.ObserveFetch(string(mode), string(res.Status), time.Since(start))
	return res, nil
}

func (c *Client) shouldEscalate(ctx context.Context, mode model.FetchMode, last *page) bool {
	if !c.opts.EscalateOnBlock || c.pool == nil || mode != model.FetchStatic || ctx.Err() != nil {
		return false
	}
	return last != nil && last.blocked != BlockNone
}

func (c *Client) attempt(ctx context.Context, mode model.FetchMode, rawURL string, timeout time.Duration) (*page, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if mode == model.FetchDynamic {
		return c.render(ctx, rawURL)
	}
	return c.static.get(ctx, rawURL)
}

// render fetches through an exclusively owned browser session. The session
// is released on every exit path, including a panic inside the browser
// driver.
func (c *Client) render(ctx context.Context, rawURL string) (pg *page, err error) {
	sess, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, classify(ctx, model.FetchDynamic, rawURL, eris.Wrap(err, "fetcher: acquire session"))
	}
	defer c.pool.Release(sess)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("browser render panicked", zap.String("url", rawURL), zap.Any("panic", r))
			pg = nil
			err = &Error{Kind: KindRender, Mode: model.FetchDynamic, URL: rawURL, Err: eris.Errorf("render panic: %v", r)}
		}
	}()

	out, err := sess.Render(ctx, rawURL)
	if err != nil {
		return nil, classify(ctx, model.FetchDynamic, rawURL, err)
	}

	pg = &page{
		html:       out.HTML,
		finalURL:   out.FinalURL,
		statusCode: out.StatusCode,
		blocked:    DetectBlock(out.StatusCode, nil, []byte(out.HTML)),
	}
	if out.StatusCode >= 400 {
		return pg, &Error{Kind: KindHTTP, Mode: model.FetchDynamic, URL: rawURL, StatusCode: out.StatusCode, Blocked: pg.blocked}
	}
	return pg, nil
}

func asFetchError(ctx context.Context, mode model.FetchMode, rawURL string, err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return classify(ctx, mode, rawURL, err)
}
