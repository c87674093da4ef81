package fetcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/monitoring"
)

// Rendered is the DOM snapshot of a page after scripts ran.
type Rendered struct {
	HTML       string
	FinalURL   string
	StatusCode int
}

// Session is one exclusively owned browser tab.
type Session interface {
	Render(ctx context.Context, url string) (*Rendered, error)
}

// SessionPool hands out browser sessions. Every successful Acquire must be
// paired with exactly one Release.
type SessionPool interface {
	Acquire(ctx context.Context) (Session, error)
	Release(s Session)
	InUse() int
	Close() error
}

// RodPool is a SessionPool backed by a lazily launched headless Chromium.
type RodPool struct {
	cfg    config.BrowserConfig
	settle time.Duration

	launchOnce sync.Once
	launchErr  error
	browser    *rod.Browser

	pages rod.Pool[rod.Page]
	slots chan struct{}
	inUse atomic.Int32
}

// NewRodPool creates a pool; the browser is not started until the first
// Acquire.
func NewRodPool(cfg config.BrowserConfig) *RodPool {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 2
	}
	settle := time.Duration(cfg.RenderWaitSecs) * time.Second
	if settle <= 0 {
		settle = 300 * time.Millisecond
	}
	return &RodPool{
		cfg:    cfg,
		settle: settle,
		pages:  rod.NewPagePool(cfg.MaxSessions),
		slots:  make(chan struct{}, cfg.MaxSessions),
	}
}

func (p *RodPool) launch() error {
	p.launchOnce.Do(func() {
		l := launcher.New().
			Headless(p.cfg.Headless).
			NoSandbox(p.cfg.NoSandbox)
		if p.cfg.Bin != "" {
			l = l.Bin(p.cfg.Bin)
		}
		l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
		l.Delete(flags.Flag("enable-automation"))
		l.Set(flags.Flag("disable-dev-shm-usage"))
		l.Set(flags.Flag("disable-extensions"))
		l.Set(flags.Flag("disable-background-timer-throttling"))
		l.Set(flags.Flag("no-first-run"))

		controlURL, err := l.Launch()
		if err != nil {
			p.launchErr = eris.Wrap(err, "fetcher: launch browser")
			return
		}
		browser := rod.New().ControlURL(controlURL)
		if err := browser.Connect(); err != nil {
			p.launchErr = eris.Wrap(err, "fetcher: connect browser")
			return
		}
		p.browser = browser
		zap.L().Info("fetcher: browser launched",
			zap.String("control_url", controlURL),
			zap.Int("max_sessions", p.cfg.MaxSessions),
		)
	})
	return p.launchErr
}

func (p *RodPool) newPage() (*rod.Page, error) {
	pg, err := p.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create page")
	}
	if p.cfg.Stealth {
		if _, err := pg.EvalOnNewDocument(stealth.JS); err != nil {
			zap.L().Warn("fetcher: stealth injection failed", zap.Error(err))
		}
	}
	return pg, nil
}

// Acquire blocks until a session slot is free or ctx is done.
func (p *RodPool) Acquire(ctx context.Context) (Session, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := p.launch(); err != nil {
		<-p.slots
		return nil, err
	}
	pg, err := p.pages.Get(p.newPage)
	if err != nil {
		<-p.slots
		return nil, err
	}

	monitoring.BrowserSessionsInUse.Set(float64(p.inUse.Add(1)))
	return &rodSession{page: pg, settle: p.settle}, nil
}

// Release resets the tab and returns it to the pool. A tab that failed to
// render is closed and replaced on the next Acquire.
func (p *RodPool) Release(s Session) {
	rs, ok := s.(*rodSession)
	if !ok || rs == nil {
		return
	}
	defer func() {
		monitoring.BrowserSessionsInUse.Set(float64(p.inUse.Add(-1)))
		<-p.slots
	}()

	if rs.broken {
		_ = rs.page.Close()
		p.pages.Put(nil)
		return
	}
	if err := rs.page.Navigate("about:blank"); err != nil {
		zap.L().Warn("fetcher: reset page failed", zap.Error(err))
		_ = rs.page.Close()
		p.pages.Put(nil)
		return
	}
	p.pages.Put(rs.page)
}

// InUse returns the number of sessions currently checked out.
func (p *RodPool) InUse() int {
	return int(p.inUse.Load())
}

// Close closes every pooled tab and the browser process.
func (p *RodPool) Close() error {
	p.pages.Cleanup(func(pg *rod.Page) {
		_ = pg.Close()
	})
	if p.browser == nil {
		return nil
	}
	return eris.Wrap(p.browser.Close(), "fetcher: close browser")
}

type rodSession struct {
	page   *rod.Page
	settle time.Duration
	broken bool
}

func (s *rodSession) Render(ctx context.Context, rawURL string) (*Rendered, error) {
	pg := s.page.Context(ctx)

	if err := pg.Navigate(rawURL); err != nil {
		return nil, err
	}
	if err := pg.WaitLoad(); err != nil && ctx.Err() != nil {
		s.broken = true
		return nil, err
	}
	if err := pg.WaitDOMStable(s.settle, 0.1); err != nil {
		if ctx.Err() != nil {
			s.broken = true
			return nil, err
		}
		zap.L().Debug("fetcher: DOM did not settle, using current snapshot", zap.Error(err))
	}

	html, err := pg.HTML()
	if err != nil {
		s.broken = true
		return nil, eris.Wrap(err, "fetcher: read rendered html")
	}

	out := &Rendered{HTML: html, FinalURL: rawURL}
	if res, err := pg.Eval(`() => {
		try {
			const nav = performance.getEntriesByType("navigation");
			if (nav.length > 0) return nav[0].responseStatus || 0;
		} catch (e) {}
		return 0;
	}`); err == nil {
		out.StatusCode = res.Value.Int()
	}
	if res, err := pg.Eval(`() => window.location.href`); err == nil && res.Value.Str() != "" {
		out.FinalURL = res.Value.Str()
	}
	return out, nil
}
