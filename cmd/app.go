package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/analyzer"
	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/cost"
	"github.com/sells-group/insight-cli/internal/extract"
	"github.com/sells-group/insight-cli/internal/fetcher"
	"github.com/sells-group/insight-cli/internal/locator"
	"github.com/sells-group/insight-cli/internal/pipeline"
	"github.com/sells-group/insight-cli/internal/store"
	"github.com/sells-group/insight-cli/pkg/anthropic"
	"github.com/sells-group/insight-cli/pkg/jina"
)

// appEnv holds the initialized collaborators shared by analyze and serve.
type appEnv struct {
	Store    store.Store // nil when store.driver is "none"
	Pipeline *pipeline.Pipeline
	Analyzer *analyzer.Analyzer
	browser  *fetcher.RodPool
}

// Close releases the browser and the store.
func (e *appEnv) Close() {
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			zap.L().Warn("close browser pool", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp wires the fetcher, locator, passes, analyzer and store from cfg.
// Callers should defer env.Close().
func initApp(ctx context.Context, c *config.Config) (*appEnv, error) {
	st, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	var pool fetcher.SessionPool
	if c.Browser.Enabled {
		env.browser = fetcher.NewRodPool(c.Browser)
		pool = env.browser
	} else {
		zap.L().Debug("browser disabled, dynamic fetches fall back to static")
	}
	f := fetcher.New(fetcher.OptionsFromConfig(c.Fetch), pool)

	var search jina.Client
	if c.Jina.Key != "" {
		var opts []jina.Option
		if c.Jina.SearchBaseURL != "" {
			opts = append(opts, jina.WithSearchBaseURL(c.Jina.SearchBaseURL))
		}
		search = jina.NewClient(c.Jina.Key, opts...)
	} else {
		zap.L().Warn("INSIGHT_JINA_KEY not set, review search disabled")
	}

	var ai anthropic.Client
	if c.Anthropic.Key != "" {
		ai = anthropic.NewClient(c.Anthropic.Key)
	} else {
		zap.L().Warn("INSIGHT_ANTHROPIC_KEY not set, reports will be degraded")
	}
	env.Analyzer = analyzer.New(ai, c.Anthropic, c.Analyzer, cost.FromConfig(c.Pricing))

	passes := extract.All(extract.Deps{
		Fetcher:    f,
		Fetch:      c.Fetch,
		Extract:    c.Extract,
		Search:     search,
		SearchRate: c.Jina.RateLimit,
	})
	loc := locator.New(f, c.Locator, c.Fetch)
	env.Pipeline = pipeline.New(loc, passes, env.Analyzer, c.Workflow)
	return env, nil
}
