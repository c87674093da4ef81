// Package extract implements the extraction passes that turn fetched pages
// into the fields of a scrape document. Every pass is isolated: errors and
// panics become faults on the outcome and never abort the request.
package extract

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/fetcher"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/pkg/jina"
)

// Input is the shared, read-only input of every pass.
type Input struct {
	Request model.AnalysisRequest
	Located *model.LocatedPages
}

// Pass is one extraction variant. Extract populates only the field of
// PartialResult that matches Kind.
type Pass interface {
	Kind() model.PassKind
	Extract(ctx context.Context, in Input) (model.PartialResult, error)
}

// Run executes a pass and converts any error or panic into a fault. The
// returned outcome always carries the pass kind and duration.
func Run(ctx context.Context, p Pass, in Input) (out model.PassOutcome) {
	start := time.Now()
	out.Kind = p.Kind()
	log := zap.L().With(zap.String("component", "extract"), zap.String("pass", string(out.Kind)))

	defer func() {
		if r := recover(); r != nil {
			log.Error("pass panicked", zap.Any("panic", r))
			out.Partial = model.PartialResult{}
			out.Fault = model.NewFault(model.FaultExtraction, string(out.Kind), eris.Errorf("extract: panic: %v", r))
		}
		out.Duration = time.Since(start)
	}()

	partial, err := p.Extract(ctx, in)
	if err != nil {
		out.Fault = toFault(out.Kind, err)
		log.Warn("pass failed", zap.String("fault", string(out.Fault.Kind)), zap.Error(err))
		return out
	}
	out.Partial = partial
	log.Debug("pass complete", zap.Duration("duration", time.Since(start)))
	return out
}

func toFault(kind model.PassKind, err error) *model.Fault {
	var f *model.Fault
	if errors.As(err, &f) {
		return f
	}
	return model.NewFault(fetcher.FaultKind(err), string(kind), err)
}

// Deps carries the collaborators the passes share.
type Deps struct {
	Fetcher fetcher.Fetcher
	Fetch   config.FetchConfig
	Extract config.ExtractConfig
	// Search backs the review pass and the sub-page reader fallback. Nil
	// disables both.
	Search jina.Client
	// SearchRate caps review searches per second; 0 means unlimited.
	SearchRate float64
}

// All returns every pass in a fixed order.
func All(d Deps) []Pass {
	return []Pass{
		NewMain(d.Fetcher, d.Fetch, d.Extract),
		NewLeadership(d.Fetcher, d.Fetch, d.Extract),
		NewReviews(d.Fetcher, d.Fetch, d.Extract, d.Search, d.SearchRate),
		NewTechnology(d.Fetcher, d.Fetch),
		NewSubPages(d.Fetcher, d.Fetch, d.Extract, d.Search),
	}
}

// pageSource fetches pages on behalf of a pass.
type pageSource struct {
	f   fetcher.Fetcher
	cfg config.FetchConfig
}

func (s pageSource) get(ctx context.Context, url string, mode model.FetchMode) (*model.FetchResult, error) {
	if s.f == nil {
		return nil, eris.New("extract: no fetcher configured")
	}
	res, err := s.f.Fetch(ctx, model.FetchRequest{
		URL:     url,
		Mode:    mode,
		Timeout: s.cfg.Timeout(),
		Retries: s.cfg.Retries,
	})
	if err != nil {
		return res, err
	}
	if !res.OK() {
		return res, eris.Errorf("extract: fetch %s: %s", url, res.Status)
	}
	return res, nil
}

func parse(raw string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse html")
	}
	return doc, nil
}
