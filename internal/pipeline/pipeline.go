// Package pipeline coordinates a single company analysis: locate pages, run
// the extraction passes concurrently, aggregate, then analyze, all under one
// overall deadline.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/aggregate"
	"github.com/sells-group/insight-cli/internal/analyzer"
	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/extract"
	"github.com/sells-group/insight-cli/internal/fetcher"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/monitoring"
)

// Locator resolves the pages of a company site.
type Locator interface {
	Locate(ctx context.Context, baseURL string, mode model.FetchMode) (*model.LocatedPages, error)
}

// Analyzer turns a scrape document into an insight report. It must never
// return nil.
type Analyzer interface {
	Analyze(ctx context.Context, doc *model.ScrapeDocument) *model.InsightReport
}

// Pipeline is the workflow coordinator.
type Pipeline struct {
	locator  Locator
	passes   []extract.Pass
	analyzer Analyzer
	cfg      config.WorkflowConfig
	log      *zap.Logger
}

// New creates a Pipeline. Zero workflow values fall back to the defaults.
func New(loc Locator, passes []extract.Pass, an Analyzer, cfg config.WorkflowConfig) *Pipeline {
	def := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	def(&cfg.DeadlineSecs, 300)
	def(&cfg.LocateTimeoutSecs, 40)
	def(&cfg.PassTimeoutSecs, 120)
	def(&cfg.AnalysisReserveSecs, 90)
	def(&cfg.MinAnalysisSecs, 20)

	return &Pipeline{
		locator:  loc,
		passes:   passes,
		analyzer: an,
		cfg:      cfg,
		log:      zap.L().With(zap.String("component", "pipeline")),
	}
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Run executes one analysis. It never fails: every problem ends up in the
// document's overall errors or the report's error field. A positive
// req.Deadline overrides the configured deadline; a negative one is already
// exhausted.
func (p *Pipeline) Run(ctx context.Context, req model.AnalysisRequest) *model.Analysis {
	start := time.Now()
	budget := secs(p.cfg.DeadlineSecs)
	if req.Deadline != 0 {
		budget = req.Deadline
	}
	deadline := start.Add(budget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	log := p.log.With(zap.String("company", req.CompanyName), zap.String("url", req.URL))
	params := model.InputParameters{
		URL:               req.URL,
		CompanyName:       req.CompanyName,
		Location:          req.Location,
		AnalysisTimestamp: start.UTC(),
	}
	result := &model.Analysis{ID: uuid.NewString()}

	if budget <= 0 || ctx.Err() != nil || !time.Now().Before(deadline) {
		log.Warn("pipeline: deadline exhausted on entry")
		doc := aggregate.New(params, nil)
		doc.AddFault(model.NewFault(model.FaultDeadlineExceeded, "pipeline", eris.New("pipeline: deadline exhausted before start")))
		result.Scrape = doc.Document()
		result.Insights = model.NewDegradedReport(analyzer.DeadlineReason, analyzer.CompletenessNotes(result.Scrape))
		monitoring.AnalysisTotal.WithLabelValues("deadline").Inc()
		return result
	}

	log.Info("pipeline: starting analysis", zap.Duration("budget", time.Until(deadline)))

	located, locateFault := p.locate(ctx, deadline, req)
	agg := aggregate.New(params, located)
	if locateFault != nil {
		agg.AddFault(locateFault)
	}

	for _, o := range p.gather(ctx, deadline, extract.Input{Request: req, Located: located}) {
		agg.Add(o)
	}
	doc := agg.Document()

	result.Scrape = doc
	result.Insights = p.analyze(ctx, deadline, doc)

	outcome := "ok"
	switch {
	case result.Insights.Error != nil && strings.HasPrefix(*result.Insights.Error, "deadline exceeded"):
		outcome = "deadline"
	case result.Insights.Degraded():
		outcome = "degraded"
	}
	monitoring.AnalysisTotal.WithLabelValues(outcome).Inc()

	log.Info("pipeline: analysis complete",
		zap.String("outcome", outcome),
		zap.Int("errors", len(doc.OverallErrors)),
		zap.Duration("duration", time.Since(start)),
	)
	return result
}

// locate resolves the site's pages. A failure is reported as a fault and the
// returned pages are never nil.
func (p *Pipeline) locate(ctx context.Context, deadline time.Time, req model.AnalysisRequest) (*model.LocatedPages, *model.Fault) {
	mode := model.FetchStatic
	if req.DynamicMain {
		mode = model.FetchDynamic
	}
	if p.locator == nil {
		return &model.LocatedPages{MainURL: req.URL, Pages: map[model.PageType]model.PageMatch{}}, nil
	}

	timeout := min(secs(p.cfg.LocateTimeoutSecs), p.phaseWindow(deadline))
	lctx, cancel := phaseContext(ctx, timeout)
	defer cancel()

	located, err := p.locator.Locate(lctx, req.URL, mode)
	if located == nil {
		located = &model.LocatedPages{MainURL: req.URL}
	}
	if located.Pages == nil {
		located.Pages = map[model.PageType]model.PageMatch{}
	}
	if err != nil {
		p.log.Warn("pipeline: locate failed", zap.String("url", req.URL), zap.Error(err))
		return located, model.NewFault(fetcher.FaultKind(err), "locator", err)
	}
	return located, nil
}

// minPhaseWindow is the shortest window locate or gather is given, even when
// an earlier phase overran the deadline.
const minPhaseWindow = 250 * time.Millisecond

// phaseWindow is the time a pre-analysis phase may use: what remains before
// the analysis reserve, or half of what remains once inside the reserve, and
// never less than minPhaseWindow.
func (p *Pipeline) phaseWindow(deadline time.Time) time.Duration {
	left := time.Until(deadline)
	w := left - secs(p.cfg.AnalysisReserveSecs)
	if w <= 0 {
		w = left / 2
	}
	return max(w, minPhaseWindow)
}

// phaseContext returns a context that expires after d and is cancelled when
// parent is explicitly cancelled. The parent's own deadline is already folded
// into the run deadline, so it does not cut the phase short.
func phaseContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d)
	stop := context.AfterFunc(parent, func() {
		if errors.Is(parent.Err(), context.Canceled) {
			cancel()
		}
	})
	return ctx, func() {
		stop()
		cancel()
	}
}

// gather runs every pass concurrently and collects outcomes in completion
// order. When the gather window closes, outcomes already waiting are kept;
// passes still running are reported as deadline faults with empty partials.
func (p *Pipeline) gather(ctx context.Context, deadline time.Time, in extract.Input) []model.PassOutcome {
	window := p.phaseWindow(deadline)
	gctx, cancel := phaseContext(ctx, window)
	defer cancel()

	results := make(chan model.PassOutcome, len(p.passes))
	for _, pass := range p.passes {
		go func() {
			pctx, pcancel := context.WithTimeout(gctx, secs(p.cfg.PassTimeoutSecs))
			defer pcancel()
			results <- extract.Run(pctx, pass, in)
		}()
	}

	outcomes := make([]model.PassOutcome, 0, len(p.passes))
	reported := make(map[model.PassKind]bool, len(p.passes))
	collect := func(o model.PassOutcome) {
		reported[o.Kind] = true
		outcomes = append(outcomes, o)
		observe(o)
	}
	for len(outcomes) < len(p.passes) {
		select {
		case o := <-results:
			collect(o)
		case <-gctx.Done():
		drain:
			for len(outcomes) < len(p.passes) {
				select {
				case o := <-results:
					collect(o)
				default:
					break drain
				}
			}
			for _, pass := range p.passes {
				kind := pass.Kind()
				if reported[kind] {
					continue
				}
				p.log.Warn("pipeline: pass abandoned at gather deadline", zap.String("pass", string(kind)))
				collect(model.PassOutcome{
					Kind:     kind,
					Fault:    model.NewFault(model.FaultDeadlineExceeded, string(kind), eris.New("pipeline: pass did not report before the gather deadline")),
					Duration: window,
				})
			}
			return outcomes
		}
	}
	return outcomes
}
func observe(o model.PassOutcome) {
	outcome := "ok"
	if o.Fault != nil {
		outcome = "fault"
		if o.Fault.Kind == model.FaultDeadlineExceeded {
			outcome = "timeout"
		}
	}
	monitoring.ObservePass(string(o.Kind), outcome, o.Duration)
}

// analyze runs the analyzer with whatever remains of the deadline, extended to
// the minimum analysis window when earlier phases overran. Once work has
// started the analyzer is always called unless the caller cancelled.
func (p *Pipeline) analyze(ctx context.Context, deadline time.Time, doc *model.ScrapeDocument) *model.InsightReport {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return model.NewDegradedReport("analysis cancelled", analyzer.CompletenessNotes(doc))
	case p.analyzer == nil:
		return model.NewDegradedReport("model service not configured", analyzer.CompletenessNotes(doc))
	}

	until := deadline
	if minEnd := time.Now().Add(secs(p.cfg.MinAnalysisSecs)); minEnd.After(until) {
		until = minEnd
	}
	actx, cancel := phaseContext(ctx, time.Until(until))
	defer cancel()

	report := p.analyzer.Analyze(actx, doc)
	if report == nil {
		report = model.NewDegradedReport("analyzer returned no report", analyzer.CompletenessNotes(doc))
	}
	return report
}
