// Package analyzer turns a scrape document into an insight report with a
// single structured model call. It never fails: unusable model output or an
// unavailable model yields a degraded report.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/cost"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/monitoring"
	"github.com/sells-group/insight-cli/internal/resilience"
	"github.com/sells-group/insight-cli/pkg/anthropic"
)

const repairInstruction = `Your previous response could not be used: %s.
Respond again with only the JSON object described in the instructions. Include every key with the exact names and types shown, and nothing else.`

// Analyzer produces insight reports.
type Analyzer struct {
	client  anthropic.Client
	ai      config.AnthropicConfig
	cfg     config.AnalyzerConfig
	calc    *cost.Calculator
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
	log     *zap.Logger
}

// New creates an Analyzer. A nil client makes every report degraded, which
// keeps the pipeline usable without credentials.
func New(client anthropic.Client, ai config.AnthropicConfig, cfg config.AnalyzerConfig, calc *cost.Calculator) *Analyzer {
	if calc == nil {
		calc = cost.NewCalculator(nil)
	}
	if ai.MaxTokens <= 0 {
		ai.MaxTokens = 8192
	}

	bcfg := resilience.NewBreakerConfig(cfg.BreakerThreshold, cfg.BreakerResetSecs)
	bcfg.OnChange = func(from, to resilience.BreakerState) {
		monitoring.ModelBreakerState.Set(float64(to))
		zap.L().Warn("analyzer: model breaker state change",
			zap.String("from", from.String()), zap.String("to", to.String()))
	}

	retry := resilience.WithBudget(cfg.MaxAttempts-1, cfg.BackoffInitialMs, 0)
	retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, resilience.ErrBreakerOpen) && resilience.IsTransient(err)
	}
	retry.OnRetry = resilience.RetryLogger("anthropic", "create_message")

	return &Analyzer{
		client:  client,
		ai:      ai,
		cfg:     cfg,
		calc:    calc,
		breaker: resilience.NewBreaker(bcfg),
		retry:   retry,
		log:     zap.L().With(zap.String("component", "analyzer")),
	}
}

// Breaker exposes the model circuit breaker for health reporting.
func (a *Analyzer) Breaker() *resilience.Breaker {
	return a.breaker
}

// Analyze builds the prompt, calls the model and validates the response,
// with one repair attempt. The returned report is never nil and always
// carries completeness notes and a speculation caveat.
func (a *Analyzer) Analyze(ctx context.Context, doc *model.ScrapeDocument) *model.InsightReport {
	start := time.Now()
	notes := CompletenessNotes(doc)
	log := a.log
	if doc != nil {
		log = log.With(zap.String("company", doc.InputParameters.CompanyName))
	}

	if a.client == nil {
		return model.NewDegradedReport("model service not configured", notes)
	}
	if doc == nil {
		return model.NewDegradedReport("no scrape document to analyze", notes)
	}
	if err := ctx.Err(); err != nil {
		return model.NewDegradedReport(DeadlineReason, notes)
	}

	prompt := BuildPrompt(doc, a.cfg)
	if prompt.Truncated {
		log.Info("prompt content truncated", zap.Int("max_input_chars", a.cfg.MaxInputChars))
	}
	msgs := []anthropic.Message{{Role: "user", Content: prompt.User}}

	text, fault := a.call(ctx, prompt.System, msgs)
	if fault != nil {
		log.Warn("model call failed", zap.String("fault", string(fault.Kind)), zap.Error(fault.Err))
		return model.NewDegradedReport(degradedReason(fault), notes)
	}

	report, salvaged, err := parseWithSalvage(text)
	if err != nil {
		log.Warn("model output invalid, requesting regeneration", zap.Error(err))
		reply := text
		if reply == "" {
			reply = "(empty response)"
		}
		msgs = append(msgs,
			anthropic.Message{Role: "assistant", Content: reply},
			anthropic.Message{Role: "user", Content: fmt.Sprintf(repairInstruction, err.Error())},
		)
		text, fault = a.call(ctx, prompt.System, msgs)
		if fault != nil {
			log.Warn("repair call failed", zap.String("fault", string(fault.Kind)), zap.Error(fault.Err))
			return model.NewDegradedReport(degradedReason(fault), notes)
		}
		report, salvaged, err = parseWithSalvage(text)
		if err != nil {
			f := model.NewFault(model.FaultSchemaInvalid, "analyzer", err)
			log.Warn("model output invalid after repair", zap.Error(err))
			return model.NewDegradedReport(degradedReason(f), notes)
		}
	}
	if salvaged {
		log.Info("model output salvaged from surrounding text")
	}

	report.DataCompletenessNotes = mergeNotes(notes, report.DataCompletenessNotes)
	if report.SpeculationCaveat == "" {
		report.SpeculationCaveat = model.DefaultSpeculationCaveat
	}
	report.Error = nil
	log.Info("analysis complete", zap.Duration("duration", time.Since(start)))
	return report.Normalize()
}

// DeadlineReason is the report error used when no time is left to analyze.
const DeadlineReason = "deadline exceeded before analysis could run"

func degradedReason(f *model.Fault) string {
	switch f.Kind {
	case model.FaultDeadlineExceeded:
		return "deadline exceeded during analysis: " + f.Err.Error()
	case model.FaultSchemaInvalid:
		return "model output failed schema validation: " + f.Err.Error()
	default:
		return "model service unavailable: " + f.Err.Error()
	}
}

// call sends one request through the retry policy and circuit breaker.
func (a *Analyzer) call(ctx context.Context, system string, msgs []anthropic.Message) (string, *model.Fault) {
	temp := a.ai.Temperature
	req := anthropic.MessageRequest{
		Model:       a.ai.Model,
		MaxTokens:   a.ai.MaxTokens,
		System:      system,
		Messages:    msgs,
		Temperature: &temp,
	}

	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return a.client.CreateMessage(ctx, req)
		})
	})
	if err != nil {
		kind := model.FaultModelUnavailable
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = model.FaultDeadlineExceeded
		}
		return "", model.NewFault(kind, "analyzer", err)
	}

	usd := a.calc.Log(a.ai.Model, resp.Usage)
	monitoring.ObserveModelUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens, usd)
	return resp.Text(), nil
}
