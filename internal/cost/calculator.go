// Package cost estimates model spend from token usage.
package cost

import (
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/pkg/anthropic"
)

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64
	Output        float64
	CacheWriteMul float64
	CacheReadMul  float64
}

// Calculator computes costs for model usage.
type Calculator struct {
	rates map[string]ModelRate
}

// NewCalculator creates a Calculator with the given per-model rates.
func NewCalculator(rates map[string]ModelRate) *Calculator {
	if rates == nil {
		rates = DefaultRates()
	}
	return &Calculator{rates: rates}
}

// FromConfig builds a Calculator from the pricing section. An empty
// section falls back to DefaultRates.
func FromConfig(cfg config.PricingConfig) *Calculator {
	if len(cfg.Anthropic) == 0 {
		return NewCalculator(DefaultRates())
	}
	rates := make(map[string]ModelRate, len(cfg.Anthropic))
	for model, p := range cfg.Anthropic {
		rates[model] = ModelRate(p)
	}
	return NewCalculator(rates)
}

// Known reports whether the model has a configured rate.
func (c *Calculator) Known(model string) bool {
	_, ok := c.rates[model]
	return ok
}

// Claude computes the cost for a Claude API call. Unknown models cost 0.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int64) float64 {
	rate, ok := c.rates[model]
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// Usage computes the cost of one response's token usage.
func (c *Calculator) Usage(model string, u anthropic.TokenUsage) float64 {
	return c.Claude(model, u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens)
}

// Log records the usage and estimated cost of one model call.
func (c *Calculator) Log(model string, u anthropic.TokenUsage) float64 {
	usd := c.Usage(model, u)
	zap.L().Info("anthropic: usage",
		zap.String("model", model),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("cost_usd", usd),
		zap.Bool("priced", c.Known(model)),
	)
	return usd
}

// DefaultRates returns the default pricing rates.
func DefaultRates() map[string]ModelRate {
	return map[string]ModelRate{
		"claude-haiku-4-5-20251001": {
			Input: 0.80, Output: 4.00,
			CacheWriteMul: 1.25, CacheReadMul: 0.1,
		},
		"claude-sonnet-4-5-20250929": {
			Input: 3.00, Output: 15.00,
			CacheWriteMul: 1.25, CacheReadMul: 0.1,
		},
		"claude-opus-4-6": {
			Input: 15.00, Output: 75.00,
			CacheWriteMul: 1.25, CacheReadMul: 0.1,
		},
	}
}
