// Package cost estimates and settles request costs against a hot-swappable
// pricing table.
package cost

import (
	"strings"
	"sync"

	"costgate/internal/core"
)

// Token estimation and confidence constants.
const (
	// CharsPerToken is the rough character-to-token ratio used before a
	// backend reports real counts.
	CharsPerToken = 4

	// DefaultOutputTokens is assumed for requests that do not set
	// max_tokens.
	DefaultOutputTokens = 1000

	// ConfidenceExact applies when the requested model has a pricing entry.
	ConfidenceExact = 0.9
	// ConfidenceFallback applies when only a provider-level mean is known.
	ConfidenceFallback = 0.5
)

// ModelPricing holds per-million-token prices in USD and the model's
// context window.
type ModelPricing struct {
	InputPerMTok  float64 `json:"input_per_mtok" yaml:"input_per_mtok"`
	OutputPerMTok float64 `json:"output_per_mtok" yaml:"output_per_mtok"`
	ContextWindow int     `json:"context_window,omitempty" yaml:"context_window,omitempty"`
}

// Estimate is a pre-dispatch cost prediction for one provider/model pair.
type Estimate struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	TotalCost    float64 `json:"total_cost"`
	CostPerToken float64 `json:"cost_per_token"`
	Confidence   float64 `json:"confidence"`
}

// Analyzer maps provider/model pairs to prices and produces estimates and
// settlements. Reads take the shared lock, so estimation on the request
// path never blocks behind another reader.
type Analyzer struct {
	mu      sync.RWMutex
	pricing map[string]ModelPricing
}

// NewAnalyzer creates an analyzer seeded with the given table. A nil table
// starts from the built-in default pricing.
func NewAnalyzer(table map[string]ModelPricing) *Analyzer {
	if table == nil {
		table = DefaultPricing()
	}
	a := &Analyzer{pricing: make(map[string]ModelPricing, len(table))}
	for k, v := range table {
		a.pricing[k] = v
	}
	return a
}

func pricingKey(provider, model string) string {
	return provider + "/" + model
}

// SetPricing adds or updates the price for one provider/model pair.
func (a *Analyzer) SetPricing(provider, model string, p ModelPricing) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pricing[pricingKey(provider, model)] = p
}

// ReplaceTable swaps the entire pricing table atomically. In-flight
// estimates keep the prices they were computed with.
func (a *Analyzer) ReplaceTable(table map[string]ModelPricing) {
	next := make(map[string]ModelPricing, len(table))
	for k, v := range table {
		next[k] = v
	}
	a.mu.Lock()
	a.pricing = next
	a.mu.Unlock()
}

// Pricing returns the entry for a provider/model pair, if present.
func (a *Analyzer) Pricing(provider, model string) (ModelPricing, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pricing[pricingKey(provider, model)]
	return p, ok
}

// EstimateTokens predicts the token footprint of a request before dispatch.
func EstimateTokens(req *core.ChatRequest) (input, output int) {
	input = req.TotalMessageChars() / CharsPerToken
	output = DefaultOutputTokens
	if req.MaxTokens != nil {
		output = *req.MaxTokens
	}
	return input, output
}

// Estimate predicts what the request would cost on the given provider and
// model. An exact pricing entry yields high confidence; otherwise the mean
// over the provider's known models is used at reduced confidence. A
// provider with no entries at all estimates as free, which keeps local
// backends rankable.
func (a *Analyzer) Estimate(req *core.ChatRequest, provider, model string) Estimate {
	input, output := EstimateTokens(req)

	est := Estimate{
		Provider:     provider,
		Model:        model,
		InputTokens:  input,
		OutputTokens: output,
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if p, ok := a.pricing[pricingKey(provider, model)]; ok {
		est.fill(p)
		est.Confidence = ConfidenceExact
		return est
	}

	if mean, ok := a.providerMeanLocked(provider); ok {
		est.fill(mean)
	}
	est.Confidence = ConfidenceFallback
	return est
}

// fill computes the cost fields from a pricing entry.
func (e *Estimate) fill(p ModelPricing) {
	e.InputCost = float64(e.InputTokens) / 1_000_000 * p.InputPerMTok
	e.OutputCost = float64(e.OutputTokens) / 1_000_000 * p.OutputPerMTok
	e.TotalCost = e.InputCost + e.OutputCost
	if total := e.InputTokens + e.OutputTokens; total > 0 {
		e.CostPerToken = e.TotalCost / float64(total)
	}
}

// Settle computes the actual cost from backend-reported usage. Without a
// pricing entry the provider mean is applied, so every ledger row carries a
// cost even for unlisted models.
func (a *Analyzer) Settle(provider, model string, usage *core.Usage) float64 {
	if usage == nil {
		return 0
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	p, ok := a.pricing[pricingKey(provider, model)]
	if !ok {
		p, _ = a.providerMeanLocked(provider)
	}
	return tokenCost(usage.PromptTokens, usage.CompletionTokens, p)
}

func tokenCost(input, output int, p ModelPricing) float64 {
	return float64(input)/1_000_000*p.InputPerMTok + float64(output)/1_000_000*p.OutputPerMTok
}

// providerMeanLocked averages all entries under the provider prefix.
// Callers must hold at least the read lock.
func (a *Analyzer) providerMeanLocked(provider string) (ModelPricing, bool) {
	prefix := provider + "/"
	var sum ModelPricing
	var n int
	for key, p := range a.pricing {
		if strings.HasPrefix(key, prefix) {
			sum.InputPerMTok += p.InputPerMTok
			sum.OutputPerMTok += p.OutputPerMTok
			n++
		}
	}
	if n == 0 {
		return ModelPricing{}, false
	}
	return ModelPricing{
		InputPerMTok:  sum.InputPerMTok / float64(n),
		OutputPerMTok: sum.OutputPerMTok / float64(n),
	}, true
}

// DefaultPricing returns the built-in USD price table. Deployments override
// it from configuration; local models are listed at zero so they win any
// cost comparison.
func DefaultPricing() map[string]ModelPricing {
	return map[string]ModelPricing{
		"openai/gpt-4o":                 {InputPerMTok: 2.50, OutputPerMTok: 10.00, ContextWindow: 128_000},
		"openai/gpt-4o-mini":            {InputPerMTok: 0.15, OutputPerMTok: 0.60, ContextWindow: 128_000},
		"openai/gpt-4.1":                {InputPerMTok: 2.00, OutputPerMTok: 8.00, ContextWindow: 1_047_576},
		"openai/gpt-4.1-mini":           {InputPerMTok: 0.40, OutputPerMTok: 1.60, ContextWindow: 1_047_576},
		"openai/o3-mini":                {InputPerMTok: 1.10, OutputPerMTok: 4.40, ContextWindow: 200_000},
		"openai/o1":                     {InputPerMTok: 15.00, OutputPerMTok: 60.00, ContextWindow: 200_000},
		"openai/text-embedding-3-small": {InputPerMTok: 0.02},

		"anthropic/claude-sonnet-4-20250514": {InputPerMTok: 3.00, OutputPerMTok: 15.00, ContextWindow: 200_000},
		"anthropic/claude-opus-4-20250514":   {InputPerMTok: 15.00, OutputPerMTok: 75.00, ContextWindow: 200_000},
		"anthropic/claude-3-5-haiku-latest":  {InputPerMTok: 0.80, OutputPerMTok: 4.00, ContextWindow: 200_000},

		"gemini/gemini-2.0-flash":      {InputPerMTok: 0.10, OutputPerMTok: 0.40, ContextWindow: 1_048_576},
		"gemini/gemini-2.0-flash-lite": {InputPerMTok: 0.075, OutputPerMTok: 0.30, ContextWindow: 1_048_576},
		"gemini/gemini-1.5-pro":        {InputPerMTok: 1.25, OutputPerMTok: 5.00, ContextWindow: 2_097_152},
		"gemini/text-embedding-004":    {},

		"groq/llama-3.3-70b-versatile": {InputPerMTok: 0.59, OutputPerMTok: 0.79, ContextWindow: 128_000},
		"groq/llama-3.1-8b-instant":    {InputPerMTok: 0.05, OutputPerMTok: 0.08, ContextWindow: 128_000},

		"ollama/llama3.2:1b":      {ContextWindow: 128_000},
		"ollama/qwen2.5-coder:7b": {ContextWindow: 32_768},
	}
}
