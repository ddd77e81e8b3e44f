package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costgate/internal/core"
)

func intPtr(v int) *int { return &v }

func testTable() map[string]ModelPricing {
	return map[string]ModelPricing{
		"openai/gpt-4o":      {InputPerMTok: 2.50, OutputPerMTok: 10.00},
		"openai/gpt-4o-mini": {InputPerMTok: 0.15, OutputPerMTok: 0.60},
		"ollama/llama3.2:1b": {},
	}
}

func TestEstimateTokens(t *testing.T) {
	req := &core.ChatRequest{
		Messages: []core.Message{
			{Role: core.RoleUser, Content: "12345678"}, // 8 chars
		},
	}
	input, output := EstimateTokens(req)
	assert.Equal(t, 2, input)
	assert.Equal(t, DefaultOutputTokens, output)

	req.MaxTokens = intPtr(64)
	_, output = EstimateTokens(req)
	assert.Equal(t, 64, output)
}

func TestEstimateExactPricing(t *testing.T) {
	a := NewAnalyzer(testTable())
	req := &core.ChatRequest{
		Messages:  []core.Message{{Role: core.RoleUser, Content: "xxxxxxxxxxxxxxxx"}}, // 16 chars, 4 tokens
		MaxTokens: intPtr(1000),
	}

	est := a.Estimate(req, "openai", "gpt-4o")
	assert.Equal(t, ConfidenceExact, est.Confidence)
	assert.Equal(t, 4, est.InputTokens)
	assert.Equal(t, 1000, est.OutputTokens)
	// 4 input tokens at $2.50/M plus 1000 output tokens at $10/M.
	assert.InDelta(t, 4.0/1e6*2.50, est.InputCost, 1e-12)
	assert.InDelta(t, 1000.0/1e6*10.00, est.OutputCost, 1e-12)
	assert.InDelta(t, 4.0/1e6*2.50+1000.0/1e6*10.00, est.TotalCost, 1e-12)
	assert.InDelta(t, est.TotalCost/1004.0, est.CostPerToken, 1e-12)
}

func TestEstimateProviderMeanFallback(t *testing.T) {
	a := NewAnalyzer(testTable())
	req := &core.ChatRequest{
		Messages:  []core.Message{{Role: core.RoleUser, Content: "xxxx"}},
		MaxTokens: intPtr(1000),
	}

	est := a.Estimate(req, "openai", "gpt-4o-2024-unknown")
	assert.Equal(t, ConfidenceFallback, est.Confidence)
	// Mean of gpt-4o and gpt-4o-mini output prices is $5.30/M.
	assert.InDelta(t, 1.0/1e6*1.325+1000.0/1e6*5.30, est.TotalCost, 1e-12)
}

func TestEstimateUnknownProvider(t *testing.T) {
	a := NewAnalyzer(testTable())
	est := a.Estimate(&core.ChatRequest{}, "mystery", "model-x")
	assert.Equal(t, ConfidenceFallback, est.Confidence)
	assert.Zero(t, est.TotalCost)
}

func TestEstimateLocalModelIsFree(t *testing.T) {
	a := NewAnalyzer(testTable())
	req := &core.ChatRequest{
		Messages: []core.Message{{Role: core.RoleUser, Content: "long enough prompt"}},
	}
	est := a.Estimate(req, "ollama", "llama3.2:1b")
	assert.Equal(t, ConfidenceExact, est.Confidence)
	assert.Zero(t, est.TotalCost)
}

func TestSettle(t *testing.T) {
	a := NewAnalyzer(testTable())
	usage := &core.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500}

	got := a.Settle("openai", "gpt-4o", usage)
	assert.InDelta(t, 1000.0/1e6*2.50+500.0/1e6*10.00, got, 1e-12)

	assert.Zero(t, a.Settle("openai", "gpt-4o", nil))
}

func TestReplaceTable(t *testing.T) {
	a := NewAnalyzer(testTable())
	a.ReplaceTable(map[string]ModelPricing{
		"openai/gpt-4o": {InputPerMTok: 1.00, OutputPerMTok: 2.00},
	})

	usage := &core.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}
	assert.InDelta(t, 3.00, a.Settle("openai", "gpt-4o", usage), 1e-12)

	_, ok := a.Pricing("openai", "gpt-4o-mini")
	assert.False(t, ok, "replaced table drops old entries")
}

func TestSetPricing(t *testing.T) {
	a := NewAnalyzer(testTable())
	a.SetPricing("anthropic", "claude-3-5-haiku-latest", ModelPricing{InputPerMTok: 0.80, OutputPerMTok: 4.00})

	p, ok := a.Pricing("anthropic", "claude-3-5-haiku-latest")
	require.True(t, ok)
	assert.Equal(t, 0.80, p.InputPerMTok)
}
