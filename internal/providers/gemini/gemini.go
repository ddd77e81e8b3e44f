// Package gemini provides the protocol adapter for the Google Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"costgate/internal/core"
	"costgate/internal/pkg/llmclient"
	"costgate/internal/providers"
	"costgate/internal/providers/streamcodec"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

func init() {
	providers.Register("gemini", func(cfg providers.Config) (core.Provider, error) {
		p := New(cfg.APIKey)
		if cfg.BaseURL != "" {
			p.SetBaseURL(cfg.BaseURL)
		}
		return p, nil
	})
}

// Provider implements the core.Provider interface for Gemini
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a new Gemini provider
func New(apiKey string) *Provider {
	p := &Provider{apiKey: apiKey}
	p.client = llmclient.New(llmclient.DefaultConfig("gemini", defaultBaseURL), p.setHeaders)
	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// ProviderType returns the provider type string
func (p *Provider) ProviderType() string {
	return "gemini"
}

// SupportsModel returns true if this provider can handle the given model
func (p *Provider) SupportsModel(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "gemini-") || strings.HasPrefix(m, "text-embedding-004") || strings.HasPrefix(m, "gemini-embedding")
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", p.apiKey)
}

// Wire shapes for generateContent.

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
		Index        int     `json:"index"`
	} `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string         `json:"modelVersion,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// convertRequest maps the canonical request onto the Gemini wire shape.
// System messages become the systemInstruction, assistant turns take the
// "model" role, and sampling knobs move into generationConfig.
func convertRequest(req *core.ChatRequest) *generateRequest {
	wire := &generateRequest{}

	var system []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			system = append(system, msg.Content)
		case core.RoleAssistant:
			wire.Contents = append(wire.Contents, content{Role: "model", Parts: []part{{Text: msg.Content}}})
		default:
			wire.Contents = append(wire.Contents, content{Role: "user", Parts: []part{{Text: msg.Content}}})
		}
	}
	if len(system) > 0 {
		wire.SystemInstruction = &content{Parts: []part{{Text: strings.Join(system, "\n\n")}}}
	}

	if req.Temperature != nil || req.TopP != nil || req.MaxTokens != nil || len(req.Stop) > 0 {
		wire.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		}
	}

	return wire
}

// mapFinishReason converts Gemini finish reasons to the canonical vocabulary.
func mapFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	case "":
		return ""
	default:
		return strings.ToLower(reason)
	}
}

func mapUsage(meta *usageMetadata) *core.Usage {
	if meta == nil {
		return nil
	}
	return &core.Usage{
		PromptTokens:     meta.PromptTokenCount,
		CompletionTokens: meta.CandidatesTokenCount,
		TotalTokens:      meta.TotalTokenCount,
	}
}

func candidateText(c content) string {
	var sb strings.Builder
	for _, p := range c.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// ChatCompletion sends a chat completion request
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	var wire generateResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/models/" + req.Model + ":generateContent",
		Body:     convertRequest(req),
	}, &wire)
	if err != nil {
		return nil, err
	}

	resp := &core.ChatResponse{
		ID:       "gemini-" + req.Model,
		Object:   "chat.completion",
		Model:    req.Model,
		Provider: "gemini",
		Usage:    mapUsage(wire.UsageMetadata),
	}
	for i, cand := range wire.Candidates {
		resp.Choices = append(resp.Choices, core.Choice{
			Index:        i,
			Message:      core.Message{Role: core.RoleAssistant, Content: candidateText(cand.Content)},
			FinishReason: mapFinishReason(cand.FinishReason),
		})
	}
	return resp, nil
}

// StreamChatCompletion executes a streaming request. Gemini streams an
// incrementally flushed JSON array of generateContent-shaped objects, so
// the array decoder carves objects out of the byte stream as they arrive.
func (p *Provider) StreamChatCompletion(ctx context.Context, req *core.ChatRequest) (core.ChunkStream, error) {
	body, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/models/" + req.Model + ":streamGenerateContent",
		Body:     convertRequest(req),
	})
	if err != nil {
		return nil, err
	}

	model := req.Model
	parse := func(raw []byte) (*core.StreamingChunk, error) {
		var wire generateResponse
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, err
		}

		chunk := &core.StreamingChunk{
			ID:     "gemini-" + model,
			Object: "chat.completion.chunk",
			Model:  model,
			Usage:  mapUsage(wire.UsageMetadata),
		}
		for i, cand := range wire.Candidates {
			choice := core.StreamingChoice{
				Index: i,
				Delta: core.Message{Content: candidateText(cand.Content)},
			}
			if reason := mapFinishReason(cand.FinishReason); reason != "" {
				choice.FinishReason = &reason
			}
			chunk.Choices = append(chunk.Choices, choice)
		}
		return chunk, nil
	}

	return providers.NewStream(body, streamcodec.NewJSONArrayDecoder(), parse, "gemini"), nil
}

// Wire shapes for embedContent.

type embedRequest struct {
	Content content `json:"content"`
}

type embedResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}

// Embeddings sends an embeddings request. The embedContent endpoint takes
// one input per call, so batched canonical inputs fan out sequentially.
func (p *Provider) Embeddings(ctx context.Context, req *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
	resp := &core.EmbeddingResponse{
		Object:   "list",
		Model:    req.Model,
		Provider: "gemini",
	}
	for i, input := range req.Input {
		var wire embedResponse
		err := p.client.Do(ctx, llmclient.Request{
			Method:   http.MethodPost,
			Endpoint: "/models/" + req.Model + ":embedContent",
			Body:     &embedRequest{Content: content{Parts: []part{{Text: input}}}},
		}, &wire)
		if err != nil {
			return nil, err
		}
		resp.Data = append(resp.Data, core.Embedding{
			Object:    "embedding",
			Index:     i,
			Embedding: wire.Embedding.Values,
		})
	}
	return resp, nil
}

// HealthCheck verifies the backend is reachable via the models endpoint
func (p *Provider) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, llmclient.HealthTimeout)
	defer cancel()
	return p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models",
	}, nil)
}
