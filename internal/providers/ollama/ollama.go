// Package ollama provides the protocol adapter for a local Ollama server.
package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"costgate/internal/core"
	"costgate/internal/pkg/llmclient"
	"costgate/internal/providers"
	"costgate/internal/providers/streamcodec"
)

const defaultBaseURL = "http://localhost:11434"

func init() {
	providers.Register("ollama", func(cfg providers.Config) (core.Provider, error) {
		p := New()
		if cfg.BaseURL != "" {
			p.SetBaseURL(cfg.BaseURL)
		}
		return p, nil
	})
}

// Provider implements the core.Provider interface for Ollama
type Provider struct {
	client *llmclient.Client
}

// New creates a new Ollama provider
func New() *Provider {
	p := &Provider{}
	// Local server, no auth headers.
	p.client = llmclient.New(llmclient.DefaultConfig("ollama", defaultBaseURL), func(*http.Request) {})
	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// ProviderType returns the provider type string
func (p *Provider) ProviderType() string {
	return "ollama"
}

// SupportsModel returns true if this provider can handle the given model.
// Ollama tags carry a ":" suffix (llama3.2:1b); bare names of common local
// families are accepted too.
func (p *Provider) SupportsModel(model string) bool {
	m := strings.ToLower(model)
	if strings.Contains(m, ":") {
		return true
	}
	for _, prefix := range []string{"llama", "mistral", "qwen", "phi", "deepseek", "nomic-embed"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

// Wire shapes for /api/chat.

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []core.Message `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *chatOptions   `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type chatResponse struct {
	Model           string       `json:"model"`
	CreatedAt       time.Time    `json:"created_at"`
	Message         core.Message `json:"message"`
	Done            bool         `json:"done"`
	DoneReason      string       `json:"done_reason,omitempty"`
	PromptEvalCount int          `json:"prompt_eval_count,omitempty"`
	EvalCount       int          `json:"eval_count,omitempty"`
}

// convertRequest maps the canonical request onto the Ollama wire shape.
// Sampling knobs live under options; max_tokens is called num_predict.
func convertRequest(req *core.ChatRequest) *chatRequest {
	wire := &chatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   req.Stream,
	}
	if req.Temperature != nil || req.TopP != nil || req.MaxTokens != nil || len(req.Stop) > 0 {
		wire.Options = &chatOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			NumPredict:  req.MaxTokens,
			Stop:        req.Stop,
		}
	}
	return wire
}

func mapDoneReason(reason string) string {
	switch reason {
	case "stop", "":
		return "stop"
	case "length":
		return "length"
	default:
		return reason
	}
}

func mapUsage(wire *chatResponse) *core.Usage {
	return &core.Usage{
		PromptTokens:     wire.PromptEvalCount,
		CompletionTokens: wire.EvalCount,
		TotalTokens:      wire.PromptEvalCount + wire.EvalCount,
	}
}

// ChatCompletion sends a chat completion request
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	wireReq := convertRequest(req)
	wireReq.Stream = false

	var wire chatResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/api/chat",
		Body:     wireReq,
	}, &wire)
	if err != nil {
		return nil, err
	}

	return &core.ChatResponse{
		ID:       "ollama-" + wire.Model,
		Object:   "chat.completion",
		Model:    wire.Model,
		Provider: "ollama",
		Created:  wire.CreatedAt.Unix(),
		Choices: []core.Choice{{
			Index:        0,
			Message:      wire.Message,
			FinishReason: mapDoneReason(wire.DoneReason),
		}},
		Usage: mapUsage(&wire),
	}, nil
}

// StreamChatCompletion executes a streaming request. Ollama emits one JSON
// object per line; the final line has done true and carries the token
// counts.
func (p *Provider) StreamChatCompletion(ctx context.Context, req *core.ChatRequest) (core.ChunkStream, error) {
	body, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/api/chat",
		Body:     convertRequest(req.WithStreaming()),
	})
	if err != nil {
		return nil, err
	}

	parse := func(raw []byte) (*core.StreamingChunk, error) {
		var wire chatResponse
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, err
		}

		chunk := &core.StreamingChunk{
			ID:      "ollama-" + wire.Model,
			Object:  "chat.completion.chunk",
			Model:   wire.Model,
			Created: wire.CreatedAt.Unix(),
		}
		if wire.Done {
			reason := mapDoneReason(wire.DoneReason)
			chunk.Usage = mapUsage(&wire)
			if wire.Message.Content != "" {
				chunk.Choices = []core.StreamingChoice{{
					Delta:        core.Message{Content: wire.Message.Content},
					FinishReason: &reason,
				}}
			} else {
				chunk.Choices = []core.StreamingChoice{{FinishReason: &reason}}
			}
			return chunk, nil
		}
		chunk.Choices = []core.StreamingChoice{{
			Delta: core.Message{Role: wire.Message.Role, Content: wire.Message.Content},
		}}
		return chunk, nil
	}

	return providers.NewStream(body, streamcodec.NewNDJSONDecoder(), parse, "ollama"), nil
}

// Wire shapes for /api/embed.

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model           string      `json:"model"`
	Embeddings      [][]float64 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
}

// Embeddings sends an embeddings request
func (p *Provider) Embeddings(ctx context.Context, req *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
	var wire embedResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/api/embed",
		Body:     &embedRequest{Model: req.Model, Input: req.Input},
	}, &wire)
	if err != nil {
		return nil, err
	}

	resp := &core.EmbeddingResponse{
		Object:   "list",
		Model:    wire.Model,
		Provider: "ollama",
		Usage: core.Usage{
			PromptTokens: wire.PromptEvalCount,
			TotalTokens:  wire.PromptEvalCount,
		},
	}
	for i, vec := range wire.Embeddings {
		resp.Data = append(resp.Data, core.Embedding{
			Object:    "embedding",
			Index:     i,
			Embedding: vec,
		})
	}
	return resp, nil
}

// HealthCheck verifies the local server is reachable via the tags endpoint
func (p *Provider) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, llmclient.HealthTimeout)
	defer cancel()
	return p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/api/tags",
	}, nil)
}
