// Package openai provides the protocol adapter for OpenAI and
// OpenAI-compatible backends (Groq-style hosted endpoints included).
package openai

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

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	groqDefaultBaseURL = "https://api.groq.com/openai/v1"
)

func init() {
	providers.Register("openai", func(cfg providers.Config) (core.Provider, error) {
		p := New(cfg.APIKey)
		if cfg.BaseURL != "" {
			p.SetBaseURL(cfg.BaseURL)
		}
		return p, nil
	})
	// Groq speaks the OpenAI wire protocol; only the base URL, type string,
	// and model family differ.
	providers.Register("groq", func(cfg providers.Config) (core.Provider, error) {
		p := New(cfg.APIKey)
		p.providerType = "groq"
		p.SetBaseURL(groqDefaultBaseURL)
		if cfg.BaseURL != "" {
			p.SetBaseURL(cfg.BaseURL)
		}
		return p, nil
	})
}

// Provider implements the core.Provider interface for OpenAI-compatible APIs
type Provider struct {
	client       *llmclient.Client
	apiKey       string
	providerType string
}

// New creates a new OpenAI provider
func New(apiKey string) *Provider {
	p := &Provider{apiKey: apiKey, providerType: "openai"}
	p.client = llmclient.New(llmclient.DefaultConfig("openai", defaultBaseURL), p.setHeaders)
	return p
}

// NewWithHTTPClient creates a provider backed by a custom HTTP client.
// If httpClient is nil, http.DefaultClient is used.
func NewWithHTTPClient(apiKey string, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	p := &Provider{apiKey: apiKey, providerType: "openai"}
	p.client = llmclient.NewWithHTTPClient(httpClient, llmclient.DefaultConfig("openai", defaultBaseURL), p.setHeaders)
	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// ProviderType returns the provider type string
func (p *Provider) ProviderType() string {
	return p.providerType
}

// SupportsModel returns true if this provider can handle the given model
func (p *Provider) SupportsModel(model string) bool {
	m := strings.ToLower(model)
	if p.providerType == "groq" {
		for _, prefix := range []string{"llama-", "llama3", "mixtral-", "gemma", "qwen"} {
			if strings.HasPrefix(m, prefix) {
				return true
			}
		}
		return false
	}
	if strings.HasPrefix(m, "gpt-") || strings.HasPrefix(m, "chatgpt-") || strings.HasPrefix(m, "text-embedding-") {
		return true
	}
	return isOSeriesModel(m)
}

// setHeaders sets the required headers for OpenAI API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	// OpenAI requires ASCII-only characters and max 512 bytes for
	// X-Client-Request-Id, otherwise returns 400.
	if requestID := core.GetRequestID(req.Context()); requestID != "" && isValidClientRequestID(requestID) {
		req.Header.Set("X-Client-Request-Id", requestID)
	}
}

func isValidClientRequestID(id string) bool {
	if len(id) > 512 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] > 127 {
			return false
		}
	}
	return true
}

// isOSeriesModel reports whether the model is an OpenAI o-series reasoning
// model (o1, o3, o4) that requires max_completion_tokens instead of
// max_tokens and does not support the temperature parameter.
func isOSeriesModel(model string) bool {
	m := strings.ToLower(model)
	// Non-reasoning models like gpt-4o start with "gpt-", not "o".
	return len(m) >= 2 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9'
}

// chatRequest is the OpenAI wire request shape.
type chatRequest struct {
	Model               string          `json:"model"`
	Messages            []core.Message  `json:"messages"`
	Temperature         *float64        `json:"temperature,omitempty"`
	MaxTokens           *int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	FrequencyPenalty    *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty     *float64        `json:"presence_penalty,omitempty"`
	Stop                []string        `json:"stop,omitempty"`
	Stream              bool            `json:"stream,omitempty"`
	StreamOptions       *streamOptions  `json:"stream_options,omitempty"`
	Functions           json.RawMessage `json:"functions,omitempty"`
	User                string          `json:"user,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// convertRequest maps the canonical request onto the OpenAI wire shape.
// o-series models get max_tokens mapped to max_completion_tokens and their
// temperature dropped; all quirks are resolved here, not by the caller.
func convertRequest(req *core.ChatRequest) *chatRequest {
	wire := &chatRequest{
		Model:            req.Model,
		Messages:         req.Messages,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stop:             req.Stop,
		Stream:           req.Stream,
		Functions:        req.Functions,
		User:             req.User,
	}

	if isOSeriesModel(req.Model) {
		wire.MaxCompletionTokens = req.MaxTokens
		wire.MaxTokens = nil
		wire.Temperature = nil
	}

	if req.Stream {
		// Ask for the final usage-bearing chunk so streamed requests can
		// still be accounted in the cost ledger.
		wire.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	return wire
}

// ChatCompletion sends a chat completion request
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	var resp core.ChatResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     convertRequest(req),
	}, &resp)
	if err != nil {
		return nil, err
	}
	resp.Provider = p.providerType
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

// StreamChatCompletion executes a streaming request and decodes the SSE
// framing into canonical chunks.
func (p *Provider) StreamChatCompletion(ctx context.Context, req *core.ChatRequest) (core.ChunkStream, error) {
	body, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     convertRequest(req.WithStreaming()),
	})
	if err != nil {
		return nil, err
	}
	return providers.NewStream(body, streamcodec.NewSSEDecoder(), parseChunk, p.providerType), nil
}

// parseChunk parses one SSE event payload. The OpenAI chunk shape matches
// the canonical model directly.
func parseChunk(raw []byte) (*core.StreamingChunk, error) {
	var chunk core.StreamingChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// Embeddings sends an embeddings request
func (p *Provider) Embeddings(ctx context.Context, req *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
	var resp core.EmbeddingResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/embeddings",
		Body:     req,
	}, &resp)
	if err != nil {
		return nil, err
	}
	resp.Provider = p.providerType
	return &resp, nil
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
