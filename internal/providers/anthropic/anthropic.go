// Package anthropic provides the protocol adapter for the Anthropic
// messages API.
package anthropic

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
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"

	// The messages API requires max_tokens; this is the fallback when the
	// caller leaves it unset.
	defaultMaxTokens = 4096
)

func init() {
	providers.Register("anthropic", func(cfg providers.Config) (core.Provider, error) {
		p := New(cfg.APIKey)
		if cfg.BaseURL != "" {
			p.SetBaseURL(cfg.BaseURL)
		}
		return p, nil
	})
}

// Provider implements the core.Provider interface for Anthropic
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a new Anthropic provider
func New(apiKey string) *Provider {
	p := &Provider{apiKey: apiKey}
	p.client = llmclient.New(llmclient.DefaultConfig("anthropic", defaultBaseURL), p.setHeaders)
	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// ProviderType returns the provider type string
func (p *Provider) ProviderType() string {
	return "anthropic"
}

// SupportsModel returns true if this provider can handle the given model
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(model), "claude-")
}

// setHeaders sets the required headers for Anthropic API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
}

// chatRequest is the Anthropic messages API wire request shape.
type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []core.Message `json:"messages"`
	System        string         `json:"system,omitempty"`
	MaxTokens     int            `json:"max_tokens"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	StopSequences []string       `json:"stop_sequences,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
}

// chatResponse is the Anthropic messages API wire response shape.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string    `json:"stop_reason"`
	Usage      wireUsage `json:"usage"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// convertRequest maps the canonical request onto the messages API shape.
// System messages are not part of the messages list on this API; they are
// collected into the top-level system field.
func convertRequest(req *core.ChatRequest) *chatRequest {
	wire := &chatRequest{
		Model:         req.Model,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
		Stream:        req.Stream,
		MaxTokens:     defaultMaxTokens,
	}
	if req.MaxTokens != nil {
		wire.MaxTokens = *req.MaxTokens
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == core.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		wire.Messages = append(wire.Messages, msg)
	}
	wire.System = strings.Join(system, "\n\n")

	return wire
}

// mapStopReason converts Anthropic stop reasons to the canonical vocabulary.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

// ChatCompletion sends a chat completion request
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	var wire chatResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     convertRequest(req),
	}, &wire)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range wire.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &core.ChatResponse{
		ID:       wire.ID,
		Object:   "chat.completion",
		Model:    wire.Model,
		Provider: "anthropic",
		Choices: []core.Choice{{
			Index:        0,
			Message:      core.Message{Role: core.RoleAssistant, Content: text.String()},
			FinishReason: mapStopReason(wire.StopReason),
		}},
		Usage: &core.Usage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
			TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
		},
	}, nil
}

// streamEvent covers every SSE event type the messages API emits. Fields
// are populated according to the type discriminator.
type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		ID    string    `json:"id"`
		Model string    `json:"model"`
		Usage wireUsage `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Usage *wireUsage `json:"usage,omitempty"`
}

// StreamChatCompletion executes a streaming request. The messages API
// spreads one logical message across typed events, so the parser keeps the
// message identity and input token count from message_start and stitches
// them onto later chunks.
func (p *Provider) StreamChatCompletion(ctx context.Context, req *core.ChatRequest) (core.ChunkStream, error) {
	body, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     convertRequest(req.WithStreaming()),
	})
	if err != nil {
		return nil, err
	}

	var msgID, model string
	var inputTokens int

	parse := func(raw []byte) (*core.StreamingChunk, error) {
		var ev streamEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				msgID = ev.Message.ID
				model = ev.Message.Model
				inputTokens = ev.Message.Usage.InputTokens
			}
			return &core.StreamingChunk{
				ID:     msgID,
				Object: "chat.completion.chunk",
				Model:  model,
				Choices: []core.StreamingChoice{{
					Delta: core.Message{Role: core.RoleAssistant},
				}},
			}, nil

		case "content_block_delta":
			if ev.Delta == nil || ev.Delta.Text == "" {
				return &core.StreamingChunk{ID: msgID, Object: "chat.completion.chunk", Model: model}, nil
			}
			return &core.StreamingChunk{
				ID:     msgID,
				Object: "chat.completion.chunk",
				Model:  model,
				Choices: []core.StreamingChoice{{
					Delta: core.Message{Content: ev.Delta.Text},
				}},
			}, nil

		case "message_delta":
			chunk := &core.StreamingChunk{ID: msgID, Object: "chat.completion.chunk", Model: model}
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				reason := mapStopReason(ev.Delta.StopReason)
				chunk.Choices = []core.StreamingChoice{{FinishReason: &reason}}
			}
			if ev.Usage != nil {
				chunk.Usage = &core.Usage{
					PromptTokens:     inputTokens,
					CompletionTokens: ev.Usage.OutputTokens,
					TotalTokens:      inputTokens + ev.Usage.OutputTokens,
				}
			}
			return chunk, nil

		default:
			// ping, content_block_start, content_block_stop, message_stop
			return &core.StreamingChunk{ID: msgID, Object: "chat.completion.chunk", Model: model}, nil
		}
	}

	return providers.NewStream(body, streamcodec.NewSSEDecoder(), parse, "anthropic"), nil
}

// Embeddings is not offered by the Anthropic API
func (p *Provider) Embeddings(ctx context.Context, req *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
	return nil, core.NewFeatureUnavailableError("anthropic", "embeddings are not supported by the Anthropic API")
}

// HealthCheck verifies the backend is reachable via the models listing
// endpoint, which generates no tokens and incurs no spend.
func (p *Provider) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, llmclient.HealthTimeout)
	defer cancel()
	return p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models",
	}, nil)
}
