package core

import "encoding/json"

// Message roles accepted in chat requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// Message represents a single message in the chat
type Message struct {
	Role         string          `json:"role"`
	Content      string          `json:"content"`
	Name         string          `json:"name,omitempty"`
	FunctionCall json.RawMessage `json:"function_call,omitempty"`
}

// ChatRequest represents the incoming chat completion request.
// It is owned by a single dispatch attempt and is never mutated in place;
// model substitution during smart routing goes through WithModel.
type ChatRequest struct {
	ID               string            `json:"id,omitempty"`
	Model            string            `json:"model"`
	Messages         []Message         `json:"messages"`
	Temperature      *float64          `json:"temperature,omitempty"`
	MaxTokens        *int              `json:"max_tokens,omitempty"`
	TopP             *float64          `json:"top_p,omitempty"`
	FrequencyPenalty *float64          `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64          `json:"presence_penalty,omitempty"`
	Stop             []string          `json:"stop,omitempty"`
	Stream           bool              `json:"stream,omitempty"`
	Functions        json.RawMessage   `json:"functions,omitempty"`
	User             string            `json:"user,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

// clone returns a shallow copy of the request.
func (r *ChatRequest) clone() *ChatRequest {
	cp := *r
	return &cp
}

// WithStreaming returns a shallow copy of the request with Stream set to true.
// This avoids mutating the caller's request object.
func (r *ChatRequest) WithStreaming() *ChatRequest {
	cp := r.clone()
	cp.Stream = true
	return cp
}

// WithModel returns a shallow copy of the request with the model replaced.
// Used by smart routing when a virtual model name is resolved to a concrete one.
func (r *ChatRequest) WithModel(model string) *ChatRequest {
	cp := r.clone()
	cp.Model = model
	return cp
}

// TotalMessageChars returns the total character count across all message
// contents, used for rough input token estimation (chars / 4).
func (r *ChatRequest) TotalMessageChars() int {
	var n int
	for _, m := range r.Messages {
		n += len(m.Content)
	}
	return n
}

// Usage represents token usage information for one completed request
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost,omitempty"`

	// RawUsage preserves provider-specific usage fields (cached tokens,
	// reasoning tokens, ...) for auditing. Not serialized to clients.
	RawUsage map[string]any `json:"-"`
}

// Choice represents a single completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// RoutingInfo is the audit trail attached to every response.
// FallbackUsed implies RetryCount >= 1.
type RoutingInfo struct {
	SelectedProvider string `json:"selected_provider"`
	RoutingStrategy  string `json:"routing_strategy"`
	LatencyMs        int64  `json:"latency_ms"`
	RetryCount       int    `json:"retry_count"`
	FallbackUsed     bool   `json:"fallback_used"`
}

// ChatResponse represents the chat completion response
type ChatResponse struct {
	ID       string       `json:"id"`
	Object   string       `json:"object"`
	Model    string       `json:"model"`
	Provider string       `json:"provider"`
	Choices  []Choice     `json:"choices"`
	Usage    *Usage       `json:"usage"`
	Created  int64        `json:"created"`
	Routing  *RoutingInfo `json:"routing_info,omitempty"`
}

// StreamingChoice carries an incremental delta and an optional finish reason
type StreamingChoice struct {
	Index        int     `json:"index"`
	Delta        Message `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// StreamingChunk is one incremental piece of a streamed completion.
// The stream ends with io.EOF from ChunkStream.Next, not with a sentinel chunk.
type StreamingChunk struct {
	ID       string            `json:"id"`
	Object   string            `json:"object"`
	Model    string            `json:"model"`
	Provider string            `json:"provider,omitempty"`
	Created  int64             `json:"created"`
	Choices  []StreamingChoice `json:"choices"`
	Usage    *Usage            `json:"usage,omitempty"`
}

// EmbeddingRequest represents an embeddings request
type EmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
	User  string   `json:"user,omitempty"`
}

// Embedding is a single embedding vector in an embeddings response
type Embedding struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// EmbeddingResponse represents the embeddings response
type EmbeddingResponse struct {
	Object   string      `json:"object"`
	Model    string      `json:"model"`
	Provider string      `json:"provider,omitempty"`
	Data     []Embedding `json:"data"`
	Usage    Usage       `json:"usage"`
}
