package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costgate/internal/core"
)

func intPtr(v int) *int { return &v }

func TestConvertRequestSystemExtraction(t *testing.T) {
	req := &core.ChatRequest{
		Model: "claude-sonnet-4-20250514",
		Messages: []core.Message{
			{Role: core.RoleSystem, Content: "You are terse."},
			{Role: core.RoleUser, Content: "hi"},
			{Role: core.RoleSystem, Content: "Answer in English."},
		},
	}
	wire := convertRequest(req)

	assert.Equal(t, "You are terse.\n\nAnswer in English.", wire.System)
	require.Len(t, wire.Messages, 1)
	assert.Equal(t, core.RoleUser, wire.Messages[0].Role)
	assert.Equal(t, defaultMaxTokens, wire.MaxTokens, "max_tokens is mandatory on this API")
}

func TestConvertRequestExplicitMaxTokens(t *testing.T) {
	req := &core.ChatRequest{Model: "claude-sonnet-4-20250514", MaxTokens: intPtr(128)}
	assert.Equal(t, 128, convertRequest(req).MaxTokens)
}

func TestMapStopReason(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"end_turn", "stop"},
		{"stop_sequence", "stop"},
		{"max_tokens", "length"},
		{"tool_use", "tool_use"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapStopReason(tt.in), tt.in)
	}
}

func TestSupportsModel(t *testing.T) {
	p := New("key")
	assert.True(t, p.SupportsModel("claude-sonnet-4-20250514"))
	assert.True(t, p.SupportsModel("claude-3-5-haiku-latest"))
	assert.False(t, p.SupportsModel("gpt-4o"))
}

func TestChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		var wire chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
		assert.Equal(t, "You are terse.", wire.System)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "msg_01",
			"model": "claude-sonnet-4-20250514",
			"role": "assistant",
			"content": [{"type": "text", "text": "hello"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 4}
		}`)
	}))
	defer server.Close()

	p := New("test-key")
	p.SetBaseURL(server.URL)

	resp, err := p.ChatCompletion(context.Background(), &core.ChatRequest{
		Model: "claude-sonnet-4-20250514",
		Messages: []core.Message{
			{Role: core.RoleSystem, Content: "You are terse."},
			{Role: core.RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", resp.Provider)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 16, resp.Usage.TotalTokens)
}

func TestStreamChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: message_start\n")
		io.WriteString(w, "data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_01\",\"model\":\"claude-sonnet-4-20250514\",\"usage\":{\"input_tokens\":10,\"output_tokens\":1}}}\n\n")
		io.WriteString(w, "event: ping\n")
		io.WriteString(w, "data: {\"type\":\"ping\"}\n\n")
		io.WriteString(w, "event: content_block_delta\n")
		io.WriteString(w, "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n")
		io.WriteString(w, "event: content_block_delta\n")
		io.WriteString(w, "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n")
		io.WriteString(w, "event: message_delta\n")
		io.WriteString(w, "data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":2}}\n\n")
		io.WriteString(w, "event: message_stop\n")
		io.WriteString(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	p := New("test-key")
	p.SetBaseURL(server.URL)

	stream, err := p.StreamChatCompletion(context.Background(), &core.ChatRequest{
		Model:    "claude-sonnet-4-20250514",
		Messages: []core.Message{{Role: core.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	var content string
	var finish string
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, "anthropic", chunk.Provider)
		assert.Equal(t, "msg_01", chunk.ID)
		for _, c := range chunk.Choices {
			content += c.Delta.Content
			if c.FinishReason != nil {
				finish = *c.FinishReason
			}
		}
	}
	assert.Equal(t, "Hello", content)
	assert.Equal(t, "stop", finish)

	reporter, ok := stream.(interface{ Usage() *core.Usage })
	require.True(t, ok)
	require.NotNil(t, reporter.Usage())
	assert.Equal(t, 10, reporter.Usage().PromptTokens)
	assert.Equal(t, 2, reporter.Usage().CompletionTokens)
	assert.Equal(t, 12, reporter.Usage().TotalTokens)
}

func TestHealthCheckUsesModelsEndpoint(t *testing.T) {
	var completions int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/messages" {
			completions++
		}
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":[{"id":"claude-sonnet-4-20250514"}]}`)
	}))
	defer server.Close()

	p := New("test-key")
	p.SetBaseURL(server.URL)

	require.NoError(t, p.HealthCheck(context.Background()))
	assert.Zero(t, completions, "health checks must not generate tokens")
}

func TestEmbeddingsUnavailable(t *testing.T) {
	p := New("key")
	_, err := p.Embeddings(context.Background(), &core.EmbeddingRequest{Model: "claude-embed"})
	require.Error(t, err)
	assert.Equal(t, core.ErrorTypeFeatureUnavailable, core.ErrTypeOf(err))
}
