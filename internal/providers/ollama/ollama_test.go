package ollama

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

func TestSupportsModel(t *testing.T) {
	p := New()
	assert.True(t, p.SupportsModel("llama3.2:1b"))
	assert.True(t, p.SupportsModel("mistral"))
	assert.True(t, p.SupportsModel("qwen2.5-coder:7b"))
	assert.True(t, p.SupportsModel("nomic-embed-text"))
	assert.False(t, p.SupportsModel("gpt-4o"))
	assert.False(t, p.SupportsModel("claude-sonnet-4"))
}

func TestConvertRequestOptions(t *testing.T) {
	req := &core.ChatRequest{
		Model:     "llama3.2:1b",
		Messages:  []core.Message{{Role: core.RoleUser, Content: "hi"}},
		MaxTokens: intPtr(50),
		Stop:      []string{"###"},
	}
	wire := convertRequest(req)
	require.NotNil(t, wire.Options)
	require.NotNil(t, wire.Options.NumPredict)
	assert.Equal(t, 50, *wire.Options.NumPredict)
	assert.Equal(t, []string{"###"}, wire.Options.Stop)

	bare := convertRequest(&core.ChatRequest{Model: "llama3.2:1b"})
	assert.Nil(t, bare.Options)
}

func TestChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var wire chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
		assert.False(t, wire.Stream)

		io.WriteString(w, `{
			"model": "llama3.2:1b",
			"created_at": "2026-08-30T10:00:00Z",
			"message": {"role": "assistant", "content": "hello"},
			"done": true,
			"done_reason": "stop",
			"prompt_eval_count": 11,
			"eval_count": 3
		}`)
	}))
	defer server.Close()

	p := New()
	p.SetBaseURL(server.URL)

	resp, err := p.ChatCompletion(context.Background(), &core.ChatRequest{
		Model:    "llama3.2:1b",
		Messages: []core.Message{{Role: core.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ollama", resp.Provider)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 14, resp.Usage.TotalTokens)
}

func TestStreamChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wire chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
		assert.True(t, wire.Stream)

		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, `{"model":"llama3.2:1b","created_at":"2026-08-30T10:00:00Z","message":{"role":"assistant","content":"Hel"},"done":false}`+"\n")
		io.WriteString(w, `{"model":"llama3.2:1b","created_at":"2026-08-30T10:00:01Z","message":{"role":"assistant","content":"lo"},"done":false}`+"\n")
		io.WriteString(w, `{"model":"llama3.2:1b","created_at":"2026-08-30T10:00:02Z","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":6,"eval_count":2}`+"\n")
	}))
	defer server.Close()

	p := New()
	p.SetBaseURL(server.URL)

	stream, err := p.StreamChatCompletion(context.Background(), &core.ChatRequest{
		Model:    "llama3.2:1b",
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
		assert.Equal(t, "ollama", chunk.Provider)
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
	assert.Equal(t, 6, reporter.Usage().PromptTokens)
	assert.Equal(t, 2, reporter.Usage().CompletionTokens)
}

func TestEmbeddings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		io.WriteString(w, `{"model": "nomic-embed-text", "embeddings": [[0.5, 0.6], [0.7, 0.8]], "prompt_eval_count": 4}`)
	}))
	defer server.Close()

	p := New()
	p.SetBaseURL(server.URL)

	resp, err := p.Embeddings(context.Background(), &core.EmbeddingRequest{
		Model: "nomic-embed-text",
		Input: []string{"a", "b"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, []float64{0.7, 0.8}, resp.Data[1].Embedding)
	assert.Equal(t, 4, resp.Usage.PromptTokens)
}
