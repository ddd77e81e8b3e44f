package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costgate/internal/core"
)

type nullProvider struct{}

func (nullProvider) ChatCompletion(context.Context, *core.ChatRequest) (*core.ChatResponse, error) {
	return nil, nil
}
func (nullProvider) StreamChatCompletion(context.Context, *core.ChatRequest) (core.ChunkStream, error) {
	return nil, nil
}
func (nullProvider) Embeddings(context.Context, *core.EmbeddingRequest) (*core.EmbeddingResponse, error) {
	return nil, nil
}
func (nullProvider) HealthCheck(context.Context) error { return nil }
func (nullProvider) ProviderType() string              { return "null" }
func (nullProvider) SupportsModel(string) bool         { return false }

func TestCreateRegistered(t *testing.T) {
	Register("null", func(cfg Config) (core.Provider, error) {
		return nullProvider{}, nil
	})

	p, err := Create(Config{Type: "null"})
	require.NoError(t, err)
	assert.Equal(t, "null", p.ProviderType())

	assert.Contains(t, ListRegistered(), "null")
}

func TestCreateUnknownType(t *testing.T) {
	_, err := Create(Config{Type: "does-not-exist"})
	require.Error(t, err)
	assert.Equal(t, core.ErrorTypeUnknownProvider, core.ErrTypeOf(err))
}
