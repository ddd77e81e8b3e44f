package core

import "context"

// ChunkStream is a finite, non-restartable sequence of streaming chunks.
// Next returns io.EOF when the stream is exhausted. Callers must either
// drain the stream or call Close to release the underlying connection;
// Close is idempotent.
type ChunkStream interface {
	Next() (*StreamingChunk, error)
	Close() error
}

// Provider defines the uniform contract every protocol adapter implements.
// The dispatcher never branches on provider identity outside adapter
// selection.
type Provider interface {
	// ChatCompletion executes a buffered chat completion request
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// StreamChatCompletion executes a streaming request. The returned
	// stream yields canonical chunks already stripped of empty-choice
	// events; malformed fragments are skipped, not surfaced.
	StreamChatCompletion(ctx context.Context, req *ChatRequest) (ChunkStream, error)

	// Embeddings sends an embeddings request to the provider.
	// Backends with embeddings disabled return a feature-unavailable error.
	Embeddings(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)

	// HealthCheck verifies the backend is reachable. Returns nil if healthy.
	HealthCheck(ctx context.Context) error

	// ProviderType returns the provider type string ("openai", "anthropic", ...)
	ProviderType() string

	// SupportsModel reports whether this adapter can serve the given model
	SupportsModel(model string) bool
}
