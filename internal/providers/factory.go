// Package providers provides the adapter factory and shared streaming
// machinery for LLM protocol adapters.
package providers

import (
	"sort"

	"costgate/internal/core"
)

// Config holds the configuration needed to construct one provider adapter.
type Config struct {
	Type    string
	APIKey  string
	BaseURL string
}

// Builder creates a provider instance from configuration
type Builder func(cfg Config) (core.Provider, error)

// registry holds all registered provider builders
var registry = make(map[string]Builder)

// Register allows provider packages to register themselves.
// This should be called from init() functions in provider packages.
func Register(providerType string, builder Builder) {
	registry[providerType] = builder
}

// Create instantiates a provider based on configuration
func Create(cfg Config) (core.Provider, error) {
	builder, ok := registry[cfg.Type]
	if !ok {
		return nil, core.NewUnknownProviderError(cfg.Type)
	}
	return builder(cfg)
}

// ListRegistered returns all registered provider types, sorted for
// deterministic iteration.
func ListRegistered() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
