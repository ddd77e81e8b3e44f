// Package config provides configuration management for the application.
// Settings come from an optional YAML file, overlaid with environment
// variables (a .env file is honored when present).
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"costgate/internal/budget"
	"costgate/internal/cost"
	"costgate/internal/dispatch"
	"costgate/internal/logging"
	"costgate/internal/optimizer"
	"costgate/internal/server"
)

// DefaultPath is consulted when no explicit config file is given.
const DefaultPath = "costgate.yaml"

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig                 `yaml:"server"`
	Logging   logging.Config               `yaml:"logging"`
	Providers map[string]ProviderConfig    `yaml:"providers"`
	Pricing   map[string]cost.ModelPricing `yaml:"pricing"`
	Budgets   []budget.Budget              `yaml:"budgets"`
	Ledger    LedgerConfig                 `yaml:"ledger"`
	Recorder  budget.RecorderConfig        `yaml:"recorder"`
	Optimizer OptimizerConfig              `yaml:"optimizer"`
	Routing   dispatch.Config              `yaml:"routing"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string        `yaml:"port"`
	HTTP server.Config `yaml:",inline"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return ":" + s.Port
}

// ProviderConfig describes one backend adapter. The map key in
// Config.Providers is the provider name; Type selects the adapter and
// defaults to the name itself.
type ProviderConfig struct {
	Type    string `yaml:"type"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// LedgerConfig selects the cost ledger backing store. An empty Path keeps
// the ledger in memory.
type LedgerConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// OptimizerConfig holds the routing policy rules and per-provider latency
// penalties.
type OptimizerConfig struct {
	Rules            []optimizer.Rule   `yaml:"rules"`
	LatencyPenalties map[string]float64 `yaml:"latency_penalties"`
}

// Load reads configuration from file and environment. The file is optional:
// a missing DefaultPath is not an error, but an explicitly named path must
// exist. Environment variables override file values.
func Load(path string) (*Config, error) {
	// Hydrate the process environment from .env if one exists.
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No file, env-only configuration.
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	overlayEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration before any file or environment
// overlay.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			HTTP: server.Config{
				MetricsEnabled:  true,
				MetricsEndpoint: "/metrics",
			},
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Providers: map[string]ProviderConfig{},
		Ledger: LedgerConfig{
			RetentionDays: budget.DefaultRetentionDays,
		},
	}
}

// Validate checks the assembled configuration for internal consistency.
// Provider entries without an explicit type inherit their map key as the
// adapter type.
func (c *Config) Validate() error {
	for name, p := range c.Providers {
		if name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if p.Type == "" {
			p.Type = name
			c.Providers[name] = p
		}
	}
	for _, b := range c.Budgets {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	for _, r := range c.Optimizer.Rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if c.Ledger.RetentionDays < 0 {
		return fmt.Errorf("ledger retention_days must not be negative")
	}
	return nil
}

// envKeys maps environment variables to the providers they configure.
var envKeys = map[string]string{
	"OPENAI_API_KEY":    "openai",
	"ANTHROPIC_API_KEY": "anthropic",
	"GEMINI_API_KEY":    "gemini",
	"GROQ_API_KEY":      "groq",
}

// overlayEnv applies environment variable overrides on top of cfg. API key
// variables both override an existing provider entry and create one when
// the file omitted it.
func overlayEnv(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("COSTGATE_MASTER_KEY"); v != "" {
		cfg.Server.HTTP.MasterKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("COSTGATE_LEDGER_PATH"); v != "" {
		cfg.Ledger.Path = v
	}

	for envKey, name := range envKeys {
		v := os.Getenv(envKey)
		if v == "" {
			continue
		}
		p := cfg.Providers[name]
		p.APIKey = v
		cfg.Providers[name] = p
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		p := cfg.Providers["ollama"]
		p.BaseURL = v
		cfg.Providers["ollama"] = p
	}
}
