// Package main provides the CLI entry point for the agentcore runtime.
//
// config.go loads the YAML configuration file used to select providers
// and tune the context manager / tool execution knobs exposed by
// internal/agent.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the agentcore CLI.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Context ContextConfig `yaml:"context"`
	Tools   ToolsConfig   `yaml:"tools"`
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	// Provider is "anthropic" or "openai".
	Provider     string `yaml:"provider"`
	DefaultModel string `yaml:"default_model"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
}

// ContextConfig tunes internal/agent/context.Manager.
type ContextConfig struct {
	CharWindow      int     `yaml:"char_window"`
	ThresholdRatio  float64 `yaml:"threshold_ratio"`
	TargetRatio     float64 `yaml:"target_ratio"`
	Summarize       bool    `yaml:"summarize"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
}

// ToolsConfig configures the dispatcher and approval policy.
type ToolsConfig struct {
	MaxIterations   int           `yaml:"max_iterations"`
	ToolParallelism int           `yaml:"tool_parallelism"`
	ToolTimeout     time.Duration `yaml:"tool_timeout"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns sane defaults for running without a config file.
func DefaultConfig() Config {
	return Config{
		LLM: LLMConfig{
			Provider: "anthropic",
		},
		Context: ContextConfig{
			CharWindow:     30000,
			ThresholdRatio: 0.8,
			TargetRatio:    0.5,
			Summarize:      false,
			CacheTTL:       5 * time.Minute,
		},
		Tools: ToolsConfig{
			MaxIterations:   20,
			ToolParallelism: 4,
			ToolTimeout:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// LoadConfig reads a YAML config file, merging it over DefaultConfig. A
// missing path is not an error; the caller falls back to defaults plus
// environment-provided API keys.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
