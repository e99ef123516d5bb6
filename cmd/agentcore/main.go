// Package main provides the CLI entry point for agentcore.
//
// agentcore wraps internal/agent.Runtime: a single-session coding-agent
// loop backed by an Anthropic- or OpenAI-shaped provider, with context
// packing/summarization, tool dispatch, and a recovery supervisor.
//
// # Basic Usage
//
// Run a single prompt against the configured provider:
//
//	agentcore run "summarize this repository's test coverage"
//
// # Environment Variables
//
//   - AGENTCORE_CONFIG: path to a YAML config file (default: agentcore.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath string
)

func main() {
	root := &cobra.Command{
		Use:     "agentcore",
		Short:   "Run the agentcore coding-agent runtime",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", resolveConfigPath(""), "path to YAML config file")

	root.AddCommand(buildRunCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv("AGENTCORE_CONFIG"); env != "" {
		return env
	}
	return "agentcore.yaml"
}

func setupLogger(cfg LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
