// Package main provides the CLI entry point for agentcore.
//
// run.go implements the "run" command: a one-shot prompt against the
// configured provider, streaming model/tool events to stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/corelayer/agentcore/internal/agent"
	agentctx "github.com/corelayer/agentcore/internal/agent/context"
	"github.com/corelayer/agentcore/internal/agent/providers"
	"github.com/corelayer/agentcore/internal/sessions"
	"github.com/corelayer/agentcore/pkg/models"
)

func buildRunCmd() *cobra.Command {
	var sessionKey string

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single prompt through the agentcore runtime",
		Long: `Run a single prompt through the agentcore runtime and stream the
model's response, tool calls, and context-packing diagnostics to stdout.

If no prompt argument is given, the prompt is read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := resolvePrompt(args)
			if err != nil {
				return err
			}
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			setupLogger(cfg.Logging)
			return runPrompt(cmd.Context(), cfg, sessionKey, prompt)
		},
	}

	cmd.Flags().StringVar(&sessionKey, "session", "cli", "session key to resume a prior conversation")
	return cmd
}

func resolvePrompt(args []string) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	data, err := readAllStdin()
	if err != nil {
		return "", fmt.Errorf("reading prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(data)
	if prompt == "" {
		return "", errors.New("no prompt given: pass one as an argument or pipe it on stdin")
	}
	return prompt, nil
}

func readAllStdin() (string, error) {
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return sb.String(), err
		}
	}
	return sb.String(), nil
}

func buildProvider(cfg LLMConfig) (agent.LLMProvider, error) {
	switch cfg.Provider {
	case "", "anthropic":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       apiKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
			MaxRetries:   3,
			RetryDelay:   time.Second,
		})
	case "openai":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return providers.NewOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want anthropic or openai)", cfg.Provider)
	}
}

func buildRuntime(cfg Config, provider agent.LLMProvider, store sessions.Store) *agent.Runtime {
	opts := agent.DefaultRuntimeOptions()
	opts.MaxIterations = cfg.Tools.MaxIterations
	opts.ToolParallelism = cfg.Tools.ToolParallelism
	opts.ToolTimeout = cfg.Tools.ToolTimeout

	runtime := agent.NewRuntimeWithOptions(provider, store, opts)
	if cfg.LLM.DefaultModel != "" {
		runtime.SetDefaultModel(cfg.LLM.DefaultModel)
	}
	runtime.SetMaxIterations(cfg.Tools.MaxIterations)

	packOpts := agentctx.DefaultPackOptions()
	packOpts.MaxChars = cfg.Context.CharWindow
	runtime.SetPackOptions(&packOpts)

	pruning := agentctx.DefaultContextPruningSettings()
	pruning.TTL = cfg.Context.CacheTTL
	runtime.SetContextPruning(&pruning)

	if cfg.Context.Summarize {
		summarizeCfg := agentctx.DefaultSummarizationConfig()
		runtime.SetSummarizationConfig(&summarizeCfg)
	}

	return runtime
}

func runPrompt(ctx context.Context, cfg Config, sessionKey, prompt string) error {
	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("building provider: %w", err)
	}

	store := sessions.NewMemoryStore()
	runtime := buildRuntime(cfg, provider, store)

	session, err := store.GetOrCreate(ctx, sessionKey, "agentcore", models.ChannelType("cli"), sessionKey)
	if err != nil {
		return fmt.Errorf("resolving session: %w", err)
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   prompt,
		Direction: models.DirectionInbound,
		CreatedAt: time.Now(),
	}

	events, err := runtime.ProcessStream(ctx, session, msg)
	if err != nil {
		return fmt.Errorf("starting run: %w", err)
	}

	for event := range events {
		printEvent(event)
	}
	return nil
}

func printEvent(event models.AgentEvent) {
	switch event.Type {
	case models.AgentEventModelDelta:
		if event.Stream != nil {
			fmt.Print(event.Stream.Delta)
		}
	case models.AgentEventToolStarted:
		if event.Tool != nil {
			fmt.Fprintf(os.Stderr, "\n[tool] %s\n", event.Tool.Name)
		}
	case models.AgentEventContextPacked:
		if event.Context != nil {
			fmt.Fprintf(os.Stderr, "[context] %d messages packed, %d dropped\n", event.Context.Included, event.Context.Dropped)
		}
	case models.AgentEventRunError:
		if event.Error != nil {
			fmt.Fprintf(os.Stderr, "\n[error] %s\n", event.Error.Message)
		}
	case models.AgentEventRunFinished:
		fmt.Println()
	}
}
