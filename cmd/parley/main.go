// Parley is a conversational AI agent service.
//
// It exposes an HTTP API for one-shot generation and streaming chat,
// runs a bounded tool-calling loop against a hosted completion
// service, and persists conversations to a local SQLite database.
// Configuration is loaded from environment variables (optionally via a
// .env file) plus an optional YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	parley serve             Start the API server
//	parley ask <question>    Ask a single question (for testing)
//	parley version           Print version and build information
//	parley -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/parleyai/parley/internal/agent"
	"github.com/parleyai/parley/internal/api"
	"github.com/parleyai/parley/internal/buildinfo"
	"github.com/parleyai/parley/internal/config"
	"github.com/parleyai/parley/internal/fetch"
	"github.com/parleyai/parley/internal/llm"
	"github.com/parleyai/parley/internal/memory"
	"github.com/parleyai/parley/internal/search"
	"github.com/parleyai/parley/internal/tools"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the parley command. All OS-level
// dependencies are injected as parameters: ctx controls the lifetime of
// the process, stdout and stderr receive all program output, and args
// is os.Args[1:]. Arguments are parsed by hand — the flag package
// relies on package-level globals, which makes it impossible to call
// run() concurrently from tests, and the argument surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: parley ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Parley - Conversational AI Agent Service")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: parley [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/parley/config.yaml, /etc/parley/config.yaml")
	fmt.Fprintln(w, "Credentials come from the environment (or a .env file):")
	fmt.Fprintf(w, "  %s, %s, %s, %s\n",
		config.EnvEndpoint, config.EnvAPIKey, config.EnvAPIVersion, config.EnvDeployment)
	return nil
}

// runAsk handles the "parley ask <question>" subcommand. It boots a
// minimal agent (no conversation store, no server) and processes a
// single question, printing the response to stdout. Useful for smoke
// tests and debugging without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	client := newCompletionClient(cfg, logger)
	registry := newToolRegistry(nil, logger)

	loop := agent.NewLoop(logger, client, registry, cfg.Agent.MaxIterations)
	service := agent.NewService(logger, loop, nil, cfg.Agent.HistoryContext)

	result, err := service.Generate(ctx, question, "cli-test")
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, result.Answer)
	return nil
}

// runServe handles the "parley serve" subcommand. It is the primary
// operating mode: loads config, opens the conversation store, builds
// the tool registry and agent loop, starts the HTTP server, and blocks
// until a shutdown signal arrives.
//
// The conversation store is optional. If the database cannot be
// opened, the server starts anyway in a degraded mode: generation
// works, memory endpoints report the outage, and nothing is persisted.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Parley", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure logger now that the desired level and format are
	// known. The initial Info-level text logger covers only the
	// startup banner.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already validated by config.Validate.
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"deployment", cfg.Completion.Deployment,
		"database", cfg.Store.DatabaseFile(),
	)

	// --- Conversation store ---
	// SQLite-backed conversation memory and user preferences. A store
	// failure is not fatal: the agent still answers, it just cannot
	// remember.
	var store memory.Store
	sqlStore, err := memory.NewSQLiteStore(cfg.Store.DatabaseFile())
	if err != nil {
		logger.Warn("conversation store unavailable, running without persistence",
			"path", cfg.Store.DatabaseFile(), "error", err)
	} else {
		store = sqlStore
		defer sqlStore.Close()
		logger.Info("conversation store opened", "path", cfg.Store.DatabaseFile())
	}

	// --- Completion client ---
	client := newCompletionClient(cfg, logger)

	// --- Tool registry ---
	registry := newToolRegistry(store, logger)
	logger.Info("tools registered", "count", len(registry.Names()), "tools", registry.Names())

	// --- Agent loop and conversation service ---
	loop := agent.NewLoop(logger, client, registry, cfg.Agent.MaxIterations)
	service := agent.NewService(logger, loop, store, cfg.Agent.HistoryContext)

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, service, client, registry, store, cfg.Store, logger)

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	// Blocks until the server is shut down (via context cancellation
	// or fatal error).
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Parley stopped")
	return nil
}

// newCompletionClient builds the hosted completion client from config.
func newCompletionClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	return llm.NewAzureClient(
		cfg.Completion.Endpoint,
		cfg.Completion.APIKey,
		cfg.Completion.APIVersion,
		cfg.Completion.Deployment,
		llm.AzureOptions{
			Temperature: cfg.Completion.Temperature,
			MaxTokens:   cfg.Completion.MaxTokens,
		},
		logger,
	)
}

// newToolRegistry assembles the full tool set: built-in tools plus web
// search and page fetch. Search uses the public DuckDuckGo instant
// answer API and needs no credentials, so it is always registered.
func newToolRegistry(store memory.Store, logger *slog.Logger) *tools.Registry {
	registry := tools.NewRegistry(store)

	mgr := search.NewManager("duckduckgo")
	mgr.Register(search.NewDuckDuckGo())
	search.RegisterTools(registry, mgr)

	fetch.RegisterTool(registry, fetch.New())

	return registry
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the configuration, then validates it.
// An empty path from FindConfig means env-only configuration.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, cfgPath, nil
}
