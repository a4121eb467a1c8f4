// Command loremaster serves read-only natural-language queries over
// tabletop campaign lore.
//
// Usage:
//
//	loremaster serve --config config.yaml
//	loremaster validate --config config.yaml
//	loremaster schema
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/invopop/jsonschema"

	"github.com/tavernkeep/loremaster"
	"github.com/tavernkeep/loremaster/pkg/assistant"
	"github.com/tavernkeep/loremaster/pkg/campaigns"
	"github.com/tavernkeep/loremaster/pkg/config"
	"github.com/tavernkeep/loremaster/pkg/embedders"
	"github.com/tavernkeep/loremaster/pkg/graph"
	"github.com/tavernkeep/loremaster/pkg/llms"
	"github.com/tavernkeep/loremaster/pkg/logger"
	"github.com/tavernkeep/loremaster/pkg/observability"
	"github.com/tavernkeep/loremaster/pkg/prompts"
	"github.com/tavernkeep/loremaster/pkg/server"
	"github.com/tavernkeep/loremaster/pkg/vector"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the assistant query service."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for the configuration."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"config.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (compact or json)." default:"compact"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(loremaster.GetVersion().String())
	return nil
}

// ValidateCmd loads the configuration and reports the first problem.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	loader, err := config.NewLoader(config.LoaderOptions{Path: cli.Config})
	if err != nil {
		return err
	}
	if _, err := loader.Load(); err != nil {
		return err
	}
	fmt.Printf("%s: OK\n", cli.Config)
	return nil
}

// SchemaCmd emits the configuration JSON Schema for editor tooling.
type SchemaCmd struct{}

func (c *SchemaCmd) Run() error {
	reflector := jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(&config.Config{})

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// ServeCmd starts the HTTP service.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	// A .env next to the binary is a dev convenience; absence is fine.
	_ = config.LoadDotEnv(".env")

	loader, err := config.NewLoader(config.LoaderOptions{
		Path:  cli.Config,
		Watch: c.Watch,
		OnChange: func(next *config.Config) error {
			// Only the log level hot-reloads; everything else requires
			// a restart.
			level, err := logger.ParseLevel(next.Logging.Level)
			if err != nil {
				return err
			}
			logger.SetLevel(level)
			return nil
		},
	})
	if err != nil {
		return err
	}
	defer loader.Stop()

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	if err := initLogging(cli, cfg); err != nil {
		return err
	}

	manager := observability.NewManager(observability.Config{
		Tracing: observability.TracerConfig{
			Enabled:      cfg.Observability.Enabled,
			EndpointURL:  cfg.Observability.EndpointURL,
			SamplingRate: cfg.Observability.SamplingRate,
			ServiceName:  cfg.Observability.ServiceName,
			Environment:  cfg.Env,
			Release:      cfg.Release,
		},
		Metrics: observability.MetricsConfig{Enabled: cfg.Observability.Metrics},
	})
	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}

	registry, err := campaigns.NewPostgresRegistry(cfg.Metadata)
	if err != nil {
		return err
	}
	defer registry.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := registry.Ping(pingCtx); err != nil {
		pingCancel()
		return fmt.Errorf("metadata database unreachable: %w", err)
	}
	pingCancel()

	store, err := vector.NewStore(cfg.Vector)
	if err != nil {
		return err
	}
	defer store.Close()

	embedder, err := embedders.NewOpenAIEmbedder(cfg.Embedder)
	if err != nil {
		return err
	}

	executor, err := graph.NewNeo4jExecutor(cfg.Graph)
	if err != nil {
		return err
	}

	promptClient := prompts.NewRegistryClient(cfg.Prompts)
	llmClient := llms.NewOpenAIClient(cfg.LLM)

	search := vector.NewSearchAdapter(store, embedder, cfg.Assistant.VectorKMax)
	cache := assistant.NewQueryCache(cfg.Cache.TTL)
	defer cache.Close()

	orchestrator := assistant.NewOrchestrator(
		registry,
		assistant.NewPlanner(promptClient, llmClient, cfg.Assistant.PlanningModel),
		assistant.NewCollector(search, cfg.Assistant.VectorKDefault),
		assistant.NewCypherGenerator(promptClient, llmClient, cfg.Assistant.CypherModel),
		assistant.NewSynthesizer(promptClient, llmClient, cfg.Assistant.SynthesisModel),
		executor,
		cache,
		assistant.Options{
			OverallTimeout:   cfg.Assistant.OverallTimeout,
			MaxQueryLength:   cfg.Assistant.MaxQueryLength,
			IncludeDebugInfo: !cfg.IsProduction(),
		},
	)

	srv := server.New(cfg.Server, orchestrator)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	if err := executor.Close(shutdownCtx); err != nil {
		slog.Error("graph driver close failed", "error", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		slog.Error("observability shutdown failed", "error", err)
	}

	return nil
}

func initLogging(cli *CLI, cfg *config.Config) error {
	levelStr := cfg.Logging.Level
	if cli.LogLevel != "info" {
		levelStr = cli.LogLevel
	}
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return err
	}

	format := cfg.Logging.Format
	if cli.LogFormat != "compact" {
		format = cli.LogFormat
	}

	output := os.Stderr
	logPath := cfg.Logging.File
	if cli.LogFile != "" {
		logPath = cli.LogFile
	}
	if logPath != "" {
		f, cleanup, err := logger.OpenLogFile(logPath)
		if err != nil {
			return err
		}
		_ = cleanup // held for process lifetime
		output = f
	}

	logger.Init(level, output, format)
	return nil
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("loremaster"),
		kong.Description("Read-only assistant over tabletop campaign lore."),
		kong.UsageOnError(),
	)
	if err := kctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
