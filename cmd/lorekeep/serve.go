package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/internal/agent/providers"
	"github.com/lorekeep/lorekeep/internal/auth"
	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/convstore"
	"github.com/lorekeep/lorekeep/internal/gateway"
	"github.com/lorekeep/lorekeep/internal/narrative"
	"github.com/lorekeep/lorekeep/internal/observability"
	narrativetools "github.com/lorekeep/lorekeep/internal/tools/narrative"
	"github.com/lorekeep/lorekeep/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant service",
		Long: `Start the assistant service.

The server will:
1. Load configuration from the specified file
2. Open the conversation store (sqlite, or in-memory without a database path)
3. Initialize LLM providers (Anthropic, OpenAI) and the narrative tool set
4. Start the HTTP server for compose/approve streaming and conversation CRUD
5. Start the metrics server and the retention janitor

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  lorekeep serve

  # Start with custom config
  lorekeep serve --config /etc/lorekeep/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "lorekeep.yaml",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("conversation store: %w", err)
	}
	defer store.Close()

	records := narrative.NewMemoryStore()

	registry := agent.NewRegistry(metrics)
	narrativetools.RegisterAll(registry, records)

	personas := agent.NewPersonaStore()
	if cfg.Assistant.PersonaDir != "" {
		if err := personas.LoadDir(cfg.Assistant.PersonaDir); err != nil {
			logger.Warn(ctx, "failed to load personas", "dir", cfg.Assistant.PersonaDir, "error", err)
		}
	}

	prompts := agent.NewPromptBuilder(personas, records)

	engine := agent.NewEngine(registry, store, prompts, logger, metrics, &agent.EngineConfig{
		MaxTurns:     cfg.Assistant.MaxTurns,
		Timeout:      cfg.Assistant.Timeout,
		StreamBuffer: cfg.Assistant.StreamBuffer,
	})
	engine.SetPersonas(personas)

	if err := registerProviders(ctx, engine, cfg, logger); err != nil {
		return err
	}

	gate := agent.NewGate(store, registry, logger, metrics)
	defaultMode, err := models.ParseMode(cfg.Assistant.DefaultMode)
	if err != nil {
		logger.Warn(ctx, "invalid default mode in config, using ask", "mode", cfg.Assistant.DefaultMode)
		defaultMode = models.ModeAsk
	}
	sessions := agent.NewSessions(engine, gate, store, logger, defaultMode)

	apiKeys := make([]auth.APIKeyConfig, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		apiKeys = append(apiKeys, auth.APIKeyConfig{
			Key:    k.Key,
			UserID: k.UserID,
			Email:  k.Email,
			Name:   k.Name,
			Worlds: k.Worlds,
		})
	}
	authService := auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
		APIKeys:     apiKeys,
	})
	if !authService.Enabled() {
		logger.Warn(ctx, "auth disabled: no jwt secret configured")
	}

	server := gateway.NewServer(cfg, logger, metrics, authService, sessions, store)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(runCtx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	logger.Info(runCtx, "lorekeep ready",
		"version", version,
		"provider", cfg.LLM.DefaultProvider,
		"mode", cfg.Assistant.DefaultMode,
	)

	<-runCtx.Done()
	logger.Info(context.Background(), "shutting down")

	return server.Shutdown(context.Background())
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

// openStore opens the durable conversation store, or falls back to the
// in-memory store when no database path is configured.
func openStore(cfg *config.Config) (convstore.Store, error) {
	if cfg.Database.Path == "" {
		return convstore.NewMemoryStore(), nil
	}
	return convstore.NewSQLiteStore(&convstore.SQLiteConfig{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
}

// registerProviders wires each configured LLM backend into the engine.
// Providers without an API key are skipped; the engine rejects runs when
// none are left.
func registerProviders(ctx context.Context, engine *agent.Engine, cfg *config.Config, logger *observability.Logger) error {
	registered := 0

	for name, pc := range cfg.LLM.Providers {
		if pc.APIKey == "" {
			logger.Warn(ctx, "skipping provider without api key", "provider", name)
			continue
		}

		switch name {
		case "anthropic":
			provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
			})
			if err != nil {
				return fmt.Errorf("anthropic provider: %w", err)
			}
			engine.RegisterProvider(provider)
			registered++

		case "openai":
			provider, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
			})
			if err != nil {
				return fmt.Errorf("openai provider: %w", err)
			}
			engine.RegisterProvider(provider)
			registered++

		default:
			logger.Warn(ctx, "unknown provider in config", "provider", name)
		}
	}

	if registered == 0 {
		logger.Warn(ctx, "no llm providers configured; compose requests will fail")
		return nil
	}

	engine.SetDefaultProvider(cfg.LLM.DefaultProvider)
	return nil
}
