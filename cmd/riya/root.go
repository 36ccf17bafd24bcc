package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/scrypster/riya/internal/config"
	"github.com/scrypster/riya/internal/engine"
	"github.com/scrypster/riya/internal/llm"
	"github.com/scrypster/riya/internal/logging"
	"github.com/scrypster/riya/internal/notify"
	"github.com/scrypster/riya/internal/observe"
	"github.com/scrypster/riya/internal/policy"
	"github.com/scrypster/riya/internal/server"
	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/internal/storage/postgres"
	"github.com/scrypster/riya/internal/storage/sqlite"
)

// cli carries state shared by every subcommand once the root
// PersistentPreRunE has loaded the configuration.
type cli struct {
	cfgFile  string
	logLevel string

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:          "riya",
		Short:        "Cognitive memory and proactive engagement engine",
		Version:      server.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (overrides "+config.EnvPrefix+"_CONFIG_FILE)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(c),
		newDispatchCmd(c),
		newPredictCmd(c),
		newDepthCmd(c),
		newRescoreCmd(c),
		newEndSessionCmd(c),
		newBackupCmd(c),
	)
	return root
}

// load resolves the configuration and builds the root logger.
func (c *cli) load(logOut io.Writer) error {
	if c.cfgFile != "" {
		if err := os.Setenv(config.EnvPrefix+"_CONFIG_FILE", c.cfgFile); err != nil {
			return err
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}

	c.cfg = cfg
	c.logger = logging.NewWithWriter(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, logOut)
	return nil
}

// runtime is an opened store with an engine built on top of it.
type runtime struct {
	repo   storage.Repository
	engine *engine.Engine
}

// open builds the engine against the configured store and reasoning
// provider. dispatcher may be nil for commands that never deliver.
func (c *cli) open(ctx context.Context, dispatcher notify.Dispatcher) (*runtime, error) {
	repo, err := openRepository(ctx, c.cfg, c.logger)
	if err != nil {
		return nil, err
	}

	eng, err := c.buildEngine(repo, dispatcher)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	return &runtime{repo: repo, engine: eng}, nil
}

func (c *cli) buildEngine(repo storage.Repository, dispatcher notify.Dispatcher) (*engine.Engine, error) {
	gen, err := llm.NewTextGenerator(c.cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("create text generator: %w", err)
	}
	embedder, err := llm.NewEmbeddingGenerator(c.cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("create embedding generator: %w", err)
	}

	pol := policy.DefaultPolicy()
	if c.cfg.Engine.PolicyFile != "" {
		pol, err = policy.Load(c.cfg.Engine.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("load policy: %w", err)
		}
	}

	metrics := observe.DefaultMetrics()
	reasoner := llm.NewService(gen, llm.ServiceConfig{
		Timeout:       c.cfg.LLM.Timeout,
		RatePerSecond: c.cfg.LLM.RatePerSecond,
		Burst:         c.cfg.LLM.Burst,
	}, metrics, c.logger)

	return engine.New(engine.ConfigFrom(c.cfg), engine.Deps{
		Repo:       repo,
		Reasoner:   reasoner,
		Embedder:   embedder,
		Dispatcher: dispatcher,
		Policy:     pol,
		Metrics:    metrics,
		Logger:     c.logger,
	})
}

// Close releases the engine subscriptions and the store.
func (r *runtime) Close() error {
	r.engine.Close()
	return r.repo.Close()
}

func openRepository(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.Repository, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		store, err := postgres.NewStore(ctx, cfg.Storage.PostgresDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		store, err := sqlite.NewStore(ctx, cfg.SQLitePath(), logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
