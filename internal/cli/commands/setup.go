package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/geoquery/internal/cache"
	"github.com/leapstack-labs/geoquery/internal/cli/config"
	"github.com/leapstack-labs/geoquery/internal/executor"
	"github.com/leapstack-labs/geoquery/internal/llm"
	"github.com/leapstack-labs/geoquery/internal/workflow"
)

// App bundles the wired application: database driver, language model, cache
// tiers and the workflow engine on top of them.
type App struct {
	Cfg    *config.Config
	Logger *slog.Logger

	Driver  executor.Driver
	Engine  *workflow.Engine
	Store   *cache.Store
	backend *cache.SQLiteBackend
}

// Close releases the database connection and the durable cache tier.
func (a *App) Close() error {
	var firstErr error
	if a.Driver != nil {
		if err := a.Driver.Close(); err != nil {
			firstErr = err
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// buildApp wires the full application from configuration. The caller must
// Close the returned App.
func buildApp(ctx context.Context, cmd *cobra.Command) (*App, error) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	logger := config.GetLogger(cmd.Context())

	driver, err := executor.New(cfg.Database.ToExecutorConfig(), logger)
	if err != nil {
		return nil, err
	}
	if err := driver.Connect(ctx, cfg.Database.ToExecutorConfig()); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	client, err := llm.NewClient(cfg.LLM.ToClientConfig(), logger)
	if err != nil {
		_ = driver.Close()
		return nil, err
	}

	app := &App{Cfg: cfg, Logger: logger, Driver: driver}

	deps := workflow.Deps{
		Generator:   client,
		Executor:    driver,
		Schema:      executor.NewSchemaCache(driver, cfg.Database.Schema, logger),
		Synthesizer: llm.NewSynthesizer(client, logger),
		Logger:      logger,
	}

	if cfg.Cache.Enabled {
		var backend cache.Backend
		if cfg.Cache.Path != "" {
			sqlite, err := cache.NewSQLiteBackend(cfg.Cache.Path, logger)
			if err != nil {
				// The durable tier is best-effort: run memory-only instead.
				logger.Warn("durable cache unavailable, continuing memory-only", "path", cfg.Cache.Path, "error", err)
			} else {
				app.backend = sqlite
				backend = sqlite
			}
		}

		app.Store = cache.NewStore(cache.StoreConfig{
			MaxEntries: cfg.Cache.MaxEntries,
			DefaultTTL: cfg.Workflow.ToEngineConfig(cfg.Cache).CacheTTL,
			Backend:    backend,
			Logger:     logger,
		})
		deps.Cache = app.Store
		deps.Patterns = cache.NewPatternLearner(cache.LearnerConfig{
			MaxEntries: cfg.Cache.PatternMaxEntries,
			Backend:    backend,
			Logger:     logger,
		})

		if client.HasEmbedder() {
			deps.Embedder = client
			deps.Semantic = cache.NewSemanticIndex(app.Store, logger)
		}
	}

	engine, err := workflow.NewEngine(deps, cfg.Workflow.ToEngineConfig(cfg.Cache))
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Engine = engine

	return app, nil
}
