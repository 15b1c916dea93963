// Package cli provides the command-line interface for geoquery.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/geoquery/internal/cli/commands"
	"github.com/leapstack-labs/geoquery/internal/cli/config"
)

var cfgFile string

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "geoquery",
		Short: "geoquery - natural language questions over a spatial database",
		Long: `geoquery answers natural-language questions about a spatial tourism
database by generating SQL with a language model, executing it, and
synthesizing the results into an answer.

Answers are cached across exact, semantic and pattern tiers, and failed
SQL is classified and retried within strict budgets.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" || cmd.Name() == "version" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			logger := newLogger(cmd, cfg)
			ctx := config.WithConfig(cmd.Context(), cfg)
			ctx = config.WithLogger(ctx, logger)
			cmd.SetContext(ctx)

			if cfg.Verbose {
				if configFile := config.GetConfigFileUsed(); configFile != "" {
					fmt.Fprintf(os.Stderr, "Using config file: %s\n", configFile)
				}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
Natural-language SQL question answering
`)

	// Global persistent flags; names here must match the config flag map.
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./geoquery.yaml)")
	pf.BoolP("verbose", "v", false, "Verbose output")
	pf.String("log-format", "", "Log format (text|json)")

	pf.String("db-type", "", "Database type (postgres|duckdb)")
	pf.String("db-host", "", "Database host")
	pf.Int("db-port", 0, "Database port")
	pf.String("db-name", "", "Database name")
	pf.String("db-user", "", "Database user")
	pf.String("db-password", "", "Database password")
	pf.String("db-schema", "", "Database schema")
	pf.String("db-path", "", "Database file path (duckdb)")

	pf.String("llm-provider", "", "LLM provider (openai|ollama)")
	pf.String("llm-model", "", "Completion model name")
	pf.String("llm-embedding-model", "", "Embedding model name")
	pf.String("llm-api-key", "", "Provider API key")
	pf.String("llm-base-url", "", "Provider base URL")

	pf.Bool("cache-enabled", true, "Enable the answer cache")
	pf.String("cache-path", "", "SQLite file for the durable cache tier")

	pf.Int("max-execution-retries", 0, "Execution-level retry budget")
	pf.Int("max-workflow-retries", 0, "Workflow-level retry budget")
	pf.Int("max-iterations", 0, "Result supplementation iteration bound")
	pf.Int("limit", 0, "Maximum result rows per query")

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewInitCommand())
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewAskCommand())
	rootCmd.AddCommand(commands.NewCacheCommand())

	return rootCmd
}

// newLogger builds the application logger from config.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
