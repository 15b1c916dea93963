package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/geoquery/internal/cache"
	"github.com/leapstack-labs/geoquery/internal/cli/config"
)

// NewCacheCommand creates the cache command with its subcommands. These
// operate on the durable tier directly, without connecting to the database or
// the LLM provider.
func NewCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the answer cache",
	}

	cmd.AddCommand(newCacheStatsCommand())
	cmd.AddCommand(newCacheClearCommand())
	return cmd
}

// openBackend opens the configured durable cache tier.
func openBackend(cmd *cobra.Command) (*cache.SQLiteBackend, error) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	if !cfg.Cache.Enabled || cfg.Cache.Path == "" {
		return nil, fmt.Errorf("durable cache is not configured (set cache.path)")
	}
	return cache.NewSQLiteBackend(cfg.Cache.Path, config.GetLogger(cmd.Context()))
}

func newCacheStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show durable cache contents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := openBackend(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = backend.Close() }()

			entries, err := backend.LoadEntries()
			if err != nil {
				return fmt.Errorf("failed to load cache entries: %w", err)
			}
			patterns, err := backend.LoadPatterns()
			if err != nil {
				return fmt.Errorf("failed to load patterns: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Exact entries:   %d\n", len(entries))
			fmt.Fprintf(out, "Learned patterns: %d\n", len(patterns))
			for _, p := range patterns {
				fmt.Fprintf(out, "  %-30s ok=%d fail=%d avg=%.0fms\n",
					p.Template, p.SuccessCount, p.FailureCount, p.AverageResponseTimeMS)
			}
			return nil
		},
	}
}

func newCacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop all cached answers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := openBackend(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = backend.Close() }()

			if err := backend.ClearEntries(); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared")
			return nil
		},
	}
}
