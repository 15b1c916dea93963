package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/geoquery/internal/cli/config"
)

// starterConfig mirrors the config file layout with yaml tags so the
// generated file round-trips through the loader.
type starterConfig struct {
	LogFormat string `yaml:"log_format"`

	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Type     string `yaml:"type"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Database string `yaml:"database"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Schema   string `yaml:"schema"`
	} `yaml:"database"`

	LLM struct {
		Provider       string `yaml:"provider"`
		Model          string `yaml:"model"`
		EmbeddingModel string `yaml:"embedding_model"`
		APIKey         string `yaml:"api_key"`
	} `yaml:"llm"`

	Cache struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"cache"`
}

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a starter configuration file",
		Long: `Write a starter geoquery.yaml with the common settings filled in.

Secrets reference environment variables (${GEOQUERY_DB_PASSWORD},
${OPENAI_API_KEY}) rather than being stored in the file.`,
		Example: `  # Initialize in the current directory
  geoquery init

  # Initialize in a new directory
  geoquery init my-project

  # Overwrite an existing config
  geoquery init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
				if err := os.MkdirAll(dir, 0o750); err != nil {
					return fmt.Errorf("failed to create directory: %w", err)
				}
			}

			path := filepath.Join(dir, config.ConfigFileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			data, err := yaml.Marshal(starter())
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Edit the database and llm sections, then run: geoquery ask \"...\"")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func starter() starterConfig {
	var c starterConfig
	c.LogFormat = "text"

	c.Server.Host = "127.0.0.1"
	c.Server.Port = 8080

	c.Database.Type = "postgres"
	c.Database.Host = "localhost"
	c.Database.Port = 5432
	c.Database.Database = "tourism"
	c.Database.User = "geoquery"
	c.Database.Password = "${GEOQUERY_DB_PASSWORD}"
	c.Database.Schema = "public"

	c.LLM.Provider = "openai"
	c.LLM.Model = "gpt-4o-mini"
	c.LLM.EmbeddingModel = "text-embedding-3-small"
	c.LLM.APIKey = "${OPENAI_API_KEY}"

	c.Cache.Enabled = true
	c.Cache.Path = "geoquery_cache.db"
	return c
}
