// Package config loads and validates geoquery configuration from file,
// environment variables and CLI flags. It is decoupled from command wiring so
// the server and tests can load configuration directly.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/geoquery/internal/executor"
	"github.com/leapstack-labs/geoquery/internal/llm"
	"github.com/leapstack-labs/geoquery/internal/workflow"
)

// ServerConfig holds the HTTP API listener configuration.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds the target database configuration.
type DatabaseConfig struct {
	Type string `koanf:"type"` // postgres, duckdb

	// Network databases
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Schema   string `koanf:"schema"`

	// File-based databases (DuckDB)
	Path string `koanf:"path"`

	// QueryTimeoutSeconds bounds each statement.
	QueryTimeoutSeconds int `koanf:"query_timeout_seconds"`

	// Additional driver-specific options
	Options map[string]string `koanf:"options"`
}

// ToExecutorConfig converts to the executor package's configuration.
func (d DatabaseConfig) ToExecutorConfig() executor.Config {
	return executor.Config{
		Type:         d.Type,
		Host:         d.Host,
		Port:         d.Port,
		Database:     d.Database,
		Username:     d.User,
		Password:     d.Password,
		Schema:       d.Schema,
		Path:         d.Path,
		QueryTimeout: time.Duration(d.QueryTimeoutSeconds) * time.Second,
		Options:      d.Options,
	}
}

// LLMConfig holds language-model provider configuration.
type LLMConfig struct {
	Provider       string `koanf:"provider"` // openai, ollama
	Model          string `koanf:"model"`
	EmbeddingModel string `koanf:"embedding_model"`
	APIKey         string `koanf:"api_key"`
	BaseURL        string `koanf:"base_url"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

// ToClientConfig converts to the llm package's configuration.
func (l LLMConfig) ToClientConfig() llm.Config {
	return llm.Config{
		Provider:       l.Provider,
		Model:          l.Model,
		EmbeddingModel: l.EmbeddingModel,
		APIKey:         l.APIKey,
		BaseURL:        l.BaseURL,
		Timeout:        time.Duration(l.TimeoutSeconds) * time.Second,
	}
}

// CacheConfig holds the multi-tier cache configuration.
type CacheConfig struct {
	// Enabled turns the cache layers on and off as a whole.
	Enabled bool `koanf:"enabled"`
	// Path is the SQLite file backing the durable tier. Empty disables it.
	Path string `koanf:"path"`

	MaxEntries          int     `koanf:"max_entries"`
	TTLSeconds          int     `koanf:"ttl_seconds"`
	PatternMaxEntries   int     `koanf:"pattern_max_entries"`
	SimilarityThreshold float64 `koanf:"similarity_threshold"`
}

// WorkflowConfig holds workflow engine tuning.
type WorkflowConfig struct {
	MaxExecutionRetries int `koanf:"max_execution_retries"`
	MaxWorkflowRetries  int `koanf:"max_workflow_retries"`
	MaxIterations       int `koanf:"max_iterations"`
	ResultLimit         int `koanf:"result_limit"`
}

// ToEngineConfig converts to the workflow package's configuration.
func (w WorkflowConfig) ToEngineConfig(cache CacheConfig) workflow.Config {
	return workflow.Config{
		MaxExecutionRetries: w.MaxExecutionRetries,
		MaxWorkflowRetries:  w.MaxWorkflowRetries,
		MaxIterations:       w.MaxIterations,
		ResultLimit:         w.ResultLimit,
		SimilarityThreshold: cache.SimilarityThreshold,
		CacheTTL:            time.Duration(cache.TTLSeconds) * time.Second,
	}
}

// Config is the full application configuration.
type Config struct {
	Verbose   bool   `koanf:"verbose"`
	LogFormat string `koanf:"log_format"` // text or json

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	LLM      LLMConfig      `koanf:"llm"`
	Cache    CacheConfig    `koanf:"cache"`
	Workflow WorkflowConfig `koanf:"workflow"`
}

// Validate checks the configuration for values that would fail at startup.
func (c *Config) Validate() error {
	if c.Database.Type == "" {
		return fmt.Errorf("database type is required")
	}
	if !registered(c.Database.Type) {
		return &executor.UnknownDriverError{Type: c.Database.Type, Available: executor.List()}
	}
	if c.LLM.Provider == "" {
		return fmt.Errorf("llm provider is required")
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache similarity_threshold must be within [0,1], got %v", c.Cache.SimilarityThreshold)
	}
	return nil
}

func registered(dbType string) bool {
	for _, name := range executor.List() {
		if name == strings.ToLower(dbType) {
			return true
		}
	}
	return false
}
