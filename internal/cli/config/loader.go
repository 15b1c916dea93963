package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "geoquery.yaml"

// ConfigFileNameAlt is the alternate config file name.
const ConfigFileNameAlt = "geoquery.yml"

// EnvPrefix is the prefix for environment variable overrides. A double
// underscore separates nesting levels: GEOQUERY_LLM__API_KEY -> llm.api_key.
const EnvPrefix = "GEOQUERY_"

var configFileUsed string

// defaults is the lowest-precedence configuration layer.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"verbose":    false,
		"log_format": "text",

		"server.host": "127.0.0.1",
		"server.port": 8080,

		"database.type":                  "postgres",
		"database.host":                  "localhost",
		"database.port":                  5432,
		"database.schema":                "public",
		"database.query_timeout_seconds": 30,

		"llm.provider":        "ollama",
		"llm.timeout_seconds": 30,

		"cache.enabled":              true,
		"cache.path":                 "geoquery_cache.db",
		"cache.max_entries":          1000,
		"cache.ttl_seconds":          3600,
		"cache.pattern_max_entries":  500,
		"cache.similarity_threshold": 0.85,

		"workflow.max_execution_retries": 3,
		"workflow.max_workflow_retries":  2,
		"workflow.max_iterations":        3,
		"workflow.result_limit":          1000,
	}
}

// flagKeys maps CLI flag names to config keys. Flags without an entry never
// reach the config layer.
var flagKeys = map[string]string{
	"verbose":    "verbose",
	"log-format": "log_format",

	"host": "server.host",
	"port": "server.port",

	"db-type":     "database.type",
	"db-host":     "database.host",
	"db-port":     "database.port",
	"db-name":     "database.database",
	"db-user":     "database.user",
	"db-password": "database.password",
	"db-schema":   "database.schema",
	"db-path":     "database.path",

	"llm-provider":        "llm.provider",
	"llm-model":           "llm.model",
	"llm-embedding-model": "llm.embedding_model",
	"llm-api-key":         "llm.api_key",
	"llm-base-url":        "llm.base_url",

	"cache-enabled": "cache.enabled",
	"cache-path":    "cache.path",

	"max-execution-retries": "workflow.max_execution_retries",
	"max-workflow-retries":  "workflow.max_workflow_retries",
	"max-iterations":        "workflow.max_iterations",
	"limit":                 "workflow.result_limit",
}

// findConfigFile finds the config file to use.
// Priority: explicit path > geoquery.yaml > geoquery.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(ConfigFileName); err == nil {
		return ConfigFileName
	}
	if _, err := os.Stat(ConfigFileNameAlt); err == nil {
		return ConfigFileNameAlt
	}
	return ""
}

// Load loads configuration from file, environment variables and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// GEOQUERY_SERVER__PORT=9090 -> server.port
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set and have a config key.
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Secrets may reference environment variables as ${VAR}.
	cfg.Database.Password = expandEnvVars(cfg.Database.Password)
	cfg.Database.User = expandEnvVars(cfg.Database.User)
	cfg.LLM.APIKey = expandEnvVars(cfg.LLM.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetConfigFileUsed returns the path of the config file in effect, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns with environment variable values.
// Unset variables are left as-is.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}
