// Package llm provides the text-generation and embedding collaborators,
// implemented over langchaingo providers. The workflow engine depends only on
// the core interfaces; this package is the default wiring.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/leapstack-labs/geoquery/pkg/core"
)

// Config selects and configures a provider.
type Config struct {
	// Provider is "openai" or "ollama".
	Provider string
	// Model is the completion model name.
	Model string
	// EmbeddingModel is the embedding model name. Empty disables embeddings.
	EmbeddingModel string
	// APIKey authenticates hosted providers.
	APIKey string
	// BaseURL overrides the provider endpoint (also serves OpenAI-compatible
	// gateways and local Ollama).
	BaseURL string
	// Timeout bounds each generation call. Zero means 30s.
	Timeout time.Duration
}

// embedderClient is the subset of provider clients that can embed text.
type embedderClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Client implements core.TextGenerator and core.Embedder over one provider.
type Client struct {
	model    llms.Model
	embedder embedderClient
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClient creates a provider client from the configuration.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{timeout: timeout, logger: logger}

	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.EmbeddingModel != "" {
			opts = append(opts, openai.WithEmbeddingModel(cfg.EmbeddingModel))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		c.model = client
		if cfg.EmbeddingModel != "" {
			c.embedder = client
		}

	case "ollama":
		serverURL := cfg.BaseURL
		if serverURL == "" {
			serverURL = "http://localhost:11434"
		}
		opts := []ollama.Option{ollama.WithServerURL(serverURL)}
		if cfg.Model != "" {
			opts = append(opts, ollama.WithModel(cfg.Model))
		}
		client, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		c.model = client
		if cfg.EmbeddingModel != "" {
			c.embedder = client
		}

	default:
		return nil, fmt.Errorf("unknown llm provider %q (available: [ollama openai])", cfg.Provider)
	}

	return c, nil
}

// Generate runs one completion, bounded by the configured timeout.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	text, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	c.logger.Debug("generation completed", "prompt_bytes", len(prompt), "elapsed_ms", time.Since(start).Milliseconds())
	return text, nil
}

// Embed returns the embedding vector for text. Returns an error when the
// provider has no embedding model configured; callers treat that as the
// semantic tier being disabled.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embedder == nil {
		return nil, fmt.Errorf("embedding model not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	vecs, err := c.embedder.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding returned no vectors")
	}
	return vecs[0], nil
}

// HasEmbedder reports whether the client can serve the semantic cache tier.
func (c *Client) HasEmbedder() bool {
	return c.embedder != nil
}

var (
	_ core.TextGenerator = (*Client)(nil)
	_ core.Embedder      = (*Client)(nil)
)
