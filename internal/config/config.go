// Package config loads docqa configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Index     IndexConfig     `mapstructure:"index"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Server    ServerConfig    `mapstructure:"server"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

// LLMConfig selects the completion backend. Embedding may override it:
// chat-only providers (Groq) pair with an embedding-capable one.
type LLMConfig struct {
	Provider  string            `mapstructure:"provider"`
	Model     string            `mapstructure:"model"`
	APIKey    string            `mapstructure:"api_key"`
	BaseURL   string            `mapstructure:"base_url"`
	MaxTokens int               `mapstructure:"max_tokens"`
	Embedding EmbeddingOverride `mapstructure:"embedding"`
}

// EmbeddingOverride configures the embedding backend. Unset fields inherit
// from the top-level LLM config.
type EmbeddingOverride struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Dimension int    `mapstructure:"dimension"`
}

// ResolveEmbedding returns the effective embedding backend configuration.
func (c LLMConfig) ResolveEmbedding() LLMConfig {
	resolved := c
	if c.Embedding.Provider != "" {
		resolved.Provider = c.Embedding.Provider
	}
	if c.Embedding.APIKey != "" {
		resolved.APIKey = c.Embedding.APIKey
	}
	if c.Embedding.BaseURL != "" {
		resolved.BaseURL = c.Embedding.BaseURL
	} else if c.Embedding.Provider != "" && c.Embedding.Provider != c.Provider {
		// A different provider must not inherit the chat base URL.
		resolved.BaseURL = ""
	}
	if c.Embedding.Model != "" {
		resolved.Model = c.Embedding.Model
	}
	return resolved
}

type ChunkingConfig struct {
	Width   int `mapstructure:"width"`
	Overlap int `mapstructure:"overlap"`
}

// IndexConfig selects the vector index backend: "flat" persists to Path,
// "qdrant" talks to a collection over gRPC.
type IndexConfig struct {
	Backend    string `mapstructure:"backend"`
	Path       string `mapstructure:"path"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type RetrievalConfig struct {
	TopK          int `mapstructure:"top_k"`
	ContextBudget int `mapstructure:"context_budget"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Environment string  `mapstructure:"environment"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.LLM.Provider != "" && c.LLM.Provider != "none" && c.LLM.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("LLM provider '%s' is configured but api_key is empty", c.LLM.Provider))
	}
	if c.Chunking.Overlap >= c.Chunking.Width {
		warnings = append(warnings, fmt.Sprintf("chunk overlap %d must be smaller than width %d", c.Chunking.Overlap, c.Chunking.Width))
	}
	if c.Retrieval.TopK < 1 {
		warnings = append(warnings, fmt.Sprintf("retrieval top_k %d is not positive", c.Retrieval.TopK))
	}
	if c.LLM.Embedding.Dimension < 1 {
		warnings = append(warnings, "embedding dimension is not set")
	}
	if c.Index.Backend != "flat" && c.Index.Backend != "qdrant" {
		warnings = append(warnings, fmt.Sprintf("unknown index backend '%s' (expected flat or qdrant)", c.Index.Backend))
	}
	return warnings
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register the key so DOCQA_* env lookups reach Unmarshal.
	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "llama-3.1-8b-instant")
	v.SetDefault("llm.max_tokens", 500)
	v.SetDefault("llm.embedding.api_key", "")
	v.SetDefault("llm.embedding.base_url", "")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("llm.embedding.provider", "openai")
	v.SetDefault("llm.embedding.model", "text-embedding-3-small")
	v.SetDefault("llm.embedding.dimension", 1536)
	v.SetDefault("chunking.width", 500)
	v.SetDefault("chunking.overlap", 50)
	v.SetDefault("index.backend", "flat")
	v.SetDefault("index.path", "data/index.gob")
	v.SetDefault("index.host", "localhost")
	v.SetDefault("index.port", 6334)
	v.SetDefault("index.collection", "docqa")
	v.SetDefault("retrieval.top_k", 4)
	v.SetDefault("retrieval.context_budget", 12000)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. An explicit path must exist; with no path, a
// docqa.yaml in the working directory is optional and defaults plus
// DOCQA_* environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DOCQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		v.SetConfigName("docqa")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.applyProviderKeys()

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}
	return &cfg, nil
}

// applyProviderKeys fills the provider and key from well-known environment
// variables when the config leaves them blank. Groq wins over OpenAI when
// both keys are present.
func (c *Config) applyProviderKeys() {
	if c.LLM.Provider == "" {
		switch {
		case os.Getenv("GROQ_API_KEY") != "":
			c.LLM.Provider = "groq"
		case os.Getenv("OPENAI_API_KEY") != "":
			c.LLM.Provider = "openai"
		default:
			c.LLM.Provider = "none"
		}
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = providerKeyFromEnv(c.LLM.Provider)
	}
	if c.LLM.Embedding.Provider != "" && c.LLM.Embedding.APIKey == "" {
		c.LLM.Embedding.APIKey = providerKeyFromEnv(c.LLM.Embedding.Provider)
	}
}

func providerKeyFromEnv(provider string) string {
	switch provider {
	case "groq":
		return os.Getenv("GROQ_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}
