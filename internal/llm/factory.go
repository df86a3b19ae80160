package llm

import (
	"fmt"
	"time"
)

// ProviderConfig holds everything needed to create a model backend.
type ProviderConfig struct {
	Provider   string // "groq", "openai", "custom", "none"
	APIKey     string
	Model      string // chat model for answer synthesis
	EmbedModel string // embedding model
	BaseURL    string // override for self-hosted / custom endpoints

	// Timeout and retry configuration. A query must never hang on a slow
	// backend while holding callers up, so every provider is wrapped with
	// per-request timeouts when these are set.
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultProviderConfig returns a config with sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:    2 * time.Minute,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
	}
}

// ProviderConstructor builds a Provider from config.
type ProviderConstructor func(cfg ProviderConfig) (Provider, error)

// ProviderFactory creates Provider instances from config. Backends register
// themselves by name; the active one is picked by configuration at startup,
// never at call time.
type ProviderFactory struct {
	constructors map[string]ProviderConstructor
}

// NewFactory creates an empty factory.
func NewFactory() *ProviderFactory {
	return &ProviderFactory{constructors: make(map[string]ProviderConstructor)}
}

// Register adds a provider constructor under the given name.
func (f *ProviderFactory) Register(name string, ctor ProviderConstructor) {
	f.constructors[name] = ctor
}

// Create builds a Provider from config. Returns nil (no error) when provider
// is empty or "none": docqa then runs in local mode, retrieval only, with
// answers degraded to snippet listings.
// The returned provider is wrapped with retry logic if configured.
func (f *ProviderFactory) Create(cfg ProviderConfig) (Provider, error) {
	if cfg.Provider == "" || cfg.Provider == "none" {
		return nil, nil
	}

	ctor, ok := f.constructors[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider %q (registered: %v)", cfg.Provider, f.names())
	}

	provider, err := ctor(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Timeout > 0 || cfg.MaxRetries > 0 {
		return WrapWithRetry(provider, cfg), nil
	}
	return provider, nil
}

func (f *ProviderFactory) names() []string {
	var out []string
	for k := range f.constructors {
		out = append(out, k)
	}
	return out
}

// KnownProviders documents the built-in presets. All of them speak the
// OpenAI-compatible chat/embeddings API; they differ only in base URL.
// Groq is the preferred backend when both a Groq and an OpenAI key are
// configured.
var KnownProviders = map[string]string{
	"groq":   "https://api.groq.com/openai/v1",
	"openai": "https://api.openai.com/v1",
	"ollama": "http://localhost:11434/v1",
}
