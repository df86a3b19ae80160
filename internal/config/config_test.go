package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docqa.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearProviderEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
}

func TestLoadDefaults(t *testing.T) {
	clearProviderEnv(t)
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Chunking.Width != 500 || cfg.Chunking.Overlap != 50 {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
	if cfg.Retrieval.TopK != 4 {
		t.Errorf("top_k = %d", cfg.Retrieval.TopK)
	}
	if cfg.Index.Backend != "flat" {
		t.Errorf("backend = %s", cfg.Index.Backend)
	}
	if cfg.LLM.Provider != "none" {
		t.Errorf("provider = %s, want none without keys", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "llama-3.1-8b-instant" {
		t.Errorf("model = %s", cfg.LLM.Model)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearProviderEnv(t)
	path := writeConfig(t, `
llm:
  provider: groq
  api_key: gsk-test
chunking:
  width: 800
  overlap: 100
index:
  backend: qdrant
  host: qdrant.internal
retrieval:
  top_k: 8
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != "groq" || cfg.LLM.APIKey != "gsk-test" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Chunking.Width != 800 || cfg.Chunking.Overlap != 100 {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
	if cfg.Index.Backend != "qdrant" || cfg.Index.Host != "qdrant.internal" || cfg.Index.Port != 6334 {
		t.Errorf("index = %+v", cfg.Index)
	}
	if cfg.Retrieval.TopK != 8 {
		t.Errorf("top_k = %d", cfg.Retrieval.TopK)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestProviderFromEnvironmentPrefersGroq(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-env")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != "groq" || cfg.LLM.APIKey != "gsk-env" {
		t.Errorf("llm = provider %s key %s, want groq/gsk-env", cfg.LLM.Provider, cfg.LLM.APIKey)
	}
	// The default embedding override targets OpenAI and picks up its key.
	if cfg.LLM.Embedding.APIKey != "sk-env" {
		t.Errorf("embedding key = %s, want sk-env", cfg.LLM.Embedding.APIKey)
	}
}

func TestResolveEmbedding(t *testing.T) {
	base := LLMConfig{
		Provider: "groq",
		Model:    "llama-3.1-8b-instant",
		APIKey:   "gsk-test",
		BaseURL:  "https://api.groq.com/openai/v1",
		Embedding: EmbeddingOverride{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			APIKey:    "sk-embed",
			Dimension: 1536,
		},
	}
	resolved := base.ResolveEmbedding()
	if resolved.Provider != "openai" || resolved.Model != "text-embedding-3-small" || resolved.APIKey != "sk-embed" {
		t.Errorf("resolved = %+v", resolved)
	}
	// Switching providers must drop the inherited chat base URL.
	if resolved.BaseURL != "" {
		t.Errorf("base_url = %s, want empty for cross-provider override", resolved.BaseURL)
	}

	// An empty override inherits everything.
	same := LLMConfig{Provider: "openai", Model: "gpt-4o-mini", APIKey: "sk"}
	resolved = same.ResolveEmbedding()
	if resolved.Provider != "openai" || resolved.APIKey != "sk" {
		t.Errorf("resolved = %+v", resolved)
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := &Config{
		LLM:      LLMConfig{Provider: "groq", Embedding: EmbeddingOverride{Dimension: 1536}},
		Chunking: ChunkingConfig{Width: 100, Overlap: 200},
		Index:    IndexConfig{Backend: "faiss"},
		Retrieval: RetrievalConfig{
			TopK: 0,
		},
	}
	warnings := cfg.Validate()
	wantSubstrings := []string{"api_key is empty", "overlap", "top_k", "index backend"}
	for _, want := range wantSubstrings {
		found := false
		for _, w := range warnings {
			if strings.Contains(w, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no warning mentioning %q in %v", want, warnings)
		}
	}
}
