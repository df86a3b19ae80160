package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/udayk/docqa/internal/chunker"
	"github.com/udayk/docqa/internal/config"
	"github.com/udayk/docqa/internal/embedder"
	"github.com/udayk/docqa/internal/index"
	"github.com/udayk/docqa/internal/llm"
	"github.com/udayk/docqa/internal/llm/openai"
	"github.com/udayk/docqa/internal/observability"
	"github.com/udayk/docqa/internal/pdfx"
	"github.com/udayk/docqa/internal/rag"
	"github.com/udayk/docqa/internal/server"
	"github.com/udayk/docqa/internal/synth"
)

var version = "dev"

func main() {
	// Local development keeps API keys in a .env file.
	_ = godotenv.Load()

	var configPath string

	rootCmd := &cobra.Command{
		Use:   "docqa",
		Short: "Ask questions against your PDF library",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: ./docqa.yaml if present)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	ingestCmd := &cobra.Command{
		Use:   "ingest [pdf files...]",
		Short: "Index PDF files into the local store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(configPath, args)
		},
	}

	var (
		askDocs []string
		askK    int
	)
	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against the indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(configPath, args[0], askDocs, askK)
		},
	}
	askCmd.Flags().StringSliceVar(&askDocs, "docs", nil, "Restrict the search to these documents")
	askCmd.Flags().IntVar(&askK, "k", 0, "Number of chunks to retrieve (default from config)")

	documentsCmd := &cobra.Command{
		Use:   "documents",
		Short: "List indexed documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocuments(configPath)
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove [document]",
		Short: "Remove a document from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(configPath, args[0])
		},
	}

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available LLM providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available LLM providers:")
			fmt.Println()
			for name, url := range llm.KnownProviders {
				fmt.Printf("  %-8s %s\n", name, url)
			}
			fmt.Println("  custom   (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println("  none     (retrieval only, answers degrade to snippet listings)")
			fmt.Println()
			fmt.Println("Configure in docqa.yaml or via environment:")
			fmt.Println("  GROQ_API_KEY=gsk_...        (preferred when set)")
			fmt.Println("  OPENAI_API_KEY=sk-...")
			fmt.Println("  DOCQA_LLM_MODEL=llama-3.1-8b-instant")
		},
	}

	rootCmd.AddCommand(serveCmd, ingestCmd, askCmd, documentsCmd, removeCmd, providersCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func newFactory() *llm.ProviderFactory {
	factory := llm.NewFactory()
	for _, p := range []struct{ name, url string }{
		{"groq", llm.KnownProviders["groq"]},
		{"openai", llm.KnownProviders["openai"]},
		{"ollama", llm.KnownProviders["ollama"]},
		{"custom", ""},
	} {
		factory.Register(p.name, func(c llm.ProviderConfig) (llm.Provider, error) {
			base := c.BaseURL
			if base == "" {
				base = p.url
			}
			return openai.New(p.name, c.APIKey, c.Model, base, c.EmbedModel), nil
		})
	}
	return factory
}

func providerConfig(c config.LLMConfig, embedModel string) llm.ProviderConfig {
	pc := llm.DefaultProviderConfig()
	pc.Provider = c.Provider
	pc.APIKey = c.APIKey
	pc.Model = c.Model
	pc.EmbedModel = embedModel
	pc.BaseURL = c.BaseURL
	return pc
}

// buildEngine assembles the pipeline from config. The chat provider may be
// nil (local mode); the embedding provider is required because nothing can
// be indexed or searched without vectors.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*rag.Engine, llm.Provider, error) {
	factory := newFactory()

	embedCfg := cfg.LLM.ResolveEmbedding()
	embedProvider, err := factory.Create(providerConfig(embedCfg, cfg.LLM.Embedding.Model))
	if err != nil {
		return nil, nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	if embedProvider == nil {
		return nil, nil, errors.New("no embedding provider configured: set GROQ_API_KEY or OPENAI_API_KEY, or llm.embedding in docqa.yaml")
	}

	chatProvider, err := factory.Create(providerConfig(cfg.LLM, cfg.LLM.Embedding.Model))
	if err != nil {
		return nil, nil, fmt.Errorf("creating LLM provider: %w", err)
	}

	emb, err := embedder.New(embedProvider, cfg.LLM.Embedding.Model, cfg.LLM.Embedding.Dimension)
	if err != nil {
		return nil, nil, err
	}

	ch, err := chunker.New(cfg.Chunking.Width, cfg.Chunking.Overlap)
	if err != nil {
		return nil, nil, err
	}

	var store index.Store
	switch cfg.Index.Backend {
	case "qdrant":
		store, err = index.OpenQdrant(ctx, cfg.Index.Host, cfg.Index.Port, cfg.Index.Collection, cfg.LLM.Embedding.Dimension)
	default:
		store, err = index.OpenFlat(cfg.Index.Path, index.Manifest{
			SchemaVersion: index.SchemaVersion,
			EmbedModel:    emb.ModelInfo(),
			Dimension:     cfg.LLM.Embedding.Dimension,
			ChunkWidth:    cfg.Chunking.Width,
			ChunkOverlap:  cfg.Chunking.Overlap,
		})
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening index: %w", err)
	}

	syn := synth.New(chatProvider, cfg.Retrieval.ContextBudget)
	return rag.NewEngine(ch, emb, store, syn, logger), chatProvider, nil
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	ctx := context.Background()

	tracing, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "docqa",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	engine, chatProvider, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}

	providerName := ""
	if chatProvider != nil {
		providerName = chatProvider.Name()
	}

	health := server.NewHealthServer(version)
	health.RegisterCheck("index", server.IndexHealthChecker(engine.Len, engine.Documents))
	health.RegisterCheck("llm", server.LLMHealthChecker(providerName, nil))

	mux := http.NewServeMux()
	health.Register(mux)
	server.NewAPIServer(engine, logger).Register(mux)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := server.NewShutdownHandler(&server.ShutdownConfig{Logger: logger})
	shutdown.RegisterNamedHook(server.HTTPServerShutdownHook(httpServer.Shutdown))
	shutdown.RegisterNamedHook(server.TracingShutdownHook(tracing.Shutdown))
	shutdown.RegisterNamedHook(server.IndexShutdownHook(engine.Close))
	shutdown.Start()

	go func() {
		<-shutdown.ShutdownCh()
		health.SetReady(false)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	health.SetReady(true)
	logger.Info("docqa serving", "addr", cfg.Server.Addr, "index", cfg.Index.Backend, "provider", providerName)

	select {
	case err := <-errCh:
		return err
	case <-shutdown.Done():
		return nil
	}
}

func runIngest(configPath string, files []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	ctx := context.Background()

	engine, _, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	failed := 0
	for _, file := range files {
		document := filepath.Base(file)
		pages, err := pdfx.ExtractFile(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", document, err)
			failed++
			continue
		}
		n, err := engine.Ingest(ctx, document, pages)
		if err != nil {
			// One unreadable file must not abort the batch.
			fmt.Fprintf(os.Stderr, "%s: %v\n", document, err)
			failed++
			continue
		}
		fmt.Printf("%s: %d pages, %d chunks\n", document, len(pages), n)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func runAsk(configPath, question string, docs []string, k int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	ctx := context.Background()

	engine, _, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	if k == 0 {
		k = cfg.Retrieval.TopK
	}
	answer, err := engine.Ask(ctx, question, docs, k)
	if err != nil {
		return err
	}

	fmt.Println(answer.Answer)
	if len(answer.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, src := range answer.Sources {
			fmt.Printf("  %s (page %d)\n", src.Document, src.Page)
		}
	}
	return nil
}

func runDocuments(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	ctx := context.Background()

	engine, _, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	docs, err := engine.Documents(ctx)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("No documents indexed.")
		return nil
	}
	fmt.Println(strings.Join(docs, "\n"))
	return nil
}

func runRemove(configPath, document string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	ctx := context.Background()

	engine, _, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Remove(ctx, document); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", document)
	return nil
}
