package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coursebot/courserag/internal/api"
	"github.com/coursebot/courserag/internal/chunker"
	"github.com/coursebot/courserag/internal/config"
	"github.com/coursebot/courserag/internal/core"
	"github.com/coursebot/courserag/internal/embedding"
	"github.com/coursebot/courserag/internal/index"
	"github.com/coursebot/courserag/internal/llm"
	"github.com/coursebot/courserag/internal/metrics"
	"github.com/coursebot/courserag/internal/session"
	"github.com/coursebot/courserag/internal/store"
	"github.com/coursebot/courserag/internal/tools"
	"github.com/coursebot/courserag/internal/utils"
)

func main() {
	// Load configuration
	config.LoadConfig()
	cfg := config.AppConfig

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if cfg.Debug() {
		log.Println("Service starting in DEBUG mode")
	}

	// Command line flags for data ingestion
	ingestOnly := flag.Bool("ingest", false, "Ingest the course documents from DOCS_PATH and exit")
	docsPath := flag.String("docs", cfg.DocsPath, "Directory with course documents")
	flag.Parse()

	ctx := context.Background()

	// Initialize vector store
	vectors, err := openStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize vector store: %v", err)
	}
	defer vectors.Close()

	// Initialize providers
	provider, embedder, closers, err := newProviders(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize providers: %v", err)
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.Printf("Error closing provider client: %v", err)
			}
		}
	}()
	log.Printf("Using generation model %s and embedding model %s", provider.ModelName(), embedder.ModelName())

	m := metrics.New()
	idx, ingestIdx := newIndexes(vectors, embedder, cfg)
	if err := prepareIndex(ctx, idx, *ingestOnly); err != nil {
		log.Fatalf("Vector store does not match the embedding model: %v", err)
	}

	ch, err := chunker.New(chunker.WithChunkSize(cfg.ChunkSize), chunker.WithOverlap(cfg.ChunkOverlap))
	if err != nil {
		log.Fatalf("Failed to initialize chunker: %v", err)
	}
	ingester := core.NewIngestService(ingestIdx, ch, core.IngestOptions{
		Workers:      cfg.IngestWorkers,
		SkipExisting: !*ingestOnly,
		Metrics:      m,
	})

	// Handle data ingestion. With -ingest every course is re-indexed and the
	// process exits; otherwise only courses missing from the store are added.
	if *ingestOnly || dirExists(*docsPath) {
		log.Printf("Starting data ingestion from %s...", *docsPath)
		report, err := ingester.IngestDirectory(ctx, *docsPath)
		if err != nil {
			log.Fatalf("Data ingestion failed: %v", err)
		}
		log.Printf("Data ingestion complete. Indexed %d courses (%d chunks), skipped %d of %d files.",
			len(report.Courses), report.Chunks, len(report.Skipped), report.Files)
		if *ingestOnly {
			return
		}
	}

	registry := tools.NewRegistry(
		tools.NewSearchTool(idx, cfg.MaxSearchResults),
		tools.NewOutlineTool(idx),
	)
	generator := core.NewGenerator(provider, registry, core.GeneratorOptions{
		MaxRoundTrips:   cfg.MaxToolLoopIterations,
		ProviderTimeout: cfg.ProviderTimeout,
		ToolTimeout:     cfg.ToolTimeout,
		Retry: utils.RetryPolicy{
			Attempts:        cfg.RetryAttempts,
			InitialInterval: utils.DefaultRetryPolicy.InitialInterval,
			MaxInterval:     utils.DefaultRetryPolicy.MaxInterval,
		},
		Metrics: m,
	})
	ragService := core.NewRAGService(session.NewStore(cfg.SessionHistoryWindow), generator, m)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(ragService, idx)
	router := api.NewRouter(apiHandler, m.Handler())

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: api.QueryTimeout + 5*time.Second, // Covers every round-trip of a query
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		return
	}
	log.Println("Server exiting gracefully")
}

// newIndexes returns the index used to answer queries and the one used for
// ingestion. Only ingestion is held to EMBED_RATE_PER_SEC.
func newIndexes(vectors store.VectorStore, embedder embedding.Embedder, cfg config.Config) (query, ingest *index.Index) {
	opts := []index.Option{
		index.WithMatchThreshold(float32(cfg.CourseMatchThreshold)),
		index.WithTieMargin(float32(cfg.CourseTieMargin)),
		index.WithTopK(cfg.MaxSearchResults),
	}
	query = index.New(vectors, embedder, opts...)
	ingest = index.New(vectors, embedding.NewRateLimited(embedder, cfg.EmbedRatePerSec, 1), opts...)
	return query, ingest
}

// prepareIndex checks that the stored vectors fit the embedder. A full
// re-ingestion starts over from an empty index; serving refuses to start.
func prepareIndex(ctx context.Context, idx *index.Index, reindex bool) error {
	err := idx.CheckDimension(ctx)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, store.ErrDimensionMismatch):
		log.Printf("Warning: could not verify the embedding dimension: %v", err)
		return nil
	case reindex:
		log.Printf("%v. Clearing the index before ingestion.", err)
		return idx.Reset(ctx)
	default:
		return fmt.Errorf("%w (run with -ingest to rebuild the index)", err)
	}
}

func openStore(url string) (store.VectorStore, error) {
	if url == ":memory:" {
		log.Println("Using in-memory vector store; the index is lost on exit")
		return store.NewMemoryStore(), nil
	}
	return store.NewSQLiteStore(url)
}

// newProviders builds the generation provider and the embedder selected by cfg.
func newProviders(ctx context.Context, cfg config.Config) (llm.Provider, embedding.Embedder, []io.Closer, error) {
	var (
		gemini  *llm.Gemini
		openai  *llm.OpenAI
		closers []io.Closer
	)
	needs := func(p string) bool { return cfg.LLMProvider == p || cfg.EmbeddingProvider == p }

	if needs(config.ProviderGemini) {
		var err error
		gemini, err = llm.NewGemini(ctx, cfg.GeminiAPIKey,
			generationModel(cfg, config.ProviderGemini), embeddingModel(cfg, config.ProviderGemini))
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, gemini)
	}
	if needs(config.ProviderOpenAI) {
		var err error
		openai, err = llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL,
			generationModel(cfg, config.ProviderOpenAI), embeddingModel(cfg, config.ProviderOpenAI))
		if err != nil {
			return nil, nil, closers, err
		}
	}

	var provider llm.Provider = gemini
	if cfg.LLMProvider == config.ProviderOpenAI {
		provider = openai
	}

	var embedder embedding.Embedder
	switch cfg.EmbeddingProvider {
	case config.ProviderGemini:
		embedder = gemini.Embedder()
	case config.ProviderOpenAI:
		embedder = openai.Embedder()
	default:
		embedder = embedding.NewHashingEmbedder(0)
	}
	return provider, embedder, closers, nil
}

// generationModel and embeddingModel return the configured model id when
// provider serves that side, or "" so the adapter picks its default.
func generationModel(cfg config.Config, provider string) string {
	if cfg.LLMProvider != provider {
		return ""
	}
	return cfg.GenerationModel
}

func embeddingModel(cfg config.Config, provider string) string {
	if cfg.EmbeddingProvider != provider {
		return ""
	}
	return cfg.EmbeddingModel
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
