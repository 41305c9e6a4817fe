// Package main implements the agent search API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/agentmesh/agentsearch/engine/index"
	"github.com/agentmesh/agentsearch/engine/registry"
	"github.com/agentmesh/agentsearch/engine/search"
	"github.com/agentmesh/agentsearch/engine/semantic"
	"github.com/agentmesh/agentsearch/pkg/metrics"
	"github.com/agentmesh/agentsearch/pkg/mid"
	"github.com/agentmesh/agentsearch/pkg/ollama"
	"github.com/agentmesh/agentsearch/pkg/resilience"
)

// Config holds all environment-based configuration.
type Config struct {
	Port         string
	OllamaURL    string
	EmbedModel   string
	EmbedDims    int
	Neo4jURL     string
	Neo4jUser    string
	Neo4jPass    string
	QdrantURL    string
	Collection   string
	CORSOrigin   string
	RateLimit    float64
	RateBurst    int
	IndexWorkers int
}

func loadConfig() Config {
	return Config{
		Port:         envOr("PORT", "8080"),
		OllamaURL:    envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:   envOr("EMBED_MODEL", "all-minilm"),
		EmbedDims:    envIntOr("EMBED_DIMS", 384),
		Neo4jURL:     envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:    envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:    envOr("NEO4J_PASS", "password"),
		QdrantURL:    envOr("QDRANT_URL", "localhost:6334"),
		Collection:   envOr("QDRANT_COLLECTION", "agent_embeddings"),
		CORSOrigin:   envOr("CORS_ORIGIN", "*"),
		RateLimit:    envFloatOr("RATE_LIMIT_RPS", 50),
		RateBurst:    envIntOr("RATE_LIMIT_BURST", 100),
		IndexWorkers: envIntOr("INDEX_WORKERS", index.DefaultWorkers),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Embedding model (Ollama) ---
	embedClient := ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel, cfg.EmbedDims)
	embedder := &guardedEmbedder{
		client:  embedClient,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}

	// --- Agent directory (Neo4j) ---
	directory, err := registry.New(cfg.Neo4jURL, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer directory.Close(ctx)

	// --- Vector store (Qdrant) ---
	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	if err := vectorStore.EnsureCollection(ctx, cfg.EmbedDims); err != nil {
		return fmt.Errorf("qdrant ensure collection: %w", err)
	}

	// --- Services ---
	searchSvc := search.New(embedder, vectorStore, search.DefaultOptions(), logger)
	indexSvc := index.NewService(directory, embedder, vectorStore,
		index.Options{Workers: cfg.IndexWorkers}, logger)

	// --- Metrics ---
	reg := metrics.New()
	reg.CollectRuntime(15*time.Second, ctx.Done())
	api := &apiServer{
		search:    searchSvc,
		indexer:   indexSvc,
		embed:     embedClient,
		directory: directory,
		logger:    logger,
		metrics: apiMetrics{
			searches:      reg.Counter("search_requests_total", "Total semantic search requests"),
			searchErrors:  reg.Counter("search_errors_total", "Failed semantic search requests"),
			searchSeconds: reg.Histogram("search_duration_seconds", "Search latency", nil),
			indexed:       reg.Counter("agents_indexed_total", "Agents indexed via HTTP"),
		},
	}

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", api.handleHealth)
	mux.HandleFunc("POST /api/v1/semantic/search", api.handleSearch)
	mux.HandleFunc("POST /api/v1/semantic/index", api.handleIndex)
	mux.HandleFunc("POST /api/v1/semantic/index-all", api.handleIndexAll)
	mux.HandleFunc("GET /api/v1/semantic/stats", api.handleStats)
	mux.Handle("GET /metrics", reg.Handler())

	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.RateLimit, Burst: cfg.RateBurst})
	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.OTel("agentsearch-api"),
		mid.CORS(cfg.CORSOrigin),
		mid.RateLimit(limiter),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// guardedEmbedder runs embedding calls through a circuit breaker so a dead
// model process fails fast instead of stacking up timeouts.
type guardedEmbedder struct {
	client  *ollama.EmbedClient
	breaker *resilience.Breaker
}

func (g *guardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		v, err := g.client.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}
