// Package main provides the MCP server entry point for arbuz.kz product search.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/metheoryt/arbuz-concierge/internal/config"
	"github.com/metheoryt/arbuz-concierge/internal/embedding"
	"github.com/metheoryt/arbuz-concierge/internal/logger"
	mcpserver "github.com/metheoryt/arbuz-concierge/internal/mcp"
	"github.com/metheoryt/arbuz-concierge/internal/retrieval"
	"github.com/metheoryt/arbuz-concierge/internal/storage"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mcp-server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	store, err := storage.Open(storage.Options{
		Driver:    cfg.Database.Driver,
		DSN:       cfg.Database.DSN,
		Dimension: cfg.Embedding.Dimension,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	checks := map[string]mcpserver.HealthCheck{"database": store.Ping}
	var index retrieval.VectorIndex = store
	var counter mcpserver.PointCounter

	if cfg.Qdrant.Enabled {
		idx, err := storage.NewQdrantIndex(storage.QdrantOptions{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Qdrant.Collection,
			Dimension:  cfg.Embedding.Dimension,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		defer idx.Close()
		if err := idx.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("failed to ensure collection: %w", err)
		}
		checks["qdrant"] = idx.Health
		counter = idx
		if cfg.Search.UseQdrant {
			index = idx
		}
	}

	embeddingClient, err := embedding.NewClient(embedding.ClientOptions{
		APIKey:  cfg.Embedding.APIKey,
		BaseURL: cfg.Embedding.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedding client: %w", err)
	}
	var embedder embedding.Embedder = embedding.NewOpenAIEmbedder(embeddingClient, cfg.Embedding.Model, cfg.Embedding.BatchSize, log)
	if cfg.Redis.URL != "" {
		cache, err := embedding.NewRedisCache(ctx, cfg.Redis.URL, cfg.Redis.TTL)
		if err != nil {
			log.Warn("Query embedding cache disabled", "error", err)
		} else {
			defer cache.Close()
			checks["redis"] = cache.Ping
			embedder = embedding.NewCachedEmbedder(embedder, cache, cfg.Embedding.Model, log)
		}
	}

	searcher := retrieval.NewSearcher(embedder, index, store, retrieval.Options{
		AncestorDepth: cfg.Search.AncestorDepth,
	}, log)

	server := mcpserver.NewServer(&mcpserver.Config{
		Searcher:          searcher,
		Status:            store,
		Mirror:            counter,
		DefaultMaxResults: cfg.Search.DefaultMaxResults,
	})

	landing, err := mcpserver.NewLandingHandler()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(checks))
	mux.Handle("/mcp", server.HTTPHandler(false))
	mux.HandleFunc("/", landing)

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.Server.ServerMode {
		// HTTP mode: serve MCP over HTTP for remote clients
		log.Info("Starting HTTP server", "addr", httpServer.Addr, "mcp", "/mcp", "health", "/health")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	}

	// Stdio mode: MCP over stdin/stdout, health endpoint in the background
	go func() {
		log.Info("Starting health server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Health server error", "error", err)
		}
	}()

	log.Info("Starting arbuz.kz product search MCP server (stdio mode)")
	return server.Run(ctx)
}
