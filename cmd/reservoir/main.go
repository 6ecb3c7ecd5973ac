// Command reservoir is the transparent chat-completions proxy with a
// Neo4j-backed conversation memory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reservoir-ai/reservoir/internal/config"
	"github.com/reservoir-ai/reservoir/internal/embedding"
	"github.com/reservoir-ai/reservoir/internal/health"
	"github.com/reservoir-ai/reservoir/internal/observe"
	"github.com/reservoir-ai/reservoir/internal/pipeline"
	"github.com/reservoir-ai/reservoir/internal/server"
	"github.com/reservoir-ai/reservoir/internal/upstream"
	neo4jstore "github.com/reservoir-ai/reservoir/pkg/memory/neo4j"
	"github.com/reservoir-ai/reservoir/pkg/provider/embeddings"
	ollamaembed "github.com/reservoir-ai/reservoir/pkg/provider/embeddings/ollama"
	openaiembed "github.com/reservoir-ai/reservoir/pkg/provider/embeddings/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reservoir: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("reservoir starting",
		"config", *configPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "reservoir"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	provider, err := buildEmbeddings(cfg)
	if err != nil {
		slog.Error("failed to build embeddings provider", "err", err)
		return 1
	}
	embClient := embedding.New(provider, embedding.Config{
		Timeout:     cfg.Embeddings.Timeout.Std(),
		MaxAttempts: cfg.Embeddings.MaxAttempts,
	})
	slog.Info("embeddings provider ready",
		"provider", cfg.Embeddings.Provider,
		"model", provider.ModelID(),
		"dimensions", provider.Dimensions(),
	)

	store, err := neo4jstore.New(ctx, neo4jstore.Config{
		URI:              cfg.Neo4j.URI,
		Username:         cfg.Neo4j.Username,
		Password:         cfg.Neo4j.Password,
		QueryTimeout:     cfg.Neo4j.QueryTimeout.Std(),
		MaxPoolSize:      cfg.Neo4j.MaxPoolSize,
		Dimensions:       cfg.Embeddings.Dimensions,
		SynapseThreshold: cfg.Enrichment.SynapseThreshold,
		SynapseTopK:      cfg.Enrichment.SynapseTopK,
	})
	if err != nil {
		slog.Error("failed to connect to neo4j", "uri", cfg.Neo4j.URI, "err", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			slog.Warn("store close error", "err", err)
		}
	}()

	forwarder := upstream.New(upstream.Config{
		OpenAIBaseURL: cfg.Upstreams.OpenAIBaseURL,
		OllamaBaseURL: cfg.Upstreams.OllamaBaseURL,
		APIKey:        cfg.Upstreams.APIKey,
		Timeout:       cfg.Upstreams.Timeout.Std(),
		MaxInFlight:   int64(cfg.Upstreams.MaxInFlight),
	})

	pipe := pipeline.New(store, embClient, forwarder, pipeline.Config{
		SimilarLimit:     cfg.Enrichment.SimilarLimit,
		RecentLimit:      cfg.Enrichment.RecentLimit,
		SimilarThreshold: cfg.Enrichment.SimilarityThreshold,
		InputCeiling:     cfg.Limits.InputCeiling,
		MaxTokens:        cfg.Limits.MaxTokens,
	})

	passthroughBase := cfg.Upstreams.OpenAIBaseURL
	if cfg.Upstreams.Default == config.UpstreamOllama {
		passthroughBase = cfg.Upstreams.OllamaBaseURL
	}

	srv := server.New(pipe, store, embClient, observe.DefaultMetrics(), server.Config{
		PassthroughBaseURL: passthroughBase,
		PassthroughTimeout: cfg.Upstreams.Timeout.Std(),
		ThreadHops:         cfg.Enrichment.ThreadHops,
	})
	handler := srv.Routes(health.New(
		health.StoreChecker(store),
		health.EmbeddingsChecker(embClient.Healthy),
	))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildEmbeddings constructs the configured embeddings provider.
func buildEmbeddings(cfg *config.Config) (embeddings.Provider, error) {
	switch cfg.Embeddings.Provider {
	case "openai":
		var opts []openaiembed.Option
		if cfg.Embeddings.BaseURL != "" {
			opts = append(opts, openaiembed.WithBaseURL(cfg.Embeddings.BaseURL))
		}
		if cfg.Embeddings.Timeout > 0 {
			opts = append(opts, openaiembed.WithTimeout(cfg.Embeddings.Timeout.Std()))
		}
		return openaiembed.New(cfg.Embeddings.APIKey, cfg.Embeddings.Model, opts...)
	case "ollama":
		var opts []ollamaembed.Option
		if cfg.Embeddings.Timeout > 0 {
			opts = append(opts, ollamaembed.WithTimeout(cfg.Embeddings.Timeout.Std()))
		}
		if cfg.Embeddings.Dimensions > 0 {
			opts = append(opts, ollamaembed.WithDimensions(cfg.Embeddings.Dimensions))
		}
		return ollamaembed.New(cfg.Embeddings.BaseURL, cfg.Embeddings.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Embeddings.Provider)
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
