package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/cache"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/embedder"
	"github.com/mnemo-ai/mnemo/internal/recall"
	"github.com/mnemo-ai/mnemo/internal/store"
	"github.com/mnemo-ai/mnemo/internal/tools"
)

const version = "1.0.0"

var cfg *config.Config

// errRuntime marks faults that happen after a successful start, so main
// can distinguish exit code 2 from ordinary startup failures.
var errRuntime = errors.New("runtime fault")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:     "mnemo",
		Short:   "Mnemo — persistent memory service for AI agents",
		Long:    "Mnemo stores agent memories in a local SQLite file and recalls them with hybrid full-text and vector ranking, over MCP, HTTP, or WebSocket.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		mcpCmd(),
		rememberCmd(),
		recallCmd(),
		forgetCmd(),
		pinCmd(),
		unpinCmd(),
		feedbackCmd(),
		statsCmd(),
		getCmd(),
		listCmd(),
		updateCmd(),
		exportCmd(),
		importCmd(),
		sweepCmd(),
		regenerateCmd(),
		healthCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	switch {
	case err == nil:
	case errors.Is(err, errRuntime):
		os.Exit(2)
	default:
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil {
		switch cfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newStore(logger *slog.Logger) (store.Store, error) {
	return store.Open(cfg.Store.Path, logger)
}

// newEmbedder builds the configured provider. Remote providers are
// wrapped in a circuit breaker and the embedding cache; the lexical
// fallback needs neither.
func newEmbedder(logger *slog.Logger) (embedder.Embedder, error) {
	e := cfg.Embedding
	switch config.CanonicalProvider(e.Provider) {
	case config.ProviderOpenAI:
		if e.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("embedding provider openai requires an API key")
		}
		return wrapRemote(embedder.NewOpenAIEmbedder(e.OpenAIAPIKey, e.OpenAIModel, e.Dimensions, logger), logger), nil
	case config.ProviderOllama:
		return wrapRemote(embedder.NewOllamaEmbedder(e.OllamaBaseURL, e.OllamaModel, e.Dimensions, logger), logger), nil
	case config.ProviderLightweight:
		return embedder.NewLexicalEmbedder(e.Dimensions, logger)
	case config.ProviderDisabled:
		return embedder.Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (use openai, ollama, lightweight, or disabled)", e.Provider)
	}
}

func wrapRemote(inner embedder.Embedder, logger *slog.Logger) embedder.Embedder {
	e := cfg.Embedding
	breaker := embedder.NewBreakerEmbedder(inner, e.BreakerFailures, e.BreakerCooldown, logger)
	return cache.NewEmbedderCache(breaker, cfg.Cache.EmbeddingEntries)
}

func newQueryCache() *cache.QueryCache {
	return cache.NewQueryCache(cfg.Cache.QueryEntries, cfg.Cache.QueryTTL, cfg.Cache.PatternThreshold)
}

func newPipeline(st store.Store, emb embedder.Embedder, queries *cache.QueryCache, logger *slog.Logger) *recall.Pipeline {
	var reasoner *recall.Reasoner
	if cfg.Reasoner.Enabled && cfg.Reasoner.APIKey != "" {
		reasoner = recall.NewReasoner(cfg.Reasoner.APIKey, cfg.Reasoner.Model, cfg.Reasoner.MaxCandidates, logger)
	}
	opts := recall.Options{
		DefaultLimit:  cfg.Search.DefaultLimit,
		MaxLimit:      cfg.Search.MaxLimit,
		VectorWeight:  cfg.Search.VectorWeight,
		TextWeight:    cfg.Search.TextWeight,
		MinSimilarity: cfg.Search.MinSimilarity,
		Weights:       recall.DefaultWeights(),
	}
	return recall.NewPipeline(st, emb, queries, reasoner, opts, logger)
}

// newService assembles the stack for one-shot commands. With no task
// queue, embeddings are written synchronously before the command exits.
func newService(logger *slog.Logger) (*tools.Service, store.Store, error) {
	st, err := newStore(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	emb, err := newEmbedder(logger)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	queries := newQueryCache()
	pipeline := newPipeline(st, emb, queries, logger)
	svc := tools.New(st, emb, pipeline, queries, nil, nil, cfg, logger)
	return svc, st, nil
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
