package embedder

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mnemo-ai/mnemo/internal/memerr"
)

// BreakerEmbedder wraps a remote provider with a circuit breaker so a dead
// endpoint fails fast instead of stalling every remember call for the full
// HTTP timeout. Local providers are not wrapped.
type BreakerEmbedder struct {
	inner  Embedder
	single *gobreaker.CircuitBreaker[[]float32]
	batch  *gobreaker.CircuitBreaker[[][]float32]
	logger *slog.Logger
}

// NewBreakerEmbedder wraps inner. The breaker opens after maxFailures
// consecutive failures and probes again after cooldown.
func NewBreakerEmbedder(inner Embedder, maxFailures uint32, cooldown time.Duration, logger *slog.Logger) *BreakerEmbedder {
	if maxFailures == 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("embedder breaker state change",
					"breaker", name, "from", from.String(), "to", to.String())
			},
			IsSuccessful: func(err error) bool { return err == nil },
		}
	}

	return &BreakerEmbedder{
		inner:  inner,
		single: gobreaker.NewCircuitBreaker[[]float32](settings("embed")),
		batch:  gobreaker.NewCircuitBreaker[[][]float32](settings("embed-batch")),
		logger: logger,
	}
}

// Embed proxies to the inner provider through the breaker.
func (b *BreakerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := b.single.Execute(func() ([]float32, error) {
		return b.inner.Embed(ctx, text)
	})
	return vec, b.mapErr("embedder.Embed", err)
}

// EmbedBatch proxies to the inner provider through the breaker.
func (b *BreakerEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := b.batch.Execute(func() ([][]float32, error) {
		return b.inner.EmbedBatch(ctx, texts)
	})
	return vecs, b.mapErr("embedder.EmbedBatch", err)
}

// Dimension returns the inner provider's dimension.
func (b *BreakerEmbedder) Dimension() int { return b.inner.Dimension() }

// Model returns the inner provider's model tag.
func (b *BreakerEmbedder) Model() string { return b.inner.Model() }

// Available is false while the single-embed breaker is open: calls would be
// rejected without reaching the provider.
func (b *BreakerEmbedder) Available() bool {
	return b.inner.Available() && b.single.State() != gobreaker.StateOpen
}

// MaxTokens returns the inner provider's token budget.
func (b *BreakerEmbedder) MaxTokens() int { return b.inner.MaxTokens() }

// mapErr folds breaker rejections into the Unavailable taxonomy.
func (b *BreakerEmbedder) mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return memerr.E(op, memerr.ErrUnavailable, "embedding circuit open")
	}
	return err
}
