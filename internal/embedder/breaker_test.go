package embedder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/memerr"
)

// flakyEmbedder fails until healthy is flipped.
type flakyEmbedder struct {
	healthy bool
	calls   int
}

func (f *flakyEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	if !f.healthy {
		return nil, errors.New("connection refused")
	}
	return []float32{1, 0, 0}, nil
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		vec, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (f *flakyEmbedder) Dimension() int  { return 3 }
func (f *flakyEmbedder) Model() string   { return "flaky-test" }
func (f *flakyEmbedder) Available() bool { return true }
func (f *flakyEmbedder) MaxTokens() int  { return 8192 }

func TestBreaker_PassesThroughWhenHealthy(t *testing.T) {
	inner := &flakyEmbedder{healthy: true}
	b := NewBreakerEmbedder(inner, 3, time.Second, testLogger())

	vec, err := b.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, vec)
	assert.Equal(t, 3, b.Dimension())
	assert.Equal(t, "flaky-test", b.Model())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyEmbedder{}
	b := NewBreakerEmbedder(inner, 3, time.Minute, testLogger())
	ctx := context.Background()

	// The first three failures reach the provider.
	for range 3 {
		_, err := b.Embed(ctx, "x")
		require.Error(t, err)
		assert.False(t, errors.Is(err, memerr.ErrUnavailable),
			"provider errors pass through until the breaker trips")
	}
	assert.Equal(t, 3, inner.calls)

	// The breaker is now open: calls fail fast without touching the
	// provider, mapped onto the unavailable taxonomy.
	_, err := b.Embed(ctx, "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, memerr.ErrUnavailable))
	assert.Equal(t, 3, inner.calls)
}

func TestBreaker_AvailabilityTracksCircuitState(t *testing.T) {
	inner := &flakyEmbedder{}
	b := NewBreakerEmbedder(inner, 2, time.Minute, testLogger())
	ctx := context.Background()

	assert.True(t, b.Available(), "healthy wrapper reports the inner provider")
	assert.Equal(t, 8192, b.MaxTokens(), "token budget comes from the inner provider")

	for range 2 {
		_, err := b.Embed(ctx, "x")
		require.Error(t, err)
	}
	assert.False(t, b.Available(), "open circuit means calls would fail fast")
}

func TestBreaker_BatchHasItsOwnCircuit(t *testing.T) {
	inner := &flakyEmbedder{}
	b := NewBreakerEmbedder(inner, 2, time.Minute, testLogger())
	ctx := context.Background()

	for range 2 {
		_, err := b.Embed(ctx, "x")
		require.Error(t, err)
	}
	_, err := b.Embed(ctx, "x")
	assert.True(t, errors.Is(err, memerr.ErrUnavailable), "single circuit open")

	// The batch path still reaches the provider.
	before := inner.calls
	_, err = b.EmbedBatch(ctx, []string{"x"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, memerr.ErrUnavailable))
	assert.Greater(t, inner.calls, before)
}
