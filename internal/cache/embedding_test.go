package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder tracks provider calls so tests can assert cache hits.
type countingEmbedder struct {
	embedCalls int
	batchCalls int
	batchSizes []int
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.embedCalls++
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	c.batchCalls++
	c.batchSizes = append(c.batchSizes, len(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (c *countingEmbedder) Dimension() int  { return 2 }
func (c *countingEmbedder) Model() string   { return "counting-test" }
func (c *countingEmbedder) Available() bool { return true }
func (c *countingEmbedder) MaxTokens() int  { return 8192 }

func TestEmbedderCache_HitSkipsProvider(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	c := NewEmbedderCache(inner, 8)

	v1, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	v2, err := c.Embed(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.embedCalls)
	assert.Equal(t, 1, c.Len())
}

func TestEmbedderCache_BatchFetchesOnlyMisses(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	c := NewEmbedderCache(inner, 8)

	_, err := c.Embed(ctx, "cached")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(ctx, []string{"cached", "new one", "another"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 2)
	}

	require.Equal(t, 1, inner.batchCalls)
	assert.Equal(t, []int{2}, inner.batchSizes, "only the two misses go to the provider")
}

func TestEmbedderCache_BatchAllHits(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	c := NewEmbedderCache(inner, 8)

	_, err := c.EmbedBatch(ctx, []string{"a1", "b22"})
	require.NoError(t, err)

	_, err = c.EmbedBatch(ctx, []string{"a1", "b22"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.batchCalls, "second batch is served entirely from cache")
}

func TestEmbedderCache_Eviction(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	c := NewEmbedderCache(inner, 2)

	_, _ = c.Embed(ctx, "one")
	_, _ = c.Embed(ctx, "two")
	_, _ = c.Embed(ctx, "three")
	assert.Equal(t, 2, c.Len())

	// "one" was evicted; embedding it again calls the provider.
	calls := inner.embedCalls
	_, _ = c.Embed(ctx, "one")
	assert.Equal(t, calls+1, inner.embedCalls)
}

func TestEmbedderCache_VectorDoesNotAliasCache(t *testing.T) {
	ctx := context.Background()
	c := NewEmbedderCache(&countingEmbedder{}, 8)

	v1, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	v1[0] = 999

	v2, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.NotEqual(t, float32(999), v2[0])
}

func TestEmbedderCache_PassthroughMetadata(t *testing.T) {
	c := NewEmbedderCache(&countingEmbedder{}, 8)
	assert.Equal(t, 2, c.Dimension())
	assert.Equal(t, "counting-test", c.Model())
}
