package embedder

import (
	"context"
	"log/slog"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newLexical(t *testing.T) *LexicalEmbedder {
	t.Helper()
	lex, err := NewLexicalEmbedder(0, testLogger())
	require.NoError(t, err)
	return lex
}

func TestNewLexicalEmbedder_DimensionBounds(t *testing.T) {
	lex := newLexical(t)
	assert.Equal(t, DefaultLexicalDim, lex.Dimension())

	lex256, err := NewLexicalEmbedder(256, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 256, lex256.Dimension())

	_, err = NewLexicalEmbedder(8, testLogger())
	assert.Error(t, err, "below minimum dimension")
	_, err = NewLexicalEmbedder(100000, testLogger())
	assert.Error(t, err, "above maximum dimension")
}

func TestLexicalEmbed_Deterministic(t *testing.T) {
	lex := newLexical(t)
	ctx := context.Background()

	const text = "sqlite busy timeout fixed by enabling wal checkpoints"
	first, err := lex.Embed(ctx, text)
	require.NoError(t, err)
	require.Len(t, first, DefaultLexicalDim)

	for range 3 {
		again, err := lex.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, first, again, "same text must embed identically")
	}
}

func TestLexicalEmbed_UnitNorm(t *testing.T) {
	lex := newLexical(t)
	ctx := context.Background()

	vec, err := lex.Embed(ctx, "deploy pipeline on kubernetes with canary rollout")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)
}

func TestLexicalEmbed_SimilarTextsCloserThanUnrelated(t *testing.T) {
	lex := newLexical(t)
	ctx := context.Background()

	a, err := lex.Embed(ctx, "sqlite database locked during write transactions")
	require.NoError(t, err)
	b, err := lex.Embed(ctx, "sqlite write transactions hit database locked errors")
	require.NoError(t, err)
	c, err := lex.Embed(ctx, "the quarterly offsite is in busan this year")
	require.NoError(t, err)

	dot := func(x, y []float32) float64 {
		var s float64
		for i := range x {
			s += float64(x[i]) * float64(y[i])
		}
		return s
	}
	assert.Greater(t, dot(a, b), dot(a, c),
		"shared vocabulary must beat unrelated text")
}

func TestLexicalEmbed_EmptyAndCJK(t *testing.T) {
	lex := newLexical(t)
	ctx := context.Background()

	empty, err := lex.Embed(ctx, "")
	require.NoError(t, err)
	var sum float64
	for _, v := range empty {
		sum += float64(v)
	}
	assert.Equal(t, 0.0, sum, "empty text embeds to the zero vector")

	kor, err := lex.Embed(ctx, "한국어 형태소 분석기 설정")
	require.NoError(t, err)
	var korNorm float64
	for _, v := range kor {
		korNorm += float64(v) * float64(v)
	}
	assert.Greater(t, korNorm, 0.0, "CJK bigrams produce signal")
}

func TestLexicalEmbedBatch(t *testing.T) {
	lex := newLexical(t)
	ctx := context.Background()

	texts := []string{"first note", "second note", "third note"}
	vecs, err := lex.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := lex.Embed(ctx, texts[1])
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1])
}

func TestLexicalModel_EncodesDimension(t *testing.T) {
	lex := newLexical(t)
	assert.Equal(t, "lexical-v1-512", lex.Model())

	lex256, err := NewLexicalEmbedder(256, testLogger())
	require.NoError(t, err)
	assert.NotEqual(t, lex.Model(), lex256.Model(),
		"different dimensions are different embedding spaces")
}

func TestLexicalEmbed_CanceledContext(t *testing.T) {
	lex := newLexical(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := lex.Embed(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDisabled(t *testing.T) {
	d := Disabled{}
	ctx := context.Background()

	_, err := d.Embed(ctx, "x")
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = d.EmbedBatch(ctx, []string{"x"})
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Equal(t, 0, d.Dimension())
	assert.Equal(t, "disabled", d.Model())
	assert.False(t, d.Available())
	assert.Equal(t, 0, d.MaxTokens())
}

func TestProviderCapabilities(t *testing.T) {
	lex := newLexical(t)
	assert.True(t, lex.Available())
	assert.Greater(t, lex.MaxTokens(), 0)

	withKey := NewOpenAIEmbedder("sk-test", "", 0, testLogger())
	assert.True(t, withKey.Available())
	assert.Equal(t, openAIMaxInputTokens, withKey.MaxTokens())

	noKey := NewOpenAIEmbedder("", "", 0, testLogger())
	assert.False(t, noKey.Available(), "no credentials means no calls can succeed")

	ollama := NewOllamaEmbedder("http://localhost:11434", "nomic-embed-text", 0, testLogger())
	assert.True(t, ollama.Available())
	noURL := NewOllamaEmbedder("", "nomic-embed-text", 0, testLogger())
	assert.False(t, noURL.Available())
}
