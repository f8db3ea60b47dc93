package embedder

import (
	"context"
	"errors"
)

// Provider default dimensions.
const (
	DefaultOpenAIDim  = 1536
	DefaultOllamaDim  = 768
	DefaultLexicalDim = 512
)

// ErrDisabled is returned by the disabled provider; recall treats it as the
// vector leg being unavailable and degrades to text-only search.
var ErrDisabled = errors.New("embedding provider disabled")

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed returns a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns vector embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// Model identifies the provider and model behind the vectors. It is
	// stored with every embedding so a provider switch can mark the old
	// vectors stale instead of comparing incompatible spaces.
	Model() string

	// Available reports whether Embed calls can currently succeed: false
	// for the disabled provider, a misconfigured remote one, or an open
	// circuit breaker.
	Available() bool

	// MaxTokens returns the provider's input budget in tokens, 0 when the
	// provider accepts no input at all.
	MaxTokens() int
}
