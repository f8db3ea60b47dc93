package embedder

import "context"

// Disabled is the no-provider embedder. Every call fails with ErrDisabled,
// which recall treats as the vector leg being unavailable.
type Disabled struct{}

func (Disabled) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrDisabled
}

func (Disabled) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrDisabled
}

func (Disabled) Dimension() int { return 0 }

func (Disabled) Model() string { return "disabled" }

func (Disabled) Available() bool { return false }

func (Disabled) MaxTokens() int { return 0 }
