package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/mnemo-ai/mnemo/internal/textproc"
)

const (
	lexicalMinDim = 64
	lexicalMaxDim = 4096
)

// techTerms carry most of the meaning in the engineering notes this service
// typically stores, so they get a weight boost over plain prose words.
var techTerms = map[string]struct{}{
	"api": {}, "auth": {}, "backend": {}, "bug": {}, "cache": {},
	"cluster": {}, "config": {}, "database": {}, "db": {}, "deploy": {},
	"docker": {}, "endpoint": {}, "error": {}, "frontend": {}, "grpc": {},
	"http": {}, "index": {}, "json": {}, "kubernetes": {}, "latency": {},
	"migration": {}, "queue": {}, "redis": {}, "schema": {}, "server": {},
	"sql": {}, "sqlite": {}, "test": {}, "timeout": {}, "token": {},
}

// LexicalEmbedder is the zero-dependency local provider: a hashed
// bag-of-terms vector with heuristic term weighting. It is deterministic,
// needs no network, and is the default provider. Vectors from different
// dimensions or providers are never compared; the stored model tag keeps
// the spaces apart.
type LexicalEmbedder struct {
	dim    int
	logger *slog.Logger
}

// NewLexicalEmbedder creates the local provider. dim defaults to 512 when 0.
func NewLexicalEmbedder(dim int, logger *slog.Logger) (*LexicalEmbedder, error) {
	if dim == 0 {
		dim = DefaultLexicalDim
	}
	if dim < lexicalMinDim || dim > lexicalMaxDim {
		return nil, fmt.Errorf("lexical embedder: dimension %d outside [%d, %d]", dim, lexicalMinDim, lexicalMaxDim)
	}
	return &LexicalEmbedder{dim: dim, logger: logger}, nil
}

// Embed builds the hashed term vector for text. Terms are accumulated in
// sorted order so float rounding is identical run to run.
func (l *LexicalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	weights := l.termWeights(text)
	terms := make([]string, 0, len(weights))
	for t := range weights {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	vec := make([]float32, l.dim)
	for _, term := range terms {
		w := weights[term]
		h1 := hashTerm(term, 0)
		h2 := hashTerm(term, 1)
		// Two signed positions per term; the second at half weight
		// softens hash collisions.
		vec[h1%uint64(l.dim)] += float32(signOf(h1) * w)
		vec[h2%uint64(l.dim)] += float32(signOf(h2) * 0.5 * w)
	}

	normalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds each text locally.
func (l *LexicalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		vec, err := l.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

// Dimension returns the configured vector dimension.
func (l *LexicalEmbedder) Dimension() int { return l.dim }

// Model identifies the provider, versioned with the dimension since vectors
// of different sizes live in different spaces.
func (l *LexicalEmbedder) Model() string { return fmt.Sprintf("lexical-v1-%d", l.dim) }

// Available is always true: the provider is local and deterministic.
func (l *LexicalEmbedder) Available() bool { return true }

// MaxTokens is only bounded by memory locally; the budget matches the
// remote providers so callers truncate consistently.
func (l *LexicalEmbedder) MaxTokens() int { return 8192 }

// termWeights tokenizes text and assigns each term a heuristic weight:
// dampened term frequency scaled by proxies for rarity. Identifier-shaped
// tokens (snake_case survives normalization) also contribute their parts.
// Korean and other CJK text additionally contributes character bigrams,
// which carry the signal agglutinative scripts lose to whitespace
// tokenization.
func (l *LexicalEmbedder) termWeights(text string) map[string]float64 {
	weights := make(map[string]float64)
	for _, tok := range textproc.Tokenize(text) {
		weights[tok]++
		if strings.ContainsRune(tok, '_') {
			for _, part := range strings.Split(tok, "_") {
				if len(part) > 1 && !textproc.IsStopword(part) {
					weights[part] += 0.5
				}
			}
		}
	}
	if textproc.HasCJK(text) {
		for _, bg := range textproc.RuneBigrams(text) {
			weights[bg]++
		}
	}

	for term, tf := range weights {
		w := 1 + math.Log(tf)
		w *= 1 + 0.08*math.Min(float64(len(term)), 12)
		if strings.ContainsAny(term, "0123456789") {
			w *= 1.4
		}
		if strings.ContainsRune(term, '_') {
			w *= 1.3
		}
		if _, ok := techTerms[term]; ok {
			w *= 1.3
		}
		weights[term] = w
	}
	return weights
}

func hashTerm(term string, salt byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(term))
	_, _ = h.Write([]byte{salt})
	return h.Sum64()
}

func signOf(h uint64) float64 {
	if h&(1<<63) != 0 {
		return -1
	}
	return 1
}

func normalizeL2(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
