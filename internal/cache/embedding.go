package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/mnemo-ai/mnemo/internal/embedder"
)

// EmbedderCache decorates an Embedder with an LRU over produced vectors,
// keyed by the exact input text. Recall embeds the same query text over
// and over; for remote providers every hit saves a network round trip.
type EmbedderCache struct {
	inner    embedder.Embedder
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List
	capacity int
}

type embedEntry struct {
	text string
	vec  []float32
}

var _ embedder.Embedder = (*EmbedderCache)(nil)

// NewEmbedderCache wraps inner with a capacity-bounded vector cache.
func NewEmbedderCache(inner embedder.Embedder, capacity int) *EmbedderCache {
	if capacity <= 0 {
		capacity = 512
	}
	return &EmbedderCache{
		inner:    inner,
		entries:  make(map[string]*list.Element, capacity),
		lru:      list.New(),
		capacity: capacity,
	}
}

// Embed returns the cached vector for text or asks the inner provider.
func (c *EmbedderCache) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.get(text); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(text, vec)
	return cloneVec(vec), nil
}

// EmbedBatch serves hits from cache and fetches only the misses in one
// provider call, preserving input order.
func (c *EmbedderCache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if vec, ok := c.get(t); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		// Provider contract violation; serve what came back positionally.
		vecs = append(vecs, make([][]float32, len(missing)-len(vecs))...)
	}
	for i, vec := range vecs {
		if vec == nil {
			continue
		}
		c.put(missing[i], vec)
		out[missingIdx[i]] = cloneVec(vec)
	}
	return out, nil
}

// Dimension returns the inner provider's dimension.
func (c *EmbedderCache) Dimension() int { return c.inner.Dimension() }

// Model returns the inner provider's model tag.
func (c *EmbedderCache) Model() string { return c.inner.Model() }

// Available reports the inner provider's availability.
func (c *EmbedderCache) Available() bool { return c.inner.Available() }

// MaxTokens returns the inner provider's token budget.
func (c *EmbedderCache) MaxTokens() int { return c.inner.MaxTokens() }

// Len returns the number of cached vectors.
func (c *EmbedderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *EmbedderCache) get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[text]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(el)
	return cloneVec(el.Value.(*embedEntry).vec), true
}

func (c *EmbedderCache) put(text string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[text]; ok {
		c.lru.MoveToFront(el)
		el.Value.(*embedEntry).vec = cloneVec(vec)
		return
	}
	c.entries[text] = c.lru.PushFront(&embedEntry{text: text, vec: cloneVec(vec)})
	for c.lru.Len() > c.capacity {
		back := c.lru.Back()
		c.lru.Remove(back)
		delete(c.entries, back.Value.(*embedEntry).text)
	}
}

func cloneVec(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
