// Package recall implements the hybrid retrieval pipeline: a lexical leg
// over the FTS index and a vector leg over stored embeddings, merged into
// one candidate set, scored with a five-signal overlay, and selected with
// a marginal duplication penalty. Identical inputs always produce the same
// ordering.
package recall

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mnemo-ai/mnemo/internal/cache"
	"github.com/mnemo-ai/mnemo/internal/embedder"
	"github.com/mnemo-ai/mnemo/internal/metrics"
	"github.com/mnemo-ai/mnemo/internal/models"
	"github.com/mnemo-ai/mnemo/internal/store"
	"github.com/mnemo-ai/mnemo/internal/textproc"
)

// Candidate pool bounds: the pipeline overfetches past the requested limit
// so the duplication penalty has alternatives to promote.
const (
	minCandidates = 30
	maxCandidates = 150
)

// Options configures the pipeline.
type Options struct {
	DefaultLimit  int
	MaxLimit      int
	VectorWeight  float64
	TextWeight    float64
	MinSimilarity float64
	Weights       Weights
}

// Query is one recall request. Filters are already in canonical form.
// VectorWeight and TextWeight override the configured merge weights when
// their sum is positive; DisableVector skips the embedding leg entirely.
// Requests carrying overrides bypass the result cache, which only keys on
// the default-shaped pipeline.
type Query struct {
	Text    string
	Filters store.Filters
	Limit   int

	VectorWeight  float64
	TextWeight    float64
	DisableVector bool
}

// overridden reports whether the request reshapes the default pipeline.
func (q Query) overridden() bool {
	return q.DisableVector || q.VectorWeight+q.TextWeight > 0
}

// Pipeline answers recall queries against the store and embedder.
type Pipeline struct {
	store    store.Store
	embedder embedder.Embedder
	queries  *cache.QueryCache
	reasoner *Reasoner
	opts     Options
	logger   *slog.Logger
}

// NewPipeline wires the recall pipeline. queries and reasoner may be nil to
// disable result caching and LLM re-ranking respectively.
func NewPipeline(st store.Store, emb embedder.Embedder, queries *cache.QueryCache, reasoner *Reasoner, opts Options, logger *slog.Logger) *Pipeline {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = opts.DefaultLimit
	}
	if opts.VectorWeight+opts.TextWeight <= 0 {
		opts.VectorWeight, opts.TextWeight = 0.6, 0.4
	}
	zero := Weights{}
	if opts.Weights == zero {
		opts.Weights = DefaultWeights()
	}
	return &Pipeline{
		store:    st,
		embedder: emb,
		queries:  queries,
		reasoner: reasoner,
		opts:     opts,
		logger:   logger,
	}
}

// Recall runs the full pipeline and returns up to Limit ranked results.
// The text leg failing is fatal; the vector leg degrades to text-only.
func (p *Pipeline) Recall(ctx context.Context, q Query) ([]models.RecallResult, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveRecallLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	normText := textproc.Normalize(q.Text)
	limit := q.Limit
	if limit <= 0 {
		limit = p.opts.DefaultLimit
	}
	if limit > p.opts.MaxLimit {
		limit = p.opts.MaxLimit
	}

	cacheable := p.queries != nil && !q.overridden()
	if cacheable {
		if results, ok := p.queries.Get(normText, q.Filters, limit); ok {
			p.logger.Debug("recall served from cache", "query", normText, "results", len(results))
			return results, nil
		}
	}

	vw, tw := p.opts.VectorWeight, p.opts.TextWeight
	if q.VectorWeight+q.TextWeight > 0 {
		vw, tw = q.VectorWeight, q.TextWeight
	}
	// Relevance stays in [0,1] only when the merge weights sum to one.
	if s := vw + tw; s > 0 {
		vw, tw = vw/s, tw/s
	}

	candLimit := limit * 3
	if candLimit < minCandidates {
		candLimit = minCandidates
	}
	if candLimit > maxCandidates {
		candLimit = maxCandidates
	}

	var textHits []models.TextHit
	var vecHits []models.VectorHit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := p.store.SearchText(gctx, textproc.FTSQuery(normText), q.Filters, candLimit)
		if err != nil {
			return err
		}
		textHits = hits
		return nil
	})
	g.Go(func() error {
		if !q.DisableVector {
			vecHits = p.vectorLeg(gctx, normText, q.Filters, candLimit)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := p.rank(normText, textHits, vecHits, limit, vw, tw)

	if p.reasoner != nil && len(results) > 1 {
		reordered, err := p.reasoner.ReRank(ctx, q.Text, results, 0)
		if err == nil {
			results = reordered
		}
	}

	if cacheable {
		p.queries.Put(normText, q.Filters, limit, results)
	}

	p.logger.Debug("recall complete",
		"query", normText,
		"text_hits", len(textHits),
		"vector_hits", len(vecHits),
		"results", len(results),
		"elapsed", time.Since(start))
	return results, nil
}

// vectorLeg embeds the query and ranks stored vectors by cosine
// similarity. Every failure path returns nil: no provider, an open
// breaker, or a dimension mismatch cost the semantic signal, never the
// whole recall.
func (p *Pipeline) vectorLeg(ctx context.Context, normText string, f store.Filters, limit int) []models.VectorHit {
	if normText == "" || p.embedder == nil {
		return nil
	}

	metrics.Inc(metrics.EmbedTotal)
	qvec, err := p.embedder.Embed(ctx, normText)
	if err != nil {
		metrics.Inc(metrics.EmbedFailures)
		p.logger.Debug("vector leg unavailable, degrading to text-only", "error", err)
		return nil
	}

	rows, err := p.store.ListEmbeddings(ctx, f.Types)
	if err != nil {
		p.logger.Warn("vector leg: listing embeddings failed", "error", err)
		return nil
	}

	var hits []models.VectorHit
	for i := range rows {
		row := &rows[i]
		if !f.Match(&row.Memory) {
			continue
		}
		if len(row.Vector) != len(qvec) {
			continue
		}
		sim := cosine(qvec, row.Vector)
		if sim < p.opts.MinSimilarity {
			continue
		}
		hits = append(hits, models.VectorHit{Memory: row.Memory, Similarity: sim})
	}

	sortVectorHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// rank merges the two legs, computes the overlay score, and selects with
// the duplication penalty.
func (p *Pipeline) rank(normText string, textHits []models.TextHit, vecHits []models.VectorHit, limit int, vw, tw float64) []models.RecallResult {
	queryTokens := textproc.Tokenize(normText)
	now := time.Now().UTC()

	// No vector leg at all (disabled, degraded, or nothing indexed): the
	// text signals carry full weight. This rescales every candidate by the
	// same factor, so ordering is unaffected; per-candidate weights stay
	// fixed so a vector match can only add relevance, never dilute it.
	if len(vecHits) == 0 {
		vw, tw = 0, 1
	}

	byID := make(map[string]*candidate, len(textHits)+len(vecHits))
	ordered := make([]*candidate, 0, len(textHits)+len(vecHits))

	for i := range textHits {
		hit := &textHits[i]
		c := &candidate{
			mem:     hit.Memory,
			bm25:    hit.Score,
			hasText: true,
			reason:  hit.Reason,
		}
		byID[hit.Memory.ID] = c
		ordered = append(ordered, c)
	}
	for i := range vecHits {
		hit := &vecHits[i]
		if c, ok := byID[hit.Memory.ID]; ok {
			c.vecSim = hit.Similarity
			c.hasVec = true
			c.reason = "text+vector merged"
			continue
		}
		c := &candidate{
			mem:    hit.Memory,
			vecSim: hit.Similarity,
			hasVec: true,
			reason: fmt.Sprintf("vector similarity: %.3f", hit.Similarity),
		}
		byID[hit.Memory.ID] = c
		ordered = append(ordered, c)
	}

	for _, c := range ordered {
		c.tokens = textproc.TokenSet(c.mem.Content)
		c.tagJac = textproc.JaccardSlices(queryTokens, c.mem.Tags)
		c.title = titleHit(queryTokens, normText, c.mem.Content)
		c.relevance = blendRelevance(c, vw, tw)
		c.recency = recencyScore(&c.mem, now)
		c.usageRaw = c.mem.UsageRaw()
	}
	normalizeUsage(ordered)

	w := p.opts.Weights
	for _, c := range ordered {
		c.base = w.Relevance*c.relevance +
			w.Recency*c.recency +
			w.Importance*models.ClampUnit(c.mem.Importance) +
			w.Usage*c.usage
	}

	sortCandidates(ordered)
	selected := selectMMR(ordered, w, limit)

	results := make([]models.RecallResult, 0, len(selected))
	for _, c := range selected {
		results = append(results, models.RecallResult{
			Memory:       c.mem,
			TextScore:    c.bm25,
			VectorScore:  c.vecSim,
			Relevance:    c.relevance,
			Recency:      c.recency,
			Importance:   models.ClampUnit(c.mem.Importance),
			Usage:        c.usage,
			DupPenalty:   c.dup,
			FinalScore:   c.final,
			RecallReason: c.reason,
		})
	}
	return results
}

// sortVectorHits orders by similarity descending with id as tie-break.
func sortVectorHits(hits []models.VectorHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Memory.ID < hits[j].Memory.ID
	})
}
