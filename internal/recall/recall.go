package recall

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mnemo-ai/mnemo/internal/models"
	"github.com/mnemo-ai/mnemo/internal/textproc"
)

// Weights controls the relative importance of each ranking factor in the
// overlay score. Duplication is subtracted, the rest are added.
type Weights struct {
	Relevance   float64 `json:"relevance" mapstructure:"relevance"`
	Recency     float64 `json:"recency" mapstructure:"recency"`
	Importance  float64 `json:"importance" mapstructure:"importance"`
	Usage       float64 `json:"usage" mapstructure:"usage"`
	Duplication float64 `json:"duplication" mapstructure:"duplication"`
}

// DefaultWeights returns the default ranking weights.
func DefaultWeights() Weights {
	return Weights{
		Relevance:   0.50,
		Recency:     0.20,
		Importance:  0.20,
		Usage:       0.10,
		Duplication: 0.15,
	}
}

// Relevance blend shares within the text leg. The text leg's own blend is
// bm25 0.75, tag overlap 0.125, title hit 0.125; scaled by the merge
// weights (vector 0.6, text 0.4 by default) this yields the overall blend
// vector 0.60, bm25 0.30, tag 0.05, title 0.05.
const (
	textBM25Share  = 0.75
	textTagShare   = 0.125
	textTitleShare = 0.125
)

// candidate carries one memory through the ranking pipeline.
type candidate struct {
	mem    models.Memory
	tokens map[string]struct{}

	bm25    float64 // normalized lexical score, valid when hasText
	hasText bool
	vecSim  float64 // cosine similarity, valid when hasVec
	hasVec  bool
	tagJac  float64
	title   float64

	relevance float64
	recency   float64
	usageRaw  float64
	usage     float64
	dup       float64
	base      float64 // overlay score before the duplication term
	final     float64
	reason    string
}

// blendRelevance folds the per-leg signals into one relevance value under
// fixed merge weights. A signal a leg did not produce contributes zero, so
// an indexed embedding can only add to a candidate's relevance, never
// dilute it. Tag and title signals are always computable.
func blendRelevance(c *candidate, vectorWeight, textWeight float64) float64 {
	var sum float64
	if c.hasVec {
		sum += vectorWeight * c.vecSim
	}
	if c.hasText {
		sum += textWeight * textBM25Share * c.bm25
	}
	sum += textWeight * textTagShare * c.tagJac
	sum += textWeight * textTitleShare * c.title
	return sum
}

// recencyScore decays exponentially with the memory's age since last
// access, using the half-life of its type: recent working memory scores
// near 1, an untouched episode from months ago near 0.
func recencyScore(m *models.Memory, now time.Time) float64 {
	hours := now.Sub(m.AccessedAt()).Hours()
	if hours < 0 {
		hours = 0
	}
	halfLife := m.Type.HalfLife().Hours()
	return math.Exp(-0.693 * hours / halfLife)
}

// normalizeUsage min-maxes the raw usage values across the candidate batch.
// A degenerate batch (all equal) gets zeros; usage then simply does not
// discriminate.
func normalizeUsage(cands []*candidate) {
	if len(cands) == 0 {
		return
	}
	minV, maxV := cands[0].usageRaw, cands[0].usageRaw
	for _, c := range cands[1:] {
		if c.usageRaw < minV {
			minV = c.usageRaw
		}
		if c.usageRaw > maxV {
			maxV = c.usageRaw
		}
	}
	span := maxV - minV
	for _, c := range cands {
		if span <= 0 {
			c.usage = 0
			continue
		}
		c.usage = (c.usageRaw - minV) / span
	}
}

// titleHit checks whether the query lands in the leading line of the
// content. Token overlap scores a full hit; CJK text falls back to
// character-bigram overlap since whitespace tokenization underfits it.
func titleHit(queryTokens []string, queryNorm, content string) float64 {
	if len(queryTokens) == 0 && queryNorm == "" {
		return 0
	}
	title := firstLine(content)
	if title == "" {
		return 0
	}
	set := textproc.TokenSet(title)
	for _, t := range queryTokens {
		if _, ok := set[t]; ok {
			return 1.0
		}
	}
	if textproc.HasCJK(queryNorm) || textproc.HasCJK(title) {
		return textproc.BigramOverlap(queryNorm, title)
	}
	return 0
}

// firstLine returns the first line of s capped at 120 runes.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > 120 {
		runes = runes[:120]
	}
	return strings.TrimSpace(string(runes))
}

// cosine computes cosine similarity, 0 for mismatched or zero vectors.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// selectMMR greedily picks up to limit candidates by overlay score minus a
// marginal duplication penalty: each round, a candidate pays for its worst
// token-set similarity to anything already selected. Ties break by pinned,
// then importance, then creation time, then id, keeping the ordering
// deterministic for identical inputs.
func selectMMR(cands []*candidate, w Weights, limit int) []*candidate {
	selected := make([]*candidate, 0, limit)
	remaining := make([]*candidate, len(cands))
	copy(remaining, cands)

	for len(selected) < limit && len(remaining) > 0 {
		bestIdx := -1
		var best *candidate
		var bestEff float64
		for i, c := range remaining {
			eff := c.base - w.Duplication*maxJaccard(c, selected)
			if bestIdx < 0 || better(c, eff, best, bestEff) {
				bestIdx, best, bestEff = i, c, eff
			}
		}
		best.dup = maxJaccard(best, selected)
		best.final = best.base - w.Duplication*best.dup
		selected = append(selected, best)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func maxJaccard(c *candidate, selected []*candidate) float64 {
	var worst float64
	for _, s := range selected {
		if j := textproc.Jaccard(c.tokens, s.tokens); j > worst {
			worst = j
		}
	}
	return worst
}

// better reports whether (a, effA) outranks (b, effB).
func better(a *candidate, effA float64, b *candidate, effB float64) bool {
	const eps = 1e-9
	if diff := effA - effB; diff > eps || diff < -eps {
		return diff > 0
	}
	if a.mem.Pinned != b.mem.Pinned {
		return a.mem.Pinned
	}
	if a.mem.Importance != b.mem.Importance {
		return a.mem.Importance > b.mem.Importance
	}
	if !a.mem.CreatedAt.Equal(b.mem.CreatedAt) {
		return a.mem.CreatedAt.After(b.mem.CreatedAt)
	}
	return a.mem.ID < b.mem.ID
}

// sortCandidates orders by base score with the deterministic tie-break,
// used before truncating to the MMR input size.
func sortCandidates(cands []*candidate) {
	sort.Slice(cands, func(i, j int) bool {
		return better(cands[i], cands[i].base, cands[j], cands[j].base)
	})
}
