// Package cache holds the two read-path caches: ranked recall results
// keyed by query shape, and query embeddings keyed by text. Both are
// fixed-capacity LRUs; the query cache additionally answers near-miss
// lookups by token similarity.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/metrics"
	"github.com/mnemo-ai/mnemo/internal/models"
	"github.com/mnemo-ai/mnemo/internal/store"
	"github.com/mnemo-ai/mnemo/internal/textproc"
)

// QueryCache memoizes ranked recall results. The key is the normalized
// query crossed with a filter fingerprint and the limit. On an exact miss
// a pattern lookup compares query tokens against cached queries with the
// same filters and limit; a Jaccard match at or above the threshold serves
// the cached results with a shortened TTL and promotes them under the new
// key. Any write to the store invalidates everything: rankings depend on
// batch-relative normalization, so per-key invalidation would serve subtly
// wrong scores.
type QueryCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List
	capacity   int
	ttl        time.Duration
	patternMin float64
}

type queryEntry struct {
	key         string
	queryNorm   string
	tokens      map[string]struct{}
	fingerprint string
	limit       int
	results     []models.RecallResult
	expiresAt   time.Time
}

// NewQueryCache creates a cache holding up to capacity entries for ttl.
// patternMin is the token-Jaccard threshold for near-miss serving.
func NewQueryCache(capacity int, ttl time.Duration, patternMin float64) *QueryCache {
	if capacity <= 0 {
		capacity = 128
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries:    make(map[string]*list.Element, capacity),
		lru:        list.New(),
		capacity:   capacity,
		ttl:        ttl,
		patternMin: patternMin,
	}
}

// Get returns cached results for the query shape, trying the exact key
// first and token-similarity second.
func (c *QueryCache) Get(queryNorm string, f store.Filters, limit int) ([]models.RecallResult, bool) {
	fp := fingerprint(f)
	key := cacheKey(queryNorm, fp, limit)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*queryEntry)
		if now.After(e.expiresAt) {
			c.removeLocked(el)
		} else {
			c.lru.MoveToFront(el)
			metrics.Inc(metrics.CacheHits)
			return cloneResults(e.results), true
		}
	}

	if e := c.patternMatchLocked(queryNorm, fp, limit, now); e != nil {
		metrics.Inc(metrics.CachePatternHits)
		results := cloneResults(e.results)
		// Promote under the new key with a shortened TTL: a similar query
		// is evidence, not proof, that the same ranking applies.
		c.putLocked(&queryEntry{
			key:         key,
			queryNorm:   queryNorm,
			tokens:      textproc.TokenSet(queryNorm),
			fingerprint: fp,
			limit:       limit,
			results:     cloneResults(e.results),
			expiresAt:   now.Add(c.ttl / 2),
		})
		return results, true
	}

	metrics.Inc(metrics.CacheMisses)
	return nil, false
}

// patternMatchLocked finds the most similar non-expired cached query with
// the same filters and limit, at or above the threshold.
func (c *QueryCache) patternMatchLocked(queryNorm, fp string, limit int, now time.Time) *queryEntry {
	if c.patternMin <= 0 || queryNorm == "" {
		return nil
	}
	tokens := textproc.TokenSet(queryNorm)
	if len(tokens) == 0 {
		return nil
	}

	var best *queryEntry
	var bestSim float64
	for el := c.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*queryEntry)
		if e.fingerprint != fp || e.limit != limit || now.After(e.expiresAt) {
			continue
		}
		if sim := textproc.Jaccard(tokens, e.tokens); sim >= c.patternMin && sim > bestSim {
			best, bestSim = e, sim
		}
	}
	return best
}

// Put stores ranked results for the query shape.
func (c *QueryCache) Put(queryNorm string, f store.Filters, limit int, results []models.RecallResult) {
	fp := fingerprint(f)
	e := &queryEntry{
		key:         cacheKey(queryNorm, fp, limit),
		queryNorm:   queryNorm,
		tokens:      textproc.TokenSet(queryNorm),
		fingerprint: fp,
		limit:       limit,
		results:     cloneResults(results),
		expiresAt:   time.Now().Add(c.ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(e)
}

func (c *QueryCache) putLocked(e *queryEntry) {
	if el, ok := c.entries[e.key]; ok {
		c.removeLocked(el)
	}
	c.entries[e.key] = c.lru.PushFront(e)
	for c.lru.Len() > c.capacity {
		c.removeLocked(c.lru.Back())
	}
}

func (c *QueryCache) removeLocked(el *list.Element) {
	c.lru.Remove(el)
	delete(c.entries, el.Value.(*queryEntry).key)
}

// InvalidateAll drops every entry.
func (c *QueryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element, c.capacity)
	c.lru.Init()
}

// Len returns the number of cached entries.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// cacheKey digests the query shape into a fixed-size key.
func cacheKey(queryNorm, fp string, limit int) string {
	h := sha256.Sum256([]byte(queryNorm + "\x1f" + fp + "\x1f" + fmt.Sprint(limit)))
	return hex.EncodeToString(h[:16])
}

// fingerprint canonicalizes the filter set: slices are sorted copies, so
// equivalent filters written in different orders share a fingerprint.
func fingerprint(f store.Filters) string {
	canon := struct {
		IDs            []string `json:"ids,omitempty"`
		Types          []string `json:"types,omitempty"`
		Tags           []string `json:"tags,omitempty"`
		Scopes         []string `json:"scopes,omitempty"`
		TimeFrom       string   `json:"time_from,omitempty"`
		TimeTo         string   `json:"time_to,omitempty"`
		Pinned         *bool    `json:"pinned,omitempty"`
		IncludeDeleted bool     `json:"include_deleted,omitempty"`
	}{
		IDs:            sortedCopy(f.IDs),
		Tags:           sortedLower(f.Tags),
		Pinned:         f.Pinned,
		IncludeDeleted: f.IncludeDeleted,
	}
	for _, t := range f.Types {
		canon.Types = append(canon.Types, string(t))
	}
	sort.Strings(canon.Types)
	for _, s := range f.Scopes {
		canon.Scopes = append(canon.Scopes, string(s))
	}
	sort.Strings(canon.Scopes)
	if f.TimeFrom != nil {
		canon.TimeFrom = f.TimeFrom.UTC().Format(time.RFC3339Nano)
	}
	if f.TimeTo != nil {
		canon.TimeTo = f.TimeTo.UTC().Format(time.RFC3339Nano)
	}

	b, err := json.Marshal(canon)
	if err != nil {
		return "unfingerprintable"
	}
	return string(b)
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func sortedLower(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	sort.Strings(out)
	return out
}

// cloneResults copies the slice so cached entries never alias caller data.
func cloneResults(in []models.RecallResult) []models.RecallResult {
	if in == nil {
		return nil
	}
	out := make([]models.RecallResult, len(in))
	copy(out, in)
	for i := range out {
		out[i].Memory.Tags = append([]string(nil), out[i].Memory.Tags...)
	}
	return out
}
