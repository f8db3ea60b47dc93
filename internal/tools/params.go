package tools

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mnemo-ai/mnemo/internal/alerts"
	"github.com/mnemo-ai/mnemo/internal/memerr"
	"github.com/mnemo-ai/mnemo/internal/models"
	"github.com/mnemo-ai/mnemo/internal/store"
	"github.com/mnemo-ai/mnemo/internal/taskqueue"
)

// Input bounds shared by every transport.
const (
	MaxContentRunes = 1000
	MaxQueryRunes   = 1000
	MaxLimit        = 100
	MaxBatchIDs     = 100

	// Unpinning above this importance requires an explicit confirm flag.
	ConfirmImportance = 0.8
)

// scriptPatterns are rejected anywhere in a recall query. Queries are echoed
// back in results and logs, so markup injection is cut off at the boundary.
var scriptPatterns = []string{
	"<script",
	"</script",
	"javascript:",
	"vbscript:",
	"onerror=",
	"onload=",
	"<iframe",
	"data:text/html",
}

// StringList unmarshals from either a JSON string or an array of strings.
// Callers of the flat filter form pass single values where the canonical
// nested form carries arrays.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*s = nil
		} else {
			*s = StringList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = StringList(many)
	return nil
}

// RememberParams is the remember tool input.
type RememberParams struct {
	Content      string   `json:"content"`
	Type         string   `json:"type,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Importance   *float64 `json:"importance,omitempty"`
	Source       string   `json:"source,omitempty"`
	PrivacyScope string   `json:"privacy_scope,omitempty"`
}

// RememberResult is the remember tool output.
type RememberResult struct {
	MemoryID   string    `json:"memory_id"`
	CreatedAt  time.Time `json:"created_at"`
	Type       string    `json:"type"`
	Importance float64   `json:"importance"`
}

// RecallFilters is the canonical nested filter object. The flat form some
// clients send is translated into this shape before validation.
type RecallFilters struct {
	ID           StringList `json:"id,omitempty"`
	Type         StringList `json:"type,omitempty"`
	Tags         StringList `json:"tags,omitempty"`
	PrivacyScope StringList `json:"privacy_scope,omitempty"`
	TimeFrom     string     `json:"time_from,omitempty"`
	TimeTo       string     `json:"time_to,omitempty"`
	Pinned       *bool      `json:"pinned,omitempty"`
}

// Empty reports whether no filter field is set.
func (f *RecallFilters) Empty() bool {
	return f == nil || (len(f.ID) == 0 && len(f.Type) == 0 && len(f.Tags) == 0 &&
		len(f.PrivacyScope) == 0 && f.TimeFrom == "" && f.TimeTo == "" && f.Pinned == nil)
}

// RecallParams is the recall tool input. The filter fields repeated at the
// top level are the legacy flat form; they apply only when the nested
// filters object is absent.
type RecallParams struct {
	Query           string         `json:"query"`
	Filters         *RecallFilters `json:"filters,omitempty"`
	Limit           int            `json:"limit,omitempty"`
	VectorWeight    *float64       `json:"vector_weight,omitempty"`
	TextWeight      *float64       `json:"text_weight,omitempty"`
	EnableHybrid    *bool          `json:"enable_hybrid,omitempty"`
	IncludeMetadata *bool          `json:"include_metadata,omitempty"`

	FlatType         StringList `json:"type,omitempty"`
	FlatTags         StringList `json:"tags,omitempty"`
	FlatPrivacyScope StringList `json:"privacy_scope,omitempty"`
	FlatTimeFrom     string     `json:"time_from,omitempty"`
	FlatTimeTo       string     `json:"time_to,omitempty"`
	FlatPinned       *bool      `json:"pinned,omitempty"`
}

// effectiveFilters resolves the nested-vs-flat filter forms. Nested wins
// when present; otherwise the flat fields are lifted into a nested object.
func (p *RecallParams) effectiveFilters() *RecallFilters {
	if !p.Filters.Empty() {
		return p.Filters
	}
	flat := &RecallFilters{
		Type:         p.FlatType,
		Tags:         p.FlatTags,
		PrivacyScope: p.FlatPrivacyScope,
		TimeFrom:     p.FlatTimeFrom,
		TimeTo:       p.FlatTimeTo,
		Pinned:       p.FlatPinned,
	}
	if flat.Empty() {
		return nil
	}
	return flat
}

// RecallItemMetadata is the per-item factor breakdown returned when
// include_metadata is on.
type RecallItemMetadata struct {
	TextScore    float64    `json:"text_score"`
	VectorScore  float64    `json:"vector_score"`
	Relevance    float64    `json:"relevance"`
	Recency      float64    `json:"recency"`
	Usage        float64    `json:"usage"`
	DupPenalty   float64    `json:"dup_penalty"`
	PrivacyScope string     `json:"privacy_scope"`
	Source       string     `json:"source,omitempty"`
	ViewCount    int64      `json:"view_count"`
	CiteCount    int64      `json:"cite_count"`
	EditCount    int64      `json:"edit_count"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
}

// RecallItem is one ranked result in the recall envelope.
type RecallItem struct {
	ID           string              `json:"id"`
	Type         string              `json:"type"`
	Content      string              `json:"content"`
	Importance   float64             `json:"importance"`
	Tags         []string            `json:"tags,omitempty"`
	Pinned       bool                `json:"pinned"`
	CreatedAt    time.Time           `json:"created_at"`
	Score        float64             `json:"score"`
	RecallReason string              `json:"recall_reason"`
	Metadata     *RecallItemMetadata `json:"metadata,omitempty"`
}

// SearchOptions echoes the effective search parameters back to the caller.
type SearchOptions struct {
	Limit         int     `json:"limit"`
	VectorWeight  float64 `json:"vector_weight"`
	TextWeight    float64 `json:"text_weight"`
	HybridSearch  bool    `json:"hybrid_search"`
	MinSimilarity float64 `json:"min_similarity"`
}

// RecallResponse is the recall tool output envelope.
type RecallResponse struct {
	Items          []RecallItem   `json:"items"`
	TotalCount     int            `json:"total_count"`
	QueryTime      string         `json:"query_time"`
	SearchType     string         `json:"search_type"`
	FiltersApplied *RecallFilters `json:"filters_applied,omitempty"`
	SearchOptions  SearchOptions  `json:"search_options"`
}

// PinParams is the pin and unpin tool input: one id, a batch, or both.
type PinParams struct {
	ID      string     `json:"id,omitempty"`
	Batch   StringList `json:"batch,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	Confirm bool       `json:"confirm,omitempty"`
}

// ids returns the deduplicated target set in request order.
func (p *PinParams) ids() []string {
	out := make([]string, 0, 1+len(p.Batch))
	seen := make(map[string]struct{}, 1+len(p.Batch))
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(p.ID)
	for _, id := range p.Batch {
		add(id)
	}
	return out
}

// PinOutcome is the per-id result of a pin or unpin call.
type PinOutcome struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// PinResponse is the pin and unpin tool output.
type PinResponse struct {
	Requested int          `json:"requested"`
	Succeeded int          `json:"succeeded"`
	Results   []PinOutcome `json:"results"`
	Reason    string       `json:"reason,omitempty"`
}

// ForgetParams is the forget tool input.
type ForgetParams struct {
	ID   string `json:"id"`
	Hard bool   `json:"hard,omitempty"`
}

// ForgetResponse is the forget tool output.
type ForgetResponse struct {
	MemoryID string `json:"memory_id"`
	Status   string `json:"status"` // "soft_deleted" or "hard_deleted"
}

// FeedbackParams is the feedback tool input.
type FeedbackParams struct {
	MemoryID string   `json:"memory_id"`
	Helpful  bool     `json:"helpful"`
	Score    *float64 `json:"score,omitempty"`
}

// FeedbackResponse is the feedback tool output.
type FeedbackResponse struct {
	MemoryID string   `json:"memory_id"`
	Helpful  bool     `json:"helpful"`
	Recorded []string `json:"recorded"`
}

// ToolCounters is the tool-call section of the stats output.
type ToolCounters struct {
	Remember int64 `json:"remember"`
	Recall   int64 `json:"recall"`
	Pin      int64 `json:"pin"`
	Unpin    int64 `json:"unpin"`
	Forget   int64 `json:"forget"`
	Feedback int64 `json:"feedback"`
	Errors   int64 `json:"errors"`
}

// CacheStats is the cache section of the stats output.
type CacheStats struct {
	QueryEntries     int   `json:"query_entries"`
	EmbeddingEntries int   `json:"embedding_entries"`
	Hits             int64 `json:"hits"`
	Misses           int64 `json:"misses"`
	PatternHits      int64 `json:"pattern_hits"`
}

// EmbedderInfo is the embedding section of the stats output.
type EmbedderInfo struct {
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
	MaxTokens int    `json:"max_tokens"`
	Available bool   `json:"available"`
}

// StatsResponse is the stats tool output.
type StatsResponse struct {
	Store           *models.StoreStats `json:"store"`
	Tools           ToolCounters       `json:"tools"`
	Cache           CacheStats         `json:"cache"`
	Queue           *taskqueue.Stats   `json:"queue,omitempty"`
	Embedder        *EmbedderInfo      `json:"embedder,omitempty"`
	ActiveAlerts    []alerts.Alert     `json:"active_alerts,omitempty"`
	RecallLatencyMs float64            `json:"recall_latency_ms"`
	UptimeSeconds   float64            `json:"uptime_seconds"`
}

// validateContent enforces the remember content bounds.
func validateContent(content string) error {
	const op = "tools.Remember"
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return memerr.E(op, memerr.ErrInvalid, "content must not be empty")
	}
	if n := utf8.RuneCountInString(content); n > MaxContentRunes {
		return memerr.Ef(op, memerr.ErrInvalid, "content is %d characters, limit is %d", n, MaxContentRunes)
	}
	return nil
}

// validateQuery enforces the recall query bounds and rejects markup that
// could be replayed into a rendering client.
func validateQuery(query string) error {
	const op = "tools.Recall"
	if n := utf8.RuneCountInString(query); n > MaxQueryRunes {
		return memerr.Ef(op, memerr.ErrInvalid, "query is %d characters, limit is %d", n, MaxQueryRunes)
	}
	lower := strings.ToLower(query)
	for _, pat := range scriptPatterns {
		if strings.Contains(lower, pat) {
			return memerr.Ef(op, memerr.ErrInvalid, "query contains disallowed pattern %q", pat)
		}
	}
	return nil
}

// clampLimit forces limit into [1, max], substituting def when unset.
func clampLimit(limit, def, max int) int {
	if max <= 0 || max > MaxLimit {
		max = MaxLimit
	}
	if limit <= 0 {
		limit = def
	}
	if limit <= 0 {
		limit = 1
	}
	if limit > max {
		limit = max
	}
	return limit
}

// parseMemoryType validates an optional memory type string. Empty returns
// the zero value so the caller can apply its default.
func parseMemoryType(op, s string) (models.MemoryType, error) {
	if s == "" {
		return "", nil
	}
	mt := models.MemoryType(strings.ToLower(strings.TrimSpace(s)))
	if !mt.IsValid() {
		return "", memerr.Ef(op, memerr.ErrInvalid, "unknown memory type %q", s)
	}
	return mt, nil
}

// parsePrivacyScope validates an optional privacy scope string.
func parsePrivacyScope(op, s string) (models.PrivacyScope, error) {
	if s == "" {
		return "", nil
	}
	ps := models.PrivacyScope(strings.ToLower(strings.TrimSpace(s)))
	if !ps.IsValid() {
		return "", memerr.Ef(op, memerr.ErrInvalid, "unknown privacy scope %q", s)
	}
	return ps, nil
}

// parseFilterTime accepts RFC 3339 or a bare date.
func parseFilterTime(op, field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	return nil, memerr.Ef(op, memerr.ErrInvalid, "%s %q is not an ISO-8601 timestamp", field, s)
}

// storeFilters converts the wire filter object into the store form,
// validating enums and timestamps.
func storeFilters(op string, f *RecallFilters) (store.Filters, error) {
	var out store.Filters
	if f.Empty() {
		return out, nil
	}
	out.IDs = append(out.IDs, f.ID...)
	for _, s := range f.Type {
		mt, err := parseMemoryType(op, s)
		if err != nil {
			return store.Filters{}, err
		}
		if mt != "" {
			out.Types = append(out.Types, mt)
		}
	}
	for _, s := range f.PrivacyScope {
		ps, err := parsePrivacyScope(op, s)
		if err != nil {
			return store.Filters{}, err
		}
		if ps != "" {
			out.Scopes = append(out.Scopes, ps)
		}
	}
	out.Tags = append(out.Tags, f.Tags...)
	from, err := parseFilterTime(op, "time_from", f.TimeFrom)
	if err != nil {
		return store.Filters{}, err
	}
	to, err := parseFilterTime(op, "time_to", f.TimeTo)
	if err != nil {
		return store.Filters{}, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return store.Filters{}, memerr.E(op, memerr.ErrInvalid, "time_to precedes time_from")
	}
	out.TimeFrom = from
	out.TimeTo = to
	out.Pinned = f.Pinned
	return out, nil
}

// validateImportance rejects values outside [0,1]. nil means "use the type
// default" and passes.
func validateImportance(op string, imp *float64) error {
	if imp == nil {
		return nil
	}
	if *imp < 0 || *imp > 1 {
		return memerr.Ef(op, memerr.ErrInvalid, "importance %.3f is outside [0,1]", *imp)
	}
	return nil
}
