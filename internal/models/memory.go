// Package models defines the persistent entities of the memory engine:
// memories, embeddings, feedback events, and review schedules.
package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// IDPrefix is prepended to every memory identifier.
const IDPrefix = "mem_"

// NewID mints a new opaque memory identifier.
func NewID() string {
	return IDPrefix + uuid.NewString()
}

// MemoryType classifies the kind of memory and controls its retention
// half-life, TTL, and default importance.
type MemoryType string

const (
	MemoryTypeWorking    MemoryType = "working"
	MemoryTypeEpisodic   MemoryType = "episodic"
	MemoryTypeSemantic   MemoryType = "semantic"
	MemoryTypeProcedural MemoryType = "procedural"
)

// ValidMemoryTypes is the set of all valid memory types.
var ValidMemoryTypes = []MemoryType{
	MemoryTypeWorking,
	MemoryTypeEpisodic,
	MemoryTypeSemantic,
	MemoryTypeProcedural,
}

// IsValid returns true if the memory type is recognized.
func (mt MemoryType) IsValid() bool {
	for _, v := range ValidMemoryTypes {
		if mt == v {
			return true
		}
	}
	return false
}

// HalfLife returns the recency-decay half-life for the memory type.
func (mt MemoryType) HalfLife() time.Duration {
	switch mt {
	case MemoryTypeWorking:
		return 2 * 24 * time.Hour
	case MemoryTypeEpisodic:
		return 30 * 24 * time.Hour
	case MemoryTypeSemantic:
		return 180 * 24 * time.Hour
	case MemoryTypeProcedural:
		return 90 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// DefaultTTL returns the default retention TTL for the memory type.
// A zero duration means the type is retained indefinitely.
func (mt MemoryType) DefaultTTL() time.Duration {
	switch mt {
	case MemoryTypeWorking:
		return 48 * time.Hour
	case MemoryTypeEpisodic:
		return 90 * 24 * time.Hour
	default:
		return 0
	}
}

// DefaultImportance returns the importance assigned when the caller omits it.
func (mt MemoryType) DefaultImportance() float64 {
	switch mt {
	case MemoryTypeWorking:
		return 0.3
	case MemoryTypeEpisodic:
		return 0.4
	case MemoryTypeSemantic:
		return 0.6
	case MemoryTypeProcedural:
		return 0.5
	default:
		return 0.5
	}
}

// PrivacyScope is an advisory visibility tag attached to each memory.
type PrivacyScope string

const (
	ScopePrivate PrivacyScope = "private"
	ScopeTeam    PrivacyScope = "team"
	ScopePublic  PrivacyScope = "public"
)

// ValidPrivacyScopes is the set of all valid privacy scopes.
var ValidPrivacyScopes = []PrivacyScope{
	ScopePrivate,
	ScopeTeam,
	ScopePublic,
}

// IsValid returns true if the privacy scope is recognized.
func (ps PrivacyScope) IsValid() bool {
	for _, v := range ValidPrivacyScopes {
		if ps == v {
			return true
		}
	}
	return false
}

// Memory is the primary unit of storage.
type Memory struct {
	ID           string       `json:"id"`
	Type         MemoryType   `json:"type"`
	Content      string       `json:"content"`
	Importance   float64      `json:"importance"`
	PrivacyScope PrivacyScope `json:"privacy_scope"`
	Tags         []string     `json:"tags"`
	Source       string       `json:"source,omitempty"`
	Pinned       bool         `json:"pinned"`
	ViewCount    int64        `json:"view_count"`
	CiteCount    int64        `json:"cite_count"`
	EditCount    int64        `json:"edit_count"`
	CreatedAt    time.Time    `json:"created_at"`
	LastAccessed *time.Time   `json:"last_accessed,omitempty"`
	DeletedAt    *time.Time   `json:"deleted_at,omitempty"` // set = soft-deleted
}

// Live reports whether the memory is visible to recall.
func (m *Memory) Live() bool { return m.DeletedAt == nil }

// AccessedAt returns the reference time for recency math: the last access
// when one exists, otherwise the creation time.
func (m *Memory) AccessedAt() time.Time {
	if m.LastAccessed != nil && !m.LastAccessed.IsZero() {
		return *m.LastAccessed
	}
	return m.CreatedAt
}

// Clamp forces importance and counters into their legal ranges.
func (m *Memory) Clamp() {
	m.Importance = ClampUnit(m.Importance)
	if m.ViewCount < 0 {
		m.ViewCount = 0
	}
	if m.CiteCount < 0 {
		m.CiteCount = 0
	}
	if m.EditCount < 0 {
		m.EditCount = 0
	}
}

// UsageRaw is the unnormalized usage signal:
// log(1+views) + 2·log(1+cites) + 0.5·log(1+edits).
func (m *Memory) UsageRaw() float64 {
	return math.Log(1+float64(m.ViewCount)) +
		2*math.Log(1+float64(m.CiteCount)) +
		0.5*math.Log(1+float64(m.EditCount))
}

// ClampUnit clamps v to [0,1].
func ClampUnit(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Embedding is the stored dense vector for one memory.
type Embedding struct {
	MemoryID  string    `json:"memory_id"`
	Vector    []float32 `json:"vector"`
	Dim       int       `json:"dim"`
	Model     string    `json:"model"`
	Stale     bool      `json:"stale"` // provider changed; regeneration required
	CreatedAt time.Time `json:"created_at"`
}

// FeedbackKind enumerates feedback event kinds.
type FeedbackKind string

const (
	FeedbackViewed     FeedbackKind = "viewed"
	FeedbackCited      FeedbackKind = "cited"
	FeedbackEdited     FeedbackKind = "edited"
	FeedbackHelpful    FeedbackKind = "helpful"
	FeedbackNotHelpful FeedbackKind = "not_helpful"
	FeedbackPinned     FeedbackKind = "pinned"
	FeedbackUnpinned   FeedbackKind = "unpinned"
)

// ValidFeedbackKinds is the set of all valid feedback kinds.
var ValidFeedbackKinds = []FeedbackKind{
	FeedbackViewed,
	FeedbackCited,
	FeedbackEdited,
	FeedbackHelpful,
	FeedbackNotHelpful,
	FeedbackPinned,
	FeedbackUnpinned,
}

// IsValid returns true if the feedback kind is recognized.
func (fk FeedbackKind) IsValid() bool {
	for _, v := range ValidFeedbackKinds {
		if fk == v {
			return true
		}
	}
	return false
}

// FeedbackEvent is one append-only usage or quality signal for a memory.
type FeedbackEvent struct {
	ID        int64        `json:"id"`
	MemoryID  string       `json:"memory_id"`
	Kind      FeedbackKind `json:"kind"`
	Score     float64      `json:"score"`
	CreatedAt time.Time    `json:"created_at"`
}

// ReviewSchedule tracks the spaced-repetition state of one memory.
type ReviewSchedule struct {
	MemoryID          string    `json:"memory_id"`
	IntervalDays      int       `json:"interval_days"`
	LastReview        time.Time `json:"last_review"`
	NextReview        time.Time `json:"next_review"`
	RecallProbability float64   `json:"recall_probability"`
}

// TextHit is a raw lexical candidate with its normalized BM25 score.
type TextHit struct {
	Memory Memory  `json:"memory"`
	Score  float64 `json:"score"`  // [0,1], min-max normalized over the batch
	Reason string  `json:"reason"` // "keyword match" or "recent memory"
}

// VectorHit is a raw dense-vector candidate with its cosine similarity.
type VectorHit struct {
	Memory     Memory  `json:"memory"`
	Similarity float64 `json:"similarity"`
}

// RecallResult is one ranked recall item with its factor breakdown.
type RecallResult struct {
	Memory       Memory  `json:"memory"`
	TextScore    float64 `json:"text_score"`
	VectorScore  float64 `json:"vector_score"`
	Relevance    float64 `json:"relevance"`
	Recency      float64 `json:"recency"`
	Importance   float64 `json:"importance"`
	Usage        float64 `json:"usage"`
	DupPenalty   float64 `json:"dup_penalty"`
	FinalScore   float64 `json:"final_score"`
	RecallReason string  `json:"recall_reason"`
}

// StoreStats summarizes the state of the durable store.
type StoreStats struct {
	TotalMemories   int64            `json:"total_memories"`
	LiveMemories    int64            `json:"live_memories"`
	SoftDeleted     int64            `json:"soft_deleted"`
	Pinned          int64            `json:"pinned"`
	ByType          map[string]int64 `json:"by_type"`
	ByScope         map[string]int64 `json:"by_scope"`
	Embeddings      int64            `json:"embeddings"`
	StaleEmbeddings int64            `json:"stale_embeddings"`
	FeedbackEvents  int64            `json:"feedback_events"`
	ReviewsTracked  int64            `json:"reviews_tracked"`
	DBSizeBytes     int64            `json:"db_size_bytes"`
}
