// Package store implements durable persistence for memories, embeddings,
// feedback events, and review schedules on a single SQLite file with a
// write-ahead journal and an FTS5 lexical index.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/mnemo-ai/mnemo/internal/models"
)

// Store is the persistence contract. All multi-table writes are atomic:
// one transaction per call. Concurrent readers are admitted; writers are
// serialized by the backing connection.
type Store interface {
	// CreateMemory inserts a new memory row. The lexical index is updated
	// in the same transaction, so the memory is recallable by text as soon
	// as this returns.
	CreateMemory(ctx context.Context, mem models.Memory) error

	// GetMemory returns a memory by id, including soft-deleted rows.
	GetMemory(ctx context.Context, id string) (*models.Memory, error)

	// UpdateMemory rewrites content, importance, tags, source, and privacy
	// scope of an existing memory.
	UpdateMemory(ctx context.Context, mem models.Memory) error

	// SetPinned flips the pin flag.
	SetPinned(ctx context.Context, id string, pinned bool) error

	// SoftDeleteMemory marks the memory invisible to recall while retaining
	// all dependent rows. Idempotent.
	SoftDeleteMemory(ctx context.Context, id string) error

	// HardDeleteMemory removes the memory together with its embedding,
	// feedback events, and review schedule in one transaction.
	HardDeleteMemory(ctx context.Context, id string) error

	// ListMemories returns memories matching the filters, ordered by
	// created_at descending then id ascending.
	ListMemories(ctx context.Context, f Filters) ([]models.Memory, error)

	// SearchText runs an FTS5 MATCH over live memories and returns hits
	// with BM25 scores min-max normalized to [0,1]. An empty match string
	// returns the most recent live memories with Reason "recent memory".
	SearchText(ctx context.Context, match string, f Filters, limit int) ([]models.TextHit, error)

	// AppendFeedback records one feedback event and applies its counter
	// and last-access effects in the same transaction.
	AppendFeedback(ctx context.Context, ev models.FeedbackEvent) error

	// LatestFeedbackAt returns the time of the most recent feedback event
	// for the memory, or nil when none exists.
	LatestFeedbackAt(ctx context.Context, memoryID string) (*time.Time, error)

	// FeedbackTallies counts helpful and not_helpful events for the memory
	// recorded strictly after since. A zero since counts all events.
	FeedbackTallies(ctx context.Context, memoryID string, since time.Time) (helpful, notHelpful int64, err error)

	// UpsertEmbedding stores or replaces the embedding for a memory and
	// clears its stale flag.
	UpsertEmbedding(ctx context.Context, emb models.Embedding) error

	// GetEmbedding returns the embedding for a memory, or ErrNotFound.
	GetEmbedding(ctx context.Context, memoryID string) (*models.Embedding, error)

	// ListEmbeddings returns non-stale embeddings of live memories joined
	// with their rows, optionally restricted to a type set.
	ListEmbeddings(ctx context.Context, types []models.MemoryType) ([]EmbeddingRow, error)

	// MarkEmbeddingsStale flags every embedding whose model differs from
	// model as requiring regeneration. Returns the number flagged.
	MarkEmbeddingsStale(ctx context.Context, model string) (int64, error)

	// ListMemoriesNeedingEmbedding returns live memories with no embedding
	// or a stale one, oldest first, up to limit.
	ListMemoriesNeedingEmbedding(ctx context.Context, limit int) ([]models.Memory, error)

	// UpsertReview stores or replaces the review schedule for a memory.
	UpsertReview(ctx context.Context, rs models.ReviewSchedule) error

	// GetReview returns the review schedule for a memory, or ErrNotFound.
	GetReview(ctx context.Context, memoryID string) (*models.ReviewSchedule, error)

	// Stats returns collection statistics.
	Stats(ctx context.Context) (*models.StoreStats, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Checkpoint forces a WAL checkpoint, truncating the journal.
	Checkpoint(ctx context.Context) error

	// Close releases the underlying database handle.
	Close() error
}

// Filters restricts enumeration and search results. Zero values mean
// "no restriction" except IncludeDeleted, which defaults to live-only.
type Filters struct {
	IDs            []string
	Types          []models.MemoryType
	Tags           []string // memory matches when it carries any of these
	Scopes         []models.PrivacyScope
	TimeFrom       *time.Time
	TimeTo         *time.Time
	Pinned         *bool
	IncludeDeleted bool
	Limit          int
}

// Empty reports whether the filter set restricts nothing.
func (f Filters) Empty() bool {
	return len(f.IDs) == 0 && len(f.Types) == 0 && len(f.Tags) == 0 &&
		len(f.Scopes) == 0 && f.TimeFrom == nil && f.TimeTo == nil &&
		f.Pinned == nil
}

// Match reports whether m satisfies the filter set. It mirrors the SQL
// WHERE clause so candidates fetched outside the query path (the vector
// leg) obey the same filters.
func (f Filters) Match(m *models.Memory) bool {
	if !f.IncludeDeleted && m.DeletedAt != nil {
		return false
	}
	if len(f.IDs) > 0 && !containsString(f.IDs, m.ID) {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == m.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Scopes) > 0 {
		ok := false
		for _, sc := range f.Scopes {
			if sc == m.PrivacyScope {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Tags) > 0 {
		ok := false
	tagLoop:
		for _, want := range f.Tags {
			for _, have := range m.Tags {
				if strings.EqualFold(want, have) {
					ok = true
					break tagLoop
				}
			}
		}
		if !ok {
			return false
		}
	}
	if f.Pinned != nil && m.Pinned != *f.Pinned {
		return false
	}
	if f.TimeFrom != nil && m.CreatedAt.Before(*f.TimeFrom) {
		return false
	}
	if f.TimeTo != nil && m.CreatedAt.After(*f.TimeTo) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// EmbeddingRow pairs a stored vector with its live memory row.
type EmbeddingRow struct {
	Memory    models.Memory
	Vector    []float32
	Dim       int
	Model     string
	Stale     bool
	CreatedAt time.Time
}
