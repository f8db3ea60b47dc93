package recall

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/embedder"
	"github.com/mnemo-ai/mnemo/internal/models"
	"github.com/mnemo-ai/mnemo/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestPipeline(t *testing.T) (*Pipeline, store.Store, embedder.Embedder) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "mnemo.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	lex, err := embedder.NewLexicalEmbedder(0, testLogger())
	require.NoError(t, err)

	opts := Options{
		DefaultLimit:  10,
		MaxLimit:      100,
		VectorWeight:  0.6,
		TextWeight:    0.4,
		MinSimilarity: 0.1,
		Weights:       DefaultWeights(),
	}
	return NewPipeline(st, lex, nil, nil, opts, testLogger()), st, lex
}

func seedMemory(t *testing.T, st store.Store, emb embedder.Embedder, id, content string, mutate ...func(*models.Memory)) {
	t.Helper()
	ctx := context.Background()
	m := models.Memory{
		ID:           id,
		Type:         models.MemoryTypeSemantic,
		Content:      content,
		Importance:   0.5,
		PrivacyScope: models.ScopePrivate,
		CreatedAt:    time.Now().UTC(),
	}
	for _, fn := range mutate {
		fn(&m)
	}
	require.NoError(t, st.CreateMemory(ctx, m))

	vec, err := emb.Embed(ctx, content)
	require.NoError(t, err)
	require.NoError(t, st.UpsertEmbedding(ctx, models.Embedding{
		MemoryID:  id,
		Vector:    vec,
		Dim:       len(vec),
		Model:     emb.Model(),
		CreatedAt: time.Now().UTC(),
	}))
}

func resultIDs(results []models.RecallResult) []string {
	ids := make([]string, len(results))
	for i := range results {
		ids[i] = results[i].Memory.ID
	}
	return ids
}

func TestRecall_HybridMergeAndReasons(t *testing.T) {
	p, st, lex := newTestPipeline(t)
	ctx := context.Background()

	seedMemory(t, st, lex, "mem_sqlite", "sqlite busy timeout fixed by enabling WAL checkpoints")
	seedMemory(t, st, lex, "mem_deploy", "deploy pipeline uses blue green rollout on kubernetes")
	seedMemory(t, st, lex, "mem_korean", "korean tokenizer strips particle suffixes before indexing")

	results, err := p.Recall(ctx, Query{Text: "sqlite busy timeout"})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	top := results[0]
	assert.Equal(t, "mem_sqlite", top.Memory.ID)
	assert.Equal(t, "text+vector merged", top.RecallReason,
		"the memory matched by both legs carries the merged reason")
	assert.Greater(t, top.TextScore, 0.0)
	assert.Greater(t, top.VectorScore, 0.0)
	assert.Greater(t, top.FinalScore, 0.0)
	assert.Greater(t, top.Relevance, 0.0)
}

func TestRecall_Deterministic(t *testing.T) {
	p, st, lex := newTestPipeline(t)
	ctx := context.Background()

	seedMemory(t, st, lex, "mem_a", "sqlite write contention shows up as busy errors")
	seedMemory(t, st, lex, "mem_b", "sqlite busy retries need a wal checkpoint first")
	seedMemory(t, st, lex, "mem_c", "grpc deadline exceeded during deploy")

	first, err := p.Recall(ctx, Query{Text: "sqlite busy"})
	require.NoError(t, err)
	for range 5 {
		again, err := p.Recall(ctx, Query{Text: "sqlite busy"})
		require.NoError(t, err)
		assert.Equal(t, resultIDs(first), resultIDs(again),
			"identical query and corpus must rank identically")
	}
}

func TestRecall_DisableVectorDegradesToText(t *testing.T) {
	p, st, lex := newTestPipeline(t)
	ctx := context.Background()

	seedMemory(t, st, lex, "mem_text", "sqlite busy timeout during migration")

	results, err := p.Recall(ctx, Query{Text: "sqlite busy", DisableVector: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.0, results[0].VectorScore)
	assert.NotEqual(t, "text+vector merged", results[0].RecallReason)
}

func TestRecall_EmptyQueryReturnsRecent(t *testing.T) {
	p, st, lex := newTestPipeline(t)
	ctx := context.Background()

	seedMemory(t, st, lex, "mem_recent", "yesterday the cache invalidation bug was fixed")

	results, err := p.Recall(ctx, Query{Text: ""})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "recent memory", results[0].RecallReason)
}

func TestRecall_TypeFilterAppliesToBothLegs(t *testing.T) {
	p, st, lex := newTestPipeline(t)
	ctx := context.Background()

	seedMemory(t, st, lex, "mem_sem", "sqlite schema migrations run at startup")
	seedMemory(t, st, lex, "mem_work", "sqlite schema change pending review", func(m *models.Memory) {
		m.Type = models.MemoryTypeWorking
	})

	results, err := p.Recall(ctx, Query{
		Text:    "sqlite schema",
		Filters: store.Filters{Types: []models.MemoryType{models.MemoryTypeWorking}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mem_work", results[0].Memory.ID)
}

func TestRecall_IndexingEmbeddingNeverDemotes(t *testing.T) {
	p, st, lex := newTestPipeline(t)
	ctx := context.Background()

	// Text-only rows: no embeddings yet, so the vector leg finds nothing.
	mk := func(id, content string) {
		require.NoError(t, st.CreateMemory(ctx, models.Memory{
			ID:           id,
			Type:         models.MemoryTypeSemantic,
			Content:      content,
			Importance:   0.5,
			PrivacyScope: models.ScopePrivate,
			CreatedAt:    time.Now().UTC(),
		}))
	}
	mk("mem_wal", "sqlite busy timeout fixed by enabling wal checkpoints")
	mk("mem_log", "busy dashboard timeout logged during the retro")

	pos := func(results []models.RecallResult, id string) int {
		for i := range results {
			if results[i].Memory.ID == id {
				return i
			}
		}
		t.Fatalf("id %s missing from results %v", id, resultIDs(results))
		return -1
	}

	q := Query{Text: "sqlite busy timeout"}
	before, err := p.Recall(ctx, q)
	require.NoError(t, err)
	require.Len(t, before, 2)

	// Index an embedding for the stronger match only.
	vec, err := lex.Embed(ctx, "sqlite busy timeout fixed by enabling wal checkpoints")
	require.NoError(t, err)
	require.NoError(t, st.UpsertEmbedding(ctx, models.Embedding{
		MemoryID:  "mem_wal",
		Vector:    vec,
		Dim:       len(vec),
		Model:     lex.Model(),
		CreatedAt: time.Now().UTC(),
	}))

	after, err := p.Recall(ctx, q)
	require.NoError(t, err)
	require.Len(t, after, 2)

	assert.LessOrEqual(t, pos(after, "mem_wal"), pos(before, "mem_wal"),
		"gaining a vector match must never push a memory down the ranking")
	assert.Greater(t, after[pos(after, "mem_wal")].VectorScore, 0.0)
}

func TestRecall_LimitClamped(t *testing.T) {
	p, st, lex := newTestPipeline(t)
	ctx := context.Background()

	for _, id := range []string{"mem_1", "mem_2", "mem_3"} {
		seedMemory(t, st, lex, id, "note about the deploy pipeline "+id)
	}

	results, err := p.Recall(ctx, Query{Text: "deploy pipeline", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
