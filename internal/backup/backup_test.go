package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/embedder"
	"github.com/mnemo-ai/mnemo/internal/memerr"
	"github.com/mnemo-ai/mnemo/internal/models"
	"github.com/mnemo-ai/mnemo/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "mnemo.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newLexical(t *testing.T) *embedder.LexicalEmbedder {
	t.Helper()
	lex, err := embedder.NewLexicalEmbedder(0, testLogger())
	require.NoError(t, err)
	return lex
}

// seedEmbedded stores a memory and its embedding under the given model name.
func seedEmbedded(t *testing.T, st store.Store, emb embedder.Embedder, id, content, model string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateMemory(ctx, models.Memory{
		ID:           id,
		Type:         models.MemoryTypeSemantic,
		Content:      content,
		Importance:   0.5,
		PrivacyScope: models.ScopePrivate,
		CreatedAt:    time.Now().UTC(),
	}))
	vec, err := emb.Embed(ctx, content)
	require.NoError(t, err)
	require.NoError(t, st.UpsertEmbedding(ctx, models.Embedding{
		MemoryID:  id,
		Vector:    vec,
		Dim:       len(vec),
		Model:     model,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestExport(t *testing.T) {
	st := newTestStore(t)
	lex := newLexical(t)
	ctx := context.Background()

	seedEmbedded(t, st, lex, "mem_a", "postgres connection pooling notes", lex.Model())
	seedEmbedded(t, st, lex, "mem_b", "redis eviction policy is allkeys-lru", lex.Model())

	var buf bytes.Buffer
	doc, err := Export(ctx, st, &buf)
	require.NoError(t, err)

	assert.Equal(t, 2, doc.TotalEmbeddings)
	assert.Equal(t, 2, doc.DimensionStats["512"])
	require.Len(t, doc.Embeddings, 2)
	for _, rec := range doc.Embeddings {
		assert.NotEmpty(t, rec.Content, "records carry memory context for auditing")
		assert.Equal(t, 512, rec.Dim)
		assert.Len(t, rec.Embedding, 512)
	}

	// The written file decodes back to the same document.
	var decoded Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, doc.TotalEmbeddings, decoded.TotalEmbeddings)
	assert.Len(t, decoded.Embeddings, 2)
}

func TestImport_CountsMissingAndInvalid(t *testing.T) {
	st := newTestStore(t)
	lex := newLexical(t)
	ctx := context.Background()

	seedEmbedded(t, st, lex, "mem_keep", "grafana dashboards for the ingest tier", lex.Model())

	vec, err := lex.Embed(ctx, "grafana dashboards for the ingest tier")
	require.NoError(t, err)

	doc := Document{
		Timestamp: time.Now().UTC(),
		Embeddings: []Record{
			{MemoryID: "mem_keep", Embedding: vec, Dim: len(vec), Model: lex.Model(), CreatedAt: time.Now().UTC()},
			{MemoryID: "mem_gone", Embedding: vec, Dim: len(vec), Model: lex.Model(), CreatedAt: time.Now().UTC()},
			{MemoryID: "mem_bad", Embedding: vec[:8], Dim: 512, Model: lex.Model(), CreatedAt: time.Now().UTC()},
			{MemoryID: "", Embedding: vec, Dim: len(vec)},
		},
	}
	doc.TotalEmbeddings = len(doc.Embeddings)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	report, err := Import(ctx, st, bytes.NewReader(raw), testLogger())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 1, report.Restored)
	assert.Equal(t, 1, report.Missing)
	assert.Equal(t, 2, report.Invalid)
}

func TestImport_MalformedDocument(t *testing.T) {
	st := newTestStore(t)

	_, err := Import(context.Background(), st, strings.NewReader("{not json"), testLogger())
	assert.ErrorIs(t, err, memerr.ErrInvalid)
}

func TestExportImport_Roundtrip(t *testing.T) {
	lex := newLexical(t)
	ctx := context.Background()

	src := newTestStore(t)
	seedEmbedded(t, src, lex, "mem_r1", "ci workers run on spot instances", lex.Model())
	seedEmbedded(t, src, lex, "mem_r2", "artifact retention is thirty days", lex.Model())

	var buf bytes.Buffer
	_, err := Export(ctx, src, &buf)
	require.NoError(t, err)

	// The destination has the memory rows but no vectors, the state after
	// copying a database file whose embeddings were pruned.
	dst := newTestStore(t)
	for _, m := range []struct{ id, content string }{
		{"mem_r1", "ci workers run on spot instances"},
		{"mem_r2", "artifact retention is thirty days"},
	} {
		require.NoError(t, dst.CreateMemory(ctx, models.Memory{
			ID:           m.id,
			Type:         models.MemoryTypeSemantic,
			Content:      m.content,
			Importance:   0.5,
			PrivacyScope: models.ScopePrivate,
			CreatedAt:    time.Now().UTC(),
		}))
	}

	report, err := Import(ctx, dst, &buf, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Restored)
	assert.Zero(t, report.Missing)
	assert.Zero(t, report.Invalid)

	rows, err := dst.ListEmbeddings(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRegenerate_ReplacesForeignModelVectors(t *testing.T) {
	st := newTestStore(t)
	lex := newLexical(t)
	ctx := context.Background()

	// Two vectors from an older embedding space, one memory never embedded.
	seedEmbedded(t, st, lex, "mem_old1", "kafka consumer lag alerting", "lexical-v0-512")
	seedEmbedded(t, st, lex, "mem_old2", "zookeeper is being retired next quarter", "lexical-v0-512")
	require.NoError(t, st.CreateMemory(ctx, models.Memory{
		ID:           "mem_new",
		Type:         models.MemoryTypeSemantic,
		Content:      "raft replaces zookeeper for broker metadata",
		Importance:   0.5,
		PrivacyScope: models.ScopePrivate,
		CreatedAt:    time.Now().UTC(),
	}))

	report, err := Regenerate(ctx, st, lex, 2, testLogger())
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.MarkedStale)
	assert.Equal(t, 3, report.Embedded)
	assert.Zero(t, report.Failed)

	rows, err := st.ListEmbeddings(ctx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, lex.Model(), row.Model)
		assert.False(t, row.Stale)
	}

	// Nothing left in the backlog.
	pending, err := st.ListMemoriesNeedingEmbedding(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRegenerate_RequiresProvider(t *testing.T) {
	st := newTestStore(t)

	_, err := Regenerate(context.Background(), st, embedder.Disabled{}, 8, testLogger())
	assert.ErrorIs(t, err, memerr.ErrUnavailable)
}
