// Package backup exports and imports the embedding index as a JSON
// document, and regenerates vectors after a provider change. Embeddings
// are the expensive part of the store to rebuild; memory rows travel in
// the database file itself.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/mnemo-ai/mnemo/internal/embedder"
	"github.com/mnemo-ai/mnemo/internal/memerr"
	"github.com/mnemo-ai/mnemo/internal/models"
	"github.com/mnemo-ai/mnemo/internal/store"
)

// Document is the embedding backup file.
type Document struct {
	Timestamp       time.Time      `json:"timestamp"`
	TotalEmbeddings int            `json:"totalEmbeddings"`
	DimensionStats  map[string]int `json:"dimensionStats"`
	Embeddings      []Record       `json:"embeddings"`
}

// Record is one exported embedding with enough memory context to audit
// the file by eye. Import matches on memory_id only.
type Record struct {
	MemoryID  string    `json:"memory_id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Embedding []float32 `json:"embedding"`
	Dim       int       `json:"dim"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// ImportReport summarizes one import pass.
type ImportReport struct {
	Total    int `json:"total"`
	Restored int `json:"restored"`
	Missing  int `json:"missing"` // memory row gone; embedding skipped
	Invalid  int `json:"invalid"` // malformed record; embedding skipped
}

// RegenReport summarizes one regeneration pass.
type RegenReport struct {
	MarkedStale int64 `json:"marked_stale"`
	Embedded    int   `json:"embedded"`
	Failed      int   `json:"failed"`
}

// Export writes every fresh embedding of a live memory to w.
func Export(ctx context.Context, st store.Store, w io.Writer) (*Document, error) {
	rows, err := st.ListEmbeddings(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("backup: listing embeddings: %w", err)
	}

	doc := Document{
		Timestamp:       time.Now().UTC(),
		TotalEmbeddings: len(rows),
		DimensionStats:  make(map[string]int),
		Embeddings:      make([]Record, 0, len(rows)),
	}
	for _, row := range rows {
		doc.DimensionStats[strconv.Itoa(row.Dim)]++
		doc.Embeddings = append(doc.Embeddings, Record{
			MemoryID:  row.Memory.ID,
			Content:   row.Memory.Content,
			Type:      string(row.Memory.Type),
			Embedding: row.Vector,
			Dim:       row.Dim,
			Model:     row.Model,
			CreatedAt: row.CreatedAt,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("backup: encoding: %w", err)
	}
	return &doc, nil
}

// Import reads a backup document and upserts its embeddings. Records
// whose memory no longer exists, or whose vector does not match the
// declared dimension, are skipped and counted rather than failing the
// whole pass.
func Import(ctx context.Context, st store.Store, r io.Reader, logger *slog.Logger) (*ImportReport, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, memerr.E("backup.Import", memerr.ErrInvalid, "malformed backup document")
	}

	report := &ImportReport{Total: len(doc.Embeddings)}
	for _, rec := range doc.Embeddings {
		if rec.MemoryID == "" || len(rec.Embedding) == 0 || (rec.Dim != 0 && rec.Dim != len(rec.Embedding)) {
			report.Invalid++
			logger.Warn("skipping invalid backup record",
				"memory_id", rec.MemoryID, "dim", rec.Dim, "vector_len", len(rec.Embedding))
			continue
		}
		err := st.UpsertEmbedding(ctx, models.Embedding{
			MemoryID:  rec.MemoryID,
			Vector:    rec.Embedding,
			Dim:       len(rec.Embedding),
			Model:     rec.Model,
			CreatedAt: rec.CreatedAt,
		})
		switch {
		case err == nil:
			report.Restored++
		case errors.Is(err, memerr.ErrNotFound):
			report.Missing++
			logger.Debug("backup record has no memory row, skipping", "memory_id", rec.MemoryID)
		default:
			return report, fmt.Errorf("backup: restoring %s: %w", rec.MemoryID, err)
		}
	}

	logger.Info("embedding import finished",
		"total", report.Total, "restored", report.Restored,
		"missing", report.Missing, "invalid", report.Invalid)
	return report, nil
}

// Regenerate marks embeddings from other models stale, then re-embeds
// everything stale or missing in batches until the backlog is empty.
func Regenerate(ctx context.Context, st store.Store, emb embedder.Embedder, batchSize int, logger *slog.Logger) (*RegenReport, error) {
	if emb == nil || !emb.Available() {
		return nil, memerr.E("backup.Regenerate", memerr.ErrUnavailable, "no embedding provider configured")
	}
	if batchSize <= 0 {
		batchSize = 32
	}

	report := &RegenReport{}
	marked, err := st.MarkEmbeddingsStale(ctx, emb.Model())
	if err != nil {
		return report, fmt.Errorf("backup: marking stale: %w", err)
	}
	report.MarkedStale = marked
	logger.Info("stale embeddings marked", "model", emb.Model(), "count", marked)

	// A memory whose upsert fails stays in the backlog, so remember what
	// was already attempted to avoid spinning on it.
	attempted := make(map[string]bool)
	for {
		batch, err := st.ListMemoriesNeedingEmbedding(ctx, batchSize)
		if err != nil {
			return report, fmt.Errorf("backup: listing backlog: %w", err)
		}
		pending := batch[:0]
		for _, m := range batch {
			if !attempted[m.ID] {
				pending = append(pending, m)
			}
		}
		if len(pending) == 0 {
			break
		}

		texts := make([]string, len(pending))
		for i, m := range pending {
			texts[i] = m.Content
		}
		vecs, err := emb.EmbedBatch(ctx, texts)
		if err != nil {
			return report, fmt.Errorf("backup: embedding batch of %d: %w", len(pending), err)
		}
		if len(vecs) != len(pending) {
			return report, fmt.Errorf("backup: provider returned %d vectors for %d inputs", len(vecs), len(pending))
		}

		now := time.Now().UTC()
		for i, m := range pending {
			attempted[m.ID] = true
			err := st.UpsertEmbedding(ctx, models.Embedding{
				MemoryID:  m.ID,
				Vector:    vecs[i],
				Dim:       len(vecs[i]),
				Model:     emb.Model(),
				CreatedAt: now,
			})
			if err != nil {
				report.Failed++
				logger.Warn("regenerate: upsert failed", "memory_id", m.ID, "error", err)
				continue
			}
			report.Embedded++
		}
		logger.Debug("regenerate batch complete", "batch", len(pending), "embedded", report.Embedded)
	}

	logger.Info("regeneration finished",
		"marked_stale", report.MarkedStale, "embedded", report.Embedded, "failed", report.Failed)
	return report, nil
}
