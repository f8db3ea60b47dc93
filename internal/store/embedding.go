package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mnemo-ai/mnemo/internal/memerr"
	"github.com/mnemo-ai/mnemo/internal/models"
)

// UpsertEmbedding writes the vector for a memory, replacing any previous
// one and clearing the stale flag.
func (s *SQLite) UpsertEmbedding(ctx context.Context, emb models.Embedding) error {
	const op = "store.UpsertEmbedding"
	if emb.MemoryID == "" {
		return memerr.E(op, memerr.ErrInvalid, "memory_id must not be empty")
	}
	if len(emb.Vector) == 0 {
		return memerr.E(op, memerr.ErrInvalid, "vector must not be empty")
	}
	if emb.Dim != 0 && emb.Dim != len(emb.Vector) {
		return memerr.Ef(op, memerr.ErrInvalid, "dim %d does not match vector length %d", emb.Dim, len(emb.Vector))
	}
	if emb.CreatedAt.IsZero() {
		emb.CreatedAt = time.Now().UTC()
	}

	return s.writeTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memory_embedding (memory_id, vector, dim, model, stale, created_at)
			VALUES (?, ?, ?, ?, 0, ?)
			ON CONFLICT(memory_id) DO UPDATE SET
				vector     = excluded.vector,
				dim        = excluded.dim,
				model      = excluded.model,
				stale      = 0,
				created_at = excluded.created_at`,
			emb.MemoryID, vectorToBytes(emb.Vector), len(emb.Vector), emb.Model, fmtTime(emb.CreatedAt))
		if err != nil {
			if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
				return memerr.Ef(op, memerr.ErrNotFound, "memory %s", emb.MemoryID)
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
}

// GetEmbedding returns the stored vector for a memory.
func (s *SQLite) GetEmbedding(ctx context.Context, memoryID string) (*models.Embedding, error) {
	const op = "store.GetEmbedding"
	var (
		emb       models.Embedding
		blob      []byte
		stale     int
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT memory_id, vector, dim, model, stale, created_at
		FROM memory_embedding WHERE memory_id = ?`, memoryID).
		Scan(&emb.MemoryID, &blob, &emb.Dim, &emb.Model, &stale, &createdAt)
	if err == sql.ErrNoRows {
		return nil, memerr.Ef(op, memerr.ErrNotFound, "embedding for %s", memoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if emb.Vector, err = bytesToVector(blob); err != nil {
		return nil, fmt.Errorf("%s: decoding vector for %s: %w", op, memoryID, err)
	}
	emb.Stale = stale != 0
	if emb.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &emb, nil
}

// ListEmbeddings returns fresh embeddings for live memories, joined with
// their memory rows so the vector leg can rank without a second query.
// Types narrows the set when non-empty.
func (s *SQLite) ListEmbeddings(ctx context.Context, types []models.MemoryType) ([]EmbeddingRow, error) {
	const op = "store.ListEmbeddings"
	q := "SELECT " + memoryCols("m.") + `, e.vector, e.dim, e.model, e.created_at
		FROM memory_embedding e
		JOIN memory_item m ON m.id = e.memory_id
		WHERE m.deleted_at IS NULL AND e.stale = 0`
	var args []any
	if len(types) > 0 {
		q += " AND m.type IN (" + placeholders(len(types)) + ")"
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	q += " ORDER BY m.created_at DESC, m.id ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []EmbeddingRow
	for rows.Next() {
		var (
			m            models.Memory
			tagsJSON     string
			pinned       int
			createdAt    string
			lastAccessed sql.NullString
			deletedAt    sql.NullString
			blob         []byte
			row          EmbeddingRow
			embCreatedAt string
		)
		err := rows.Scan(&m.ID, &m.Type, &m.Content, &m.Importance, &m.PrivacyScope,
			&tagsJSON, &m.Source, &pinned, &m.ViewCount, &m.CiteCount, &m.EditCount,
			&createdAt, &lastAccessed, &deletedAt,
			&blob, &row.Dim, &row.Model, &embCreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		m.Pinned = pinned != 0
		m.Tags = decodeTags(s.logger, m.ID, tagsJSON)
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if lastAccessed.Valid {
			t, err := parseTime(lastAccessed.String)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			m.LastAccessed = &t
		}
		if row.Vector, err = bytesToVector(blob); err != nil {
			s.logger.Warn("store: corrupt vector blob, skipping", "id", m.ID, "error", err)
			continue
		}
		if row.CreatedAt, err = parseTime(embCreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		row.Memory = m
		out = append(out, row)
	}
	return out, rows.Err()
}

// MarkEmbeddingsStale flags all embeddings not produced by model, returning
// how many were flagged. Regeneration picks them up afterwards.
func (s *SQLite) MarkEmbeddingsStale(ctx context.Context, model string) (int64, error) {
	const op = "store.MarkEmbeddingsStale"
	var n int64
	err := s.writeTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE memory_embedding SET stale = 1 WHERE model != ?", model)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%s: rows affected: %w", op, err)
		}
		return nil
	})
	return n, err
}

// ListMemoriesNeedingEmbedding returns live memories with no embedding or a
// stale one, oldest first so backfill catches up chronologically.
func (s *SQLite) ListMemoriesNeedingEmbedding(ctx context.Context, limit int) ([]models.Memory, error) {
	const op = "store.ListMemoriesNeedingEmbedding"
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryCols("m.")+`
		FROM memory_item m
		LEFT JOIN memory_embedding e ON e.memory_id = m.id
		WHERE m.deleted_at IS NULL AND (e.memory_id IS NULL OR e.stale = 1)
		ORDER BY m.created_at ASC, m.id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.Memory
	for rows.Next() {
		m, err := s.scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// vectorToBytes packs float32 components little-endian.
func vectorToBytes(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToVector unpacks a little-endian float32 blob.
func bytesToVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
