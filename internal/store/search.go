package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mnemo-ai/mnemo/internal/models"
	"github.com/mnemo-ai/mnemo/internal/textproc"
)

// SearchText runs a lexical search over live memories. A non-empty match is
// run against the FTS index ranked by bm25 and normalized to [0,1] via
// min-max over the batch; if the FTS engine rejects the expression the
// search degrades to LIKE with positional scores. An empty match returns
// the newest memories instead.
func (s *SQLite) SearchText(ctx context.Context, match string, f Filters, limit int) ([]models.TextHit, error) {
	const op = "store.SearchText"
	if limit <= 0 {
		limit = 10
	}

	if strings.TrimSpace(match) == "" {
		return s.recentHits(ctx, op, f, limit)
	}

	hits, err := s.ftsHits(ctx, op, match, f, limit)
	if err == nil {
		return hits, nil
	}
	if !isFTSQueryError(err) {
		return nil, err
	}
	s.logger.Debug("store: fts query rejected, falling back to like", "match", match, "error", err)
	return s.likeHits(ctx, op, match, f, limit)
}

func (s *SQLite) ftsHits(ctx context.Context, op, match string, f Filters, limit int) ([]models.TextHit, error) {
	where, args := buildWhere(f, "m.")
	if where == "" {
		where = " WHERE memory_item_fts MATCH ?"
	} else {
		where += " AND memory_item_fts MATCH ?"
	}
	args = append(args, match, limit)

	q := "SELECT " + memoryCols("m.") + `, bm25(memory_item_fts) AS rank
		FROM memory_item_fts
		JOIN memory_item m ON m.rowid = memory_item_fts.rowid` +
		where + " ORDER BY rank LIMIT ?"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: fts: %w", op, err)
	}
	defer rows.Close()

	var hits []models.TextHit
	var ranks []float64
	for rows.Next() {
		mem, rank, err := s.scanMemoryWithRank(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		hits = append(hits, models.TextHit{Memory: *mem, Reason: "keyword match"})
		ranks = append(ranks, rank)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	normalizeRanks(hits, ranks)
	return hits, nil
}

// scanMemoryWithRank scans memoryCols plus a trailing bm25 rank column.
func (s *SQLite) scanMemoryWithRank(row rowScanner) (*models.Memory, float64, error) {
	var (
		m            models.Memory
		tagsJSON     string
		pinned       int
		createdAt    string
		lastAccessed sql.NullString
		deletedAt    sql.NullString
		rank         float64
	)
	err := row.Scan(&m.ID, &m.Type, &m.Content, &m.Importance, &m.PrivacyScope,
		&tagsJSON, &m.Source, &pinned, &m.ViewCount, &m.CiteCount, &m.EditCount,
		&createdAt, &lastAccessed, &deletedAt, &rank)
	if err != nil {
		return nil, 0, err
	}
	m.Pinned = pinned != 0
	m.Tags = decodeTags(s.logger, m.ID, tagsJSON)
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, 0, fmt.Errorf("parsing created_at for %s: %w", m.ID, err)
	}
	if lastAccessed.Valid {
		t, err := parseTime(lastAccessed.String)
		if err != nil {
			return nil, 0, fmt.Errorf("parsing last_accessed for %s: %w", m.ID, err)
		}
		m.LastAccessed = &t
	}
	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, 0, fmt.Errorf("parsing deleted_at for %s: %w", m.ID, err)
		}
		m.DeletedAt = &t
	}
	return &m, rank, nil
}

// normalizeRanks maps bm25 ranks (lower is better) onto [0,1] scores.
func normalizeRanks(hits []models.TextHit, ranks []float64) {
	if len(hits) == 0 {
		return
	}
	best, worst := ranks[0], ranks[0]
	for _, r := range ranks[1:] {
		if r < best {
			best = r
		}
		if r > worst {
			worst = r
		}
	}
	span := worst - best
	for i := range hits {
		if span <= 0 {
			hits[i].Score = 1.0
			continue
		}
		hits[i].Score = (worst - ranks[i]) / span
	}
}

// likeHits is the degraded path when FTS rejects the match expression.
// Scores decay by position since LIKE carries no ranking signal.
func (s *SQLite) likeHits(ctx context.Context, op, match string, f Filters, limit int) ([]models.TextHit, error) {
	where, args := buildWhere(f, "")
	needle := "%" + escapeLike(textproc.Normalize(match)) + "%"
	likeCond := `(LOWER(content) LIKE ? ESCAPE '\' OR tags LIKE ? ESCAPE '\')`
	if where == "" {
		where = " WHERE " + likeCond
	} else {
		where += " AND " + likeCond
	}
	args = append(args, needle, needle, limit)

	q := "SELECT " + memoryCols("") + " FROM memory_item" + where +
		" ORDER BY created_at DESC, id ASC LIMIT ?"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: like: %w", op, err)
	}
	defer rows.Close()

	var hits []models.TextHit
	for rows.Next() {
		m, err := s.scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		hits = append(hits, models.TextHit{
			Memory: *m,
			Score:  1.0 / float64(len(hits)+1),
			Reason: "keyword match",
		})
	}
	return hits, rows.Err()
}

// recentHits serves empty queries: the newest live memories, all at full
// lexical score so downstream ranking is driven by recency and importance.
func (s *SQLite) recentHits(ctx context.Context, op string, f Filters, limit int) ([]models.TextHit, error) {
	lf := f
	lf.Limit = limit
	mems, err := s.ListMemories(ctx, lf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	hits := make([]models.TextHit, 0, len(mems))
	for _, m := range mems {
		hits = append(hits, models.TextHit{Memory: m, Score: 1.0, Reason: "recent memory"})
	}
	return hits, nil
}

// isFTSQueryError reports whether err looks like a malformed MATCH
// expression rather than an operational failure.
func isFTSQueryError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "fts5: syntax error") ||
		strings.Contains(msg, "malformed MATCH") ||
		strings.Contains(msg, "unknown special query") ||
		strings.Contains(msg, "no such column")
}
