package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mnemo-ai/mnemo/internal/memerr"
	"github.com/mnemo-ai/mnemo/internal/metrics"
	"github.com/mnemo-ai/mnemo/internal/models"
)

// timeFormat is fixed-width RFC 3339 with nanoseconds so that lexicographic
// comparison of stored timestamps matches chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite is the Store implementation over a single database file.
type SQLite struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ Store = (*SQLite)(nil)

// Open opens (creating if necessary) the database at path, applies the
// pragmas and schema, and returns the store. The connection pool is capped
// at one connection: SQLite serializes writers anyway, and a single
// connection avoids in-process SQLITE_BUSY churn.
func Open(path string, logger *slog.Logger) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	logger.Debug("store: opened", "path", path)
	return &SQLite{db: db, path: path, logger: logger}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// Ping verifies the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return memerr.E("store.Ping", memerr.ErrUnavailable, err.Error())
	}
	return nil
}

// Checkpoint forces a WAL checkpoint, truncating the journal file.
func (s *SQLite) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// isBusy reports whether err is SQLite write contention.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// writeTx runs fn inside a transaction. On contention it checkpoints the
// WAL and retries exactly once before surfacing ErrBusy.
func (s *SQLite) writeTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	err := s.tryTx(ctx, fn)
	if err == nil || !isBusy(err) {
		return err
	}

	metrics.Inc(metrics.StoreBusyRetries)
	s.logger.Warn("store: write contention, checkpointing and retrying once", "op", op)
	if cpErr := s.Checkpoint(ctx); cpErr != nil {
		s.logger.Warn("store: checkpoint before retry failed", "op", op, "error", cpErr)
	}

	err = s.tryTx(ctx, fn)
	if isBusy(err) {
		return memerr.E(op, memerr.ErrBusy, "contention persisted after checkpoint")
	}
	return err
}

func (s *SQLite) tryTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// --- memory CRUD ---

// memoryCols lists the memory_item columns in scan order, prefixed by alias.
func memoryCols(alias string) string {
	cols := []string{
		"id", "type", "content", "importance", "privacy_scope", "tags",
		"source", "pinned", "view_count", "cite_count", "edit_count",
		"created_at", "last_accessed", "deleted_at",
	}
	for i, c := range cols {
		cols[i] = alias + c
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMemory reads one memory_item row in memoryCols order.
func (s *SQLite) scanMemory(row rowScanner) (*models.Memory, error) {
	var (
		m            models.Memory
		tagsJSON     string
		pinned       int
		createdAt    string
		lastAccessed sql.NullString
		deletedAt    sql.NullString
	)
	err := row.Scan(&m.ID, &m.Type, &m.Content, &m.Importance, &m.PrivacyScope,
		&tagsJSON, &m.Source, &pinned, &m.ViewCount, &m.CiteCount, &m.EditCount,
		&createdAt, &lastAccessed, &deletedAt)
	if err != nil {
		return nil, err
	}

	m.Pinned = pinned != 0
	m.Tags = decodeTags(s.logger, m.ID, tagsJSON)

	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", m.ID, err)
	}
	if lastAccessed.Valid {
		t, err := parseTime(lastAccessed.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_accessed for %s: %w", m.ID, err)
		}
		m.LastAccessed = &t
	}
	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing deleted_at for %s: %w", m.ID, err)
		}
		m.DeletedAt = &t
	}
	return &m, nil
}

// CreateMemory inserts a new memory row.
func (s *SQLite) CreateMemory(ctx context.Context, mem models.Memory) error {
	const op = "store.CreateMemory"
	if mem.ID == "" {
		return memerr.E(op, memerr.ErrInvalid, "id must not be empty")
	}
	if !mem.Type.IsValid() {
		return memerr.Ef(op, memerr.ErrInvalid, "unknown memory type %q", mem.Type)
	}
	if !mem.PrivacyScope.IsValid() {
		return memerr.Ef(op, memerr.ErrInvalid, "unknown privacy scope %q", mem.PrivacyScope)
	}
	if mem.Content == "" {
		return memerr.E(op, memerr.ErrInvalid, "content must not be empty")
	}
	mem.Clamp()
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}

	return s.writeTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memory_item
				(id, type, content, importance, privacy_scope, tags, source,
				 pinned, view_count, cite_count, edit_count, created_at, last_accessed, deleted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			mem.ID, string(mem.Type), mem.Content, mem.Importance, string(mem.PrivacyScope),
			encodeTags(mem.Tags), mem.Source, boolInt(mem.Pinned),
			mem.ViewCount, mem.CiteCount, mem.EditCount,
			fmtTime(mem.CreatedAt), fmtTimePtr(mem.LastAccessed), fmtTimePtr(mem.DeletedAt))
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return memerr.Ef(op, memerr.ErrConflict, "memory %s already exists", mem.ID)
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
}

// GetMemory returns the memory, including soft-deleted rows.
func (s *SQLite) GetMemory(ctx context.Context, id string) (*models.Memory, error) {
	const op = "store.GetMemory"
	row := s.db.QueryRowContext(ctx,
		"SELECT "+memoryCols("")+" FROM memory_item WHERE id = ?", id)
	mem, err := s.scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, memerr.Ef(op, memerr.ErrNotFound, "memory %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return mem, nil
}

// UpdateMemory rewrites mutable attributes of an existing memory.
func (s *SQLite) UpdateMemory(ctx context.Context, mem models.Memory) error {
	const op = "store.UpdateMemory"
	if mem.ID == "" {
		return memerr.E(op, memerr.ErrInvalid, "id must not be empty")
	}
	if !mem.Type.IsValid() {
		return memerr.Ef(op, memerr.ErrInvalid, "unknown memory type %q", mem.Type)
	}
	if !mem.PrivacyScope.IsValid() {
		return memerr.Ef(op, memerr.ErrInvalid, "unknown privacy scope %q", mem.PrivacyScope)
	}
	if mem.Content == "" {
		return memerr.E(op, memerr.ErrInvalid, "content must not be empty")
	}
	mem.Clamp()

	return s.writeTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE memory_item
			SET type = ?, content = ?, importance = ?, privacy_scope = ?, tags = ?, source = ?
			WHERE id = ?`,
			string(mem.Type), mem.Content, mem.Importance, string(mem.PrivacyScope),
			encodeTags(mem.Tags), mem.Source, mem.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return requireAffected(res, op, mem.ID)
	})
}

// SetPinned flips the pin flag.
func (s *SQLite) SetPinned(ctx context.Context, id string, pinned bool) error {
	const op = "store.SetPinned"
	return s.writeTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE memory_item SET pinned = ? WHERE id = ?", boolInt(pinned), id)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return requireAffected(res, op, id)
	})
}

// SoftDeleteMemory marks the memory deleted. Repeating the call is a no-op.
func (s *SQLite) SoftDeleteMemory(ctx context.Context, id string) error {
	const op = "store.SoftDeleteMemory"
	return s.writeTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE memory_item SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
			fmtTime(time.Now().UTC()), id)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%s: rows affected: %w", op, err)
		}
		if n == 0 {
			// Either already soft-deleted (fine) or absent (NotFound).
			var one int
			scanErr := tx.QueryRowContext(ctx,
				"SELECT 1 FROM memory_item WHERE id = ?", id).Scan(&one)
			if scanErr == sql.ErrNoRows {
				return memerr.Ef(op, memerr.ErrNotFound, "memory %s", id)
			}
			if scanErr != nil {
				return fmt.Errorf("%s: %w", op, scanErr)
			}
		}
		return nil
	})
}

// HardDeleteMemory removes the memory row; the embedding, feedback events,
// and review schedule cascade away and the lexical index entry is dropped
// by trigger, all in the same transaction.
func (s *SQLite) HardDeleteMemory(ctx context.Context, id string) error {
	const op = "store.HardDeleteMemory"
	return s.writeTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM memory_item WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return requireAffected(res, op, id)
	})
}

// ListMemories returns memories matching the filters, newest first.
func (s *SQLite) ListMemories(ctx context.Context, f Filters) ([]models.Memory, error) {
	const op = "store.ListMemories"
	where, args := buildWhere(f, "")
	q := "SELECT " + memoryCols("") + " FROM memory_item" + where +
		" ORDER BY created_at DESC, id ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
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

// --- feedback ---

// AppendFeedback records the event and applies its side effects: viewed
// bumps view_count and last_accessed, cited bumps cite_count, edited bumps
// edit_count. Quality and pin events carry no counter effect.
func (s *SQLite) AppendFeedback(ctx context.Context, ev models.FeedbackEvent) error {
	const op = "store.AppendFeedback"
	if ev.MemoryID == "" {
		return memerr.E(op, memerr.ErrInvalid, "memory_id must not be empty")
	}
	if !ev.Kind.IsValid() {
		return memerr.Ef(op, memerr.ErrInvalid, "unknown feedback kind %q", ev.Kind)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	return s.writeTx(ctx, op, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx,
			"SELECT 1 FROM memory_item WHERE id = ?", ev.MemoryID).Scan(&one)
		if err == sql.ErrNoRows {
			return memerr.Ef(op, memerr.ErrNotFound, "memory %s", ev.MemoryID)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO feedback_event (memory_id, kind, score, created_at) VALUES (?, ?, ?, ?)",
			ev.MemoryID, string(ev.Kind), ev.Score, fmtTime(ev.CreatedAt)); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		var counterSQL string
		switch ev.Kind {
		case models.FeedbackViewed:
			counterSQL = "UPDATE memory_item SET view_count = view_count + 1, last_accessed = ? WHERE id = ?"
		case models.FeedbackCited:
			counterSQL = "UPDATE memory_item SET cite_count = cite_count + 1 WHERE id = ?"
		case models.FeedbackEdited:
			counterSQL = "UPDATE memory_item SET edit_count = edit_count + 1 WHERE id = ?"
		default:
			return nil
		}

		if ev.Kind == models.FeedbackViewed {
			_, err = tx.ExecContext(ctx, counterSQL, fmtTime(ev.CreatedAt), ev.MemoryID)
		} else {
			_, err = tx.ExecContext(ctx, counterSQL, ev.MemoryID)
		}
		if err != nil {
			return fmt.Errorf("%s: updating counters: %w", op, err)
		}
		return nil
	})
}

// LatestFeedbackAt returns the most recent feedback time for the memory.
func (s *SQLite) LatestFeedbackAt(ctx context.Context, memoryID string) (*time.Time, error) {
	const op = "store.LatestFeedbackAt"
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(created_at) FROM feedback_event WHERE memory_id = ?", memoryID).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !latest.Valid {
		return nil, nil
	}
	t, err := parseTime(latest.String)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &t, nil
}

// FeedbackTallies counts helpful / not_helpful events after since.
func (s *SQLite) FeedbackTallies(ctx context.Context, memoryID string, since time.Time) (int64, int64, error) {
	const op = "store.FeedbackTallies"
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*)
		FROM feedback_event
		WHERE memory_id = ? AND kind IN (?, ?) AND created_at > ?
		GROUP BY kind`,
		memoryID, string(models.FeedbackHelpful), string(models.FeedbackNotHelpful),
		fmtTime(since.UTC()))
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var helpful, notHelpful int64
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return 0, 0, fmt.Errorf("%s: %w", op, err)
		}
		if kind == string(models.FeedbackHelpful) {
			helpful = n
		} else {
			notHelpful = n
		}
	}
	return helpful, notHelpful, rows.Err()
}

// --- reviews ---

// UpsertReview stores or replaces the review schedule for a memory.
func (s *SQLite) UpsertReview(ctx context.Context, rs models.ReviewSchedule) error {
	const op = "store.UpsertReview"
	if rs.MemoryID == "" {
		return memerr.E(op, memerr.ErrInvalid, "memory_id must not be empty")
	}
	if rs.IntervalDays <= 0 {
		return memerr.E(op, memerr.ErrInvalid, "interval_days must be greater than 0")
	}
	return s.writeTx(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO review_schedule (memory_id, interval_days, last_review, next_review, recall_prob)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(memory_id) DO UPDATE SET
				interval_days = excluded.interval_days,
				last_review   = excluded.last_review,
				next_review   = excluded.next_review,
				recall_prob   = excluded.recall_prob`,
			rs.MemoryID, rs.IntervalDays, fmtTime(rs.LastReview.UTC()),
			fmtTime(rs.NextReview.UTC()), rs.RecallProbability)
		if err != nil {
			if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
				return memerr.Ef(op, memerr.ErrNotFound, "memory %s", rs.MemoryID)
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
}

// GetReview returns the review schedule for a memory.
func (s *SQLite) GetReview(ctx context.Context, memoryID string) (*models.ReviewSchedule, error) {
	const op = "store.GetReview"
	var (
		rs         models.ReviewSchedule
		lastReview string
		nextReview string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT memory_id, interval_days, last_review, next_review, recall_prob
		FROM review_schedule WHERE memory_id = ?`, memoryID).
		Scan(&rs.MemoryID, &rs.IntervalDays, &lastReview, &nextReview, &rs.RecallProbability)
	if err == sql.ErrNoRows {
		return nil, memerr.Ef(op, memerr.ErrNotFound, "review schedule for %s", memoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if rs.LastReview, err = parseTime(lastReview); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if rs.NextReview, err = parseTime(nextReview); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &rs, nil
}

// --- stats ---

// Stats returns collection statistics.
func (s *SQLite) Stats(ctx context.Context) (*models.StoreStats, error) {
	const op = "store.Stats"
	stats := &models.StoreStats{
		ByType:  make(map[string]int64),
		ByScope: make(map[string]int64),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN deleted_at IS NULL THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN deleted_at IS NOT NULL THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN pinned = 1 AND deleted_at IS NULL THEN 1 ELSE 0 END), 0)
		FROM memory_item`).
		Scan(&stats.TotalMemories, &stats.LiveMemories, &stats.SoftDeleted, &stats.Pinned)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.countGroup(ctx, "type", stats.ByType); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.countGroup(ctx, "privacy_scope", stats.ByScope); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(stale), 0) FROM memory_embedding").
		Scan(&stats.Embeddings, &stats.StaleEmbeddings)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback_event").
		Scan(&stats.FeedbackEvents); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM review_schedule").
		Scan(&stats.ReviewsTracked); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			stats.DBSizeBytes = pageCount * pageSize
		}
	}

	return stats, nil
}

func (s *SQLite) countGroup(ctx context.Context, col string, into map[string]int64) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+col+", COUNT(*) FROM memory_item WHERE deleted_at IS NULL GROUP BY "+col)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

// --- helpers ---

// buildWhere renders the filter set into a WHERE clause over the memory_item
// columns, optionally alias-prefixed.
func buildWhere(f Filters, alias string) (string, []any) {
	var conds []string
	var args []any

	if !f.IncludeDeleted {
		conds = append(conds, alias+"deleted_at IS NULL")
	}
	if len(f.IDs) > 0 {
		conds = append(conds, alias+"id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if len(f.Types) > 0 {
		conds = append(conds, alias+"type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if len(f.Scopes) > 0 {
		conds = append(conds, alias+"privacy_scope IN ("+placeholders(len(f.Scopes))+")")
		for _, sc := range f.Scopes {
			args = append(args, string(sc))
		}
	}
	if len(f.Tags) > 0 {
		// Tags are stored as a JSON array; any-of matching via quoted LIKE.
		var tagConds []string
		for _, tag := range f.Tags {
			tagConds = append(tagConds, alias+`tags LIKE ? ESCAPE '\'`)
			args = append(args, `%"`+escapeLike(strings.ToLower(tag))+`"%`)
		}
		conds = append(conds, "("+strings.Join(tagConds, " OR ")+")")
	}
	if f.Pinned != nil {
		conds = append(conds, alias+"pinned = ?")
		args = append(args, boolInt(*f.Pinned))
	}
	if f.TimeFrom != nil {
		conds = append(conds, alias+"created_at >= ?")
		args = append(args, fmtTime(f.TimeFrom.UTC()))
	}
	if f.TimeTo != nil {
		conds = append(conds, alias+"created_at <= ?")
		args = append(args, fmtTime(f.TimeTo.UTC()))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// escapeLike escapes the LIKE metacharacters in s for use with ESCAPE '\'.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func requireAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return memerr.Ef(op, memerr.ErrNotFound, "memory %s", id)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fmtTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func fmtTimePtr(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// encodeTags serializes tags to a JSON array, lowercased for stable search.
func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	lowered := make([]string, len(tags))
	for i, t := range tags {
		lowered[i] = strings.ToLower(strings.TrimSpace(t))
	}
	b, err := json.Marshal(lowered)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// decodeTags parses the stored JSON array, tolerating corrupt rows.
func decodeTags(logger *slog.Logger, id, raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		logger.Warn("store: corrupt tags column", "id", id, "error", err)
		return nil
	}
	return tags
}
