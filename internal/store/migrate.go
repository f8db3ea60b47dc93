package store

import (
	"database/sql"
	"fmt"
)

// schema is the full DDL for the durable store. Statements are idempotent
// so opening an existing database is safe. The FTS5 table is external
// content over memory_item, kept in sync by the three triggers.
const schema = `
CREATE TABLE IF NOT EXISTS memory_item (
	id            TEXT PRIMARY KEY,
	type          TEXT NOT NULL,
	content       TEXT NOT NULL,
	importance    REAL NOT NULL DEFAULT 0.5,
	privacy_scope TEXT NOT NULL DEFAULT 'private',
	tags          TEXT NOT NULL DEFAULT '[]',
	source        TEXT NOT NULL DEFAULT '',
	pinned        INTEGER NOT NULL DEFAULT 0,
	view_count    INTEGER NOT NULL DEFAULT 0,
	cite_count    INTEGER NOT NULL DEFAULT 0,
	edit_count    INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	last_accessed TEXT,
	deleted_at    TEXT
);

CREATE INDEX IF NOT EXISTS idx_memory_item_type    ON memory_item(type);
CREATE INDEX IF NOT EXISTS idx_memory_item_deleted ON memory_item(deleted_at);
CREATE INDEX IF NOT EXISTS idx_memory_item_created ON memory_item(created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS memory_item_fts USING fts5(
	content,
	tags,
	source,
	content=memory_item,
	content_rowid=rowid
);

CREATE TRIGGER IF NOT EXISTS memory_item_ai AFTER INSERT ON memory_item BEGIN
	INSERT INTO memory_item_fts(rowid, content, tags, source)
	VALUES (new.rowid, new.content, new.tags, new.source);
END;

CREATE TRIGGER IF NOT EXISTS memory_item_ad AFTER DELETE ON memory_item BEGIN
	INSERT INTO memory_item_fts(memory_item_fts, rowid, content, tags, source)
	VALUES ('delete', old.rowid, old.content, old.tags, old.source);
END;

CREATE TRIGGER IF NOT EXISTS memory_item_au AFTER UPDATE ON memory_item BEGIN
	INSERT INTO memory_item_fts(memory_item_fts, rowid, content, tags, source)
	VALUES ('delete', old.rowid, old.content, old.tags, old.source);
	INSERT INTO memory_item_fts(rowid, content, tags, source)
	VALUES (new.rowid, new.content, new.tags, new.source);
END;

CREATE TABLE IF NOT EXISTS memory_embedding (
	memory_id  TEXT PRIMARY KEY REFERENCES memory_item(id) ON DELETE CASCADE,
	vector     BLOB NOT NULL,
	dim        INTEGER NOT NULL,
	model      TEXT NOT NULL,
	stale      INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS feedback_event (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	memory_id  TEXT NOT NULL REFERENCES memory_item(id) ON DELETE CASCADE,
	kind       TEXT NOT NULL,
	score      REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_memory ON feedback_event(memory_id, created_at);

CREATE TABLE IF NOT EXISTS review_schedule (
	memory_id     TEXT PRIMARY KEY REFERENCES memory_item(id) ON DELETE CASCADE,
	interval_days INTEGER NOT NULL,
	last_review   TEXT NOT NULL,
	next_review   TEXT NOT NULL,
	recall_prob   REAL NOT NULL DEFAULT 1.0
);

CREATE INDEX IF NOT EXISTS idx_review_next ON review_schedule(next_review);
`

// migrate applies the schema to the open database.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
