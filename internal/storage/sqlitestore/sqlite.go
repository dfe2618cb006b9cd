// Package sqlitestore persists engine state in an embedded SQLite database.
// Memories and links live in normalized tables; episodes, labeled clusters
// and pending conflicts are stored as ordered JSON documents. The store
// implements the incremental capability so single-memory writes avoid
// rewriting the whole graph.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id                   TEXT PRIMARY KEY,
	agent                TEXT NOT NULL,
	text                 TEXT NOT NULL,
	category             TEXT NOT NULL,
	importance           REAL NOT NULL,
	tags                 TEXT,
	embedding            BLOB,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL,
	event_at             TEXT,
	access_count         INTEGER NOT NULL DEFAULT 0,
	reinforcements       INTEGER NOT NULL DEFAULT 0,
	disputes             INTEGER NOT NULL DEFAULT 0,
	stability            REAL NOT NULL DEFAULT 0,
	last_review_interval REAL NOT NULL DEFAULT 0,
	source               TEXT NOT NULL,
	source_id            TEXT,
	corroboration        INTEGER NOT NULL DEFAULT 1,
	trust                REAL NOT NULL DEFAULT 0,
	confidence           REAL NOT NULL DEFAULT 0,
	status               TEXT NOT NULL,
	quarantine           TEXT,
	superseded_by        TEXT,
	supersedes           TEXT,
	claim                TEXT,
	compressed           TEXT,
	evolution            TEXT,
	archived_at          TEXT,
	archived_reason      TEXT,
	archived             INTEGER NOT NULL DEFAULT 0,
	position             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent);
CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);
CREATE INDEX IF NOT EXISTS idx_memories_archived ON memories(archived);

CREATE TABLE IF NOT EXISTS links (
	source_id  TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	similarity REAL NOT NULL,
	type       TEXT NOT NULL,
	ord        INTEGER NOT NULL DEFAULT 0,
	archived   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source_id, target_id, archived)
);
CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_id);

CREATE TABLE IF NOT EXISTS episodes (
	id       TEXT PRIMARY KEY,
	doc      TEXT NOT NULL,
	position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS clusters (
	id       TEXT PRIMARY KEY,
	doc      TEXT NOT NULL,
	position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pending_conflicts (
	id       TEXT PRIMARY KEY,
	doc      TEXT NOT NULL,
	position INTEGER NOT NULL
);
`

// Store wraps a single SQLite database file.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) the database at path and applies the
// schema. SQLite serializes writers, so connections are capped at one to
// avoid SQLITE_BUSY churn under interleaved use.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", domain.ErrStorage, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: apply schema: %v", domain.ErrStorage, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GenID(ctx context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) GenEpisodeID(ctx context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) GenClusterID(ctx context.Context) (string, error) {
	return uuid.NewString(), nil
}

var _ domain.IncrementalStorage = (*Store)(nil)
