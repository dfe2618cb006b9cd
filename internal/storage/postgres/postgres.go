// Package postgres persists engine state in PostgreSQL with pgvector.
// Memories and links live in normalized tables; vectors go into a pgvector
// column so similarity search can run server-side. The store implements both
// optional capabilities: incremental writes and vector search.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
	id                   TEXT PRIMARY KEY,
	agent                TEXT NOT NULL,
	text                 TEXT NOT NULL,
	category             TEXT NOT NULL,
	importance           DOUBLE PRECISION NOT NULL,
	tags                 JSONB,
	embedding            vector,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL,
	event_at             TIMESTAMPTZ,
	access_count         INTEGER NOT NULL DEFAULT 0,
	reinforcements       INTEGER NOT NULL DEFAULT 0,
	disputes             INTEGER NOT NULL DEFAULT 0,
	stability            DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_review_interval DOUBLE PRECISION NOT NULL DEFAULT 0,
	source               TEXT NOT NULL,
	source_id            TEXT NOT NULL DEFAULT '',
	corroboration        INTEGER NOT NULL DEFAULT 1,
	trust                DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence           DOUBLE PRECISION NOT NULL DEFAULT 0,
	status               TEXT NOT NULL,
	quarantine           JSONB,
	superseded_by        TEXT NOT NULL DEFAULT '',
	supersedes           JSONB,
	claim                JSONB,
	compressed           JSONB,
	evolution            JSONB,
	archived_at          TIMESTAMPTZ,
	archived_reason      TEXT NOT NULL DEFAULT '',
	archived             BOOLEAN NOT NULL DEFAULT FALSE,
	position             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent);
CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);
CREATE INDEX IF NOT EXISTS idx_memories_archived ON memories(archived);

CREATE TABLE IF NOT EXISTS links (
	source_id  TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	similarity DOUBLE PRECISION NOT NULL,
	type       TEXT NOT NULL,
	ord        INTEGER NOT NULL DEFAULT 0,
	archived   BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (source_id, target_id, archived)
);
CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_id);

CREATE TABLE IF NOT EXISTS episodes (
	id       TEXT PRIMARY KEY,
	doc      JSONB NOT NULL,
	position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS clusters (
	id       TEXT PRIMARY KEY,
	doc      JSONB NOT NULL,
	position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pending_conflicts (
	id       TEXT PRIMARY KEY,
	doc      JSONB NOT NULL,
	position INTEGER NOT NULL
);
`

// Store wraps a pgx connection pool.
type Store struct {
	db *pgxpool.Pool
}

// New connects, verifies the connection and applies the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %v", domain.ErrStorage, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", domain.ErrStorage, err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: apply schema: %v", domain.ErrStorage, err)
	}
	return &Store{db: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.db.Close()
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

// SearchByVector answers similarity queries with pgvector's cosine operator.
// Hits come back ordered by similarity descending.
func (s *Store) SearchByVector(ctx context.Context, embedding []float32, q domain.VectorQuery) ([]domain.VectorHit, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	vec := pgvector.NewVector(embedding)

	conditions := []string{"archived = FALSE", "embedding IS NOT NULL"}
	args := []any{vec}

	if q.Agent != "" {
		conditions = append(conditions, fmt.Sprintf("agent = $%d", len(args)+1))
		args = append(args, q.Agent)
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			statuses[i] = string(st)
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)+1))
		args = append(args, statuses)
	}
	if q.MinSimilarity > 0 {
		conditions = append(conditions, fmt.Sprintf("1 - (embedding <=> $1) >= $%d", len(args)+1))
		args = append(args, q.MinSimilarity)
	}

	limitParam := len(args) + 1
	args = append(args, limit)

	query := fmt.Sprintf(
		`SELECT id, 1 - (embedding <=> $1) AS score
		 FROM memories
		 WHERE %s
		 ORDER BY score DESC
		 LIMIT $%d`,
		strings.Join(conditions, " AND "),
		limitParam,
	)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	var hits []domain.VectorHit
	for rows.Next() {
		var h domain.VectorHit
		if err := rows.Scan(&h.ID, &h.Similarity); err != nil {
			return nil, fmt.Errorf("%w: scan vector hit: %v", domain.ErrStorage, err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: vector search rows: %v", domain.ErrStorage, err)
	}

	return hits, nil
}

var (
	_ domain.IncrementalStorage = (*Store)(nil)
	_ domain.VectorSearcher     = (*Store)(nil)
)
