package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

const memoryColumns = `id, agent, text, category, importance, tags, embedding,
	created_at, updated_at, event_at, access_count, reinforcements, disputes,
	stability, last_review_interval, source, source_id, corroboration, trust,
	confidence, status, quarantine, superseded_by, supersedes, claim,
	compressed, evolution, archived_at, archived_reason`

const memoryPlaceholders = `$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
	$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27,
	$28, $29, $30, $31`

func (s *Store) Load(ctx context.Context) ([]*domain.Memory, error) {
	return s.loadMemories(ctx, false)
}

func (s *Store) LoadArchive(ctx context.Context) ([]*domain.Memory, error) {
	return s.loadMemories(ctx, true)
}

func (s *Store) Save(ctx context.Context, memories []*domain.Memory) error {
	return s.saveMemories(ctx, memories, false)
}

func (s *Store) SaveArchive(ctx context.Context, memories []*domain.Memory) error {
	return s.saveMemories(ctx, memories, true)
}

// Upsert writes one memory and its outgoing links, keeping its list position
// when it already exists and appending otherwise.
func (s *Store) Upsert(ctx context.Context, m *domain.Memory) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin upsert: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	var pos int
	err = tx.QueryRow(ctx, `SELECT position FROM memories WHERE id = $1 AND archived = FALSE`, m.ID).Scan(&pos)
	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(position)+1, 0) FROM memories WHERE archived = FALSE`).Scan(&pos)
	}
	if err != nil {
		return fmt.Errorf("%w: upsert position: %v", domain.ErrStorage, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM memories WHERE id = $1 AND archived = FALSE`, m.ID); err != nil {
		return fmt.Errorf("%w: upsert delete: %v", domain.ErrStorage, err)
	}
	if err := insertMemory(ctx, tx, m, false, pos); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM links WHERE source_id = $1 AND archived = FALSE`, m.ID); err != nil {
		return fmt.Errorf("%w: upsert clear links: %v", domain.ErrStorage, err)
	}
	if err := insertLinks(ctx, tx, m.ID, m.Links, false); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit upsert: %v", domain.ErrStorage, err)
	}
	return nil
}

// Remove deletes a memory row and every link row touching it.
func (s *Store) Remove(ctx context.Context, id string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin remove: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM memories WHERE id = $1 AND archived = FALSE`, id); err != nil {
		return fmt.Errorf("%w: remove memory: %v", domain.ErrStorage, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM links WHERE (source_id = $1 OR target_id = $1) AND archived = FALSE`, id); err != nil {
		return fmt.Errorf("%w: remove links: %v", domain.ErrStorage, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit remove: %v", domain.ErrStorage, err)
	}
	return nil
}

// UpsertLinks rewrites the outgoing link rows of one memory.
func (s *Store) UpsertLinks(ctx context.Context, sourceID string, links []domain.Link) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin upsert links: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM links WHERE source_id = $1 AND archived = FALSE`, sourceID); err != nil {
		return fmt.Errorf("%w: clear links: %v", domain.ErrStorage, err)
	}
	if err := insertLinks(ctx, tx, sourceID, links, false); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit upsert links: %v", domain.ErrStorage, err)
	}
	return nil
}

// RemoveLinks deletes every link row touching the memory.
func (s *Store) RemoveLinks(ctx context.Context, sourceID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM links WHERE (source_id = $1 OR target_id = $1) AND archived = FALSE`, sourceID); err != nil {
		return fmt.Errorf("%w: remove links: %v", domain.ErrStorage, err)
	}
	return nil
}

func (s *Store) loadMemories(ctx context.Context, archived bool) ([]*domain.Memory, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE archived = $1 ORDER BY position`, archived)
	if err != nil {
		return nil, fmt.Errorf("%w: query memories: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	var memories []*domain.Memory
	byID := make(map[string]*domain.Memory)
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate memories: %v", domain.ErrStorage, err)
	}

	linkRows, err := s.db.Query(ctx,
		`SELECT source_id, target_id, similarity, type FROM links WHERE archived = $1 ORDER BY source_id, ord`, archived)
	if err != nil {
		return nil, fmt.Errorf("%w: query links: %v", domain.ErrStorage, err)
	}
	defer linkRows.Close()

	for linkRows.Next() {
		var sourceID, linkType string
		var l domain.Link
		if err := linkRows.Scan(&sourceID, &l.TargetID, &l.Similarity, &linkType); err != nil {
			return nil, fmt.Errorf("%w: scan link: %v", domain.ErrStorage, err)
		}
		l.Type = domain.LinkType(linkType)
		if m, ok := byID[sourceID]; ok {
			m.Links = append(m.Links, l)
		}
	}
	if err := linkRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate links: %v", domain.ErrStorage, err)
	}

	return memories, nil
}

func (s *Store) saveMemories(ctx context.Context, memories []*domain.Memory, archived bool) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin save: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM memories WHERE archived = $1`, archived); err != nil {
		return fmt.Errorf("%w: clear memories: %v", domain.ErrStorage, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM links WHERE archived = $1`, archived); err != nil {
		return fmt.Errorf("%w: clear links: %v", domain.ErrStorage, err)
	}

	for i, m := range memories {
		if err := insertMemory(ctx, tx, m, archived, i); err != nil {
			return err
		}
		if err := insertLinks(ctx, tx, m.ID, m.Links, archived); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit save: %v", domain.ErrStorage, err)
	}
	return nil
}

func insertMemory(ctx context.Context, tx pgx.Tx, m *domain.Memory, archived bool, position int) error {
	var embedding *pgvector.Vector
	if len(m.Embedding) > 0 {
		v := pgvector.NewVector(m.Embedding)
		embedding = &v
	}

	tags, err := jsonOrNil(m.Tags, len(m.Tags) == 0)
	if err != nil {
		return err
	}
	quarantine, err := jsonOrNil(m.Quarantine, m.Quarantine == nil)
	if err != nil {
		return err
	}
	supersedes, err := jsonOrNil(m.Supersedes, len(m.Supersedes) == 0)
	if err != nil {
		return err
	}
	claim, err := jsonOrNil(m.Claim, m.Claim == nil)
	if err != nil {
		return err
	}
	compressed, err := jsonOrNil(m.Compressed, m.Compressed == nil)
	if err != nil {
		return err
	}
	evolution, err := jsonOrNil(m.Evolution, len(m.Evolution) == 0)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO memories (`+memoryColumns+`, archived, position) VALUES (`+memoryPlaceholders+`)`,
		m.ID, m.Agent, m.Text, string(m.Category), m.Importance, tags, embedding,
		m.CreatedAt.UTC(), m.UpdatedAt.UTC(), utcPtr(m.EventAt),
		m.AccessCount, m.Reinforcements, m.Disputes,
		m.Stability, m.LastReviewInterval,
		string(m.Provenance.Source), m.Provenance.SourceID, m.Provenance.Corroboration, m.Provenance.Trust,
		m.Confidence, string(m.Status), quarantine, m.SupersededBy, supersedes, claim,
		compressed, evolution, utcPtr(m.ArchivedAt), m.ArchivedReason,
		archived, position)
	if err != nil {
		return fmt.Errorf("%w: insert memory %s: %v", domain.ErrStorage, m.ID, err)
	}
	return nil
}

func insertLinks(ctx context.Context, tx pgx.Tx, sourceID string, links []domain.Link, archived bool) error {
	for i, l := range links {
		if _, err := tx.Exec(ctx,
			`INSERT INTO links (source_id, target_id, similarity, type, ord, archived)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (source_id, target_id, archived) DO UPDATE
			 SET similarity = EXCLUDED.similarity, type = EXCLUDED.type, ord = EXCLUDED.ord`,
			sourceID, l.TargetID, l.Similarity, string(l.Type), i, archived); err != nil {
			return fmt.Errorf("%w: insert link %s->%s: %v", domain.ErrStorage, sourceID, l.TargetID, err)
		}
	}
	return nil
}

func scanMemory(rows pgx.Rows) (*domain.Memory, error) {
	var m domain.Memory
	var category, source, status string
	var tags, quarantine, supersedes, claim, compressed, evolution []byte
	var embedding *pgvector.Vector

	err := rows.Scan(&m.ID, &m.Agent, &m.Text, &category, &m.Importance, &tags, &embedding,
		&m.CreatedAt, &m.UpdatedAt, &m.EventAt, &m.AccessCount, &m.Reinforcements, &m.Disputes,
		&m.Stability, &m.LastReviewInterval,
		&source, &m.Provenance.SourceID, &m.Provenance.Corroboration, &m.Provenance.Trust,
		&m.Confidence, &status, &quarantine, &m.SupersededBy, &supersedes, &claim,
		&compressed, &evolution, &m.ArchivedAt, &m.ArchivedReason)
	if err != nil {
		return nil, fmt.Errorf("%w: scan memory: %v", domain.ErrStorage, err)
	}

	m.Category = domain.Category(category)
	m.Provenance.Source = domain.Source(source)
	m.Status = domain.Status(status)
	if embedding != nil {
		m.Embedding = embedding.Slice()
	}

	if err := unmarshalJSON(tags, &m.Tags); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(quarantine, &m.Quarantine); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(supersedes, &m.Supersedes); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(claim, &m.Claim); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(compressed, &m.Compressed); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(evolution, &m.Evolution); err != nil {
		return nil, err
	}

	return &m, nil
}

func jsonOrNil(v any, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode field: %v", domain.ErrStorage, err)
	}
	return raw, nil
}

func unmarshalJSON[T any](raw []byte, dst *T) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: decode field: %v", domain.ErrStorage, err)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
