package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

const memoryColumns = `id, agent, text, category, importance, tags, embedding,
	created_at, updated_at, event_at, access_count, reinforcements, disputes,
	stability, last_review_interval, source, source_id, corroboration, trust,
	confidence, status, quarantine, superseded_by, supersedes, claim,
	compressed, evolution, archived_at, archived_reason`

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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin upsert: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback()

	var pos int64
	err = tx.QueryRowContext(ctx, `SELECT position FROM memories WHERE id = ? AND archived = 0`, m.ID).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position)+1, 0) FROM memories WHERE archived = 0`).Scan(&pos)
	}
	if err != nil {
		return fmt.Errorf("%w: upsert position: %v", domain.ErrStorage, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ? AND archived = 0`, m.ID); err != nil {
		return fmt.Errorf("%w: upsert delete: %v", domain.ErrStorage, err)
	}
	if err := insertMemory(ctx, tx, m, false, pos); err != nil {
		return err
	}
	if err := replaceLinks(ctx, tx, m.ID, m.Links, false); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit upsert: %v", domain.ErrStorage, err)
	}
	return nil
}

// Remove deletes a memory row and every link row touching it.
func (s *Store) Remove(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin remove: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ? AND archived = 0`, id); err != nil {
		return fmt.Errorf("%w: remove memory: %v", domain.ErrStorage, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE (source_id = ? OR target_id = ?) AND archived = 0`, id, id); err != nil {
		return fmt.Errorf("%w: remove links: %v", domain.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit remove: %v", domain.ErrStorage, err)
	}
	return nil
}

// UpsertLinks rewrites the outgoing link rows of one memory.
func (s *Store) UpsertLinks(ctx context.Context, sourceID string, links []domain.Link) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin upsert links: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback()

	if err := replaceLinks(ctx, tx, sourceID, links, false); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit upsert links: %v", domain.ErrStorage, err)
	}
	return nil
}

// RemoveLinks deletes every link row touching the memory.
func (s *Store) RemoveLinks(ctx context.Context, sourceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM links WHERE (source_id = ? OR target_id = ?) AND archived = 0`, sourceID, sourceID); err != nil {
		return fmt.Errorf("%w: remove links: %v", domain.ErrStorage, err)
	}
	return nil
}

func (s *Store) loadMemories(ctx context.Context, archived bool) ([]*domain.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE archived = ? ORDER BY position`, boolInt(archived))
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

	linkRows, err := s.db.QueryContext(ctx,
		`SELECT source_id, target_id, similarity, type FROM links WHERE archived = ? ORDER BY source_id, ord`, boolInt(archived))
	if err != nil {
		return nil, fmt.Errorf("%w: query links: %v", domain.ErrStorage, err)
	}
	defer linkRows.Close()

	for linkRows.Next() {
		var sourceID string
		var l domain.Link
		if err := linkRows.Scan(&sourceID, &l.TargetID, &l.Similarity, &l.Type); err != nil {
			return nil, fmt.Errorf("%w: scan link: %v", domain.ErrStorage, err)
		}
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin save: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback()

	flag := boolInt(archived)
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE archived = ?`, flag); err != nil {
		return fmt.Errorf("%w: clear memories: %v", domain.ErrStorage, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE archived = ?`, flag); err != nil {
		return fmt.Errorf("%w: clear links: %v", domain.ErrStorage, err)
	}

	for i, m := range memories {
		if err := insertMemory(ctx, tx, m, archived, int64(i)); err != nil {
			return err
		}
		if len(m.Links) > 0 {
			if err := insertLinks(ctx, tx, m.ID, m.Links, archived); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit save: %v", domain.ErrStorage, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMemory(ctx context.Context, tx execer, m *domain.Memory, archived bool, position int64) error {
	tags, err := jsonOrNull(m.Tags, len(m.Tags) == 0)
	if err != nil {
		return err
	}
	quarantine, err := jsonOrNull(m.Quarantine, m.Quarantine == nil)
	if err != nil {
		return err
	}
	supersedes, err := jsonOrNull(m.Supersedes, len(m.Supersedes) == 0)
	if err != nil {
		return err
	}
	claim, err := jsonOrNull(m.Claim, m.Claim == nil)
	if err != nil {
		return err
	}
	compressed, err := jsonOrNull(m.Compressed, m.Compressed == nil)
	if err != nil {
		return err
	}
	evolution, err := jsonOrNull(m.Evolution, len(m.Evolution) == 0)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO memories (`+memoryColumns+`, archived, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Agent, m.Text, string(m.Category), m.Importance, tags, encodeVector(m.Embedding),
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt), formatTimePtr(m.EventAt),
		m.AccessCount, m.Reinforcements, m.Disputes,
		m.Stability, m.LastReviewInterval,
		string(m.Provenance.Source), nullIfEmpty(m.Provenance.SourceID), m.Provenance.Corroboration, m.Provenance.Trust,
		m.Confidence, string(m.Status), quarantine, nullIfEmpty(m.SupersededBy), supersedes, claim,
		compressed, evolution, formatTimePtr(m.ArchivedAt), nullIfEmpty(m.ArchivedReason),
		boolInt(archived), position)
	if err != nil {
		return fmt.Errorf("%w: insert memory %s: %v", domain.ErrStorage, m.ID, err)
	}
	return nil
}

func replaceLinks(ctx context.Context, tx execer, sourceID string, links []domain.Link, archived bool) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE source_id = ? AND archived = ?`, sourceID, boolInt(archived)); err != nil {
		return fmt.Errorf("%w: clear links for %s: %v", domain.ErrStorage, sourceID, err)
	}
	return insertLinks(ctx, tx, sourceID, links, archived)
}

func insertLinks(ctx context.Context, tx execer, sourceID string, links []domain.Link, archived bool) error {
	for i, l := range links {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO links (source_id, target_id, similarity, type, ord, archived) VALUES (?, ?, ?, ?, ?, ?)`,
			sourceID, l.TargetID, l.Similarity, string(l.Type), i, boolInt(archived)); err != nil {
			return fmt.Errorf("%w: insert link %s->%s: %v", domain.ErrStorage, sourceID, l.TargetID, err)
		}
	}
	return nil
}

func scanMemory(rows *sql.Rows) (*domain.Memory, error) {
	var m domain.Memory
	var category, source, status, createdAt, updatedAt string
	var tags, quarantine, supersedes, claim, compressed, evolution sql.NullString
	var eventAt, archivedAt, sourceID, supersededBy, archWhy sql.NullString
	var embedding []byte

	err := rows.Scan(&m.ID, &m.Agent, &m.Text, &category, &m.Importance, &tags, &embedding,
		&createdAt, &updatedAt, &eventAt, &m.AccessCount, &m.Reinforcements, &m.Disputes,
		&m.Stability, &m.LastReviewInterval,
		&source, &sourceID, &m.Provenance.Corroboration, &m.Provenance.Trust,
		&m.Confidence, &status, &quarantine, &supersededBy, &supersedes, &claim,
		&compressed, &evolution, &archivedAt, &archWhy)
	if err != nil {
		return nil, fmt.Errorf("%w: scan memory: %v", domain.ErrStorage, err)
	}

	m.Category = domain.Category(category)
	m.Provenance.Source = domain.Source(source)
	m.Provenance.SourceID = sourceID.String
	m.Status = domain.Status(status)
	m.SupersededBy = supersededBy.String
	m.ArchivedReason = archWhy.String

	if m.Embedding, err = decodeVector(embedding); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if m.EventAt, err = parseTimePtr(eventAt); err != nil {
		return nil, err
	}
	if m.ArchivedAt, err = parseTimePtr(archivedAt); err != nil {
		return nil, err
	}

	if err := unmarshalNull(tags, &m.Tags); err != nil {
		return nil, err
	}
	if err := unmarshalNull(quarantine, &m.Quarantine); err != nil {
		return nil, err
	}
	if err := unmarshalNull(supersedes, &m.Supersedes); err != nil {
		return nil, err
	}
	if err := unmarshalNull(claim, &m.Claim); err != nil {
		return nil, err
	}
	if err := unmarshalNull(compressed, &m.Compressed); err != nil {
		return nil, err
	}
	if err := unmarshalNull(evolution, &m.Evolution); err != nil {
		return nil, err
	}

	return &m, nil
}

func jsonOrNull(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode field: %v", domain.ErrStorage, err)
	}
	return string(raw), nil
}

func unmarshalNull[T any](col sql.NullString, dst *T) error {
	if !col.Valid {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("%w: decode field: %v", domain.ErrStorage, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: parse timestamp %q: %v", domain.ErrStorage, s, err)
	}
	return t, nil
}

func parseTimePtr(col sql.NullString) (*time.Time, error) {
	if !col.Valid {
		return nil, nil
	}
	t, err := parseTime(col.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
