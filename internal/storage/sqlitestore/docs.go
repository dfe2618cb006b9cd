package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

// Episodes, labeled clusters and pending conflicts are engine-owned lists
// with no relational access pattern, so they persist as ordered JSON rows.

func (s *Store) LoadEpisodes(ctx context.Context) ([]*domain.Episode, error) {
	return loadDocs[domain.Episode](ctx, s, "episodes")
}

func (s *Store) SaveEpisodes(ctx context.Context, episodes []*domain.Episode) error {
	return saveDocs(ctx, s, "episodes", episodes, func(e *domain.Episode) string { return e.ID })
}

func (s *Store) LoadClusters(ctx context.Context) ([]*domain.LabeledCluster, error) {
	return loadDocs[domain.LabeledCluster](ctx, s, "clusters")
}

func (s *Store) SaveClusters(ctx context.Context, clusters []*domain.LabeledCluster) error {
	return saveDocs(ctx, s, "clusters", clusters, func(c *domain.LabeledCluster) string { return c.ID })
}

func (s *Store) LoadPendingConflicts(ctx context.Context) ([]*domain.PendingConflict, error) {
	return loadDocs[domain.PendingConflict](ctx, s, "pending_conflicts")
}

func (s *Store) SavePendingConflicts(ctx context.Context, conflicts []*domain.PendingConflict) error {
	return saveDocs(ctx, s, "pending_conflicts", conflicts, func(p *domain.PendingConflict) string { return p.ID })
}

func loadDocs[T any](ctx context.Context, s *Store, table string) ([]*T, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM `+table+` ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", domain.ErrStorage, table, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("%w: scan %s: %v", domain.ErrStorage, table, err)
		}
		item := new(T)
		if err := json.Unmarshal([]byte(doc), item); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrStorage, table, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate %s: %v", domain.ErrStorage, table, err)
	}
	return out, nil
}

func saveDocs[T any](ctx context.Context, s *Store, table string, items []*T, id func(*T) string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin save %s: %v", domain.ErrStorage, table, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return fmt.Errorf("%w: clear %s: %v", domain.ErrStorage, table, err)
	}
	for i, item := range items {
		doc, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("%w: encode %s: %v", domain.ErrStorage, table, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+table+` (id, doc, position) VALUES (?, ?, ?)`,
			id(item), string(doc), i); err != nil {
			return fmt.Errorf("%w: insert %s: %v", domain.ErrStorage, table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit save %s: %v", domain.ErrStorage, table, err)
	}
	return nil
}
