// Package jsonfile persists engine state as one JSON document per entity
// list inside a directory. Writes are atomic (temp file + rename) so a crash
// mid-save never leaves a truncated document behind.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

const (
	memoriesFile  = "memories.json"
	archiveFile   = "archive.json"
	episodesFile  = "episodes.json"
	clustersFile  = "clusters.json"
	conflictsFile = "pending_conflicts.json"
)

// Store reads and writes the five entity documents under dir.
type Store struct {
	dir string
}

// New creates the directory if needed and returns a Store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", domain.ErrStorage, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory the store writes into.
func (s *Store) Dir() string { return s.dir }

func (s *Store) Load(ctx context.Context) ([]*domain.Memory, error) {
	return readList[domain.Memory](s.path(memoriesFile))
}

func (s *Store) Save(ctx context.Context, memories []*domain.Memory) error {
	return writeList(s.path(memoriesFile), memories)
}

func (s *Store) LoadArchive(ctx context.Context) ([]*domain.Memory, error) {
	return readList[domain.Memory](s.path(archiveFile))
}

func (s *Store) SaveArchive(ctx context.Context, memories []*domain.Memory) error {
	return writeList(s.path(archiveFile), memories)
}

func (s *Store) LoadEpisodes(ctx context.Context) ([]*domain.Episode, error) {
	return readList[domain.Episode](s.path(episodesFile))
}

func (s *Store) SaveEpisodes(ctx context.Context, episodes []*domain.Episode) error {
	return writeList(s.path(episodesFile), episodes)
}

func (s *Store) LoadClusters(ctx context.Context) ([]*domain.LabeledCluster, error) {
	return readList[domain.LabeledCluster](s.path(clustersFile))
}

func (s *Store) SaveClusters(ctx context.Context, clusters []*domain.LabeledCluster) error {
	return writeList(s.path(clustersFile), clusters)
}

func (s *Store) LoadPendingConflicts(ctx context.Context) ([]*domain.PendingConflict, error) {
	return readList[domain.PendingConflict](s.path(conflictsFile))
}

func (s *Store) SavePendingConflicts(ctx context.Context, conflicts []*domain.PendingConflict) error {
	return writeList(s.path(conflictsFile), conflicts)
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

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// readList tolerates a missing file, returning an empty list. Decode
// failures are storage errors.
func readList[T any](path string) ([]*T, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrStorage, filepath.Base(path), err)
	}

	var list []*T
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrStorage, filepath.Base(path), err)
	}
	return list, nil
}

// writeList marshals the list and swaps it into place atomically.
func writeList[T any](path string, list []*T) error {
	if list == nil {
		list = []*T{}
	}
	raw, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", domain.ErrStorage, filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", domain.ErrStorage, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %v", domain.ErrStorage, filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: sync %s: %v", domain.ErrStorage, filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close %s: %v", domain.ErrStorage, filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replace %s: %v", domain.ErrStorage, filepath.Base(path), err)
	}
	return nil
}
