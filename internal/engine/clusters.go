package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/synapse/internal/domain"
	"github.com/Harshitk-cp/synapse/internal/llm"
)

// CreateCluster persists a named group of memories.
func (e *Engine) CreateCluster(ctx context.Context, label, description string, memoryIDs []string) (*domain.LabeledCluster, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range memoryIDs {
		if _, ok := e.byID[id]; !ok {
			return nil, fmt.Errorf("%w: memory %s", domain.ErrNotFound, id)
		}
	}
	return e.createClusterLocked(ctx, label, description, memoryIDs)
}

func (e *Engine) createClusterLocked(ctx context.Context, label, description string, memoryIDs []string) (*domain.LabeledCluster, error) {
	if strings.TrimSpace(label) == "" {
		return nil, fmt.Errorf("%w: cluster label is empty", domain.ErrInvalid)
	}
	if len(memoryIDs) == 0 {
		return nil, fmt.Errorf("%w: cluster needs at least one memory", domain.ErrInvalid)
	}

	id, err := e.storage.GenClusterID(ctx)
	if err != nil {
		return nil, storageErr("generate cluster id", err)
	}
	now := timeNow().UTC()
	lc := &domain.LabeledCluster{
		ID:          id,
		Label:       label,
		Description: description,
		MemoryIDs:   dedupeIDs(memoryIDs),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	e.clusters = append(e.clusters, lc)

	if err := e.saveClusters(ctx); err != nil {
		e.clusters = e.clusters[:len(e.clusters)-1]
		return nil, err
	}
	e.emit(domain.Event{
		Name:     domain.EventClusterCreate,
		MemoryID: lc.ID,
		Detail:   map[string]any{"label": lc.Label, "memories": len(lc.MemoryIDs)},
	})
	return lc.Clone(), nil
}

// ListClusters returns all labeled clusters in creation order.
func (e *Engine) ListClusters() []*domain.LabeledCluster {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*domain.LabeledCluster, 0, len(e.clusters))
	for _, lc := range e.clusters {
		out = append(out, lc.Clone())
	}
	return out
}

// GetCluster returns a deep copy of one labeled cluster.
func (e *Engine) GetCluster(id string) (*domain.LabeledCluster, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, lc := range e.clusters {
		if lc.ID == id {
			return lc.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: cluster %s", domain.ErrNotFound, id)
}

// DeleteCluster removes a labeled cluster. Member memories are untouched.
func (e *Engine) DeleteCluster(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := -1
	for i, lc := range e.clusters {
		if lc.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: cluster %s", domain.ErrNotFound, id)
	}
	e.clusters = append(e.clusters[:idx], e.clusters[idx+1:]...)

	if err := e.saveClusters(ctx); err != nil {
		return err
	}
	e.emit(domain.Event{Name: domain.EventClusterDelete, MemoryID: id})
	return nil
}

// RefreshCluster re-walks the graph from the cluster's surviving members and
// expands membership to everything transitively linked.
func (e *Engine) RefreshCluster(ctx context.Context, id string) (*domain.LabeledCluster, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var lc *domain.LabeledCluster
	for _, c := range e.clusters {
		if c.ID == id {
			lc = c
			break
		}
	}
	if lc == nil {
		return nil, fmt.Errorf("%w: cluster %s", domain.ErrNotFound, id)
	}

	seen := make(map[string]struct{})
	var queue []*domain.Memory
	var ids []string
	for _, mid := range lc.MemoryIDs {
		m, ok := e.byID[mid]
		if !ok {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		ids = append(ids, m.ID)
		queue = append(queue, m)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, l := range cur.Links {
			if _, dup := seen[l.TargetID]; dup {
				continue
			}
			t, ok := e.byID[l.TargetID]
			if !ok {
				continue
			}
			seen[t.ID] = struct{}{}
			ids = append(ids, t.ID)
			queue = append(queue, t)
		}
	}

	lc.MemoryIDs = ids
	lc.UpdatedAt = timeNow().UTC()
	if err := e.saveClusters(ctx); err != nil {
		return nil, err
	}
	return lc.Clone(), nil
}

// LabelCluster names the nth auto-detected cluster, counting from zero in
// Clusters order.
func (e *Engine) LabelCluster(ctx context.Context, index int, label, description string) (*domain.LabeledCluster, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	infos := e.clusterInfos(0)
	if index < 0 || index >= len(infos) {
		return nil, fmt.Errorf("%w: cluster %d (have %d)", domain.ErrNotFound, index, len(infos))
	}
	return e.createClusterLocked(ctx, label, description, infos[index].IDs)
}

// AutoLabelOptions tune AutoLabelClusters.
type AutoLabelOptions struct {
	MinSize     int
	MaxClusters int
}

// AutoLabelClusters asks the chat adapter to name unlabeled auto-detected
// clusters from a sample of their most important members. Unparseable
// answers fall back to a tag-derived label.
func (e *Engine) AutoLabelClusters(ctx context.Context, opts AutoLabelOptions) ([]*domain.LabeledCluster, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.chat == nil {
		return nil, fmt.Errorf("%w: chat adapter required for auto-labeling", domain.ErrAdapterMissing)
	}
	minSize := opts.MinSize
	if minSize <= 0 {
		minSize = 3
	}
	maxClusters := opts.MaxClusters
	if maxClusters <= 0 {
		maxClusters = 5
	}

	var created []*domain.LabeledCluster
	for _, info := range e.clusterInfos(minSize) {
		if len(created) >= maxClusters {
			break
		}
		if info.Label != "" {
			continue
		}

		label, description := e.labelFor(ctx, info)
		lc, err := e.createClusterLocked(ctx, label, description, info.IDs)
		if err != nil {
			return created, err
		}
		created = append(created, lc)
	}
	return created, nil
}

// labelFor asks the model for a label and falls back to a heuristic one on
// any chat or parse failure.
func (e *Engine) labelFor(ctx context.Context, info ClusterInfo) (string, string) {
	raw, err := e.chat.Chat(ctx, llm.ClusterLabelPrompt(e.clusterSample(info)))
	if err == nil {
		parsed, perr := llm.ParseClusterLabel(raw)
		if perr == nil {
			return parsed.Label, parsed.Description
		}
		err = perr
	}
	if !errors.Is(err, context.Canceled) {
		e.logger.Warn("cluster labeling failed, using heuristic label", zap.Error(err))
	}
	return heuristicLabel(info), ""
}

// clusterSample picks up to five of the cluster's most important texts.
func (e *Engine) clusterSample(info ClusterInfo) []string {
	members := make([]*domain.Memory, 0, len(info.IDs))
	for _, id := range info.IDs {
		if m, ok := e.byID[id]; ok {
			members = append(members, m)
		}
	}
	sort.SliceStable(members, func(i, j int) bool { return members[i].Importance > members[j].Importance })
	if len(members) > 5 {
		members = members[:5]
	}
	texts := make([]string, 0, len(members))
	for _, m := range members {
		texts = append(texts, m.Text)
	}
	return texts
}

func heuristicLabel(info ClusterInfo) string {
	if len(info.TopTags) > 0 {
		return info.TopTags[0].Tag
	}
	return fmt.Sprintf("cluster of %d", info.Size)
}
