package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

// LinkInfo is one edge endpoint with a projection of the target.
type LinkInfo struct {
	ID         string          `json:"id"`
	Similarity float64         `json:"similarity"`
	Type       domain.LinkType `json:"type"`
	Memory     string          `json:"memory"`
	Agent      string          `json:"agent,omitempty"`
	Category   domain.Category `json:"category,omitempty"`
}

// LinksResult is the neighborhood of one memory.
type LinksResult struct {
	ID       string          `json:"id"`
	Memory   string          `json:"memory"`
	Agent    string          `json:"agent"`
	Category domain.Category `json:"category"`
	Links    []LinkInfo      `json:"links"`
}

// Links returns a memory's edges with target projections. Targets that were
// pruned render as "(deleted)".
func (e *Engine) Links(id string) (*LinksResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: memory %s", domain.ErrNotFound, id)
	}
	out := &LinksResult{
		ID:       m.ID,
		Memory:   m.Text,
		Agent:    m.Agent,
		Category: m.Category,
		Links:    make([]LinkInfo, 0, len(m.Links)),
	}
	for _, l := range m.Links {
		info := LinkInfo{ID: l.TargetID, Similarity: l.Similarity, Type: l.Type}
		if t, ok := e.byID[l.TargetID]; ok {
			info.Memory = t.Text
			info.Agent = t.Agent
			info.Category = t.Category
		} else {
			info.Memory = "(deleted)"
		}
		out.Links = append(out.Links, info)
	}
	return out, nil
}

// Link upserts a typed edge between two memories, both directions. An empty
// type defaults to related, zero similarity to 1.
func (e *Engine) Link(ctx context.Context, src, dst string, linkType domain.LinkType, sim float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if src == dst {
		return fmt.Errorf("%w: cannot link %s to itself", domain.ErrInvalid, src)
	}
	switch linkType {
	case "":
		linkType = domain.LinkRelated
	case domain.LinkSimilar, domain.LinkSupersedes, domain.LinkDigestOf, domain.LinkDigestedInto, domain.LinkRelated:
	default:
		return fmt.Errorf("%w: unknown link type %q", domain.ErrInvalid, linkType)
	}
	if sim < 0 || sim > 1 {
		return fmt.Errorf("%w: similarity %.2f outside [0,1]", domain.ErrInvalid, sim)
	}
	if sim == 0 {
		sim = 1
	}
	a, ok := e.byID[src]
	if !ok {
		return fmt.Errorf("%w: memory %s", domain.ErrNotFound, src)
	}
	b, ok := e.byID[dst]
	if !ok {
		return fmt.Errorf("%w: memory %s", domain.ErrNotFound, dst)
	}

	upsertLink(a, domain.Link{TargetID: dst, Similarity: sim, Type: linkType})
	upsertLink(b, domain.Link{TargetID: src, Similarity: sim, Type: linkType})
	e.touch(a)
	e.touch(b)
	if err := e.persistMemories(ctx, a, b); err != nil {
		return err
	}

	e.emit(domain.Event{
		Name:     domain.EventLink,
		MemoryID: src,
		Agent:    a.Agent,
		Detail: map[string]any{
			"target_id":  dst,
			"similarity": sim,
			"type":       string(linkType),
		},
	})
	return nil
}

// Unlink removes the edge between two memories in both directions and
// reports whether anything was removed.
func (e *Engine) Unlink(ctx context.Context, src, dst string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.byID[src]
	if !ok {
		return false, fmt.Errorf("%w: memory %s", domain.ErrNotFound, src)
	}
	b, ok := e.byID[dst]
	if !ok {
		return false, fmt.Errorf("%w: memory %s", domain.ErrNotFound, dst)
	}

	removed := dropLink(a, dst)
	if dropLink(b, src) {
		removed = true
	}
	if !removed {
		return false, nil
	}
	e.touch(a)
	e.touch(b)
	if err := e.persistMemories(ctx, a, b); err != nil {
		return false, err
	}
	return true, nil
}

func dropLink(m *domain.Memory, targetID string) bool {
	for i := range m.Links {
		if m.Links[i].TargetID == targetID {
			m.Links = append(m.Links[:i], m.Links[i+1:]...)
			return true
		}
	}
	return false
}

// TraverseNode is one node reached by Traverse: its minimum hop distance and
// the similarity of the edge it was first reached through.
type TraverseNode struct {
	ID         string          `json:"id"`
	Hop        int             `json:"hop"`
	Similarity float64         `json:"similarity"`
	Memory     string          `json:"memory"`
	Agent      string          `json:"agent"`
	Category   domain.Category `json:"category"`
}

// Traverse walks the graph breadth-first from start, following only links of
// the allowed types (all when types is empty), up to maxHops. Nodes come
// back sorted by hop then similarity descending; the origin is hop 0 with
// similarity 1.
func (e *Engine) Traverse(start string, maxHops int, types []domain.LinkType) ([]TraverseNode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	origin, ok := e.byID[start]
	if !ok {
		return nil, fmt.Errorf("%w: memory %s", domain.ErrNotFound, start)
	}
	if maxHops <= 0 {
		maxHops = 2
	}
	allowed := linkTypeSet(types)

	type queued struct {
		m   *domain.Memory
		hop int
		sim float64
	}
	visited := map[string]struct{}{start: {}}
	nodes := []TraverseNode{{
		ID: origin.ID, Hop: 0, Similarity: 1,
		Memory: origin.Text, Agent: origin.Agent, Category: origin.Category,
	}}
	queue := []queued{{m: origin, hop: 0, sim: 1}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.hop >= maxHops {
			continue
		}
		for _, l := range cur.m.Links {
			if allowed != nil {
				if _, ok := allowed[l.Type]; !ok {
					continue
				}
			}
			if _, seen := visited[l.TargetID]; seen {
				continue
			}
			t, ok := e.byID[l.TargetID]
			if !ok {
				continue
			}
			visited[t.ID] = struct{}{}
			nodes = append(nodes, TraverseNode{
				ID: t.ID, Hop: cur.hop + 1, Similarity: l.Similarity,
				Memory: t.Text, Agent: t.Agent, Category: t.Category,
			})
			queue = append(queue, queued{m: t, hop: cur.hop + 1, sim: l.Similarity})
		}
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Hop != nodes[j].Hop {
			return nodes[i].Hop < nodes[j].Hop
		}
		return nodes[i].Similarity > nodes[j].Similarity
	})
	return nodes, nil
}

func linkTypeSet(types []domain.LinkType) map[domain.LinkType]struct{} {
	if len(types) == 0 {
		return nil
	}
	set := make(map[domain.LinkType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

// PathNode is one step of a found path.
type PathNode struct {
	ID     string `json:"id"`
	Memory string `json:"memory"`
	Agent  string `json:"agent"`
}

// PathResult reports whether two memories connect and through what.
type PathResult struct {
	Found bool       `json:"found"`
	Hops  int        `json:"hops"`
	Path  []PathNode `json:"path,omitempty"`
}

// Path finds the shortest link path between two memories, optionally
// restricted to certain link types.
func (e *Engine) Path(from, to string, types []domain.LinkType) (*PathResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.byID[from]
	if !ok {
		return nil, fmt.Errorf("%w: memory %s", domain.ErrNotFound, from)
	}
	if _, ok := e.byID[to]; !ok {
		return nil, fmt.Errorf("%w: memory %s", domain.ErrNotFound, to)
	}
	if from == to {
		return &PathResult{Found: true, Hops: 0, Path: []PathNode{{ID: a.ID, Memory: a.Text, Agent: a.Agent}}}, nil
	}
	allowed := linkTypeSet(types)

	parent := map[string]string{from: ""}
	queue := []*domain.Memory{a}
	for len(queue) > 0 && parent[to] == "" {
		cur := queue[0]
		queue = queue[1:]
		for _, l := range cur.Links {
			if allowed != nil {
				if _, ok := allowed[l.Type]; !ok {
					continue
				}
			}
			if _, seen := parent[l.TargetID]; seen {
				continue
			}
			t, ok := e.byID[l.TargetID]
			if !ok {
				continue
			}
			parent[t.ID] = cur.ID
			if t.ID == to {
				break
			}
			queue = append(queue, t)
		}
	}

	if _, found := parent[to]; !found {
		return &PathResult{Found: false, Hops: 0}, nil
	}
	var ids []string
	for id := to; id != ""; id = parent[id] {
		ids = append(ids, id)
	}
	path := make([]PathNode, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		m := e.byID[ids[i]]
		path = append(path, PathNode{ID: m.ID, Memory: m.Text, Agent: m.Agent})
	}
	return &PathResult{Found: true, Hops: len(path) - 1, Path: path}, nil
}

// TagCount is one tag histogram entry.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// ClusterInfo describes one auto-detected connected component.
type ClusterInfo struct {
	Size    int            `json:"size"`
	IDs     []string       `json:"ids"`
	Agents  map[string]int `json:"agents"`
	TopTags []TagCount     `json:"top_tags,omitempty"`
	Label   string         `json:"label,omitempty"`
	LabelID string         `json:"label_id,omitempty"`
}

// Clusters detects connected components over all link types, keeps those of
// at least minSize members and annotates each with any labeled cluster whose
// members mostly live in it.
func (e *Engine) Clusters(minSize int) []ClusterInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clusterInfos(minSize)
}

func (e *Engine) clusterInfos(minSize int) []ClusterInfo {
	if minSize <= 0 {
		minSize = 2
	}
	var infos []ClusterInfo
	for _, comp := range e.components() {
		if len(comp) < minSize {
			continue
		}
		info := ClusterInfo{
			Size:   len(comp),
			IDs:    make([]string, 0, len(comp)),
			Agents: make(map[string]int),
		}
		tags := make(map[string]int)
		for _, m := range comp {
			info.IDs = append(info.IDs, m.ID)
			info.Agents[m.Agent]++
			for _, t := range m.Tags {
				tags[t]++
			}
		}
		info.TopTags = topTags(tags, 5)
		e.annotateLabel(&info)
		infos = append(infos, info)
	}
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].Size > infos[j].Size })
	return infos
}

// components returns the link graph's connected components, each in
// memory-list order, discovered in memory-list order.
func (e *Engine) components() [][]*domain.Memory {
	seen := make(map[string]struct{}, len(e.memories))
	var comps [][]*domain.Memory
	for _, m := range e.memories {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		var comp []*domain.Memory
		queue := []*domain.Memory{m}
		seen[m.ID] = struct{}{}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			comp = append(comp, cur)
			for _, l := range cur.Links {
				if _, ok := seen[l.TargetID]; ok {
					continue
				}
				t, ok := e.byID[l.TargetID]
				if !ok {
					continue
				}
				seen[t.ID] = struct{}{}
				queue = append(queue, t)
			}
		}
		comps = append(comps, comp)
	}
	return comps
}

func topTags(counts map[string]int, n int) []TagCount {
	out := make([]TagCount, 0, len(counts))
	for tag, c := range counts {
		out = append(out, TagCount{Tag: tag, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if len(out) > n {
		out = out[:n]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// annotateLabel attaches the first labeled cluster at least half of whose
// members sit inside the component.
func (e *Engine) annotateLabel(info *ClusterInfo) {
	members := make(map[string]struct{}, len(info.IDs))
	for _, id := range info.IDs {
		members[id] = struct{}{}
	}
	for _, lc := range e.clusters {
		if len(lc.MemoryIDs) == 0 {
			continue
		}
		overlap := 0
		for _, id := range lc.MemoryIDs {
			if _, ok := members[id]; ok {
				overlap++
			}
		}
		if overlap*2 >= len(lc.MemoryIDs) {
			info.Label = lc.Label
			info.LabelID = lc.ID
			return
		}
	}
}

// OrphanInfo is one weakly connected memory.
type OrphanInfo struct {
	ID       string  `json:"id"`
	Agent    string  `json:"agent"`
	Memory   string  `json:"memory"`
	Links    int     `json:"links"`
	Strength float64 `json:"strength"`
	AgeDays  float64 `json:"age_days"`
}

// Orphans lists memories with at most maxLinks edges, weakest first.
func (e *Engine) Orphans(agent string, maxLinks int) []OrphanInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := timeNow().UTC()
	var out []OrphanInfo
	for _, m := range e.memories {
		if agent != "" && m.Agent != agent {
			continue
		}
		if len(m.Links) > maxLinks {
			continue
		}
		out = append(out, OrphanInfo{
			ID:       m.ID,
			Agent:    m.Agent,
			Memory:   m.Text,
			Links:    len(m.Links),
			Strength: e.strengthOf(m, now),
			AgeDays:  now.Sub(m.CreatedAt).Hours() / 24,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Strength < out[j].Strength })
	return out
}
