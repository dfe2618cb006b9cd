package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/synapse/internal/domain"
	"github.com/Harshitk-cp/synapse/internal/llm"
)

// CreateEpisode groups existing memories under a name. Agents and the time
// range are derived from the members.
func (e *Engine) CreateEpisode(ctx context.Context, name string, memoryIDs, tags []string) (*domain.Episode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: episode name is empty", domain.ErrInvalid)
	}
	if len(memoryIDs) == 0 {
		return nil, fmt.Errorf("%w: episode needs at least one memory", domain.ErrInvalid)
	}
	for _, id := range memoryIDs {
		if _, ok := e.byID[id]; !ok {
			return nil, fmt.Errorf("%w: memory %s", domain.ErrNotFound, id)
		}
	}

	id, err := e.storage.GenEpisodeID(ctx)
	if err != nil {
		return nil, storageErr("generate episode id", err)
	}
	now := timeNow().UTC()
	ep := &domain.Episode{
		ID:        id,
		Name:      name,
		MemoryIDs: dedupeIDs(memoryIDs),
		Tags:      cleanTags(tags),
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.recomputeEpisode(ep)
	e.episodes = append(e.episodes, ep)

	if err := e.saveEpisodes(ctx); err != nil {
		e.episodes = e.episodes[:len(e.episodes)-1]
		return nil, err
	}
	e.emit(domain.Event{
		Name:     domain.EventEpisodeCreate,
		MemoryID: ep.ID,
		Detail:   map[string]any{"name": ep.Name, "memories": len(ep.MemoryIDs)},
	})
	return ep.Clone(), nil
}

// CaptureEpisode creates an episode from everything an agent recorded inside
// a time window. It fails when the window holds fewer than minMemories
// members (at least one).
func (e *Engine) CaptureEpisode(ctx context.Context, agent string, start, end time.Time, name string, minMemories int) (*domain.Episode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !domain.ValidAgent(agent) {
		return nil, fmt.Errorf("%w: agent %q", domain.ErrInvalid, agent)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: window end precedes start", domain.ErrInvalid)
	}
	if minMemories < 1 {
		minMemories = 1
	}

	var ids []string
	for _, m := range e.memories {
		if m.Agent != agent {
			continue
		}
		t := m.EffectiveTime()
		if t.Before(start) || t.After(end) {
			continue
		}
		ids = append(ids, m.ID)
	}
	if len(ids) < minMemories {
		return nil, fmt.Errorf("%w: window holds %d memories, need %d", domain.ErrInvalid, len(ids), minMemories)
	}

	if strings.TrimSpace(name) == "" {
		name = fmt.Sprintf("%s %s to %s", agent, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	id, err := e.storage.GenEpisodeID(ctx)
	if err != nil {
		return nil, storageErr("generate episode id", err)
	}
	now := timeNow().UTC()
	ep := &domain.Episode{
		ID:        id,
		Name:      name,
		MemoryIDs: ids,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.recomputeEpisode(ep)
	e.episodes = append(e.episodes, ep)

	if err := e.saveEpisodes(ctx); err != nil {
		e.episodes = e.episodes[:len(e.episodes)-1]
		return nil, err
	}
	e.emit(domain.Event{
		Name:     domain.EventEpisodeCreate,
		MemoryID: ep.ID,
		Agent:    agent,
		Detail:   map[string]any{"name": ep.Name, "memories": len(ep.MemoryIDs)},
	})
	return ep.Clone(), nil
}

// GetEpisode returns a deep copy of an episode.
func (e *Engine) GetEpisode(id string) (*domain.Episode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ep := e.episodeByID(id)
	if ep == nil {
		return nil, fmt.Errorf("%w: episode %s", domain.ErrNotFound, id)
	}
	return ep.Clone(), nil
}

// EpisodeFilter narrows ListEpisodes output.
type EpisodeFilter struct {
	Agent string
	Tag   string
	Limit int
}

// ListEpisodes returns episodes in creation order, optionally filtered by
// participating agent or tag.
func (e *Engine) ListEpisodes(f EpisodeFilter) []*domain.Episode {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*domain.Episode
	for _, ep := range e.episodes {
		if f.Agent != "" && !containsString(ep.Agents, f.Agent) {
			continue
		}
		if f.Tag != "" && !containsString(ep.Tags, f.Tag) {
			continue
		}
		out = append(out, ep.Clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// AddToEpisode appends memories to an episode, skipping ones it already
// holds, and recomputes the agent list and time range.
func (e *Engine) AddToEpisode(ctx context.Context, episodeID string, memoryIDs []string) (*domain.Episode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ep := e.episodeByID(episodeID)
	if ep == nil {
		return nil, fmt.Errorf("%w: episode %s", domain.ErrNotFound, episodeID)
	}
	added := 0
	for _, id := range memoryIDs {
		if _, ok := e.byID[id]; !ok {
			return nil, fmt.Errorf("%w: memory %s", domain.ErrNotFound, id)
		}
		if ep.Contains(id) {
			continue
		}
		ep.MemoryIDs = append(ep.MemoryIDs, id)
		added++
	}
	if added == 0 {
		return ep.Clone(), nil
	}
	e.recomputeEpisode(ep)
	ep.UpdatedAt = timeNow().UTC()

	if err := e.saveEpisodes(ctx); err != nil {
		return nil, err
	}
	e.emit(domain.Event{
		Name:     domain.EventEpisodeUpdate,
		MemoryID: ep.ID,
		Detail:   map[string]any{"added": added, "memories": len(ep.MemoryIDs)},
	})
	return ep.Clone(), nil
}

// RemoveFromEpisode drops memories from an episode and recomputes the agent
// list and time range.
func (e *Engine) RemoveFromEpisode(ctx context.Context, episodeID string, memoryIDs []string) (*domain.Episode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ep := e.episodeByID(episodeID)
	if ep == nil {
		return nil, fmt.Errorf("%w: episode %s", domain.ErrNotFound, episodeID)
	}
	drop := make(map[string]struct{}, len(memoryIDs))
	for _, id := range memoryIDs {
		drop[id] = struct{}{}
	}
	kept := ep.MemoryIDs[:0]
	removed := 0
	for _, id := range ep.MemoryIDs {
		if _, ok := drop[id]; ok {
			removed++
			continue
		}
		kept = append(kept, id)
	}
	if removed == 0 {
		return ep.Clone(), nil
	}
	ep.MemoryIDs = kept
	e.recomputeEpisode(ep)
	ep.UpdatedAt = timeNow().UTC()

	if err := e.saveEpisodes(ctx); err != nil {
		return nil, err
	}
	e.emit(domain.Event{
		Name:     domain.EventEpisodeUpdate,
		MemoryID: ep.ID,
		Detail:   map[string]any{"removed": removed, "memories": len(ep.MemoryIDs)},
	})
	return ep.Clone(), nil
}

// SearchEpisode queries inside one episode: by embedding similarity when the
// adapter and member vectors allow it, by substring otherwise.
func (e *Engine) SearchEpisode(ctx context.Context, episodeID, query string, limit int) ([]SearchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ep := e.episodeByID(episodeID)
	if ep == nil {
		return nil, fmt.Errorf("%w: episode %s", domain.ErrNotFound, episodeID)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalid)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var qvec []float32
	if e.embedder != nil {
		vecs, err := e.embedQueries(ctx, []string{query})
		if err != nil {
			e.logger.Warn("episode query embedding failed, falling back to substring", zap.Error(err))
		} else if len(vecs) == 1 {
			qvec = vecs[0]
		}
	}

	var results []SearchResult
	needle := strings.ToLower(query)
	for _, id := range ep.MemoryIDs {
		m, ok := e.byID[id]
		if !ok {
			continue
		}
		if len(qvec) > 0 && len(m.Embedding) > 0 {
			if sim, ok := cosineOrSkip(qvec, m.Embedding); ok {
				results = append(results, SearchResult{Memory: m.Clone(), Score: sim})
				continue
			}
		}
		if strings.Contains(strings.ToLower(m.Text), needle) {
			results = append(results, SearchResult{Memory: m.Clone(), Score: 1})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SummarizeEpisode asks the chat adapter for a short narrative of the
// episode's members and stores it on the episode.
func (e *Engine) SummarizeEpisode(ctx context.Context, episodeID string) (*domain.Episode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.chat == nil {
		return nil, fmt.Errorf("%w: chat adapter required for summarize", domain.ErrAdapterMissing)
	}
	ep := e.episodeByID(episodeID)
	if ep == nil {
		return nil, fmt.Errorf("%w: episode %s", domain.ErrNotFound, episodeID)
	}
	texts := make([]string, 0, len(ep.MemoryIDs))
	for _, id := range ep.MemoryIDs {
		if m, ok := e.byID[id]; ok {
			texts = append(texts, m.Text)
		}
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: episode %s has no live memories", domain.ErrInvalid, episodeID)
	}

	summary, err := e.chat.Chat(ctx, llm.EpisodeSummaryPrompt(ep.Name, texts))
	if err != nil {
		return nil, fmt.Errorf("summarize episode: %w", err)
	}
	ep.Summary = strings.TrimSpace(summary)
	ep.UpdatedAt = timeNow().UTC()

	if err := e.saveEpisodes(ctx); err != nil {
		return nil, err
	}
	e.emit(domain.Event{
		Name:     domain.EventEpisodeSummarize,
		MemoryID: ep.ID,
		Detail:   map[string]any{"name": ep.Name},
	})
	return ep.Clone(), nil
}

// DeleteEpisode removes an episode. Member memories are untouched.
func (e *Engine) DeleteEpisode(ctx context.Context, episodeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := -1
	for i, ep := range e.episodes {
		if ep.ID == episodeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: episode %s", domain.ErrNotFound, episodeID)
	}
	e.episodes = append(e.episodes[:idx], e.episodes[idx+1:]...)

	if err := e.saveEpisodes(ctx); err != nil {
		return err
	}
	e.emit(domain.Event{Name: domain.EventEpisodeDelete, MemoryID: episodeID})
	return nil
}

func (e *Engine) episodeByID(id string) *domain.Episode {
	for _, ep := range e.episodes {
		if ep.ID == id {
			return ep
		}
	}
	return nil
}

// recomputeEpisode refreshes the derived agent list and time range from the
// current members. Dead ids contribute nothing.
func (e *Engine) recomputeEpisode(ep *domain.Episode) {
	agents := make(map[string]struct{})
	var start, end time.Time
	for _, id := range ep.MemoryIDs {
		m, ok := e.byID[id]
		if !ok {
			continue
		}
		agents[m.Agent] = struct{}{}
		t := m.EffectiveTime()
		if start.IsZero() || t.Before(start) {
			start = t
		}
		if end.IsZero() || t.After(end) {
			end = t
		}
	}
	names := make([]string, 0, len(agents))
	for a := range agents {
		names = append(names, a)
	}
	sort.Strings(names)
	if len(names) == 0 {
		names = nil
	}
	ep.Agents = names
	ep.TimeRange = domain.TimeRange{Start: start, End: end}
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
