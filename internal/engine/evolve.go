package engine

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/synapse/internal/domain"
	"github.com/Harshitk-cp/synapse/internal/llm"
)

const (
	evolveCandidateLimit  = 10
	evolveSimilarityFloor = 0.6
)

// EvolveResult reports what the evolve path did with the text.
type EvolveResult struct {
	// Action is "stored" when the text became a new memory, "updated" when
	// it was folded into an existing one.
	Action       string `json:"action"`
	ID           string `json:"id"`
	Links        int    `json:"links,omitempty"`
	Quarantined  bool   `json:"quarantined,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	// Archived lists memories retired because the chat adapter judged them
	// contradicted by the new text.
	Archived       []string `json:"archived,omitempty"`
	DetectionError string   `json:"detection_error,omitempty"`
}

// Evolve stores a memory through the conversational conflict path. The chat
// adapter classifies the text against the agent's most similar active
// memories; contradicted ones are archived, an "update" verdict folds the
// text into the existing memory in place, and otherwise the text goes through
// the regular store pipeline with supersedes links to whatever was archived.
// Calls are rate limited; classification failures degrade to a plain store
// and are reported in DetectionError rather than as errors.
func (e *Engine) Evolve(ctx context.Context, req StoreRequest) (*EvolveResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := e.evolveLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var embedding []float32
	if e.embedder != nil {
		vecs, err := e.embedder.Embed(ctx, []string{req.Text})
		if err != nil {
			e.logger.Warn("embedding failed, evolving without vector", zap.Error(err))
		} else if len(vecs) == 1 {
			embedding = vecs[0]
		}
	}

	result := &EvolveResult{}

	candidates := e.evolveCandidates(req.Agent, embedding)
	if e.chat != nil && len(candidates) > 0 {
		decision, err := e.classifyEvolve(ctx, req.Text, candidates)
		if err != nil {
			result.DetectionError = err.Error()
			e.logger.Warn("evolve classification failed, storing as new", zap.Error(err))
		} else {
			// Retire contradicted candidates first so neither the update nor
			// the store path sees them.
			for _, idx := range dedupeInts(decision.Conflicts) {
				m := candidates[idx]
				if _, live := e.byID[m.ID]; !live {
					continue
				}
				e.archiveMemory(m, "contradicted by newer memory")
				result.Archived = append(result.Archived, m.ID)
			}
			if len(result.Archived) > 0 {
				if err := e.removeDurable(ctx, result.Archived); err != nil {
					return nil, err
				}
				if err := e.saveArchive(ctx); err != nil {
					return nil, err
				}
			}
			for _, idx := range decision.Updates {
				m := candidates[idx]
				if _, live := e.byID[m.ID]; !live {
					continue
				}
				if err := e.evolveUpdate(ctx, m, &req, embedding); err != nil {
					return nil, err
				}
				result.Action = "updated"
				result.ID = m.ID
				return result, nil
			}
		}
	}

	stored, err := e.evolveStore(ctx, req, embedding, result.Archived)
	if err != nil {
		return nil, err
	}
	result.Action = "stored"
	result.ID = stored.ID
	result.Links = stored.Links
	result.Quarantined = stored.Quarantined
	result.Deduplicated = stored.Deduplicated
	return result, nil
}

// evolveCandidates returns the agent's active embedded memories most similar
// to the vector, strongest first, capped at evolveCandidateLimit. Canonical
// pointers: callers must not hand them out.
func (e *Engine) evolveCandidates(agent string, embedding []float32) []*domain.Memory {
	if len(embedding) == 0 {
		return nil
	}
	type scored struct {
		m   *domain.Memory
		sim float64
	}
	var hits []scored
	for _, m := range e.memories {
		if m.Agent != agent || m.Status != domain.StatusActive || len(m.Embedding) == 0 {
			continue
		}
		sim, ok := cosineOrSkip(embedding, m.Embedding)
		if !ok || sim <= evolveSimilarityFloor {
			continue
		}
		hits = append(hits, scored{m: m, sim: sim})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].sim > hits[j].sim })
	if len(hits) > evolveCandidateLimit {
		hits = hits[:evolveCandidateLimit]
	}
	out := make([]*domain.Memory, len(hits))
	for i, h := range hits {
		out[i] = h.m
	}
	return out
}

func (e *Engine) classifyEvolve(ctx context.Context, text string, candidates []*domain.Memory) (llm.EvolveDecision, error) {
	texts := make([]string, len(candidates))
	for i, m := range candidates {
		texts[i] = m.Text
	}
	raw, err := e.chat.Chat(ctx, llm.EvolvePrompt(text, texts))
	if err != nil {
		return llm.EvolveDecision{}, err
	}
	return llm.ParseEvolveDecision(raw, len(candidates))
}

// evolveUpdate replaces an existing memory's text in place, keeping its id,
// links and claim. Only the token index follows the text; claim index entries
// stay as they are. The request embedding was computed for the new text, so
// it is installed as-is, nil included.
func (e *Engine) evolveUpdate(ctx context.Context, m *domain.Memory, req *StoreRequest, embedding []float32) error {
	old := m.Text
	e.deindexTokens(m)
	m.Text = req.Text
	e.indexTokens(m)

	if req.Importance > m.Importance {
		m.Importance = req.Importance
	}
	m.Embedding = embedding
	m.Evolution = append(m.Evolution, domain.Evolution{
		From:   old,
		To:     req.Text,
		Reason: "updated by newer information",
		At:     timeNow().UTC(),
	})
	e.touch(m)
	return e.persistMemories(ctx, m)
}

// evolveStore runs the regular store pipeline and then points the stored
// memory at the conflicts archived earlier this call. The archived side is
// gone from the graph, so the supersedes edge is one-sided.
func (e *Engine) evolveStore(ctx context.Context, req StoreRequest, embedding []float32, archived []string) (*StoreResult, error) {
	b := e.newBatch()
	res, err := e.storeOne(ctx, &req, b, embedding)
	if err != nil {
		b.rollback(e)
		return nil, err
	}
	if m, ok := e.byID[res.ID]; ok {
		for _, id := range archived {
			upsertLink(m, domain.Link{TargetID: id, Similarity: 1, Type: domain.LinkSupersedes})
			m.Supersedes = append(m.Supersedes, id)
		}
	}
	if err := e.persistBatch(ctx, b); err != nil {
		b.rollback(e)
		return nil, err
	}
	for _, ev := range b.events {
		e.emit(ev)
	}
	return res, nil
}

func dedupeInts(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
