package engine

import (
	"github.com/Harshitk-cp/synapse/internal/domain"
	"github.com/Harshitk-cp/synapse/internal/similarity"
)

// rebuildIndexes recreates the id, token and claim indexes from the memory
// list. Called on load; mutations afterwards keep them in lockstep.
func (e *Engine) rebuildIndexes() {
	e.byID = make(map[string]*domain.Memory, len(e.memories))
	e.byToken = make(map[string]map[string]struct{})
	e.byClaim = make(map[domain.ClaimKey]map[string]struct{})

	for _, m := range e.memories {
		e.indexMemory(m)
	}
}

// indexMemory adds a memory to every index.
func (e *Engine) indexMemory(m *domain.Memory) {
	e.byID[m.ID] = m
	e.indexTokens(m)
	e.indexClaim(m)
}

// deindexMemory removes a memory from every index.
func (e *Engine) deindexMemory(m *domain.Memory) {
	delete(e.byID, m.ID)
	e.deindexTokens(m)
	e.deindexClaim(m)
}

func (e *Engine) indexTokens(m *domain.Memory) {
	for _, tok := range similarity.Tokenize(m.Text) {
		set, ok := e.byToken[tok]
		if !ok {
			set = make(map[string]struct{})
			e.byToken[tok] = set
		}
		set[m.ID] = struct{}{}
	}
}

func (e *Engine) deindexTokens(m *domain.Memory) {
	for _, tok := range similarity.Tokenize(m.Text) {
		set, ok := e.byToken[tok]
		if !ok {
			continue
		}
		delete(set, m.ID)
		if len(set) == 0 {
			delete(e.byToken, tok)
		}
	}
}

// indexClaim adds the claim entry when the memory carries a well-keyed claim.
func (e *Engine) indexClaim(m *domain.Memory) {
	if m.Claim == nil || m.Claim.Subject == "" || m.Claim.Predicate == "" {
		return
	}
	key := m.Claim.Key()
	set, ok := e.byClaim[key]
	if !ok {
		set = make(map[string]struct{})
		e.byClaim[key] = set
	}
	set[m.ID] = struct{}{}
}

func (e *Engine) deindexClaim(m *domain.Memory) {
	if m.Claim == nil || m.Claim.Subject == "" || m.Claim.Predicate == "" {
		return
	}
	key := m.Claim.Key()
	set, ok := e.byClaim[key]
	if !ok {
		return
	}
	delete(set, m.ID)
	if len(set) == 0 {
		delete(e.byClaim, key)
	}
}

// removeFromList drops a memory from the ordered list, preserving order.
func (e *Engine) removeFromList(id string) {
	for i, m := range e.memories {
		if m.ID == id {
			e.memories = append(e.memories[:i], e.memories[i+1:]...)
			return
		}
	}
}

// pruneBrokenLinks removes link entries whose target no longer exists in the
// active graph. Returns the memories whose link lists changed.
func (e *Engine) pruneBrokenLinks() []*domain.Memory {
	var changed []*domain.Memory
	for _, m := range e.memories {
		kept := m.Links[:0]
		dropped := false
		for _, l := range m.Links {
			if _, ok := e.byID[l.TargetID]; ok {
				kept = append(kept, l)
			} else {
				dropped = true
			}
		}
		if dropped {
			m.Links = kept
			changed = append(changed, m)
		}
	}
	return changed
}

// claimMatches returns the active-list memories indexed under the claim key,
// in memory-list order for determinism.
func (e *Engine) claimMatches(key domain.ClaimKey) []*domain.Memory {
	set, ok := e.byClaim[key]
	if !ok || len(set) == 0 {
		return nil
	}
	out := make([]*domain.Memory, 0, len(set))
	for _, m := range e.memories {
		if _, hit := set[m.ID]; hit {
			out = append(out, m)
		}
	}
	return out
}
