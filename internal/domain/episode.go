package domain

import "time"

// TimeRange is the span an episode covers, derived from the effective times
// of its member memories.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Episode groups memories that belong to one coherent activity: a working
// session, an investigation, a trip. Membership is by id; the memories
// themselves stay independent graph nodes.
type Episode struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Summary   string         `json:"summary,omitempty"`
	Agents    []string       `json:"agents,omitempty"`
	MemoryIDs []string       `json:"memory_ids"`
	Tags      []string       `json:"tags,omitempty"`
	TimeRange TimeRange      `json:"time_range"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Contains reports whether the episode already holds the memory id.
func (e *Episode) Contains(id string) bool {
	for _, mid := range e.MemoryIDs {
		if mid == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand outside the engine.
func (e *Episode) Clone() *Episode {
	cp := *e
	cp.Agents = append([]string(nil), e.Agents...)
	cp.MemoryIDs = append([]string(nil), e.MemoryIDs...)
	cp.Tags = append([]string(nil), e.Tags...)
	if e.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
