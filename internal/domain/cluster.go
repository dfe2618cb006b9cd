package domain

import "time"

// LabeledCluster is a persistent, named grouping of memories. Unlike the
// connected components reported by Clusters, labeled clusters survive graph
// churn and are refreshed explicitly.
type LabeledCluster struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	Description string    `json:"description,omitempty"`
	MemoryIDs   []string  `json:"memory_ids"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Contains reports whether the cluster already holds the memory id.
func (c *LabeledCluster) Contains(id string) bool {
	for _, mid := range c.MemoryIDs {
		if mid == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand outside the engine.
func (c *LabeledCluster) Clone() *LabeledCluster {
	cp := *c
	cp.MemoryIDs = append([]string(nil), c.MemoryIDs...)
	return &cp
}
