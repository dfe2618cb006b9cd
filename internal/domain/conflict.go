package domain

import "time"

// Conflict resolutions accepted by ResolveConflict.
const (
	ResolutionSupersede = "supersede"
	ResolutionReject    = "reject"
	ResolutionKeepBoth  = "keep_both"
)

func ValidResolution(r string) bool {
	switch r {
	case ResolutionSupersede, ResolutionReject, ResolutionKeepBoth:
		return true
	}
	return false
}

// PendingConflict records a claim collision that store could not resolve
// automatically: the incoming memory was quarantined and the pair waits for
// an explicit ResolveConflict call.
type PendingConflict struct {
	ID            string     `json:"id"`
	NewID         string     `json:"new_id"`
	ExistingID    string     `json:"existing_id"`
	NewTrust      float64    `json:"new_trust"`
	ExistingTrust float64    `json:"existing_trust"`
	NewClaim      *Claim     `json:"new_claim,omitempty"`
	ExistingClaim *Claim     `json:"existing_claim,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	Resolution    string     `json:"resolution,omitempty"`
}

// Open reports whether the conflict still awaits resolution.
func (p *PendingConflict) Open() bool {
	return p.ResolvedAt == nil
}

// Clone returns a deep copy safe to hand outside the engine.
func (p *PendingConflict) Clone() *PendingConflict {
	cp := *p
	if p.ResolvedAt != nil {
		t := *p.ResolvedAt
		cp.ResolvedAt = &t
	}
	if p.NewClaim != nil {
		c := *p.NewClaim
		cp.NewClaim = &c
	}
	if p.ExistingClaim != nil {
		c := *p.ExistingClaim
		cp.ExistingClaim = &c
	}
	return &cp
}
