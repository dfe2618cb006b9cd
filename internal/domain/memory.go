package domain

import (
	"regexp"
	"time"
)

// Category classifies what kind of knowledge a memory carries. The set is
// open: unknown values are stored as-is so agents can introduce their own
// taxonomies without a schema change.
type Category string

const (
	CategoryFact            Category = "fact"
	CategoryDecision        Category = "decision"
	CategoryPreference      Category = "preference"
	CategoryInsight         Category = "insight"
	CategoryFinding         Category = "finding"
	CategoryEvent           Category = "event"
	CategoryTask            Category = "task"
	CategoryOpenThread      Category = "open_thread"
	CategoryDigest          Category = "digest"
	CategorySessionSnapshot Category = "session_snapshot"
	CategoryCommitment      Category = "commitment"
	CategoryBlocker         Category = "blocker"
)

// Source indicates where a memory's content originated. It is the primary
// input to the trust computation.
type Source string

const (
	SourceUserExplicit Source = "user_explicit"
	SourceSystem       Source = "system"
	SourceToolOutput   Source = "tool_output"
	SourceUserImplicit Source = "user_implicit"
	SourceDocument     Source = "document"
	SourceInference    Source = "inference"
)

func ValidSource(s string) bool {
	switch Source(s) {
	case SourceUserExplicit, SourceSystem, SourceToolOutput, SourceUserImplicit, SourceDocument, SourceInference:
		return true
	}
	return false
}

// Status is the lifecycle state of a memory node.
type Status string

const (
	StatusActive      Status = "active"
	StatusSuperseded  Status = "superseded"
	StatusQuarantined Status = "quarantined"
	StatusDisputed    Status = "disputed"
	StatusArchived    Status = "archived"
)

func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusActive, StatusSuperseded, StatusQuarantined, StatusDisputed, StatusArchived:
		return true
	}
	return false
}

// LinkType describes the relationship an edge carries. Links live on both
// endpoints and reference the other node by id.
type LinkType string

const (
	LinkSimilar      LinkType = "similar"
	LinkSupersedes   LinkType = "supersedes"
	LinkDigestOf     LinkType = "digest_of"
	LinkDigestedInto LinkType = "digested_into"
	LinkRelated      LinkType = "related"
)

// Link is one edge endpoint: the other node's id, the similarity that
// created the edge, and its type.
type Link struct {
	TargetID   string   `json:"target_id"`
	Similarity float64  `json:"similarity"`
	Type       LinkType `json:"type"`
}

// Provenance records how a memory entered the graph and how strongly it is
// currently trusted.
type Provenance struct {
	Source        Source  `json:"source"`
	SourceID      string  `json:"source_id,omitempty"`
	Corroboration int     `json:"corroboration"`
	Trust         float64 `json:"trust"`
}

// QuarantineReason explains why a memory was placed on hold.
type QuarantineReason string

const (
	QuarantineTrustInsufficient       QuarantineReason = "trust_insufficient"
	QuarantinePredicateRequiresReview QuarantineReason = "predicate_requires_review"
	QuarantineSuspiciousInput         QuarantineReason = "suspicious_input"
	QuarantineManual                  QuarantineReason = "manual"
)

// Quarantine is the non-destructive hold record attached to a quarantined
// memory until someone reviews it.
type Quarantine struct {
	Reason     QuarantineReason `json:"reason"`
	Details    string           `json:"details,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
	Resolution string           `json:"resolution,omitempty"`
}

// ClaimScope bounds where a claim applies.
type ClaimScope string

const (
	ScopeGlobal   ClaimScope = "global"
	ScopeSession  ClaimScope = "session"
	ScopeTemporal ClaimScope = "temporal"
)

func ValidClaimScope(s string) bool {
	switch ClaimScope(s) {
	case ScopeGlobal, ScopeSession, ScopeTemporal:
		return true
	}
	return false
}

// Claim is a structured (subject, predicate, value) triple used for
// conflict detection. Exclusive is tri-state: nil means exclusive, matching
// the stored form where the field is simply absent.
type Claim struct {
	Subject         string     `json:"subject"`
	Predicate       string     `json:"predicate"`
	Value           string     `json:"value"`
	NormalizedValue string     `json:"normalized_value,omitempty"`
	Scope           ClaimScope `json:"scope,omitempty"`
	SessionID       string     `json:"session_id,omitempty"`
	ValidFrom       *time.Time `json:"valid_from,omitempty"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
	Exclusive       *bool      `json:"exclusive,omitempty"`
}

// IsExclusive reports whether the claim asserts sole ownership of its
// (subject, predicate) key. Absent means exclusive.
func (c *Claim) IsExclusive() bool {
	return c.Exclusive == nil || *c.Exclusive
}

// ComparableValue is the value used for equality during dedup and conflict
// checks: the normalized form when one exists.
func (c *Claim) ComparableValue() string {
	if c.NormalizedValue != "" {
		return c.NormalizedValue
	}
	return c.Value
}

// ClaimKey identifies the (subject, predicate) pair a claim competes on.
type ClaimKey struct {
	Subject   string
	Predicate string
}

func (c *Claim) Key() ClaimKey {
	return ClaimKey{Subject: c.Subject, Predicate: c.Predicate}
}

// OverlapsValidity reports whether the validity windows of two claims
// intersect. Absent bounds are open-ended.
func (c *Claim) OverlapsValidity(other *Claim) bool {
	if c.ValidFrom != nil && other.ValidUntil != nil && other.ValidUntil.Before(*c.ValidFrom) {
		return false
	}
	if other.ValidFrom != nil && c.ValidUntil != nil && c.ValidUntil.Before(*other.ValidFrom) {
		return false
	}
	return true
}

// CompressionMethod selects how a digest was produced.
type CompressionMethod string

const (
	CompressExtractive CompressionMethod = "extractive"
	CompressLLM        CompressionMethod = "llm"
)

// Compression records the lineage of a digest memory.
type Compression struct {
	SourceIDs    []string          `json:"source_ids"`
	SourceCount  int               `json:"source_count"`
	Method       CompressionMethod `json:"method"`
	CompressedAt time.Time         `json:"compressed_at"`
	EpisodeID    string            `json:"episode_id,omitempty"`
}

// Evolution is one entry of a memory's in-place edit history.
type Evolution struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Memory is the primary graph node. The engine owns every instance
// exclusively; query methods hand out copies, never internal pointers.
type Memory struct {
	ID         string    `json:"id"`
	Agent      string    `json:"agent"`
	Text       string    `json:"text"`
	Category   Category  `json:"category"`
	Importance float64   `json:"importance"`
	Tags       []string  `json:"tags,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Links      []Link    `json:"links,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EventAt   *time.Time `json:"event_at,omitempty"`

	AccessCount    int `json:"access_count"`
	Reinforcements int `json:"reinforcements"`
	Disputes       int `json:"disputes"`

	// SM-2 state, populated by reinforcement. Zero stability means the
	// legacy half-life decay mode applies.
	Stability          float64 `json:"stability,omitempty"`
	LastReviewInterval float64 `json:"last_review_interval,omitempty"`

	Provenance Provenance `json:"provenance"`
	Confidence float64    `json:"confidence"`

	Status       Status      `json:"status"`
	Quarantine   *Quarantine `json:"quarantine,omitempty"`
	SupersededBy string      `json:"superseded_by,omitempty"`
	Supersedes   []string    `json:"supersedes,omitempty"`

	Claim      *Claim       `json:"claim,omitempty"`
	Compressed *Compression `json:"compressed,omitempty"`
	Evolution  []Evolution  `json:"evolution,omitempty"`

	// Archive bookkeeping, set only on copies moved to the archive list.
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
	ArchivedReason string     `json:"archived_reason,omitempty"`
}

// LinkTo returns the link from m to targetID, if any.
func (m *Memory) LinkTo(targetID string) (Link, bool) {
	for _, l := range m.Links {
		if l.TargetID == targetID {
			return l, true
		}
	}
	return Link{}, false
}

// EffectiveTime is the bi-temporal anchor used by temporal filters and
// episode ranges: the real-world event time when known, otherwise creation.
func (m *Memory) EffectiveTime() time.Time {
	if m.EventAt != nil {
		return *m.EventAt
	}
	return m.CreatedAt
}

// Clone returns a deep copy safe to hand outside the engine.
func (m *Memory) Clone() *Memory {
	cp := *m
	cp.Tags = append([]string(nil), m.Tags...)
	cp.Embedding = append([]float32(nil), m.Embedding...)
	cp.Links = append([]Link(nil), m.Links...)
	cp.Supersedes = append([]string(nil), m.Supersedes...)
	cp.Evolution = append([]Evolution(nil), m.Evolution...)
	if m.EventAt != nil {
		t := *m.EventAt
		cp.EventAt = &t
	}
	if m.ArchivedAt != nil {
		t := *m.ArchivedAt
		cp.ArchivedAt = &t
	}
	if m.Quarantine != nil {
		q := *m.Quarantine
		if m.Quarantine.ResolvedAt != nil {
			rt := *m.Quarantine.ResolvedAt
			q.ResolvedAt = &rt
		}
		cp.Quarantine = &q
	}
	if m.Claim != nil {
		c := *m.Claim
		if m.Claim.ValidFrom != nil {
			t := *m.Claim.ValidFrom
			c.ValidFrom = &t
		}
		if m.Claim.ValidUntil != nil {
			t := *m.Claim.ValidUntil
			c.ValidUntil = &t
		}
		if m.Claim.Exclusive != nil {
			e := *m.Claim.Exclusive
			c.Exclusive = &e
		}
		cp.Claim = &c
	}
	if m.Compressed != nil {
		co := *m.Compressed
		co.SourceIDs = append([]string(nil), m.Compressed.SourceIDs...)
		cp.Compressed = &co
	}
	return &cp
}

const (
	// MaxAgentLen bounds the agent identifier tag.
	MaxAgentLen = 64
	// MaxTextLen bounds memory content.
	MaxTextLen = 20000
	// MaxTagLen bounds a single tag.
	MaxTagLen = 100
)

var agentPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

// ValidAgent reports whether the agent tag is non-empty, length-bounded and
// drawn from the identifier whitelist.
func ValidAgent(agent string) bool {
	return agent != "" && len(agent) <= MaxAgentLen && agentPattern.MatchString(agent)
}
