package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/synapse/internal/domain"
	"github.com/Harshitk-cp/synapse/internal/predicate"
)

// ConflictMode selects what store does with an incoming memory when the
// structural conflict check finds a collision it cannot auto-resolve.
type ConflictMode string

const (
	// OnConflictQuarantine holds the new memory for review. Default.
	OnConflictQuarantine ConflictMode = "quarantine"
	// OnConflictKeepActive stores the new memory active and only records
	// the pending conflict.
	OnConflictKeepActive ConflictMode = "keep_active"
)

// StoreRequest carries one memory to store. Zero optional fields take the
// engine defaults: category fact, importance 0.5, source inference, conflict
// mode quarantine.
type StoreRequest struct {
	Agent      string        `json:"agent"`
	Text       string        `json:"text"`
	Category   string        `json:"category,omitempty"`
	Importance float64       `json:"importance,omitempty"`
	Tags       []string      `json:"tags,omitempty"`
	EventAt    *time.Time    `json:"event_at,omitempty"`
	Claim      *domain.Claim `json:"claim,omitempty"`
	Source     string        `json:"source,omitempty"`
	SourceID   string        `json:"source_id,omitempty"`
	Quarantine bool          `json:"quarantine,omitempty"`
	OnConflict ConflictMode  `json:"on_conflict,omitempty"`
}

func (r *StoreRequest) validate() error {
	if !domain.ValidAgent(r.Agent) {
		return fmt.Errorf("%w: agent %q", domain.ErrInvalid, r.Agent)
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: text is empty", domain.ErrInvalid)
	}
	if len(r.Text) > domain.MaxTextLen {
		return fmt.Errorf("%w: text exceeds %d bytes", domain.ErrInvalid, domain.MaxTextLen)
	}
	if r.Importance < 0 || r.Importance > 1 {
		return fmt.Errorf("%w: importance %.2f outside [0,1]", domain.ErrInvalid, r.Importance)
	}
	for _, t := range r.Tags {
		if len(t) > domain.MaxTagLen {
			return fmt.Errorf("%w: tag exceeds %d bytes", domain.ErrInvalid, domain.MaxTagLen)
		}
	}
	if r.Source != "" && !domain.ValidSource(r.Source) {
		return fmt.Errorf("%w: unknown source %q", domain.ErrInvalid, r.Source)
	}
	switch r.OnConflict {
	case "", OnConflictQuarantine, OnConflictKeepActive:
	default:
		return fmt.Errorf("%w: unknown on_conflict %q", domain.ErrInvalid, r.OnConflict)
	}
	if c := r.Claim; c != nil {
		if c.Subject == "" || c.Predicate == "" || c.Value == "" {
			return fmt.Errorf("%w: claim requires subject, predicate and value", domain.ErrInvalid)
		}
		if c.Scope != "" && !domain.ValidClaimScope(string(c.Scope)) {
			return fmt.Errorf("%w: unknown claim scope %q", domain.ErrInvalid, c.Scope)
		}
		if c.Scope == domain.ScopeSession && c.SessionID == "" {
			return fmt.Errorf("%w: session-scoped claim requires session_id", domain.ErrInvalid)
		}
		if c.ValidFrom != nil && c.ValidUntil != nil && c.ValidUntil.Before(*c.ValidFrom) {
			return fmt.Errorf("%w: claim valid_until precedes valid_from", domain.ErrInvalid)
		}
	}
	return nil
}

func (r *StoreRequest) conflictMode() ConflictMode {
	if r.OnConflict == "" {
		return OnConflictQuarantine
	}
	return r.OnConflict
}

// StoreResult reports what store did with one request.
type StoreResult struct {
	ID                string `json:"id"`
	Links             int    `json:"links"`
	TopLink           string `json:"top_link"`
	Deduplicated      bool   `json:"deduplicated,omitempty"`
	Quarantined       bool   `json:"quarantined,omitempty"`
	PendingConflictID string `json:"pending_conflict_id,omitempty"`
}

// Store writes one memory through the full pipeline: validation, claim
// dedup, auto-linking, provenance, conflict detection, persistence, events.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	results, err := e.storeLocked(ctx, []StoreRequest{req})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// StoreMany stores a batch atomically. Requests are staged against the live
// graph in order, so later entries dedup and link against earlier ones, then
// committed with a single persistence round. Any failure rolls the whole
// batch back and nothing is emitted.
func (e *Engine) StoreMany(ctx context.Context, reqs []StoreRequest) ([]*StoreResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", domain.ErrInvalid)
	}
	if len(reqs) > e.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds max %d", domain.ErrInvalid, len(reqs), e.cfg.MaxBatchSize)
	}
	return e.storeLocked(ctx, reqs)
}

func (e *Engine) storeLocked(ctx context.Context, reqs []StoreRequest) ([]*StoreResult, error) {
	b := e.newBatch()
	results := make([]*StoreResult, 0, len(reqs))
	for i := range reqs {
		res, err := e.storeOne(ctx, &reqs[i], b, nil)
		if err != nil {
			b.rollback(e)
			if len(reqs) > 1 {
				return nil, fmt.Errorf("request %d: %w", i, err)
			}
			return nil, err
		}
		results = append(results, res)
	}
	if err := e.persistBatch(ctx, b); err != nil {
		b.rollback(e)
		return nil, err
	}
	for _, ev := range b.events {
		e.emit(ev)
	}
	return results, nil
}

// storeOne runs the write pipeline for a single request, staging every
// mutation in b so the caller can commit or roll back the batch as a unit.
// A non-nil precomputed vector skips the embedding adapter.
func (e *Engine) storeOne(ctx context.Context, req *StoreRequest, b *batch, precomputed []float32) (*StoreResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if len(e.memories) >= e.cfg.MaxMemories {
		return nil, fmt.Errorf("%w: graph holds %d of %d", domain.ErrCapacityExceeded, len(e.memories), e.cfg.MaxMemories)
	}

	now := timeNow().UTC()
	claim := e.normalizeClaim(req.Claim)

	// Claim dedup: an identical active claim value folds into the existing
	// memory as corroboration instead of a new node. No events fire.
	if claim != nil {
		schema := e.registry.Lookup(claim.Predicate)
		if schema.Cardinality == domain.CardinalitySingle || schema.DedupPolicy == domain.DedupCorroborate {
			if hit := e.dedupTarget(claim); hit != nil {
				b.mutate(hit)
				hit.Provenance.Corroboration++
				e.recomputeTrust(hit)
				e.touch(hit)
				return &StoreResult{ID: hit.ID, TopLink: "none", Deduplicated: true}, nil
			}
		}
	}

	embedding := precomputed
	if embedding == nil && e.embedder != nil {
		vecs, err := e.embedder.Embed(ctx, []string{req.Text})
		if err != nil {
			e.logger.Warn("embedding failed, storing without vector", zap.Error(err))
		} else if len(vecs) == 1 {
			embedding = vecs[0]
		}
	}
	autoLinks := e.autoLinks(embedding)

	importance := req.Importance
	if importance == 0 {
		importance = 0.5
	}
	category := domain.Category(req.Category)
	if category == "" {
		category = domain.CategoryFact
	}
	source := domain.Source(req.Source)
	if source == "" {
		source = domain.SourceInference
	}

	id, err := e.storage.GenID(ctx)
	if err != nil {
		return nil, storageErr("generate id", err)
	}

	m := &domain.Memory{
		ID:         id,
		Agent:      req.Agent,
		Text:       req.Text,
		Category:   category,
		Importance: importance,
		Tags:       cleanTags(req.Tags),
		Embedding:  embedding,
		Links:      append([]domain.Link(nil), autoLinks...),
		CreatedAt:  now,
		UpdatedAt:  now,
		Status:     domain.StatusActive,
		Provenance: domain.Provenance{
			Source:        source,
			SourceID:      req.SourceID,
			Corroboration: 1,
		},
		Claim: claim,
	}
	if req.EventAt != nil {
		t := *req.EventAt
		m.EventAt = &t
	}
	e.recomputeTrust(m)

	result := &StoreResult{ID: id, Links: len(autoLinks), TopLink: e.topLinkLabel(autoLinks)}

	if claim != nil {
		out := e.applyConflictPolicy(m, req.conflictMode(), b)
		if len(out.pendingIDs) > 0 {
			result.PendingConflictID = out.pendingIDs[0]
		}
	}
	if req.Quarantine && m.Status != domain.StatusQuarantined {
		m.Status = domain.StatusQuarantined
		m.Quarantine = &domain.Quarantine{Reason: domain.QuarantineManual, CreatedAt: now}
	}
	result.Quarantined = m.Status == domain.StatusQuarantined

	b.stage(e, m)
	for _, l := range autoLinks {
		target, ok := e.byID[l.TargetID]
		if !ok {
			continue
		}
		b.mutate(target)
		upsertLink(target, domain.Link{TargetID: m.ID, Similarity: l.Similarity, Type: l.Type})
		e.touch(target)
	}

	b.emit(domain.Event{
		Name:     domain.EventStore,
		MemoryID: m.ID,
		Agent:    m.Agent,
		Detail: map[string]any{
			"category":   string(m.Category),
			"importance": m.Importance,
			"text":       m.Text,
		},
	})
	for _, l := range autoLinks {
		b.emit(domain.Event{
			Name:     domain.EventLink,
			MemoryID: m.ID,
			Agent:    m.Agent,
			Detail: map[string]any{
				"target_id":  l.TargetID,
				"similarity": l.Similarity,
				"type":       string(l.Type),
			},
		})
	}
	return result, nil
}

// normalizeClaim copies the request claim, defaults its scope and stamps the
// normalized value from the predicate schema.
func (e *Engine) normalizeClaim(in *domain.Claim) *domain.Claim {
	if in == nil {
		return nil
	}
	c := *in
	if c.Scope == "" {
		c.Scope = domain.ScopeGlobal
	}
	schema := e.registry.Lookup(c.Predicate)
	c.NormalizedValue = predicate.Normalize(schema.Normalize, c.Value)
	return &c
}

// dedupTarget returns the first active memory holding the same
// (subject, predicate, comparable value), in list order.
func (e *Engine) dedupTarget(claim *domain.Claim) *domain.Memory {
	want := claim.ComparableValue()
	for _, m := range e.claimMatches(claim.Key()) {
		if m.Status != domain.StatusActive {
			continue
		}
		if m.Claim.ComparableValue() == want {
			return m
		}
	}
	return nil
}

// autoLinks scans every embedded memory and returns the strongest links at
// or above the configured threshold, capped at MaxLinksPerMemory.
func (e *Engine) autoLinks(embedding []float32) []domain.Link {
	if len(embedding) == 0 {
		return nil
	}
	var links []domain.Link
	for _, m := range e.memories {
		if len(m.Embedding) == 0 {
			continue
		}
		sim, ok := cosineOrSkip(embedding, m.Embedding)
		if !ok || sim < e.cfg.LinkThreshold {
			continue
		}
		links = append(links, domain.Link{TargetID: m.ID, Similarity: sim, Type: domain.LinkSimilar})
	}
	sort.SliceStable(links, func(i, j int) bool { return links[i].Similarity > links[j].Similarity })
	if len(links) > e.cfg.MaxLinksPerMemory {
		links = links[:e.cfg.MaxLinksPerMemory]
	}
	return links
}

func (e *Engine) topLinkLabel(links []domain.Link) string {
	if len(links) == 0 {
		return "none"
	}
	top := links[0]
	agent := "?"
	if t, ok := e.byID[top.TargetID]; ok {
		agent = t.Agent
	}
	return fmt.Sprintf("%s (%.0f%%, %s)", top.TargetID, top.Similarity*100, agent)
}

// upsertLink replaces the existing link to l.TargetID or appends a new one,
// keeping at most one edge per memory pair.
func upsertLink(m *domain.Memory, l domain.Link) {
	for i := range m.Links {
		if m.Links[i].TargetID == l.TargetID {
			m.Links[i] = l
			return
		}
	}
	m.Links = append(m.Links, l)
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
