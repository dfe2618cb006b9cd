package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

// conflictOutcome summarizes what the structural check did to the incoming
// memory and the graph around it.
type conflictOutcome struct {
	superseded  []string
	pendingIDs  []string
	quarantined bool
}

// structuralConflicts returns the active memories whose exclusive claim
// collides with c: same (subject, predicate), different comparable value,
// overlapping validity windows. Session-scoped incoming claims never collide
// with global existing ones.
func (e *Engine) structuralConflicts(c *domain.Claim) []*domain.Memory {
	if c == nil || !c.IsExclusive() {
		return nil
	}
	if e.registry.Lookup(c.Predicate).Cardinality != domain.CardinalitySingle {
		return nil
	}
	want := c.ComparableValue()
	var out []*domain.Memory
	for _, m := range e.claimMatches(c.Key()) {
		ec := m.Claim
		if m.Status != domain.StatusActive || !ec.IsExclusive() {
			continue
		}
		if ec.ComparableValue() == want {
			continue
		}
		if c.Scope == domain.ScopeSession && ec.Scope == domain.ScopeGlobal {
			continue
		}
		if !c.OverlapsValidity(ec) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// applyConflictPolicy runs the predicate's conflict policy against every
// structural conflict of m's claim. The winner of a supersede policy is
// decided by trust; losses become pending conflicts and, in quarantine mode,
// put m on hold. All mutations and events go through b.
func (e *Engine) applyConflictPolicy(m *domain.Memory, mode ConflictMode, b *batch) conflictOutcome {
	var out conflictOutcome
	conflicts := e.structuralConflicts(m.Claim)
	if len(conflicts) == 0 {
		return out
	}
	policy := e.registry.Lookup(m.Claim.Predicate).ConflictPolicy

	for _, existing := range conflicts {
		switch policy {
		case domain.PolicySupersede:
			if m.Provenance.Trust >= existing.Provenance.Trust {
				e.supersede(existing, m, b)
				out.superseded = append(out.superseded, existing.ID)
				b.emit(domain.Event{
					Name:     domain.EventSupersede,
					MemoryID: existing.ID,
					Agent:    existing.Agent,
					Detail:   map[string]any{"superseded_by": m.ID},
				})
				continue
			}
			pc := e.appendPending(m, existing, "trust below existing", "")
			out.pendingIDs = append(out.pendingIDs, pc.ID)
			if mode == OnConflictQuarantine {
				e.holdForReview(m, domain.QuarantineTrustInsufficient,
					fmt.Sprintf("trust %.2f below existing %.2f for %s/%s",
						m.Provenance.Trust, existing.Provenance.Trust, m.Claim.Subject, m.Claim.Predicate))
				out.quarantined = true
			}
			b.emit(pendingEvent(m, pc))

		case domain.PolicyRequireReview:
			pc := e.appendPending(m, existing, "predicate requires review", "")
			out.pendingIDs = append(out.pendingIDs, pc.ID)
			if mode == OnConflictQuarantine {
				e.holdForReview(m, domain.QuarantinePredicateRequiresReview,
					fmt.Sprintf("conflicting value for %s/%s", m.Claim.Subject, m.Claim.Predicate))
				out.quarantined = true
			}
			b.emit(pendingEvent(m, pc))

		case domain.PolicyKeepBoth:
			// Pre-resolved audit record; both stay active and no event fires.
			e.appendPending(m, existing, "keep_both policy", domain.ResolutionKeepBoth)
		}
	}
	return out
}

// supersede marks existing as replaced by winner and records the link on
// both sides. Callers outside a batch pass nil.
func (e *Engine) supersede(existing, winner *domain.Memory, b *batch) {
	if b != nil {
		b.mutate(existing)
	}
	existing.Status = domain.StatusSuperseded
	existing.SupersededBy = winner.ID
	e.touch(existing)
	winner.Supersedes = append(winner.Supersedes, existing.ID)
	upsertLink(winner, domain.Link{TargetID: existing.ID, Similarity: 1, Type: domain.LinkSupersedes})
	upsertLink(existing, domain.Link{TargetID: winner.ID, Similarity: 1, Type: domain.LinkSupersedes})
}

// appendPending records a claim collision. A non-empty resolution appends
// the record already closed, for keep_both audit entries.
func (e *Engine) appendPending(newM, existing *domain.Memory, reason, resolution string) *domain.PendingConflict {
	now := timeNow().UTC()
	pc := &domain.PendingConflict{
		ID:            uuid.NewString(),
		NewID:         newM.ID,
		ExistingID:    existing.ID,
		NewTrust:      newM.Provenance.Trust,
		ExistingTrust: existing.Provenance.Trust,
		Reason:        reason,
		CreatedAt:     now,
	}
	if newM.Claim != nil {
		c := *newM.Claim
		pc.NewClaim = &c
	}
	if existing.Claim != nil {
		c := *existing.Claim
		pc.ExistingClaim = &c
	}
	if resolution != "" {
		t := now
		pc.ResolvedAt = &t
		pc.Resolution = resolution
	}
	e.pending = append(e.pending, pc)
	return pc
}

func pendingEvent(m *domain.Memory, pc *domain.PendingConflict) domain.Event {
	return domain.Event{
		Name:     domain.EventConflictPending,
		MemoryID: m.ID,
		Agent:    m.Agent,
		Detail: map[string]any{
			"conflict_id": pc.ID,
			"existing_id": pc.ExistingID,
			"subject":     m.Claim.Subject,
			"predicate":   m.Claim.Predicate,
		},
	}
}

// holdForReview quarantines m unless it already is.
func (e *Engine) holdForReview(m *domain.Memory, reason domain.QuarantineReason, details string) {
	if m.Status == domain.StatusQuarantined {
		return
	}
	m.Status = domain.StatusQuarantined
	m.Quarantine = &domain.Quarantine{
		Reason:    reason,
		Details:   details,
		CreatedAt: timeNow().UTC(),
	}
}

// PendingConflicts returns the open conflicts, oldest first.
func (e *Engine) PendingConflicts() []*domain.PendingConflict {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*domain.PendingConflict
	for _, pc := range e.pending {
		if pc.Open() {
			out = append(out, pc.Clone())
		}
	}
	return out
}

// ConflictFilter narrows Conflicts output.
type ConflictFilter struct {
	Subject       string
	Predicate     string
	IncludeClosed bool
}

// Conflicts returns pending-conflict records, open ones unless IncludeClosed,
// optionally filtered by claim subject and predicate.
func (e *Engine) Conflicts(f ConflictFilter) []*domain.PendingConflict {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*domain.PendingConflict
	for _, pc := range e.pending {
		if !f.IncludeClosed && !pc.Open() {
			continue
		}
		if !conflictMatches(pc, f) {
			continue
		}
		out = append(out, pc.Clone())
	}
	return out
}

func conflictMatches(pc *domain.PendingConflict, f ConflictFilter) bool {
	if f.Subject == "" && f.Predicate == "" {
		return true
	}
	c := pc.NewClaim
	if c == nil {
		c = pc.ExistingClaim
	}
	if c == nil {
		return false
	}
	if f.Subject != "" && c.Subject != f.Subject {
		return false
	}
	if f.Predicate != "" && c.Predicate != f.Predicate {
		return false
	}
	return true
}

// ResolveConflict closes an open pending conflict. Supersede promotes the
// new memory over the existing one, reject archives the new memory, and
// keep_both activates both sides.
func (e *Engine) ResolveConflict(ctx context.Context, id, action string) (*domain.PendingConflict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !domain.ValidResolution(action) {
		return nil, fmt.Errorf("%w: unknown resolution %q", domain.ErrInvalid, action)
	}
	var pc *domain.PendingConflict
	for _, candidate := range e.pending {
		if candidate.ID == id {
			pc = candidate
			break
		}
	}
	if pc == nil {
		return nil, fmt.Errorf("%w: conflict %s", domain.ErrNotFound, id)
	}
	if !pc.Open() {
		return nil, fmt.Errorf("%w: conflict %s already resolved as %s", domain.ErrConflict, id, pc.Resolution)
	}

	newM := e.byID[pc.NewID]
	existing := e.byID[pc.ExistingID]
	now := timeNow().UTC()
	var touched []*domain.Memory
	archived := false

	switch action {
	case domain.ResolutionSupersede:
		if newM == nil || existing == nil {
			return nil, fmt.Errorf("%w: conflict %s references pruned memories", domain.ErrNotFound, id)
		}
		e.supersede(existing, newM, nil)
		e.activate(newM, action, now)
		touched = append(touched, existing, newM)

	case domain.ResolutionReject:
		if newM != nil {
			e.resolveQuarantine(newM, "rejected", now)
			e.archiveMemory(newM, "conflict rejected")
			archived = true
		}

	case domain.ResolutionKeepBoth:
		if newM != nil {
			e.activate(newM, action, now)
			touched = append(touched, newM)
		}
		if existing != nil && existing.Status == domain.StatusQuarantined {
			e.activate(existing, action, now)
			touched = append(touched, existing)
		}
	}

	pc.ResolvedAt = &now
	pc.Resolution = action

	if archived {
		if err := e.removeDurable(ctx, []string{pc.NewID}); err != nil {
			return nil, err
		}
		if err := e.saveArchive(ctx); err != nil {
			return nil, err
		}
	}
	if len(touched) > 0 {
		if err := e.persistMemories(ctx, touched...); err != nil {
			return nil, err
		}
	}
	if err := e.savePending(ctx); err != nil {
		return nil, err
	}

	e.emit(domain.Event{
		Name:     domain.EventConflictResolved,
		MemoryID: pc.NewID,
		Detail: map[string]any{
			"conflict_id": pc.ID,
			"existing_id": pc.ExistingID,
			"resolution":  action,
		},
	})
	return pc.Clone(), nil
}

// activate lifts m back to active, closing its quarantine record if any.
func (e *Engine) activate(m *domain.Memory, resolution string, now time.Time) {
	m.Status = domain.StatusActive
	if m.Quarantine != nil && m.Quarantine.ResolvedAt == nil {
		t := now
		m.Quarantine.ResolvedAt = &t
		m.Quarantine.Resolution = resolution
	}
	e.touch(m)
}

func (e *Engine) resolveQuarantine(m *domain.Memory, resolution string, now time.Time) {
	if m.Quarantine != nil && m.Quarantine.ResolvedAt == nil {
		t := now
		m.Quarantine.ResolvedAt = &t
		m.Quarantine.Resolution = resolution
	}
}

// Quarantine places a memory on manual hold.
func (e *Engine) Quarantine(ctx context.Context, id, reason, details string) (*domain.Memory, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: memory %s", domain.ErrNotFound, id)
	}
	if m.Status == domain.StatusQuarantined {
		return nil, fmt.Errorf("%w: memory %s already quarantined", domain.ErrConflict, id)
	}
	qr := domain.QuarantineManual
	if reason != "" {
		switch domain.QuarantineReason(reason) {
		case domain.QuarantineTrustInsufficient, domain.QuarantinePredicateRequiresReview,
			domain.QuarantineSuspiciousInput, domain.QuarantineManual:
			qr = domain.QuarantineReason(reason)
		default:
			return nil, fmt.Errorf("%w: unknown quarantine reason %q", domain.ErrInvalid, reason)
		}
	}

	m.Status = domain.StatusQuarantined
	m.Quarantine = &domain.Quarantine{
		Reason:    qr,
		Details:   details,
		CreatedAt: timeNow().UTC(),
	}
	e.touch(m)
	if err := e.persistMemories(ctx, m); err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// ListQuarantined returns quarantined memories, optionally narrowed by agent
// and capped at limit (0 means all), oldest hold first.
func (e *Engine) ListQuarantined(agent string, limit int) []*domain.Memory {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*domain.Memory
	for _, m := range e.memories {
		if m.Status != domain.StatusQuarantined {
			continue
		}
		if agent != "" && m.Agent != agent {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return quarantinedAt(out[i]).Before(quarantinedAt(out[j]))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func quarantinedAt(m *domain.Memory) time.Time {
	if m.Quarantine != nil {
		return m.Quarantine.CreatedAt
	}
	return m.CreatedAt
}

// ReviewQuarantine resolves a manual or automatic hold. Activation replays
// the structural conflict check against the current graph, so a memory can
// land straight back in quarantine with a fresh pending conflict.
func (e *Engine) ReviewQuarantine(ctx context.Context, id, action, reason string) (*domain.Memory, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: memory %s", domain.ErrNotFound, id)
	}
	if m.Status != domain.StatusQuarantined {
		return nil, fmt.Errorf("%w: memory %s is not quarantined", domain.ErrConflict, id)
	}
	now := timeNow().UTC()

	switch action {
	case "activate":
		b := e.newBatch()
		b.mutate(m)
		resolution := reason
		if resolution == "" {
			resolution = "activated"
		}
		m.Quarantine.ResolvedAt = &now
		m.Quarantine.Resolution = resolution
		m.Status = domain.StatusActive
		e.touch(m)
		if m.Claim != nil {
			e.applyConflictPolicy(m, OnConflictQuarantine, b)
		}
		if err := e.persistBatch(ctx, b); err != nil {
			b.rollback(e)
			return nil, err
		}
		for _, ev := range b.events {
			e.emit(ev)
		}
		return m.Clone(), nil

	case "reject":
		resolution := reason
		if resolution == "" {
			resolution = "rejected"
		}
		m.Quarantine.ResolvedAt = &now
		m.Quarantine.Resolution = resolution
		e.closePendingFor(m.ID, domain.ResolutionReject, now)
		e.archiveMemory(m, "quarantine rejected")
		if err := e.removeDurable(ctx, []string{m.ID}); err != nil {
			return nil, err
		}
		if err := e.saveArchive(ctx); err != nil {
			return nil, err
		}
		if err := e.savePending(ctx); err != nil {
			return nil, err
		}
		return m.Clone(), nil

	default:
		return nil, fmt.Errorf("%w: unknown review action %q", domain.ErrInvalid, action)
	}
}

// closePendingFor resolves every open pending conflict whose new side is the
// given memory. Rejecting a quarantined memory settles those questions.
func (e *Engine) closePendingFor(id, resolution string, now time.Time) {
	for _, pc := range e.pending {
		if pc.NewID != id || !pc.Open() {
			continue
		}
		t := now
		pc.ResolvedAt = &t
		pc.Resolution = resolution
	}
}
