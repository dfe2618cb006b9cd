package engine

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

// Reinforce boosts a memory's importance and advances its spaced-repetition
// state. The stability growth scales with how close the review came to the
// ideal spacing: reviews spaced near three previous intervals earn the full
// growth factor, immediate repeats almost none.
func (e *Engine) Reinforce(ctx context.Context, id string, boost float64) (*domain.Memory, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if boost < 0 || boost > 1 {
		return nil, fmt.Errorf("%w: boost %.2f outside [0,1]", domain.ErrInvalid, boost)
	}
	if boost == 0 {
		boost = 0.1
	}
	m, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: memory %s", domain.ErrNotFound, id)
	}

	now := timeNow().UTC()
	interval := now.Sub(m.UpdatedAt).Hours() / 24
	if interval < 0.01 {
		interval = 0.01
	}
	prev := m.LastReviewInterval
	if prev < 1 {
		prev = 1
	}
	spacing := interval / prev
	if spacing > 3 {
		spacing = 3
	}
	stability := m.Stability
	if stability == 0 {
		stability = e.cfg.InitialStability
	}
	m.Stability = stability * (1 + (e.cfg.StabilityGrowth-1)*spacing/3)
	m.LastReviewInterval = interval

	m.Importance += boost
	if m.Importance > 1 {
		m.Importance = 1
	}
	m.AccessCount++
	m.Reinforcements++
	e.recomputeTrust(m)
	e.touch(m)

	if err := e.persistMemories(ctx, m); err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// Dispute records disagreement with a memory. Trust drops with the dispute
// count; an active memory whose trust falls under 0.3 flips to disputed.
// The decay clock is deliberately not refreshed.
func (e *Engine) Dispute(ctx context.Context, id, reason string) (*domain.Memory, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: memory %s", domain.ErrNotFound, id)
	}

	m.Disputes++
	e.recomputeTrust(m)
	if m.Provenance.Trust < 0.3 && m.Status == domain.StatusActive {
		m.Status = domain.StatusDisputed
	}

	if err := e.persistMemories(ctx, m); err != nil {
		return nil, err
	}
	e.emit(domain.Event{
		Name:     domain.EventDispute,
		MemoryID: m.ID,
		Agent:    m.Agent,
		Detail: map[string]any{
			"reason": reason,
			"trust":  m.Provenance.Trust,
			"status": string(m.Status),
		},
	})
	return m.Clone(), nil
}

// Corroborate records independent confirmation of a memory, raising its
// corroboration count and trust.
func (e *Engine) Corroborate(ctx context.Context, id string) (*domain.Memory, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: memory %s", domain.ErrNotFound, id)
	}

	if m.Provenance.Corroboration < 1 {
		m.Provenance.Corroboration = 1
	}
	m.Provenance.Corroboration++
	e.recomputeTrust(m)
	e.touch(m)

	if err := e.persistMemories(ctx, m); err != nil {
		return nil, err
	}
	e.emit(domain.Event{
		Name:     domain.EventCorroborate,
		MemoryID: m.ID,
		Agent:    m.Agent,
		Detail: map[string]any{
			"corroboration": m.Provenance.Corroboration,
			"trust":         m.Provenance.Trust,
		},
	})
	return m.Clone(), nil
}
