package engine

import (
	"context"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

// batch journals the mutations of one write operation so it can be committed
// with a single persistence round or rolled back without a trace. New
// memories go straight into the canonical list and indexes (later requests in
// the same batch must see them); existing memories are snapshotted before
// their first mutation. Events are deferred until persistence succeeds.
type batch struct {
	added       []*domain.Memory
	addedIDs    map[string]struct{}
	snapshots   []memorySnapshot
	snapped     map[string]struct{}
	basePending int
	events      []domain.Event
}

type memorySnapshot struct {
	ref  *domain.Memory
	prev *domain.Memory
}

func (e *Engine) newBatch() *batch {
	return &batch{
		addedIDs:    make(map[string]struct{}),
		snapped:     make(map[string]struct{}),
		basePending: len(e.pending),
	}
}

// stage appends a new memory to the canonical list and indexes it.
func (b *batch) stage(e *Engine, m *domain.Memory) {
	e.memories = append(e.memories, m)
	e.indexMemory(m)
	b.added = append(b.added, m)
	b.addedIDs[m.ID] = struct{}{}
}

// mutate must be called before the first change to an existing memory.
// Staged memories need no snapshot; rollback removes them whole.
func (b *batch) mutate(m *domain.Memory) {
	if _, ok := b.addedIDs[m.ID]; ok {
		return
	}
	if _, ok := b.snapped[m.ID]; ok {
		return
	}
	b.snapped[m.ID] = struct{}{}
	b.snapshots = append(b.snapshots, memorySnapshot{ref: m, prev: m.Clone()})
}

func (b *batch) emit(ev domain.Event) {
	b.events = append(b.events, ev)
}

// rollback restores the engine to its pre-batch state: staged memories are
// removed, mutated ones restored from their snapshots, pending conflicts
// truncated. Index safety holds because store never rewrites the text or
// claim of an existing memory.
func (b *batch) rollback(e *Engine) {
	for i := len(b.added) - 1; i >= 0; i-- {
		m := b.added[i]
		e.deindexMemory(m)
		e.removeFromList(m.ID)
	}
	for i := len(b.snapshots) - 1; i >= 0; i-- {
		s := b.snapshots[i]
		*s.ref = *s.prev
	}
	e.pending = e.pending[:b.basePending]
}

// persistBatch writes everything the batch touched: new and mutated memories
// through the incremental path when available (full save otherwise), and the
// pending-conflict list when it grew.
func (e *Engine) persistBatch(ctx context.Context, b *batch) error {
	if len(b.added) > 0 || len(b.snapshots) > 0 {
		if inc, ok := e.incremental(); ok {
			for _, m := range b.added {
				if err := inc.Upsert(ctx, m); err != nil {
					return storageErr("upsert memory", err)
				}
			}
			for _, s := range b.snapshots {
				if err := inc.Upsert(ctx, s.ref); err != nil {
					return storageErr("upsert memory", err)
				}
			}
		} else if err := e.saveMemories(ctx); err != nil {
			return err
		}
	}
	if len(e.pending) != b.basePending {
		if err := e.savePending(ctx); err != nil {
			return err
		}
	}
	return nil
}
