package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

// DecayEntry is one memory a decay pass bucketed.
type DecayEntry struct {
	ID       string  `json:"id"`
	Agent    string  `json:"agent"`
	Memory   string  `json:"memory"`
	Strength float64 `json:"strength"`
}

// DecayReport summarizes one decay pass.
type DecayReport struct {
	DryRun    bool         `json:"dry_run,omitempty"`
	Scanned   int          `json:"scanned"`
	Healthy   int          `json:"healthy"`
	Weakening []DecayEntry `json:"weakening,omitempty"`
	Archived  []DecayEntry `json:"archived,omitempty"`
	Deleted   []DecayEntry `json:"deleted,omitempty"`
}

// Decay computes the strength of every memory and buckets it: below the
// delete threshold, below the archive threshold, weakening (below 0.3) or
// healthy. Unless dryRun, the bottom two buckets move to the archive, leave
// every index, and survivors get broken links pruned.
func (e *Engine) Decay(ctx context.Context, dryRun bool) (*DecayReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := timeNow().UTC()
	report := &DecayReport{DryRun: dryRun, Scanned: len(e.memories)}
	var toArchive, toDelete []*domain.Memory

	for _, m := range e.memories {
		s := e.strengthOf(m, now)
		entry := DecayEntry{ID: m.ID, Agent: m.Agent, Memory: m.Text, Strength: s}
		switch {
		case s < e.cfg.DeleteThreshold:
			report.Deleted = append(report.Deleted, entry)
			toDelete = append(toDelete, m)
		case s < e.cfg.ArchiveThreshold:
			report.Archived = append(report.Archived, entry)
			toArchive = append(toArchive, m)
		case s < 0.3:
			report.Weakening = append(report.Weakening, entry)
		default:
			report.Healthy++
		}
	}

	if dryRun || (len(toArchive) == 0 && len(toDelete) == 0) {
		return report, nil
	}

	removedIDs := make([]string, 0, len(toArchive)+len(toDelete))
	for _, m := range toArchive {
		e.archiveMemory(m, "strength below archive threshold")
		removedIDs = append(removedIDs, m.ID)
	}
	for _, m := range toDelete {
		e.archiveMemory(m, "strength below delete threshold")
		removedIDs = append(removedIDs, m.ID)
	}
	pruned := e.pruneBrokenLinks()

	if inc, ok := e.incremental(); ok {
		for _, id := range removedIDs {
			if err := inc.Remove(ctx, id); err != nil {
				return nil, storageErr("remove memory", err)
			}
		}
		for _, m := range pruned {
			if err := inc.Upsert(ctx, m); err != nil {
				return nil, storageErr("upsert memory", err)
			}
		}
	} else if err := e.saveMemories(ctx); err != nil {
		return nil, err
	}
	if err := e.saveArchive(ctx); err != nil {
		return nil, err
	}

	e.logger.Info("decay pass complete",
		zap.Int("archived", len(toArchive)),
		zap.Int("deleted", len(toDelete)),
		zap.Int("weakening", len(report.Weakening)),
		zap.Int("healthy", report.Healthy))
	e.emit(domain.Event{
		Name: domain.EventDecay,
		Detail: map[string]any{
			"archived":  len(toArchive),
			"deleted":   len(toDelete),
			"weakening": len(report.Weakening),
			"healthy":   report.Healthy,
		},
	})
	return report, nil
}
