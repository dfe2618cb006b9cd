package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/synapse/internal/domain"
	"github.com/Harshitk-cp/synapse/internal/scoring"
)

const (
	// consolidateMaxCompress caps stale-cluster compressions per pass.
	consolidateMaxCompress = 5
	// corroborationFloor is the lower similarity bound of the corroboration
	// band; the upper bound is the dedup threshold.
	corroborationFloor = 0.9
	// disputeTrustFloor is the trust below which disputed memories are pruned.
	disputeTrustFloor = 0.2
)

// ContradictionCounts splits claim contradictions into auto-resolved and
// still-pending.
type ContradictionCounts struct {
	Resolved int `json:"resolved"`
	Pending  int `json:"pending"`
}

// CompressedCounts reports stale-cluster compression work.
type CompressedCounts struct {
	Clusters       int `json:"clusters"`
	SourceMemories int `json:"sourceMemories"`
}

// PrunedCounts reports removals per pruning rule.
type PrunedCounts struct {
	Superseded  int `json:"superseded"`
	Decayed     int `json:"decayed"`
	Disputed    int `json:"disputed"`
	Quarantined int `json:"quarantined"`
}

// GraphCounts is a total/active snapshot of the memory list.
type GraphCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// ConsolidateReport is the outcome of one maintenance pass.
type ConsolidateReport struct {
	DryRun         bool                `json:"dry_run,omitempty"`
	Deduplicated   int                 `json:"deduplicated"`
	Contradictions ContradictionCounts `json:"contradictions"`
	Corroborated   int                 `json:"corroborated"`
	Compressed     CompressedCounts    `json:"compressed"`
	Pruned         PrunedCounts        `json:"pruned"`
	Before         GraphCounts         `json:"before"`
	After          GraphCounts         `json:"after"`
	DurationMS     int64               `json:"duration_ms"`
}

// consolidatePass carries the working state of one pass. In dry-run mode
// every mutation lands in the overlay maps instead of the graph, so the same
// phase code yields the same report without touching anything.
type consolidatePass struct {
	e   *Engine
	dry bool

	// dry-run overlays
	status  map[string]domain.Status
	corrob  map[string]int
	removed map[string]struct{}
	digests int

	// real-mode bookkeeping for persistence
	touched      map[string]*domain.Memory
	removedIDs   []string
	pendingAdded bool
}

func (e *Engine) newConsolidatePass(dry bool) *consolidatePass {
	return &consolidatePass{
		e:       e,
		dry:     dry,
		status:  make(map[string]domain.Status),
		corrob:  make(map[string]int),
		removed: make(map[string]struct{}),
		touched: make(map[string]*domain.Memory),
	}
}

func (p *consolidatePass) gone(m *domain.Memory) bool {
	if !p.dry {
		return false
	}
	_, ok := p.removed[m.ID]
	return ok
}

func (p *consolidatePass) statusOf(m *domain.Memory) domain.Status {
	if p.dry {
		if s, ok := p.status[m.ID]; ok {
			return s
		}
	}
	return m.Status
}

func (p *consolidatePass) isActive(m *domain.Memory) bool {
	return !p.gone(m) && p.statusOf(m) == domain.StatusActive
}

// trustOf folds simulated corroborations into the trust score so dry-run
// decisions track what a real pass would do.
func (p *consolidatePass) trustOf(m *domain.Memory) float64 {
	if !p.dry {
		return m.Provenance.Trust
	}
	extra := p.corrob[m.ID]
	if extra == 0 {
		return m.Provenance.Trust
	}
	now := timeNow().UTC()
	return scoring.Trust(scoring.TrustInputs{
		Source:         m.Provenance.Source,
		Corroboration:  m.Provenance.Corroboration + extra,
		Reinforcements: m.Reinforcements,
		Disputes:       m.Disputes,
		AgeDays:        now.Sub(m.CreatedAt).Hours() / 24,
	})
}

func (p *consolidatePass) track(ms ...*domain.Memory) {
	for _, m := range ms {
		p.touched[m.ID] = m
	}
}

func (p *consolidatePass) supersedePair(loser, winner *domain.Memory) {
	if p.dry {
		p.status[loser.ID] = domain.StatusSuperseded
		return
	}
	p.e.supersede(loser, winner, nil)
	p.track(loser, winner)
}

func (p *consolidatePass) corroborate(m *domain.Memory) {
	if p.dry {
		p.corrob[m.ID]++
		return
	}
	m.Provenance.Corroboration++
	p.e.recomputeTrust(m)
	p.e.touch(m)
	p.track(m)
}

func (p *consolidatePass) archive(m *domain.Memory, reason string) {
	if p.dry {
		p.removed[m.ID] = struct{}{}
		return
	}
	p.e.archiveMemory(m, reason)
	p.removedIDs = append(p.removedIDs, m.ID)
}

// recordPending appends a pending conflict unless an open one already covers
// the pair. The report counts the pair either way.
func (p *consolidatePass) recordPending(newer, older *domain.Memory, reason string) {
	if p.dry {
		return
	}
	if p.e.hasOpenPending(newer.ID, older.ID) {
		return
	}
	p.e.appendPending(newer, older, reason, "")
	p.pendingAdded = true
}

// counts snapshots total/active with the pass overlays applied. With no
// overlays (real mode, or before any phase ran) it reads the live state.
func (p *consolidatePass) counts() GraphCounts {
	var c GraphCounts
	for _, m := range p.e.memories {
		if p.gone(m) {
			continue
		}
		c.Total++
		if p.statusOf(m) == domain.StatusActive {
			c.Active++
		}
	}
	if p.dry {
		c.Total += p.digests
		c.Active += p.digests
	}
	return c
}

func (e *Engine) liveCounts() GraphCounts {
	var c GraphCounts
	for _, m := range e.memories {
		c.Total++
		if m.Status == domain.StatusActive {
			c.Active++
		}
	}
	return c
}

func (e *Engine) hasOpenPending(aID, bID string) bool {
	for _, pc := range e.pending {
		if !pc.Open() {
			continue
		}
		if (pc.NewID == aID && pc.ExistingID == bID) || (pc.NewID == bID && pc.ExistingID == aID) {
			return true
		}
	}
	return false
}

// Consolidate runs the full maintenance pass: near-duplicate folding, claim
// contradiction sweep, cross-source corroboration, stale-cluster compression
// and pruning. With dryRun the report is computed against overlays and
// nothing changes.
func (e *Engine) Consolidate(ctx context.Context, dryRun bool) (*ConsolidateReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := timeNow()
	p := e.newConsolidatePass(dryRun)
	report := &ConsolidateReport{DryRun: dryRun, Before: e.liveCounts()}

	report.Deduplicated = e.consolidateDedup(p)
	report.Contradictions = e.consolidateContradictions(p)
	report.Corroborated = e.consolidateCorroborate(p)

	compressed, err := e.consolidateCompress(ctx, p)
	if err != nil {
		return nil, err
	}
	report.Compressed = compressed
	report.Pruned = e.consolidatePrune(p)

	if !dryRun {
		if repaired := e.pruneBrokenLinks(); len(repaired) > 0 {
			p.track(repaired...)
		}
		if err := e.persistConsolidate(ctx, p); err != nil {
			return nil, err
		}
	}

	report.After = p.counts()
	report.DurationMS = timeNow().Sub(start).Milliseconds()

	if !dryRun {
		prunedTotal := report.Pruned.Superseded + report.Pruned.Decayed +
			report.Pruned.Disputed + report.Pruned.Quarantined
		e.logger.Info("consolidation pass complete",
			zap.Int("deduplicated", report.Deduplicated),
			zap.Int("contradictions_resolved", report.Contradictions.Resolved),
			zap.Int("contradictions_pending", report.Contradictions.Pending),
			zap.Int("corroborated", report.Corroborated),
			zap.Int("compressed_clusters", report.Compressed.Clusters),
			zap.Int("pruned", prunedTotal),
			zap.Int64("duration_ms", report.DurationMS))
		e.emit(domain.Event{
			Name: domain.EventConsolidate,
			Detail: map[string]any{
				"deduplicated": report.Deduplicated,
				"resolved":     report.Contradictions.Resolved,
				"pending":      report.Contradictions.Pending,
				"corroborated": report.Corroborated,
				"compressed":   report.Compressed.Clusters,
				"pruned":       prunedTotal,
			},
		})
	}
	return report, nil
}

// consolidateDedup folds near-duplicate pairs (cosine at or above the dedup
// threshold) into the higher-trust member: the loser is superseded, the
// winner absorbs its tags and links and gains a corroboration.
func (e *Engine) consolidateDedup(p *consolidatePass) int {
	count := 0
	for i := 0; i < len(e.memories); i++ {
		a := e.memories[i]
		if !p.isActive(a) || len(a.Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(e.memories); j++ {
			b := e.memories[j]
			if !p.isActive(b) || len(b.Embedding) == 0 {
				continue
			}
			sim, ok := cosineOrSkip(a.Embedding, b.Embedding)
			if !ok || sim < e.cfg.DedupThreshold {
				continue
			}
			winner, loser := a, b
			if p.trustOf(b) > p.trustOf(a) {
				winner, loser = b, a
			}
			p.dedupMerge(winner, loser)
			count++
			if loser == a {
				break
			}
		}
	}
	return count
}

func (p *consolidatePass) dedupMerge(winner, loser *domain.Memory) {
	if p.dry {
		p.status[loser.ID] = domain.StatusSuperseded
		p.corrob[winner.ID]++
		return
	}
	p.e.supersede(loser, winner, nil)
	winner.Tags = unionTags([]*domain.Memory{winner, loser})
	for _, l := range loser.Links {
		if l.TargetID == winner.ID {
			continue
		}
		upsertLink(winner, l)
	}
	winner.Provenance.Corroboration++
	p.e.recomputeTrust(winner)
	p.track(winner, loser)
}

// consolidateContradictions sweeps every (subject, predicate) group of active
// exclusive claims and applies the store-path gate between surviving pairs:
// the newer member supersedes when its trust is at least the older member's,
// anything else stays pending.
func (e *Engine) consolidateContradictions(p *consolidatePass) ContradictionCounts {
	var counts ContradictionCounts

	groups := make(map[domain.ClaimKey][]*domain.Memory)
	var keys []domain.ClaimKey
	for _, m := range e.memories {
		if m.Claim == nil || !m.Claim.IsExclusive() || !p.isActive(m) {
			continue
		}
		k := m.Claim.Key()
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], m)
	}

	for _, k := range keys {
		group := groups[k]
		if len(group) < 2 {
			continue
		}
		schema := e.registry.Lookup(k.Predicate)
		if schema.Cardinality != domain.CardinalitySingle || schema.ConflictPolicy == domain.PolicyKeepBoth {
			continue
		}
		for i := 0; i < len(group); i++ {
			older := group[i]
			if !p.isActive(older) {
				continue
			}
			for j := i + 1; j < len(group); j++ {
				newer := group[j]
				if !p.isActive(newer) {
					continue
				}
				if older.Claim.ComparableValue() == newer.Claim.ComparableValue() {
					continue
				}
				if sessionGlobalMismatch(older.Claim, newer.Claim) {
					continue
				}
				if !older.Claim.OverlapsValidity(newer.Claim) {
					continue
				}
				if schema.ConflictPolicy == domain.PolicyRequireReview {
					counts.Pending++
					p.recordPending(newer, older, "predicate requires review")
					continue
				}
				if p.trustOf(newer) >= p.trustOf(older) {
					p.supersedePair(older, newer)
					counts.Resolved++
					break
				}
				counts.Pending++
				p.recordPending(newer, older, "trust below existing")
			}
		}
	}
	return counts
}

func sessionGlobalMismatch(a, b *domain.Claim) bool {
	if a.Scope == domain.ScopeSession && b.Scope == domain.ScopeGlobal {
		return true
	}
	return b.Scope == domain.ScopeSession && a.Scope == domain.ScopeGlobal
}

// consolidateCorroborate treats strong-but-not-duplicate similarity between
// memories from different provenance sources as independent support for the
// higher-trust member. Source strings compare literally, so system and
// tool_output count as distinct sources.
func (e *Engine) consolidateCorroborate(p *consolidatePass) int {
	count := 0
	for i := 0; i < len(e.memories); i++ {
		a := e.memories[i]
		if !p.isActive(a) || len(a.Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(e.memories); j++ {
			b := e.memories[j]
			if !p.isActive(b) || len(b.Embedding) == 0 {
				continue
			}
			if a.Provenance.Source == b.Provenance.Source {
				continue
			}
			sim, ok := cosineOrSkip(a.Embedding, b.Embedding)
			if !ok || sim <= corroborationFloor || sim >= e.cfg.DedupThreshold {
				continue
			}
			target := a
			if p.trustOf(b) > p.trustOf(a) {
				target = b
			}
			p.corroborate(target)
			count++
		}
	}
	return count
}

// consolidateCompress folds up to consolidateMaxCompress link components into
// extractive digests when every member is active, older than CompressAgeDays
// and not already a digest. Originals are archived.
func (e *Engine) consolidateCompress(ctx context.Context, p *consolidatePass) (CompressedCounts, error) {
	var counts CompressedCounts
	now := timeNow().UTC()

	for _, comp := range e.components() {
		if counts.Clusters >= consolidateMaxCompress {
			break
		}
		if len(comp) < 2 {
			continue
		}
		eligible := true
		for _, m := range comp {
			age := now.Sub(m.CreatedAt).Hours() / 24
			if !p.isActive(m) || m.Category == domain.CategoryDigest || age <= e.cfg.CompressAgeDays {
				eligible = false
				break
			}
		}
		if !eligible {
			continue
		}

		if p.dry {
			for _, m := range comp {
				p.removed[m.ID] = struct{}{}
			}
			p.digests++
			counts.Clusters++
			counts.SourceMemories += len(comp)
			continue
		}

		ids := make([]string, len(comp))
		for i, m := range comp {
			ids[i] = m.ID
		}
		res, err := e.compressLocked(ctx, ids, CompressOptions{
			Method:           domain.CompressExtractive,
			ArchiveOriginals: true,
		}, "")
		if err != nil {
			return counts, err
		}
		counts.Clusters++
		counts.SourceMemories += res.Sources
	}
	return counts, nil
}

// consolidatePrune archives memories past their retention rules. Superseded,
// disputed and quarantined buckets read the persisted status, so members
// retired earlier in this very pass are never double-counted.
func (e *Engine) consolidatePrune(p *consolidatePass) PrunedCounts {
	var counts PrunedCounts
	now := timeNow().UTC()

	mems := append([]*domain.Memory(nil), e.memories...)
	for _, m := range mems {
		if p.gone(m) {
			continue
		}
		switch {
		case m.Status == domain.StatusSuperseded && now.Sub(m.UpdatedAt).Hours()/24 > e.cfg.PruneAgeDays:
			p.archive(m, "superseded past retention")
			counts.Superseded++
		case m.Status == domain.StatusDisputed && m.Provenance.Trust < disputeTrustFloor:
			p.archive(m, "disputed with low trust")
			counts.Disputed++
		case m.Status == domain.StatusQuarantined && e.cfg.PruneQuarantined && m.AccessCount == 0 &&
			now.Sub(quarantinedAt(m)).Hours()/24 > e.cfg.QuarantineMaxAgeDays:
			p.archive(m, "quarantine expired")
			counts.Quarantined++
		case p.isActive(m) && e.strengthOf(m, now) < e.cfg.DeleteThreshold:
			p.archive(m, "strength below delete threshold")
			counts.Decayed++
		}
	}
	return counts
}

func (e *Engine) persistConsolidate(ctx context.Context, p *consolidatePass) error {
	if inc, ok := e.incremental(); ok {
		for _, id := range p.removedIDs {
			if err := inc.Remove(ctx, id); err != nil {
				return storageErr("remove memory", err)
			}
		}
		for _, m := range e.memories {
			if _, ok := p.touched[m.ID]; !ok {
				continue
			}
			if err := inc.Upsert(ctx, m); err != nil {
				return storageErr("upsert memory", err)
			}
		}
	} else if len(p.touched) > 0 || len(p.removedIDs) > 0 {
		if err := e.saveMemories(ctx); err != nil {
			return err
		}
	}
	if len(p.removedIDs) > 0 {
		if err := e.saveArchive(ctx); err != nil {
			return err
		}
	}
	if p.pendingAdded {
		if err := e.savePending(ctx); err != nil {
			return err
		}
	}
	return nil
}
