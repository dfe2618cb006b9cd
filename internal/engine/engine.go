// Package engine implements the in-process memory graph: the canonical
// ordered memory list, its indexes, typed bidirectional links, trust and
// supersession semantics, retrieval, decay, compression and consolidation.
// All exported methods serialize on a single mutex; storage, embedding and
// chat adapters are called while it is held, so callers observe strict
// operation order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Harshitk-cp/synapse/internal/domain"
	"github.com/Harshitk-cp/synapse/internal/predicate"
	"github.com/Harshitk-cp/synapse/internal/scoring"
	"github.com/Harshitk-cp/synapse/internal/similarity"
)

// Config holds the engine tuning knobs. Zero values are replaced by the
// corresponding DefaultConfig values in New.
type Config struct {
	// MaxMemories caps the active memory list.
	MaxMemories int
	// LinkThreshold is the minimum cosine similarity for auto-linking.
	LinkThreshold float64
	// MaxLinksPerMemory caps auto-links created per stored memory.
	MaxLinksPerMemory int
	// HalfLifeDays drives the legacy decay mode.
	HalfLifeDays float64
	// ArchiveThreshold and DeleteThreshold bucket memories during decay.
	ArchiveThreshold float64
	DeleteThreshold  float64
	// InitialStability seeds SM-2 state on first reinforcement.
	InitialStability float64
	// StabilityGrowth is the SM-2 growth factor applied per review.
	StabilityGrowth float64
	// DedupThreshold is the consolidation near-duplicate cutoff.
	DedupThreshold float64
	// CompressAgeDays marks clusters stale enough to compress.
	CompressAgeDays float64
	// PruneAgeDays is the minimum age for pruning superseded memories.
	PruneAgeDays float64
	// QuarantineMaxAgeDays bounds unreviewed quarantined memories.
	QuarantineMaxAgeDays float64
	// PruneQuarantined enables pruning of stale untouched quarantined memories.
	PruneQuarantined bool
	// EvolveMinInterval is the minimum spacing between Evolve calls.
	EvolveMinInterval time.Duration
	// MaxBatchSize caps StoreMany input length.
	MaxBatchSize int
	// MaxQueryBatch caps SearchMany input length.
	MaxQueryBatch int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		MaxMemories:          10000,
		LinkThreshold:        0.7,
		MaxLinksPerMemory:    5,
		HalfLifeDays:         scoring.DefaultHalfLifeDays,
		ArchiveThreshold:     0.15,
		DeleteThreshold:      0.05,
		InitialStability:     1.0,
		StabilityGrowth:      2.5,
		DedupThreshold:       0.95,
		CompressAgeDays:      30,
		PruneAgeDays:         30,
		QuarantineMaxAgeDays: 14,
		EvolveMinInterval:    time.Second,
		MaxBatchSize:         100,
		MaxQueryBatch:        50,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxMemories <= 0 {
		c.MaxMemories = d.MaxMemories
	}
	if c.LinkThreshold <= 0 {
		c.LinkThreshold = d.LinkThreshold
	}
	if c.MaxLinksPerMemory <= 0 {
		c.MaxLinksPerMemory = d.MaxLinksPerMemory
	}
	if c.HalfLifeDays <= 0 {
		c.HalfLifeDays = d.HalfLifeDays
	}
	if c.ArchiveThreshold <= 0 {
		c.ArchiveThreshold = d.ArchiveThreshold
	}
	if c.DeleteThreshold <= 0 {
		c.DeleteThreshold = d.DeleteThreshold
	}
	if c.InitialStability <= 0 {
		c.InitialStability = d.InitialStability
	}
	if c.StabilityGrowth <= 0 {
		c.StabilityGrowth = d.StabilityGrowth
	}
	if c.DedupThreshold <= 0 {
		c.DedupThreshold = d.DedupThreshold
	}
	if c.CompressAgeDays <= 0 {
		c.CompressAgeDays = d.CompressAgeDays
	}
	if c.PruneAgeDays <= 0 {
		c.PruneAgeDays = d.PruneAgeDays
	}
	if c.QuarantineMaxAgeDays <= 0 {
		c.QuarantineMaxAgeDays = d.QuarantineMaxAgeDays
	}
	if c.EvolveMinInterval <= 0 {
		c.EvolveMinInterval = d.EvolveMinInterval
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.MaxQueryBatch <= 0 {
		c.MaxQueryBatch = d.MaxQueryBatch
	}
	return c
}

// timeNow is swapped in tests to freeze the clock.
var timeNow = time.Now

// Engine owns the canonical memory graph and all derived state. Memories,
// episodes, labeled clusters and pending conflicts are exclusively owned;
// query methods hand out deep copies, never internal pointers.
type Engine struct {
	mu sync.Mutex

	storage  domain.Storage
	embedder domain.EmbeddingClient
	chat     domain.ChatClient
	logger   *zap.Logger
	cfg      Config

	registry *predicate.Registry

	memories []*domain.Memory
	archive  []*domain.Memory
	episodes []*domain.Episode
	clusters []*domain.LabeledCluster
	pending  []*domain.PendingConflict

	byID    map[string]*domain.Memory
	byToken map[string]map[string]struct{}
	byClaim map[domain.ClaimKey]map[string]struct{}

	listeners  map[domain.EventName][]listener
	listenerID int

	evolveLimiter *rate.Limiter
	loaded        bool
}

// New wires an engine around a storage adapter. The embedding and chat
// clients may be nil; operations that need them fail with ErrAdapterMissing
// or fall back to keyword paths. A nil logger is replaced with a no-op one.
// Call Load before issuing operations.
func New(storage domain.Storage, embedder domain.EmbeddingClient, chat domain.ChatClient, logger *zap.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	return &Engine{
		storage:       storage,
		embedder:      embedder,
		chat:          chat,
		logger:        logger,
		cfg:           cfg,
		registry:      predicate.NewRegistry(),
		byID:          make(map[string]*domain.Memory),
		byToken:       make(map[string]map[string]struct{}),
		byClaim:       make(map[domain.ClaimKey]map[string]struct{}),
		listeners:     make(map[domain.EventName][]listener),
		evolveLimiter: rate.NewLimiter(rate.Every(cfg.EvolveMinInterval), 1),
	}
}

// Predicates exposes the schema registry so hosts can register predicate
// schemas (or load them from a file) before storing claims.
func (e *Engine) Predicates() *predicate.Registry {
	return e.registry
}

// Load hydrates the engine from storage and rebuilds every index. Loading is
// tolerant of older persisted shapes: missing provenance defaults to
// inference, corroboration is floored at 1 and status defaults to active.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	memories, err := e.storage.Load(ctx)
	if err != nil {
		return storageErr("load memories", err)
	}
	archive, err := e.storage.LoadArchive(ctx)
	if err != nil {
		return storageErr("load archive", err)
	}
	episodes, err := e.storage.LoadEpisodes(ctx)
	if err != nil {
		return storageErr("load episodes", err)
	}
	clusters, err := e.storage.LoadClusters(ctx)
	if err != nil {
		return storageErr("load clusters", err)
	}
	pending, err := e.storage.LoadPendingConflicts(ctx)
	if err != nil {
		return storageErr("load pending conflicts", err)
	}

	for _, m := range memories {
		normalizeLoaded(m)
	}
	for _, m := range archive {
		normalizeLoaded(m)
	}

	e.memories = memories
	e.archive = archive
	e.episodes = episodes
	e.clusters = clusters
	e.pending = pending
	e.rebuildIndexes()
	e.loaded = true

	e.logger.Info("memory graph loaded",
		zap.Int("memories", len(memories)),
		zap.Int("archive", len(archive)),
		zap.Int("episodes", len(episodes)),
		zap.Int("clusters", len(clusters)),
		zap.Int("pending_conflicts", len(pending)))
	return nil
}

// normalizeLoaded repairs optional fields older snapshots may lack.
func normalizeLoaded(m *domain.Memory) {
	if m.Provenance.Source == "" {
		m.Provenance.Source = domain.SourceInference
	}
	if m.Provenance.Corroboration < 1 {
		m.Provenance.Corroboration = 1
	}
	if m.Status == "" {
		m.Status = domain.StatusActive
	}
	if m.Category == "" {
		m.Category = domain.CategoryFact
	}
}

// Get returns a deep copy of a memory.
func (e *Engine) Get(id string) (*domain.Memory, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: memory %s", domain.ErrNotFound, id)
	}
	return m.Clone(), nil
}

// Count returns the number of memories in the active list (all statuses).
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.memories)
}

// touch stamps a memory as updated now.
func (e *Engine) touch(m *domain.Memory) {
	m.UpdatedAt = timeNow().UTC()
}

// recomputeTrust refreshes trust and confidence from current counters.
func (e *Engine) recomputeTrust(m *domain.Memory) {
	now := timeNow().UTC()
	m.Provenance.Trust = scoring.Trust(scoring.TrustInputs{
		Source:         m.Provenance.Source,
		Corroboration:  m.Provenance.Corroboration,
		Reinforcements: m.Reinforcements,
		Disputes:       m.Disputes,
		AgeDays:        now.Sub(m.CreatedAt).Hours() / 24,
	})
	m.Confidence = scoring.Confidence(m.Provenance.Trust)
}

// strengthOf computes the decay strength of a memory at the given instant.
func (e *Engine) strengthOf(m *domain.Memory, now time.Time) float64 {
	return scoring.Strength(scoring.StrengthInputs{
		Importance:   m.Importance,
		Category:     m.Category,
		AgeDays:      now.Sub(m.CreatedAt).Hours() / 24,
		TouchDays:    now.Sub(m.UpdatedAt).Hours() / 24,
		LinkCount:    len(m.Links),
		AccessCount:  m.AccessCount,
		Stability:    m.Stability,
		HalfLifeDays: e.cfg.HalfLifeDays,
	})
}

// cosineOrSkip returns (similarity, true) or (0, false) on dimension
// mismatch, which is treated as "not comparable" during scans.
func cosineOrSkip(a, b []float32) (float64, bool) {
	sim, err := similarity.Cosine(a, b)
	if err != nil {
		return 0, false
	}
	return sim, true
}

// archiveMemory copies m to the archive (embedding stripped, archive stamp
// set) and removes it from the active list and every index. Callers persist.
func (e *Engine) archiveMemory(m *domain.Memory, reason string) {
	cp := m.Clone()
	cp.Embedding = nil
	cp.Status = domain.StatusArchived
	now := timeNow().UTC()
	cp.ArchivedAt = &now
	cp.ArchivedReason = reason
	e.archive = append(e.archive, cp)
	e.deindexMemory(m)
	e.removeFromList(m.ID)
}

// incremental returns the storage's incremental capability when present.
func (e *Engine) incremental() (domain.IncrementalStorage, bool) {
	inc, ok := e.storage.(domain.IncrementalStorage)
	return inc, ok
}

// vectorSearcher returns the storage's server-side search capability.
func (e *Engine) vectorSearcher() (domain.VectorSearcher, bool) {
	vs, ok := e.storage.(domain.VectorSearcher)
	return vs, ok
}

// persistMemories writes the given mutated memories through the incremental
// path when available, falling back to a full save.
func (e *Engine) persistMemories(ctx context.Context, touched ...*domain.Memory) error {
	if inc, ok := e.incremental(); ok {
		for _, m := range touched {
			if err := inc.Upsert(ctx, m); err != nil {
				return storageErr("upsert memory", err)
			}
		}
		return nil
	}
	return e.saveMemories(ctx)
}

// removeDurable deletes ids through the incremental path when available;
// otherwise the caller's full save covers it.
func (e *Engine) removeDurable(ctx context.Context, ids []string) error {
	inc, ok := e.incremental()
	if !ok {
		return e.saveMemories(ctx)
	}
	for _, id := range ids {
		if err := inc.Remove(ctx, id); err != nil {
			return storageErr("remove memory", err)
		}
	}
	return nil
}

func (e *Engine) saveMemories(ctx context.Context) error {
	if err := e.storage.Save(ctx, e.memories); err != nil {
		return storageErr("save memories", err)
	}
	return nil
}

func (e *Engine) saveArchive(ctx context.Context) error {
	if err := e.storage.SaveArchive(ctx, e.archive); err != nil {
		return storageErr("save archive", err)
	}
	return nil
}

func (e *Engine) savePending(ctx context.Context) error {
	if err := e.storage.SavePendingConflicts(ctx, e.pending); err != nil {
		return storageErr("save pending conflicts", err)
	}
	return nil
}

func (e *Engine) saveEpisodes(ctx context.Context) error {
	if err := e.storage.SaveEpisodes(ctx, e.episodes); err != nil {
		return storageErr("save episodes", err)
	}
	return nil
}

func (e *Engine) saveClusters(ctx context.Context) error {
	if err := e.storage.SaveClusters(ctx, e.clusters); err != nil {
		return storageErr("save clusters", err)
	}
	return nil
}

// storageErr folds adapter failures into the storage error kind unless they
// already carry a domain sentinel.
func storageErr(op string, err error) error {
	if errors.Is(err, domain.ErrStorage) || errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStorage, err)
}
