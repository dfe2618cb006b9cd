package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/synapse/internal/domain"
	"github.com/Harshitk-cp/synapse/internal/llm"
	"github.com/Harshitk-cp/synapse/internal/similarity"
)

// CompressOptions tune one compression.
type CompressOptions struct {
	// Method defaults to extractive. The llm method falls back to
	// extractive when the chat call fails.
	Method           domain.CompressionMethod
	ArchiveOriginals bool
	// Agent overrides the digest's owner; default is the agent holding
	// the most sources.
	Agent string
}

// CompressResult describes the digest a compression produced.
type CompressResult struct {
	DigestID string                   `json:"digest_id"`
	Text     string                   `json:"text"`
	Method   domain.CompressionMethod `json:"method"`
	Sources  int                      `json:"sources"`
	Archived bool                     `json:"archived,omitempty"`
}

// Compress folds two or more memories into a single digest memory carrying
// the maximum source importance, the union of tags and digest_of links back
// to every source. With ArchiveOriginals the sources move to the archive.
func (e *Engine) Compress(ctx context.Context, ids []string, opts CompressOptions) (*CompressResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.compressLocked(ctx, ids, opts, "")
}

// CompressEpisode compresses an episode's live members and stamps the digest
// with the episode id.
func (e *Engine) CompressEpisode(ctx context.Context, episodeID string, opts CompressOptions) (*CompressResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ep := e.episodeByID(episodeID)
	if ep == nil {
		return nil, fmt.Errorf("%w: episode %s", domain.ErrNotFound, episodeID)
	}
	var ids []string
	for _, id := range ep.MemoryIDs {
		if _, ok := e.byID[id]; ok {
			ids = append(ids, id)
		}
	}
	return e.compressLocked(ctx, ids, opts, episodeID)
}

// CompressCluster compresses the nth auto-detected cluster, counting from
// zero in Clusters order.
func (e *Engine) CompressCluster(ctx context.Context, index int, opts CompressOptions) (*CompressResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	infos := e.clusterInfos(0)
	if index < 0 || index >= len(infos) {
		return nil, fmt.Errorf("%w: cluster %d (have %d)", domain.ErrNotFound, index, len(infos))
	}
	return e.compressLocked(ctx, infos[index].IDs, opts, "")
}

// AutoCompressOptions tune AutoCompress.
type AutoCompressOptions struct {
	MaxDigests       int
	MinClusterSize   int
	Method           domain.CompressionMethod
	ArchiveOriginals bool
	Agent            string
}

// AutoCompress detects clusters and compresses up to MaxDigests of them,
// skipping any that already contain a digest.
func (e *Engine) AutoCompress(ctx context.Context, opts AutoCompressOptions) ([]*CompressResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	minSize := opts.MinClusterSize
	if minSize <= 0 {
		minSize = 3
	}
	maxDigests := opts.MaxDigests
	if maxDigests <= 0 {
		maxDigests = 5
	}

	infos := e.clusterInfos(minSize)
	var results []*CompressResult
	for _, info := range infos {
		if len(results) >= maxDigests {
			break
		}
		if e.containsDigest(info.IDs) {
			continue
		}
		res, err := e.compressLocked(ctx, info.IDs, CompressOptions{
			Method:           opts.Method,
			ArchiveOriginals: opts.ArchiveOriginals,
			Agent:            opts.Agent,
		}, "")
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) containsDigest(ids []string) bool {
	for _, id := range ids {
		if m, ok := e.byID[id]; ok && m.Category == domain.CategoryDigest {
			return true
		}
	}
	return false
}

func (e *Engine) compressLocked(ctx context.Context, ids []string, opts CompressOptions, episodeID string) (*CompressResult, error) {
	if len(ids) < 2 {
		return nil, fmt.Errorf("%w: compression needs at least 2 memories", domain.ErrInvalid)
	}
	sources := make([]*domain.Memory, 0, len(ids))
	for _, id := range ids {
		m, ok := e.byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: memory %s", domain.ErrNotFound, id)
		}
		sources = append(sources, m)
	}
	if !opts.ArchiveOriginals && len(e.memories) >= e.cfg.MaxMemories {
		return nil, fmt.Errorf("%w: graph holds %d of %d", domain.ErrCapacityExceeded, len(e.memories), e.cfg.MaxMemories)
	}

	method := opts.Method
	if method == "" {
		method = domain.CompressExtractive
	}
	byImportance := append([]*domain.Memory(nil), sources...)
	sort.SliceStable(byImportance, func(i, j int) bool { return byImportance[i].Importance > byImportance[j].Importance })

	var text string
	switch method {
	case domain.CompressLLM:
		if e.chat == nil {
			return nil, fmt.Errorf("%w: chat adapter required for llm compression", domain.ErrAdapterMissing)
		}
		texts := make([]string, 0, len(byImportance))
		for _, m := range byImportance {
			texts = append(texts, m.Text)
		}
		out, err := e.chat.Chat(ctx, llm.DigestPrompt(texts))
		if err != nil || strings.TrimSpace(out) == "" {
			e.logger.Warn("llm digest failed, falling back to extractive", zap.Error(err))
			text = extractiveDigest(byImportance)
			method = domain.CompressExtractive
		} else {
			text = strings.TrimSpace(out)
		}
	case domain.CompressExtractive:
		text = extractiveDigest(byImportance)
	default:
		return nil, fmt.Errorf("%w: unknown compression method %q", domain.ErrInvalid, method)
	}

	var embedding []float32
	if e.embedder != nil {
		vecs, err := e.embedder.Embed(ctx, []string{text})
		if err != nil {
			e.logger.Warn("digest embedding failed, storing without vector", zap.Error(err))
		} else if len(vecs) == 1 {
			embedding = vecs[0]
		}
	}

	id, err := e.storage.GenID(ctx)
	if err != nil {
		return nil, storageErr("generate id", err)
	}
	now := timeNow().UTC()
	agent := opts.Agent
	if agent == "" {
		agent = majorityAgent(sources)
	}

	digest := &domain.Memory{
		ID:         id,
		Agent:      agent,
		Text:       text,
		Category:   domain.CategoryDigest,
		Importance: byImportance[0].Importance,
		Tags:       unionTags(sources),
		Embedding:  embedding,
		CreatedAt:  now,
		UpdatedAt:  now,
		Status:     domain.StatusActive,
		Provenance: domain.Provenance{Source: domain.SourceInference, Corroboration: 1},
		Compressed: &domain.Compression{
			SourceIDs:    append([]string(nil), ids...),
			SourceCount:  len(sources),
			Method:       method,
			CompressedAt: now,
			EpisodeID:    episodeID,
		},
	}
	e.recomputeTrust(digest)
	for _, src := range sources {
		digest.Links = append(digest.Links, domain.Link{TargetID: src.ID, Similarity: 1, Type: domain.LinkDigestOf})
	}

	e.memories = append(e.memories, digest)
	e.indexMemory(digest)
	for _, src := range sources {
		upsertLink(src, domain.Link{TargetID: digest.ID, Similarity: 1, Type: domain.LinkDigestedInto})
		e.touch(src)
	}

	if opts.ArchiveOriginals {
		for _, src := range sources {
			e.archiveMemory(src, "compressed into "+digest.ID)
		}
	}

	if inc, ok := e.incremental(); ok {
		if err := inc.Upsert(ctx, digest); err != nil {
			return nil, storageErr("upsert memory", err)
		}
		for _, src := range sources {
			if opts.ArchiveOriginals {
				if err := inc.Remove(ctx, src.ID); err != nil {
					return nil, storageErr("remove memory", err)
				}
				continue
			}
			if err := inc.Upsert(ctx, src); err != nil {
				return nil, storageErr("upsert memory", err)
			}
		}
	} else if err := e.saveMemories(ctx); err != nil {
		return nil, err
	}
	if opts.ArchiveOriginals {
		if err := e.saveArchive(ctx); err != nil {
			return nil, err
		}
	}

	e.emit(domain.Event{
		Name:     domain.EventCompress,
		MemoryID: digest.ID,
		Agent:    digest.Agent,
		Detail: map[string]any{
			"sources":  len(sources),
			"method":   string(method),
			"archived": opts.ArchiveOriginals,
		},
	})
	return &CompressResult{
		DigestID: digest.ID,
		Text:     text,
		Method:   method,
		Sources:  len(sources),
		Archived: opts.ArchiveOriginals,
	}, nil
}

// extractiveDigest builds a summary without a model: sources ordered by
// importance, each text included only if it contributes a token the digest
// does not already carry.
func extractiveDigest(byImportance []*domain.Memory) string {
	seen := make(map[string]struct{})
	var parts []string
	for i, m := range byImportance {
		tokens := similarity.Tokenize(m.Text)
		fresh := i == 0
		for _, t := range tokens {
			if _, ok := seen[t]; !ok {
				fresh = true
				break
			}
		}
		if !fresh {
			continue
		}
		parts = append(parts, m.Text)
		for _, t := range tokens {
			seen[t] = struct{}{}
		}
	}
	return strings.Join(parts, " ")
}

func majorityAgent(sources []*domain.Memory) string {
	counts := make(map[string]int)
	best := sources[0].Agent
	bestN := 0
	for _, m := range sources {
		counts[m.Agent]++
		if counts[m.Agent] > bestN {
			bestN = counts[m.Agent]
			best = m.Agent
		}
	}
	return best
}

func unionTags(sources []*domain.Memory) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range sources {
		for _, t := range m.Tags {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
