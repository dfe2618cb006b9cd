package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/synapse/internal/domain"
	"github.com/Harshitk-cp/synapse/internal/scoring"
	"github.com/Harshitk-cp/synapse/internal/similarity"
)

const defaultSearchLimit = 10

// largeCandidateSet is the size past which client-side vector scans narrow
// the pool through the token index before computing similarities.
const largeCandidateSet = 500

// RerankWeights blend the four ranking signals into the composite score.
type RerankWeights struct {
	Relevance  float64 `json:"relevance"`
	Confidence float64 `json:"confidence"`
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"`
}

// DefaultRerankWeights returns the stock blend.
func DefaultRerankWeights() RerankWeights {
	return RerankWeights{Relevance: 0.40, Confidence: 0.25, Recency: 0.20, Importance: 0.15}
}

// SearchOptions tune one retrieval. The zero value means: limit 10, no
// similarity floor, active memories only, rerank on with default weights.
type SearchOptions struct {
	Limit         int        `json:"limit,omitempty"`
	MinSimilarity float64    `json:"min_similarity,omitempty"`
	Before        *time.Time `json:"before,omitempty"`
	After         *time.Time `json:"after,omitempty"`

	// Rerank disables the composite re-ranking when set to false; nil
	// means on. RerankWeights overrides the default blend.
	Rerank        *bool          `json:"rerank,omitempty"`
	RerankWeights *RerankWeights `json:"rerank_weights,omitempty"`

	IncludeAll         bool `json:"include_all,omitempty"`
	IncludeSuperseded  bool `json:"include_superseded,omitempty"`
	IncludeDisputed    bool `json:"include_disputed,omitempty"`
	IncludeQuarantined bool `json:"include_quarantined,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	Explain   bool   `json:"explain,omitempty"`
}

// SearchResult is one ranked match. Memory is a deep copy.
type SearchResult struct {
	Memory  *domain.Memory `json:"memory"`
	Score   float64        `json:"score"`
	Explain *ResultExplain `json:"explain,omitempty"`
}

// ResultExplain breaks down how one result was retrieved and ranked.
type ResultExplain struct {
	Retrieved RetrievedExplain `json:"retrieved"`
	Rerank    *RerankExplain   `json:"rerank,omitempty"`
	Status    StatusExplain    `json:"status"`
}

type RetrievedExplain struct {
	VectorSimilarity float64  `json:"vectorSimilarity,omitempty"`
	KeywordScore     float64  `json:"keywordScore,omitempty"`
	KeywordHits      []string `json:"keywordHits,omitempty"`
}

type RerankExplain struct {
	Weights        RerankWeights      `json:"weights"`
	Signals        map[string]float64 `json:"signals"`
	CompositeScore float64            `json:"compositeScore"`
}

type StatusExplain struct {
	Status       string             `json:"status"`
	SupersededBy string             `json:"superseded_by,omitempty"`
	Quarantine   *domain.Quarantine `json:"quarantine,omitempty"`
}

// SearchMeta is the list-level explain block: what was asked, what was
// scanned and why candidates fell out.
type SearchMeta struct {
	Query      string         `json:"query"`
	Agent      string         `json:"agent,omitempty"`
	Options    map[string]any `json:"options"`
	Candidates int            `json:"candidates"`
	Matched    int            `json:"matched"`
	Returned   int            `json:"returned"`
	Excluded   map[string]int `json:"excluded,omitempty"`
}

// SearchResponse carries the ranked results plus the explain meta when
// requested.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Meta    *SearchMeta    `json:"meta,omitempty"`
}

// Search retrieves memories for a query: vector similarity when an embedding
// adapter is wired, keyword overlap otherwise, re-ranked by a composite of
// relevance, confidence, recency and importance. An empty agent searches the
// whole graph.
func (e *Engine) Search(ctx context.Context, agent, query string, opts SearchOptions) (*SearchResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.searchLocked(ctx, agent, query, opts, nil, false)
}

// SearchMany runs the same retrieval per query, embedding every query with a
// single adapter call.
func (e *Engine) SearchMany(ctx context.Context, agent string, queries []string, opts SearchOptions) ([]*SearchResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(queries) == 0 {
		return nil, fmt.Errorf("%w: empty query batch", domain.ErrInvalid)
	}
	if len(queries) > e.cfg.MaxQueryBatch {
		return nil, fmt.Errorf("%w: batch of %d exceeds max %d", domain.ErrInvalid, len(queries), e.cfg.MaxQueryBatch)
	}
	for i, q := range queries {
		if strings.TrimSpace(q) == "" {
			return nil, fmt.Errorf("%w: query %d is empty", domain.ErrInvalid, i)
		}
	}

	var vecs [][]float32
	if e.embedder != nil {
		v, err := e.embedQueries(ctx, queries)
		if err != nil {
			e.logger.Warn("batch query embedding failed, falling back to keywords", zap.Error(err))
		} else if len(v) == len(queries) {
			vecs = v
		}
	}

	out := make([]*SearchResponse, 0, len(queries))
	for i, q := range queries {
		var qvec []float32
		if vecs != nil {
			qvec = vecs[i]
		}
		resp, err := e.searchLocked(ctx, agent, q, opts, qvec, true)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		out = append(out, resp)
	}
	return out, nil
}

// embedQueries prefers the adapter's query-specific embedding when offered.
func (e *Engine) embedQueries(ctx context.Context, queries []string) ([][]float32, error) {
	if qe, ok := e.embedder.(domain.QueryEmbedder); ok {
		return qe.EmbedQuery(ctx, queries)
	}
	return e.embedder.Embed(ctx, queries)
}

// searchHit is the working record of one candidate during ranking.
type searchHit struct {
	m          *domain.Memory
	retrieval  float64
	vectorSim  float64
	kwScore    float64
	kwHits     []string
	confidence float64
	recency    float64
	composite  float64
}

func (e *Engine) searchLocked(ctx context.Context, agent, query string, opts SearchOptions, qvec []float32, embedDone bool) (*SearchResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalid)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	now := timeNow().UTC()
	excluded := make(map[string]int)
	candidates := e.searchCandidates(agent, opts, now, excluded)

	if len(qvec) == 0 && !embedDone && e.embedder != nil {
		vecs, err := e.embedQueries(ctx, []string{query})
		if err != nil {
			e.logger.Warn("query embedding failed, falling back to keywords", zap.Error(err))
		} else if len(vecs) == 1 {
			qvec = vecs[0]
		}
	}

	var hits []searchHit
	if len(qvec) > 0 {
		hits = e.vectorHits(ctx, candidates, qvec, agent, limit, opts, excluded, query)
	} else {
		hits = e.keywordHits(candidates, query)
	}

	hits = suppressSessionShadowed(hits, opts.SessionID, excluded)

	for i := range hits {
		h := &hits[i]
		h.confidence = h.m.Confidence
		if h.confidence == 0 {
			h.confidence = scoring.Confidence(h.m.Provenance.Trust)
		}
	}

	rerankOn := opts.Rerank == nil || *opts.Rerank
	weights := DefaultRerankWeights()
	if opts.RerankWeights != nil {
		weights = *opts.RerankWeights
	}
	if rerankOn {
		for i := range hits {
			h := &hits[i]
			h.recency = math.Exp(-0.01 * now.Sub(h.m.UpdatedAt).Hours() / 24)
			h.composite = weights.Relevance*h.retrieval +
				weights.Confidence*h.confidence +
				weights.Recency*h.recency +
				weights.Importance*h.m.Importance
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].composite > hits[j].composite })
	} else {
		sort.SliceStable(hits, func(i, j int) bool {
			if hits[i].retrieval != hits[j].retrieval {
				return hits[i].retrieval > hits[j].retrieval
			}
			return hits[i].m.Importance > hits[j].m.Importance
		})
	}

	matched := len(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]SearchResult, 0, len(hits))
	for i := range hits {
		h := &hits[i]
		cp := h.m.Clone()
		cp.Confidence = h.confidence
		score := h.retrieval
		if rerankOn {
			score = h.composite
		}
		r := SearchResult{Memory: cp, Score: score}
		if opts.Explain {
			r.Explain = h.explain(rerankOn, weights)
		}
		results = append(results, r)
	}

	resp := &SearchResponse{Results: results}
	if opts.Explain {
		if len(excluded) == 0 {
			excluded = nil
		}
		resp.Meta = &SearchMeta{
			Query:      query,
			Agent:      agent,
			Options:    sanitizedOptions(opts, limit, rerankOn),
			Candidates: len(candidates),
			Matched:    matched,
			Returned:   len(results),
			Excluded:   excluded,
		}
	}

	e.emit(domain.Event{
		Name:  domain.EventSearch,
		Agent: agent,
		Detail: map[string]any{
			"query":    query,
			"returned": len(results),
		},
	})
	return resp, nil
}

// searchCandidates applies the status, temporal, scope and validity filters,
// counting every drop. Session-scoped memories matching opts.SessionID join
// the set even when the agent filter would exclude them.
func (e *Engine) searchCandidates(agent string, opts SearchOptions, now time.Time, excluded map[string]int) []*domain.Memory {
	var out []*domain.Memory
	for _, m := range e.memories {
		inAgent := agent == "" || m.Agent == agent
		inSession := opts.SessionID != "" && m.Claim != nil &&
			m.Claim.Scope == domain.ScopeSession && m.Claim.SessionID == opts.SessionID
		if !inAgent && !inSession {
			continue
		}
		if !opts.IncludeAll && !statusAllowed(m.Status, opts, excluded) {
			continue
		}
		if opts.Before != nil && m.EffectiveTime().After(*opts.Before) {
			continue
		}
		if opts.After != nil && m.EffectiveTime().Before(*opts.After) {
			continue
		}
		if c := m.Claim; c != nil {
			if c.Scope == domain.ScopeSession && c.SessionID != opts.SessionID {
				excluded["scopeMismatch"]++
				continue
			}
			if !claimValidAt(c, now) {
				excluded["validityMismatch"]++
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

func statusAllowed(st domain.Status, opts SearchOptions, excluded map[string]int) bool {
	switch st {
	case domain.StatusSuperseded:
		if !opts.IncludeSuperseded {
			excluded["superseded"]++
			return false
		}
	case domain.StatusDisputed:
		if !opts.IncludeDisputed {
			excluded["disputed"]++
			return false
		}
	case domain.StatusQuarantined:
		if !opts.IncludeQuarantined {
			excluded["quarantined"]++
			return false
		}
	case domain.StatusArchived:
		excluded["archived"]++
		return false
	}
	return true
}

func claimValidAt(c *domain.Claim, now time.Time) bool {
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return false
	}
	return true
}

// vectorHits scores candidates against the query embedding, delegating to
// the storage backend's native vector index when it has one.
func (e *Engine) vectorHits(ctx context.Context, candidates []*domain.Memory, qvec []float32, agent string, limit int, opts SearchOptions, excluded map[string]int, query string) []searchHit {
	if vs, ok := e.vectorSearcher(); ok {
		hits, err := e.serverHits(ctx, vs, candidates, qvec, agent, limit, opts, excluded)
		if err != nil {
			e.logger.Warn("server-side vector search failed, scanning locally", zap.Error(err))
		} else if hits != nil {
			return hits
		}
	}

	pool := candidates
	if len(candidates) > largeCandidateSet {
		pool = e.narrowPool(candidates, query, limit)
	}
	var hits []searchHit
	for _, m := range pool {
		if len(m.Embedding) == 0 {
			continue
		}
		sim, ok := cosineOrSkip(qvec, m.Embedding)
		if !ok {
			continue
		}
		if opts.MinSimilarity > 0 && sim < opts.MinSimilarity {
			excluded["belowMinSimilarity"]++
			continue
		}
		hits = append(hits, searchHit{m: m, retrieval: sim, vectorSim: sim})
	}
	return hits
}

// serverHits resolves backend vector hits against the filtered candidate
// set. A nil, nil return means the backend declined and the caller should
// scan locally.
func (e *Engine) serverHits(ctx context.Context, vs domain.VectorSearcher, candidates []*domain.Memory, qvec []float32, agent string, limit int, opts SearchOptions, excluded map[string]int) ([]searchHit, error) {
	q := domain.VectorQuery{
		Agent:         agent,
		Limit:         serverFetchLimit(limit),
		MinSimilarity: opts.MinSimilarity,
	}
	// Session union spans agents, so the backend cannot pre-filter.
	if opts.SessionID != "" {
		q.Agent = ""
	}
	if !opts.IncludeAll {
		q.Statuses = wantedStatuses(opts)
	}
	rows, err := vs.SearchByVector(ctx, qvec, q)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, nil
	}

	byID := make(map[string]*domain.Memory, len(candidates))
	for _, m := range candidates {
		byID[m.ID] = m
	}
	hits := make([]searchHit, 0, len(rows))
	for _, row := range rows {
		m, ok := byID[row.ID]
		if !ok {
			continue
		}
		if opts.MinSimilarity > 0 && row.Similarity < opts.MinSimilarity {
			excluded["belowMinSimilarity"]++
			continue
		}
		hits = append(hits, searchHit{m: m, retrieval: row.Similarity, vectorSim: row.Similarity})
	}
	return hits, nil
}

// serverFetchLimit over-fetches so the composite rerank has a pool to work
// with beyond the final page.
func serverFetchLimit(limit int) int {
	n := 4 * limit
	if n < 50 {
		n = 50
	}
	return n
}

func wantedStatuses(opts SearchOptions) []domain.Status {
	statuses := []domain.Status{domain.StatusActive}
	if opts.IncludeSuperseded {
		statuses = append(statuses, domain.StatusSuperseded)
	}
	if opts.IncludeDisputed {
		statuses = append(statuses, domain.StatusDisputed)
	}
	if opts.IncludeQuarantined {
		statuses = append(statuses, domain.StatusQuarantined)
	}
	return statuses
}

// narrowPool keeps every token-matched candidate plus a deterministic
// evenly-spaced sample of the rest, preserving recall without a full scan.
func (e *Engine) narrowPool(candidates []*domain.Memory, query string, limit int) []*domain.Memory {
	matched := make(map[string]struct{})
	for _, tok := range similarity.Tokenize(query) {
		for id := range e.byToken[tok] {
			matched[id] = struct{}{}
		}
	}

	var pool, rest []*domain.Memory
	for _, m := range candidates {
		if _, ok := matched[m.ID]; ok {
			pool = append(pool, m)
		} else {
			rest = append(rest, m)
		}
	}

	sample := 5 * limit
	if sample < 100 {
		sample = 100
	}
	if len(rest) <= sample {
		return append(pool, rest...)
	}
	step := len(rest) / sample
	if step < 1 {
		step = 1
	}
	for i := 0; i < len(rest) && sample > 0; i += step {
		pool = append(pool, rest[i])
		sample--
	}
	return pool
}

// keywordHits scores candidates by query-token overlap. When every query
// token is a stop word it falls back to a case-insensitive substring match.
func (e *Engine) keywordHits(candidates []*domain.Memory, query string) []searchHit {
	qTokens := similarity.Tokenize(query)
	if len(qTokens) == 0 {
		needle := strings.ToLower(strings.TrimSpace(query))
		var hits []searchHit
		for _, m := range candidates {
			if strings.Contains(strings.ToLower(m.Text), needle) {
				hits = append(hits, searchHit{m: m, retrieval: 1, kwScore: 1})
			}
		}
		return hits
	}

	var hits []searchHit
	for _, m := range candidates {
		var matched []string
		for _, tok := range qTokens {
			if ids, ok := e.byToken[tok]; ok {
				if _, hit := ids[m.ID]; hit {
					matched = append(matched, tok)
				}
			}
		}
		if len(matched) == 0 {
			continue
		}
		score := float64(len(matched)) / float64(len(qTokens))
		hits = append(hits, searchHit{m: m, retrieval: score, kwScore: score, kwHits: matched})
	}
	return hits
}

// suppressSessionShadowed drops non-session memories whose claim key also
// has a matching session-scoped hit: the session's value wins for that key.
func suppressSessionShadowed(hits []searchHit, sessionID string, excluded map[string]int) []searchHit {
	if sessionID == "" {
		return hits
	}
	sessionKeys := make(map[domain.ClaimKey]struct{})
	for i := range hits {
		c := hits[i].m.Claim
		if c != nil && c.Scope == domain.ScopeSession && c.SessionID == sessionID {
			sessionKeys[c.Key()] = struct{}{}
		}
	}
	if len(sessionKeys) == 0 {
		return hits
	}
	kept := hits[:0]
	for i := range hits {
		c := hits[i].m.Claim
		if c != nil && c.Scope != domain.ScopeSession {
			if _, shadowed := sessionKeys[c.Key()]; shadowed {
				excluded["scopeMismatch"]++
				continue
			}
		}
		kept = append(kept, hits[i])
	}
	return kept
}

func (h *searchHit) explain(rerankOn bool, weights RerankWeights) *ResultExplain {
	ex := &ResultExplain{
		Retrieved: RetrievedExplain{
			VectorSimilarity: h.vectorSim,
			KeywordScore:     h.kwScore,
			KeywordHits:      h.kwHits,
		},
		Status: StatusExplain{
			Status:       string(h.m.Status),
			SupersededBy: h.m.SupersededBy,
		},
	}
	if h.m.Quarantine != nil {
		q := *h.m.Quarantine
		ex.Status.Quarantine = &q
	}
	if rerankOn {
		ex.Rerank = &RerankExplain{
			Weights: weights,
			Signals: map[string]float64{
				"relevance":  h.retrieval,
				"confidence": h.confidence,
				"recency":    h.recency,
				"importance": h.m.Importance,
			},
			CompositeScore: h.composite,
		}
	}
	return ex
}

func sanitizedOptions(opts SearchOptions, limit int, rerankOn bool) map[string]any {
	out := map[string]any{"limit": limit, "rerank": rerankOn}
	if opts.MinSimilarity > 0 {
		out["min_similarity"] = opts.MinSimilarity
	}
	if opts.Before != nil {
		out["before"] = opts.Before.UTC().Format(time.RFC3339)
	}
	if opts.After != nil {
		out["after"] = opts.After.UTC().Format(time.RFC3339)
	}
	if opts.IncludeAll {
		out["include_all"] = true
	}
	if opts.IncludeSuperseded {
		out["include_superseded"] = true
	}
	if opts.IncludeDisputed {
		out["include_disputed"] = true
	}
	if opts.IncludeQuarantined {
		out["include_quarantined"] = true
	}
	if opts.SessionID != "" {
		out["session_id"] = opts.SessionID
	}
	return out
}
