package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Harshitk-cp/synapse/internal/domain"
	"github.com/Harshitk-cp/synapse/internal/scoring"
)

// contextOverheadTemplate approximates the per-section markdown scaffolding;
// the packer reserves ten times its token estimate before placing memories.
const contextOverheadTemplate = "## Relevant Memory Context\n### Category\n- "

// ContextOptions tune context assembly.
type ContextOptions struct {
	// MaxMemories caps the unbudgeted result. Default 15.
	MaxMemories int
	Before      *time.Time
	After       *time.Time
	// MaxTokens switches to budget packing: memories are chosen by score
	// per token until the budget after markdown overhead runs out.
	MaxTokens int
	Explain   bool
}

// ContextMemory is one memory placed into the assembled context.
type ContextMemory struct {
	ID       string          `json:"id"`
	Agent    string          `json:"agent"`
	Category domain.Category `json:"category"`
	Text     string          `json:"text"`
	Score    float64         `json:"score"`
	Source   string          `json:"source"`
	Tokens   int             `json:"tokens,omitempty"`
}

// ExcludedMemory records one budget casualty.
type ExcludedMemory struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Value  int    `json:"value"`
}

// ContextExplain carries the retrieval meta and packing arithmetic.
type ContextExplain struct {
	SearchMeta *SearchMeta    `json:"search_meta,omitempty"`
	Packing    map[string]any `json:"packing,omitempty"`
}

// ContextResult is an assembled markdown context plus its bookkeeping.
type ContextResult struct {
	Query    string          `json:"query"`
	Context  string          `json:"context"`
	Count    int             `json:"count"`
	Memories []ContextMemory `json:"memories"`

	TokenEstimate   int              `json:"token_estimate,omitempty"`
	Included        int              `json:"included,omitempty"`
	Excluded        int              `json:"excluded,omitempty"`
	ExcludedReasons []ExcludedMemory `json:"excluded_reasons,omitempty"`

	Explain *ContextExplain `json:"explain,omitempty"`
}

// packItem is one context candidate during selection.
type packItem struct {
	id       string
	agent    string
	category domain.Category
	text     string
	score    float64
	source   string
	tokens   int
}

// Context searches for memories relevant to the query, pulls in their
// strongest linked neighbors, and renders them as sectioned markdown. With
// MaxTokens set the selection packs by composite score per token against the
// budget left after markdown overhead.
func (e *Engine) Context(ctx context.Context, agent, query string, opts ContextOptions) (*ContextResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	maxMemories := opts.MaxMemories
	if maxMemories <= 0 {
		maxMemories = 15
	}
	searchLimit := 8
	if opts.MaxTokens > 0 {
		searchLimit = 2 * maxMemories
		if searchLimit < 1 {
			searchLimit = 1
		}
	}

	resp, err := e.searchLocked(ctx, agent, query, SearchOptions{
		Limit:   searchLimit,
		Before:  opts.Before,
		After:   opts.After,
		Explain: opts.Explain,
	}, nil, false)
	if err != nil {
		return nil, err
	}

	items := e.expandWithLinks(resp.Results)
	result := &ContextResult{Query: query}

	if opts.MaxTokens > 0 {
		overhead := 10 * scoring.EstimateTokens(contextOverheadTemplate)
		budget := opts.MaxTokens - overhead
		if budget < 0 {
			budget = 0
		}
		initialBudget := budget

		byDensity := append([]packItem(nil), items...)
		sort.SliceStable(byDensity, func(i, j int) bool {
			di := byDensity[i].score / float64(max(1, byDensity[i].tokens))
			dj := byDensity[j].score / float64(max(1, byDensity[j].tokens))
			return di > dj
		})
		var included []packItem
		for _, it := range byDensity {
			if it.tokens <= budget {
				included = append(included, it)
				budget -= it.tokens
				continue
			}
			result.ExcludedReasons = append(result.ExcludedReasons, ExcludedMemory{
				ID: it.id, Reason: "budget", Value: it.tokens,
			})
		}
		items = included
		sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
		result.Included = len(items)
		result.Excluded = len(result.ExcludedReasons)

		if opts.Explain {
			result.Explain = &ContextExplain{
				SearchMeta: resp.Meta,
				Packing: map[string]any{
					"max_tokens": opts.MaxTokens,
					"overhead":   overhead,
					"budget":     initialBudget,
					"considered": len(byDensity),
				},
			}
		}
	} else {
		sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
		if len(items) > maxMemories {
			items = items[:maxMemories]
		}
		if opts.Explain {
			result.Explain = &ContextExplain{
				SearchMeta: resp.Meta,
				Packing:    map[string]any{"max_memories": maxMemories},
			}
		}
	}

	result.Context = renderContext(items, agent)
	result.Count = len(items)
	result.Memories = make([]ContextMemory, 0, len(items))
	for _, it := range items {
		result.Memories = append(result.Memories, ContextMemory{
			ID:       it.id,
			Agent:    it.agent,
			Category: it.category,
			Text:     it.text,
			Score:    it.score,
			Source:   it.source,
			Tokens:   it.tokens,
		})
	}
	if opts.MaxTokens > 0 {
		result.TokenEstimate = scoring.EstimateTokens(result.Context)
	}
	return result, nil
}

// expandWithLinks turns search results into pack candidates, following up to
// three of each result's strongest links to active memories. Linked entries
// score as link similarity times the result's score.
func (e *Engine) expandWithLinks(results []SearchResult) []packItem {
	seen := make(map[string]struct{})
	var items []packItem
	for _, r := range results {
		if _, dup := seen[r.Memory.ID]; dup {
			continue
		}
		seen[r.Memory.ID] = struct{}{}
		items = append(items, packItem{
			id:       r.Memory.ID,
			agent:    r.Memory.Agent,
			category: r.Memory.Category,
			text:     r.Memory.Text,
			score:    r.Score,
			source:   "search",
			tokens:   scoring.EstimateTokens(r.Memory.Text),
		})

		src, ok := e.byID[r.Memory.ID]
		if !ok {
			continue
		}
		links := append([]domain.Link(nil), src.Links...)
		sort.SliceStable(links, func(i, j int) bool { return links[i].Similarity > links[j].Similarity })
		added := 0
		for _, l := range links {
			if added >= 3 {
				break
			}
			if _, dup := seen[l.TargetID]; dup {
				continue
			}
			t, ok := e.byID[l.TargetID]
			if !ok || t.Status != domain.StatusActive {
				continue
			}
			seen[t.ID] = struct{}{}
			items = append(items, packItem{
				id:       t.ID,
				agent:    t.Agent,
				category: t.Category,
				text:     t.Text,
				score:    l.Similarity * r.Score,
				source:   "linked",
				tokens:   scoring.EstimateTokens(t.Text),
			})
			added++
		}
	}
	return items
}

// contextSections is the fixed render order; categories outside it fold
// into facts.
var contextSections = []struct {
	category domain.Category
	title    string
}{
	{domain.CategoryDecision, "Decisions"},
	{domain.CategoryFinding, "Findings"},
	{domain.CategoryPreference, "Preferences"},
	{domain.CategoryInsight, "Insights"},
	{domain.CategoryFact, "Facts"},
	{domain.CategoryEvent, "Events"},
	{domain.CategoryTask, "Tasks"},
}

func sectionFor(c domain.Category) domain.Category {
	for _, sec := range contextSections {
		if sec.category == c {
			return c
		}
	}
	return domain.CategoryFact
}

// renderContext produces the markdown block. The agent tag is suppressed on
// entries owned by the focus agent.
func renderContext(items []packItem, focus string) string {
	groups := make(map[domain.Category][]packItem)
	for _, it := range items {
		key := sectionFor(it.category)
		groups[key] = append(groups[key], it)
	}

	var sb strings.Builder
	sb.WriteString("## Relevant Memory Context\n")
	for _, sec := range contextSections {
		entries := groups[sec.category]
		if len(entries) == 0 {
			continue
		}
		sb.WriteString("\n### ")
		sb.WriteString(sec.title)
		sb.WriteString("\n")
		for _, it := range entries {
			sb.WriteString("- ")
			sb.WriteString(it.text)
			if it.agent != focus {
				sb.WriteString(" (")
				sb.WriteString(it.agent)
				sb.WriteString(")")
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
