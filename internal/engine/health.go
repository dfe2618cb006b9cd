package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

// StrengthDistribution buckets the graph by decay strength.
type StrengthDistribution struct {
	Strong    int `json:"strong"`    // >= 0.7
	Healthy   int `json:"healthy"`   // >= 0.3
	Weakening int `json:"weakening"` // >= 0.15
	Critical  int `json:"critical"`  // >= 0.05
	Dead      int `json:"dead"`      // < 0.05
}

// HealthReport is a point-in-time summary of the memory graph.
type HealthReport struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByAgent    map[string]int `json:"by_agent"`
	ByCategory map[string]int `json:"by_category"`

	// Links counts stored link records; a bidirectional edge contributes
	// one per endpoint.
	Links           int `json:"links"`
	CrossAgentLinks int `json:"cross_agent_links"`

	Strength        StrengthDistribution `json:"strength"`
	AverageStrength float64              `json:"average_strength"`

	Orphans int `json:"orphans"`
	Archive int `json:"archive"`

	AverageAgeDays float64 `json:"average_age_days"`
	MaxAgeDays     float64 `json:"max_age_days"`

	// AverageStability covers only memories with SM-2 state.
	AverageStability float64 `json:"average_stability"`
	SM2Count         int     `json:"sm2_count"`
}

// Health summarizes the whole graph: histograms, link counts, strength
// distribution, ages and review state.
func (e *Engine) Health() *HealthReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := timeNow().UTC()
	report := &HealthReport{
		Total:      len(e.memories),
		ByStatus:   make(map[string]int),
		ByAgent:    make(map[string]int),
		ByCategory: make(map[string]int),
		Archive:    len(e.archive),
	}

	var strengthSum, ageSum, stabilitySum float64
	for _, m := range e.memories {
		report.ByStatus[string(m.Status)]++
		report.ByAgent[m.Agent]++
		report.ByCategory[string(m.Category)]++

		report.Links += len(m.Links)
		for _, l := range m.Links {
			if t, ok := e.byID[l.TargetID]; ok && t.Agent != m.Agent {
				report.CrossAgentLinks++
			}
		}
		if len(m.Links) == 0 {
			report.Orphans++
		}

		s := e.strengthOf(m, now)
		strengthSum += s
		switch {
		case s >= 0.7:
			report.Strength.Strong++
		case s >= 0.3:
			report.Strength.Healthy++
		case s >= 0.15:
			report.Strength.Weakening++
		case s >= 0.05:
			report.Strength.Critical++
		default:
			report.Strength.Dead++
		}

		age := now.Sub(m.CreatedAt).Hours() / 24
		ageSum += age
		if age > report.MaxAgeDays {
			report.MaxAgeDays = age
		}

		if m.Stability > 0 {
			stabilitySum += m.Stability
			report.SM2Count++
		}
	}

	if len(e.memories) > 0 {
		report.AverageStrength = strengthSum / float64(len(e.memories))
		report.AverageAgeDays = ageSum / float64(len(e.memories))
	}
	if report.SM2Count > 0 {
		report.AverageStability = stabilitySum / float64(report.SM2Count)
	}
	return report
}

// TimeField selects which timestamp a timeline groups by.
type TimeField string

const (
	// TimeFieldAuto groups by event time when present, creation time
	// otherwise.
	TimeFieldAuto    TimeField = "auto"
	TimeFieldEvent   TimeField = "event"
	TimeFieldCreated TimeField = "created"
)

// TimelineEntry is the per-memory projection a timeline carries.
type TimelineEntry struct {
	ID       string          `json:"id"`
	Agent    string          `json:"agent"`
	Category domain.Category `json:"category"`
	Text     string          `json:"text"`
	At       time.Time       `json:"at"`
}

// TimelineDay groups one day's entries, oldest day first.
type TimelineDay struct {
	Date    string          `json:"date"`
	Entries []TimelineEntry `json:"entries"`
}

const timelineTextLimit = 100

// Timeline groups the last N days of memories by date. With TimeFieldEvent
// only memories carrying an event time appear.
func (e *Engine) Timeline(agent string, days int, field TimeField) ([]TimelineDay, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if days <= 0 {
		days = 7
	}
	if field == "" {
		field = TimeFieldAuto
	}
	switch field {
	case TimeFieldAuto, TimeFieldEvent, TimeFieldCreated:
	default:
		return nil, fmt.Errorf("%w: unknown time_field %q", domain.ErrInvalid, field)
	}

	cutoff := timeNow().UTC().AddDate(0, 0, -days)
	byDate := make(map[string][]TimelineEntry)
	for _, m := range e.memories {
		if agent != "" && m.Agent != agent {
			continue
		}
		var at time.Time
		switch field {
		case TimeFieldEvent:
			if m.EventAt == nil {
				continue
			}
			at = *m.EventAt
		case TimeFieldCreated:
			at = m.CreatedAt
		default:
			at = m.EffectiveTime()
		}
		if at.Before(cutoff) {
			continue
		}
		at = at.UTC()
		date := at.Format("2006-01-02")
		byDate[date] = append(byDate[date], TimelineEntry{
			ID:       m.ID,
			Agent:    m.Agent,
			Category: m.Category,
			Text:     truncateText(m.Text, timelineTextLimit),
			At:       at,
		})
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := make([]TimelineDay, 0, len(dates))
	for _, d := range dates {
		entries := byDate[d]
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].At.Before(entries[j].At) })
		out = append(out, TimelineDay{Date: d, Entries: entries})
	}
	return out, nil
}

func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
