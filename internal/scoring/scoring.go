// Package scoring holds the pure scoring functions: trust from provenance
// and feedback, confidence rounding, decay strength in both its legacy
// half-life and SM-2 forms, and the token estimator used for budgeting.
package scoring

import (
	"math"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

// SourceWeights is the process-wide trust base per provenance source.
var SourceWeights = map[domain.Source]float64{
	domain.SourceUserExplicit: 1.0,
	domain.SourceSystem:       0.95,
	domain.SourceToolOutput:   0.85,
	domain.SourceUserImplicit: 0.7,
	domain.SourceDocument:     0.6,
	domain.SourceInference:    0.5,
}

// DefaultSourceWeight applies to unknown sources.
const DefaultSourceWeight = 0.5

// categoryWeights slow decay for the categories worth keeping longest.
var categoryWeights = map[domain.Category]float64{
	domain.CategoryDecision:   1.3,
	domain.CategoryPreference: 1.4,
	domain.CategoryInsight:    1.1,
}

// TrustInputs are the provenance and feedback signals trust derives from.
type TrustInputs struct {
	Source         domain.Source
	Corroboration  int
	Reinforcements int
	Disputes       int
	AgeDays        float64
}

// Trust computes the trust score in [0,1]: source base, plus a capped
// corroboration bonus, plus a reinforcement/dispute feedback term, minus a
// capped age penalty.
func Trust(in TrustInputs) float64 {
	base, ok := SourceWeights[in.Source]
	if !ok {
		base = DefaultSourceWeight
	}

	if in.Corroboration > 1 {
		base += math.Min(0.2, float64(in.Corroboration-1)*0.05)
	}

	if total := in.Reinforcements + in.Disputes; total > 0 {
		base += float64(in.Reinforcements-in.Disputes) / float64(total) * 0.15
	}

	if in.AgeDays > 0 {
		base -= math.Min(0.1, in.AgeDays/365*0.1)
	}

	return clamp01(base)
}

// Confidence is trust rounded to 4 decimals, the form persisted and shown
// to callers.
func Confidence(trust float64) float64 {
	return math.Round(trust*10000) / 10000
}

// StrengthInputs feed the decay computation. Stability > 0 selects the SM-2
// retrievability mode; otherwise the legacy half-life mode applies with
// HalfLifeDays as H.
type StrengthInputs struct {
	Importance   float64
	Category     domain.Category
	AgeDays      float64
	TouchDays    float64
	LinkCount    int
	AccessCount  int
	Stability    float64
	HalfLifeDays float64
}

// Strength computes the current decay strength.
//
// SM-2 mode: strength = min(1, importance * retrievability * categoryWeight)
// + linkBonus, with retrievability = exp(-0.5 * touchDays / max(0.1, S)).
//
// Legacy mode: strength = min(1, importance * ageFactor * touchFactor *
// categoryWeight) + linkBonus + accessBonus, where ageFactor halves every H
// days and touchFactor every 2H days, both floored at 0.1.
func Strength(in StrengthInputs) float64 {
	weight := 1.0
	if w, ok := categoryWeights[in.Category]; ok {
		weight = w
	}
	linkBonus := math.Min(0.3, float64(in.LinkCount)*0.05)

	if in.Stability > 0 {
		retrievability := math.Exp(-0.5 * in.TouchDays / math.Max(0.1, in.Stability))
		return math.Min(1, in.Importance*retrievability*weight) + linkBonus
	}

	h := in.HalfLifeDays
	if h <= 0 {
		h = DefaultHalfLifeDays
	}
	ageFactor := math.Max(0.1, math.Pow(0.5, in.AgeDays/h))
	touchFactor := math.Max(0.1, math.Pow(0.5, in.TouchDays/(2*h)))
	accessBonus := math.Min(0.2, float64(in.AccessCount)*0.02)

	return math.Min(1, in.Importance*ageFactor*touchFactor*weight) + linkBonus + accessBonus
}

// DefaultHalfLifeDays is the decay half-life used when none is configured.
const DefaultHalfLifeDays = 30.0

// EstimateTokens approximates the token cost of text at four characters per
// token, rounded up.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
