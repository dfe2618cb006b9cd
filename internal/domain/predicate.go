package domain

// Cardinality says how many active values a (subject, predicate) pair may
// hold at once.
type Cardinality string

const (
	CardinalitySingle Cardinality = "single"
	CardinalityMulti  Cardinality = "multi"
)

// ConflictPolicy selects what store does when a single-cardinality predicate
// collides on the same subject with a different value.
type ConflictPolicy string

const (
	PolicySupersede     ConflictPolicy = "supersede"
	PolicyRequireReview ConflictPolicy = "require_review"
	PolicyKeepBoth      ConflictPolicy = "keep_both"
)

// NormalizeMode selects the value canonicalization applied before claims are
// compared.
type NormalizeMode string

const (
	NormalizeNone          NormalizeMode = "none"
	NormalizeTrim          NormalizeMode = "trim"
	NormalizeLowercase     NormalizeMode = "lowercase"
	NormalizeLowercaseTrim NormalizeMode = "lowercase_trim"
	NormalizeCurrency      NormalizeMode = "currency"
)

// DedupPolicy selects what store does when an identical claim value arrives
// again: fold it into the existing memory as corroboration, or store a new
// node anyway.
type DedupPolicy string

const (
	DedupCorroborate DedupPolicy = "corroborate"
	DedupStore       DedupPolicy = "store"
)

// PredicateSchema declares how claims on one predicate behave. Unregistered
// predicates get the zero-value-free defaults from predicate.Default.
type PredicateSchema struct {
	Predicate      string         `json:"predicate" yaml:"predicate"`
	Cardinality    Cardinality    `json:"cardinality" yaml:"cardinality"`
	ConflictPolicy ConflictPolicy `json:"conflict_policy" yaml:"conflict_policy"`
	Normalize      NormalizeMode  `json:"normalize" yaml:"normalize"`
	DedupPolicy    DedupPolicy    `json:"dedup_policy" yaml:"dedup_policy"`
}
