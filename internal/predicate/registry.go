// Package predicate holds the schema registry that tells the engine how
// claims on each predicate behave: cardinality, conflict policy, value
// normalization and dedup policy.
package predicate

import (
	"fmt"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

// Default is the effective schema for unregistered predicates.
func Default(predicate string) domain.PredicateSchema {
	return domain.PredicateSchema{
		Predicate:      predicate,
		Cardinality:    domain.CardinalitySingle,
		ConflictPolicy: domain.PolicySupersede,
		Normalize:      domain.NormalizeNone,
		DedupPolicy:    domain.DedupCorroborate,
	}
}

// Registry maps predicate names to their schemas. It is not safe for
// concurrent mutation; the engine serializes access behind its own lock.
type Registry struct {
	schemas map[string]domain.PredicateSchema
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]domain.PredicateSchema)}
}

// Register validates and stores a schema. Empty fields take the defaults.
func (r *Registry) Register(s domain.PredicateSchema) error {
	if s.Predicate == "" {
		return fmt.Errorf("%w: predicate name required", domain.ErrInvalid)
	}

	if s.Cardinality == "" {
		s.Cardinality = domain.CardinalitySingle
	}
	if s.ConflictPolicy == "" {
		s.ConflictPolicy = domain.PolicySupersede
	}
	if s.Normalize == "" {
		s.Normalize = domain.NormalizeNone
	}
	if s.DedupPolicy == "" {
		s.DedupPolicy = domain.DedupCorroborate
	}

	switch s.Cardinality {
	case domain.CardinalitySingle, domain.CardinalityMulti:
	default:
		return fmt.Errorf("%w: unknown cardinality %q", domain.ErrInvalid, s.Cardinality)
	}
	switch s.ConflictPolicy {
	case domain.PolicySupersede, domain.PolicyRequireReview, domain.PolicyKeepBoth:
	default:
		return fmt.Errorf("%w: unknown conflict_policy %q", domain.ErrInvalid, s.ConflictPolicy)
	}
	switch s.Normalize {
	case domain.NormalizeNone, domain.NormalizeTrim, domain.NormalizeLowercase, domain.NormalizeLowercaseTrim, domain.NormalizeCurrency:
	default:
		return fmt.Errorf("%w: unknown normalize mode %q", domain.ErrInvalid, s.Normalize)
	}
	switch s.DedupPolicy {
	case domain.DedupCorroborate, domain.DedupStore:
	default:
		return fmt.Errorf("%w: unknown dedup_policy %q", domain.ErrInvalid, s.DedupPolicy)
	}

	r.schemas[s.Predicate] = s
	return nil
}

// Lookup returns the effective schema: the registered one, or defaults.
func (r *Registry) Lookup(predicate string) domain.PredicateSchema {
	if s, ok := r.schemas[predicate]; ok {
		return s
	}
	return Default(predicate)
}

// Registered returns the names of all registered predicates.
func (r *Registry) Registered() []string {
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	return names
}
