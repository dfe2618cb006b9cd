package predicate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

type schemaFile struct {
	Predicates []domain.PredicateSchema `yaml:"predicates"`
}

// LoadFile registers every schema from a YAML document of the form:
//
//	predicates:
//	  - predicate: timezone
//	    cardinality: single
//	    conflict_policy: supersede
//	    normalize: lowercase_trim
//	    dedup_policy: corroborate
//
// Omitted fields default. The first invalid entry aborts the load.
func (r *Registry) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read predicate schemas: %w", err)
	}

	var f schemaFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("%w: parse predicate schemas: %v", domain.ErrInvalid, err)
	}

	for _, s := range f.Predicates {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return nil
}
