package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

// StripFences removes a markdown code fence wrapped around a response.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ClusterLabel is the parsed response to ClusterLabelPrompt.
type ClusterLabel struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// ParseClusterLabel parses a labeling response. Failures wrap
// domain.ErrLLMParse so callers can fall back to heuristic labels.
func ParseClusterLabel(raw string) (ClusterLabel, error) {
	var label ClusterLabel
	if err := decodeJSON(raw, &label); err != nil {
		return ClusterLabel{}, err
	}
	if strings.TrimSpace(label.Label) == "" {
		return ClusterLabel{}, fmt.Errorf("%w: empty label (raw: %s)", domain.ErrLLMParse, snippet(raw))
	}
	return label, nil
}

// EvolveDecision is the parsed response to EvolvePrompt.
type EvolveDecision struct {
	Conflicts []int `json:"conflicts"`
	Updates   []int `json:"updates"`
	Novel     bool  `json:"novel"`
}

// ParseEvolveDecision parses a classification response and rejects any
// candidate index outside [0, candidates).
func ParseEvolveDecision(raw string, candidates int) (EvolveDecision, error) {
	var decision EvolveDecision
	if err := decodeJSON(raw, &decision); err != nil {
		return EvolveDecision{}, err
	}
	for _, i := range decision.Conflicts {
		if i < 0 || i >= candidates {
			return EvolveDecision{}, fmt.Errorf("%w: conflict index %d out of range [0,%d)", domain.ErrLLMParse, i, candidates)
		}
	}
	for _, i := range decision.Updates {
		if i < 0 || i >= candidates {
			return EvolveDecision{}, fmt.Errorf("%w: update index %d out of range [0,%d)", domain.ErrLLMParse, i, candidates)
		}
	}
	return decision, nil
}

func decodeJSON(raw string, v any) error {
	cleaned := StripFences(raw)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("%w: %v (raw: %s)", domain.ErrLLMParse, err, snippet(cleaned))
	}
	return nil
}

func snippet(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
