package llm

import (
	"errors"
	"testing"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding space", "  {\"a\":1}  ", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.in); got != tt.want {
				t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseClusterLabel(t *testing.T) {
	label, err := ParseClusterLabel("```json\n{\"label\":\"Database Choices\",\"description\":\"Decisions about storage engines.\"}\n```")
	if err != nil {
		t.Fatalf("ParseClusterLabel: %v", err)
	}
	if label.Label != "Database Choices" {
		t.Errorf("Label = %q", label.Label)
	}
	if label.Description != "Decisions about storage engines." {
		t.Errorf("Description = %q", label.Description)
	}
}

func TestParseClusterLabelErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"garbage", "not json at all"},
		{"empty label", `{"label":"  ","description":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClusterLabel(tt.raw)
			if !errors.Is(err, domain.ErrLLMParse) {
				t.Errorf("error = %v, want ErrLLMParse", err)
			}
		})
	}
}

func TestParseEvolveDecision(t *testing.T) {
	decision, err := ParseEvolveDecision(`{"conflicts":[0,2],"updates":[1],"novel":false}`, 3)
	if err != nil {
		t.Fatalf("ParseEvolveDecision: %v", err)
	}
	if len(decision.Conflicts) != 2 || decision.Conflicts[0] != 0 || decision.Conflicts[1] != 2 {
		t.Errorf("Conflicts = %v", decision.Conflicts)
	}
	if len(decision.Updates) != 1 || decision.Updates[0] != 1 {
		t.Errorf("Updates = %v", decision.Updates)
	}
	if decision.Novel {
		t.Error("Novel = true, want false")
	}
}

func TestParseEvolveDecisionBounds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"conflict too high", `{"conflicts":[3],"updates":[],"novel":false}`},
		{"update negative", `{"conflicts":[],"updates":[-1],"novel":false}`},
		{"garbage", "I think these conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvolveDecision(tt.raw, 3)
			if !errors.Is(err, domain.ErrLLMParse) {
				t.Errorf("error = %v, want ErrLLMParse", err)
			}
		})
	}
}
