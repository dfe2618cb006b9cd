package similarity

import (
	"errors"
	"math"
	"testing"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 2, 3}, 0.0},
		{"both zero", []float32{0, 0}, []float32{0, 0}, 0.0},
		{"scaled copies", []float32{1, 1}, []float32{5, 5}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Cosine returned error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineDimensionMismatch(t *testing.T) {
	_, err := Cosine([]float32{1, 2}, []float32{1, 2, 3})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			"lowercases and strips punctuation",
			"User PREFERS dark-mode, obviously!",
			[]string{"user", "prefers", "dark", "mode", "obviously"},
		},
		{
			"drops stop words and short tokens",
			"the budget for Q3 is a number",
			[]string{"budget", "q3", "number"},
		},
		{
			"dedupes preserving order",
			"deploy deploy server then deploy again",
			[]string{"deploy", "server", "again"},
		},
		{
			"digits survive",
			"port 8080 on host10",
			[]string{"port", "8080", "host10"},
		},
		{
			"all stop words",
			"it is what it is",
			[]string{},
		},
		{
			"empty input",
			"",
			[]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("Tokenize(%q) = %v, want %v", tt.text, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("token[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestIsStopWord(t *testing.T) {
	if !IsStopWord("the") {
		t.Error(`"the" should be a stop word`)
	}
	if IsStopWord("database") {
		t.Error(`"database" should not be a stop word`)
	}
}
