// Package similarity provides the vector and token primitives the engine
// ranks with: cosine similarity over embedding vectors and the keyword
// tokenizer used for index narrowing and embedding-free fallback search.
package similarity

import (
	"fmt"
	"math"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

// Cosine computes cosine similarity between two embeddings. Vectors of
// different lengths are an error; a zero-norm vector yields 0 rather than
// NaN so callers can rank without special-casing.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", domain.ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
