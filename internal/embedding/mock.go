package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

const mockDimension = 8

// MockClient is a deterministic embedding client for testing. The same
// text always maps to the same unit vector. Set Vectors to pin exact
// embeddings for specific inputs.
type MockClient struct {
	Vectors         map[string][]float32
	Dimension       int
	EmbedError      error
	EmbedQueryError error

	// Call tracking for assertions
	EmbedCalls      [][]string
	EmbedQueryCalls [][]string
}

var (
	_ domain.EmbeddingClient = (*MockClient)(nil)
	_ domain.QueryEmbedder   = (*MockClient)(nil)
)

func NewMockClient() *MockClient {
	return &MockClient{Dimension: mockDimension}
}

func (m *MockClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.EmbedCalls = append(m.EmbedCalls, texts)
	if m.EmbedError != nil {
		return nil, m.EmbedError
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vectorFor(t)
	}
	return out, nil
}

func (m *MockClient) EmbedQuery(ctx context.Context, queries []string) ([][]float32, error) {
	m.EmbedQueryCalls = append(m.EmbedQueryCalls, queries)
	if m.EmbedQueryError != nil {
		return nil, m.EmbedQueryError
	}
	out := make([][]float32, len(queries))
	for i, q := range queries {
		out[i] = m.vectorFor(q)
	}
	return out, nil
}

// Reset clears tracked calls and injected errors.
func (m *MockClient) Reset() {
	m.EmbedCalls = nil
	m.EmbedQueryCalls = nil
	m.EmbedError = nil
	m.EmbedQueryError = nil
}

func (m *MockClient) vectorFor(text string) []float32 {
	if v, ok := m.Vectors[text]; ok {
		return v
	}

	dim := m.Dimension
	if dim <= 0 {
		dim = mockDimension
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	state := h.Sum64()

	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		state = state*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(state)) / float32(math.MaxInt64)
		norm += float64(vec[i]) * float64(vec[i])
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
