package domain

import "context"

// Storage is the persistence contract. Implementations own id generation so
// backends can use native key schemes. Whole-list Save calls always receive
// the engine's full canonical state for their collection.
type Storage interface {
	Load(ctx context.Context) ([]*Memory, error)
	Save(ctx context.Context, memories []*Memory) error

	LoadArchive(ctx context.Context) ([]*Memory, error)
	SaveArchive(ctx context.Context, memories []*Memory) error

	LoadEpisodes(ctx context.Context) ([]*Episode, error)
	SaveEpisodes(ctx context.Context, episodes []*Episode) error

	LoadClusters(ctx context.Context) ([]*LabeledCluster, error)
	SaveClusters(ctx context.Context, clusters []*LabeledCluster) error

	LoadPendingConflicts(ctx context.Context) ([]*PendingConflict, error)
	SavePendingConflicts(ctx context.Context, conflicts []*PendingConflict) error

	GenID(ctx context.Context) (string, error)
	GenEpisodeID(ctx context.Context) (string, error)
	GenClusterID(ctx context.Context) (string, error)
}

// IncrementalStorage is an optional capability: backends that can upsert
// single rows avoid full-list rewrites on the store hot path. The engine
// type-asserts for it and falls back to Save when absent.
type IncrementalStorage interface {
	Storage

	Upsert(ctx context.Context, m *Memory) error
	Remove(ctx context.Context, id string) error
	UpsertLinks(ctx context.Context, sourceID string, links []Link) error
	RemoveLinks(ctx context.Context, sourceID string) error
}

// VectorQuery narrows a server-side vector search.
type VectorQuery struct {
	Agent         string
	Limit         int
	MinSimilarity float64
	Statuses      []Status
}

// VectorHit is one server-side match. The engine resolves the id against its
// canonical in-memory copy, so hits carry no row data.
type VectorHit struct {
	ID         string
	Similarity float64
}

// VectorSearcher is an optional capability: backends with native vector
// indexes answer similarity queries server-side. Returning a nil slice with
// a nil error tells the engine to fall back to client-side scanning.
type VectorSearcher interface {
	SearchByVector(ctx context.Context, embedding []float32, q VectorQuery) ([]VectorHit, error)
}

// EmbeddingClient turns text into vectors for storage and linking.
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// QueryEmbedder is an optional capability on EmbeddingClient for models that
// embed queries differently from documents. The engine uses it for search
// when present.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatClient is the language-model dependency of summarize, llm compression,
// auto-labeling and evolve. Implementations return the raw completion text.
type ChatClient interface {
	Chat(ctx context.Context, prompt string) (string, error)
}
